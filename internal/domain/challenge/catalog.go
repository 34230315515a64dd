package challenge

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
)

// Stats summarizes the catalog.
type Stats struct {
	Total       int            `json:"total"`
	Categories  map[string]int `json:"categories"`
	Types       map[Type]int   `json:"types"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
}

// Catalog is the set of challenges a server offers. Listing order is
// registration order.
type Catalog struct {
	mu      sync.RWMutex
	engine  *objective.Engine
	byID    map[string]*Challenge
	order   []string
	updated time.Time
}

// NewCatalog creates an empty catalog validating against engine.
func NewCatalog(engine *objective.Engine) *Catalog {
	if engine == nil {
		engine = objective.Default()
	}
	return &Catalog{engine: engine, byID: make(map[string]*Challenge)}
}

// NewBuiltinCatalog creates a catalog holding the stock challenges.
func NewBuiltinCatalog(engine *objective.Engine) *Catalog {
	c := NewCatalog(engine)
	for _, ch := range Builtin() {
		if err := c.Register(ch); err != nil {
			panic(fmt.Sprintf("builtin challenge %s: %v", ch.ID, err))
		}
	}
	return c
}

// Engine returns the engine challenges are validated and graded with.
func (c *Catalog) Engine() *objective.Engine { return c.engine }

// Register validates ch and adds it, replacing any challenge with the same id.
func (c *Catalog) Register(ch *Challenge) error {
	if ch == nil {
		return fmt.Errorf("%w: nil challenge", ErrInvalidChallenge)
	}
	if err := ch.Validate(c.engine); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[ch.ID]; !exists {
		c.order = append(c.order, ch.ID)
	}
	c.byID[ch.ID] = ch
	c.updated = time.Now()
	return nil
}

// Get returns the challenge with id.
func (c *Catalog) Get(id string) (*Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	return ch, nil
}

// Exists reports whether id is registered.
func (c *Catalog) Exists(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byID[id]
	return ok
}

// List returns challenges, optionally filtered by category.
func (c *Catalog) List(category *string) []*Challenge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Challenge, 0, len(c.order))
	for _, id := range c.order {
		ch := c.byID[id]
		if category == nil || ch.Category == *category {
			out = append(out, ch)
		}
	}
	return out
}

// ListMetadata returns the listing view of List.
func (c *Catalog) ListMetadata(category *string) []Metadata {
	list := c.List(category)
	out := make([]Metadata, len(list))
	for i, ch := range list {
		out[i] = ch.ToMetadata()
	}
	return out
}

// Delete removes a challenge.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.updated = time.Now()
	return nil
}

// Stats returns catalog statistics.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Total:      len(c.byID),
		Categories: make(map[string]int),
		Types:      make(map[Type]int),
	}
	for _, ch := range c.byID {
		s.Categories[ch.Category]++
		s.Types[ch.Type]++
	}
	if !c.updated.IsZero() {
		updated := c.updated
		s.LastUpdated = &updated
	}
	return s
}
