// Package challenge holds the catalog of learning challenges: the page each
// one runs and the objectives it is graded against.
package challenge

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
)

// Type says where a challenge's page runs.
type Type string

const (
	// TypeTemplate pages are provided by the host and use the host-injected
	// container.
	TypeTemplate Type = "template"
	// TypeCustom pages are learner-editable markup rendered in a frame that
	// loads its own container.
	TypeCustom Type = "custom"
)

// Difficulty is a display label.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrInvalidChallenge  = errors.New("invalid challenge")
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Content is the page a challenge runs. Template challenges name a host
// template and its opaque config; custom challenges carry markup.
type Content struct {
	TemplateID string         `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	HTML       string         `json:"html,omitempty" yaml:"html,omitempty"`
	CSS        string         `json:"css,omitempty" yaml:"css,omitempty"`
	JS         string         `json:"js,omitempty" yaml:"js,omitempty"`
}

// Challenge is one catalog entry.
type Challenge struct {
	ID          string                `json:"id" yaml:"id"`
	Title       string                `json:"title" yaml:"title"`
	Description string                `json:"description" yaml:"description"`
	Difficulty  Difficulty            `json:"difficulty" yaml:"difficulty"`
	Category    string                `json:"category,omitempty" yaml:"category,omitempty"`
	Type        Type                  `json:"type" yaml:"type"`
	Content     Content               `json:"content" yaml:"content"`
	Objectives  []objective.Objective `json:"objectives" yaml:"objectives"`
}

// Metadata is the listing view of a challenge.
type Metadata struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty"`
	Category   string     `json:"category,omitempty"`
	Type       Type       `json:"type"`
	Objectives int        `json:"objectives"`
}

// ToMetadata returns the listing view.
func (c *Challenge) ToMetadata() Metadata {
	return Metadata{
		ID:         c.ID,
		Title:      c.Title,
		Difficulty: c.Difficulty,
		Category:   c.Category,
		Type:       c.Type,
		Objectives: len(c.Objectives),
	}
}

// Isolated reports whether the challenge's container runs inside the frame.
func (c *Challenge) Isolated() bool { return c.Type == TypeCustom }

// Validate checks identity, type/content consistency and every objective
// rule against engine.
func (c *Challenge) Validate(engine *objective.Engine) error {
	if engine == nil {
		engine = objective.Default()
	}
	if !idPattern.MatchString(c.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidChallenge, c.ID)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: %s: title is required", ErrInvalidChallenge, c.ID)
	}
	switch c.Difficulty {
	case Easy, Medium, Hard:
	default:
		return fmt.Errorf("%w: %s: difficulty %q", ErrInvalidChallenge, c.ID, c.Difficulty)
	}
	switch c.Type {
	case TypeTemplate:
		if c.Content.TemplateID == "" {
			return fmt.Errorf("%w: %s: template challenges need content.template_id", ErrInvalidChallenge, c.ID)
		}
	case TypeCustom:
		if c.Content.TemplateID != "" {
			return fmt.Errorf("%w: %s: custom challenges carry markup, not a template", ErrInvalidChallenge, c.ID)
		}
	default:
		return fmt.Errorf("%w: %s: type %q", ErrInvalidChallenge, c.ID, c.Type)
	}

	seen := make(map[string]bool, len(c.Objectives))
	for _, obj := range c.Objectives {
		if obj.ID == "" {
			return fmt.Errorf("%w: %s: objective without id", ErrInvalidChallenge, c.ID)
		}
		if seen[obj.ID] {
			return fmt.Errorf("%w: %s: duplicate objective %q", ErrInvalidChallenge, c.ID, obj.ID)
		}
		seen[obj.ID] = true
		if err := engine.Validate(obj); err != nil {
			return fmt.Errorf("%s/%s: %w", c.ID, obj.ID, err)
		}
	}
	return nil
}
