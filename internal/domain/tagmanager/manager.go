package tagmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
)

// IsolatedType is the challenge type whose container lives inside the
// frame instead of the host page.
const IsolatedType = "custom"

// Store is the persisted key-value state the manager reads and writes.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Config holds the container endpoints and validation prefix.
type Config struct {
	Prefix      string
	ScriptBase  string
	FrameBase   string
	CollectURL  string
	LoadTimeout time.Duration
}

// DefaultConfig returns the stock container endpoints.
func DefaultConfig() Config {
	return Config{
		Prefix:      DefaultPrefix,
		ScriptBase:  sandbox.DefaultTagScriptBase,
		FrameBase:   sandbox.DefaultTagFrameBase,
		CollectURL:  sandbox.DefaultCollectURL,
		LoadTimeout: 10 * time.Second,
	}
}

// Deps are the manager's collaborators.
type Deps struct {
	Store  Store
	Loader sandbox.ScriptLoader
	// Egress returns the host primitives container hits go through.
	Egress func() intercept.Primitives
	// Reload rebuilds the host context. It is called without locks held.
	Reload   func(ctx context.Context) error
	Logger   *zap.Logger
	OnChange func(State)
}

// Outcome is the result of a submitted id.
type Outcome string

const (
	OutcomeUnchanged         Outcome = "unchanged"
	OutcomeInjected          Outcome = "injected"
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"
)

// State is a snapshot of the lifecycle.
type State struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	Injected      bool   `json:"injected"`
	ChallengeType string `json:"challenge_type,omitempty"`
}

// Manager drives the container lifecycle for one host context.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu            sync.Mutex
	doc           *HostDocument
	layer         *DataLayer
	id            string
	status        Status
	challengeType string
	gen           uint64
	loads         sync.WaitGroup
}

// New creates a manager over a fresh host document.
func New(cfg Config, deps Deps) *Manager {
	d := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = d.Prefix
	}
	if cfg.ScriptBase == "" {
		cfg.ScriptBase = d.ScriptBase
	}
	if cfg.FrameBase == "" {
		cfg.FrameBase = d.FrameBase
	}
	if cfg.CollectURL == "" {
		cfg.CollectURL = d.CollectURL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = d.LoadTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Loader == nil {
		deps.Loader = sandbox.NewStaticLoader(nil)
	}
	m := &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("tagmanager"),
		status: StatusIdle,
	}
	m.doc = NewHostDocument()
	m.layer = NewDataLayer(cfg.CollectURL, deps.Egress)
	return m
}

// Prefix returns the required id prefix.
func (m *Manager) Prefix() string { return m.cfg.Prefix }

// Attach swaps in a fresh host document and data layer, as after a page
// reload. In-flight loads for the old document are ignored.
func (m *Manager) Attach(doc *HostDocument, layer *DataLayer) {
	m.update(func() error {
		m.doc, m.layer = doc, layer
		m.gen++
		m.id = ""
		m.status = StatusIdle
		return nil
	})
}

// Document returns the current host document.
func (m *Manager) Document() *HostDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc
}

// DataLayer returns the current host data layer.
func (m *Manager) DataLayer() *DataLayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layer
}

// State returns a snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Manager) snapshot() State {
	return State{
		ID:            m.id,
		Status:        m.status,
		Injected:      m.doc.Injected(),
		ChallengeType: m.challengeType,
	}
}

// Status returns the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ID returns the active container id, or "".
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// SetChallengeType records the active challenge type and mounts again, so a
// persisted id is injected once the type is known.
func (m *Manager) SetChallengeType(ctx context.Context, t string) error {
	m.mu.Lock()
	m.challengeType = t
	m.mu.Unlock()
	return m.Mount(ctx)
}

// Mount restores the persisted id; an invalid one is deleted. Once the
// challenge type is known a valid id moves to loading and, outside the
// isolated type, is injected into the host page.
func (m *Manager) Mount(ctx context.Context) error {
	saved, ok, err := m.deps.Store.Get(ctx, KeyTagID)
	if err != nil {
		return fmt.Errorf("read tag id: %w", err)
	}
	if !ok || saved == "" {
		m.update(func() error {
			m.status = StatusIdle
			return nil
		})
		return nil
	}
	id, err := ValidateID(saved, m.cfg.Prefix)
	if err != nil {
		m.logger.Warn("Dropping invalid persisted tag id", zap.String("id", saved))
		if err := m.deps.Store.Delete(ctx, KeyTagID); err != nil {
			return fmt.Errorf("delete tag id: %w", err)
		}
		m.update(func() error {
			m.status = StatusIdle
			return nil
		})
		return nil
	}

	return m.update(func() error {
		m.id = id
		switch {
		case m.doc.Injected():
			return nil
		case m.challengeType == IsolatedType:
			m.status = StatusLoading
			return nil
		case m.challengeType == "":
			// Status stays put until the challenge type arrives.
			return nil
		}
		return m.inject(ctx, id)
	})
}

// Inject validates input and injects it.
func (m *Manager) Inject(ctx context.Context, input string) error {
	id, err := ValidateID(input, m.cfg.Prefix)
	if err != nil {
		return err
	}
	return m.update(func() error { return m.inject(ctx, id) })
}

// inject must be called with mu held.
func (m *Manager) inject(ctx context.Context, id string) error {
	if err := m.deps.Store.Set(ctx, KeyTagID, id); err != nil {
		return fmt.Errorf("persist tag id: %w", err)
	}
	m.id = id
	m.status = StatusLoading
	if m.challengeType == IsolatedType {
		return nil
	}

	m.layer.deactivate()
	m.layer.mu.Lock()
	m.layer.entries = append(m.layer.entries, map[string]any{
		"gtm.start": time.Now().UnixMilli(),
		"event":     "gtm.js",
	})
	m.layer.mu.Unlock()

	src := containerURL(m.cfg.ScriptBase, id)
	m.doc.Insert(src, containerURL(m.cfg.FrameBase, id))

	m.gen++
	gen, layer := m.gen, m.layer
	m.loads.Add(1)
	go m.load(gen, layer, id, src)
	return nil
}

func (m *Manager) load(gen uint64, layer *DataLayer, id, src string) {
	defer m.loads.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoadTimeout)
	_, err := m.deps.Loader.Load(ctx, src)
	cancel()

	current := false
	m.update(func() error {
		if gen != m.gen {
			return nil
		}
		current = true
		if err != nil {
			m.logger.Warn("Tag script failed to load", zap.String("id", id), zap.Error(err))
			m.status = StatusError
			return nil
		}
		m.status = StatusActive
		return nil
	})
	if current && err == nil {
		layer.activate(id)
	}
}

// Submit handles a user-entered id. Changing an existing id outside the
// isolated type needs confirmation because the host page must reload.
func (m *Manager) Submit(ctx context.Context, input string) (Outcome, error) {
	id, err := ValidateID(input, m.cfg.Prefix)
	if err != nil {
		return "", err
	}
	saved, ok, err := m.deps.Store.Get(ctx, KeyTagID)
	if err != nil {
		return "", fmt.Errorf("read tag id: %w", err)
	}
	if ok && saved == id {
		return OutcomeUnchanged, nil
	}

	m.mu.Lock()
	isolated := m.challengeType == IsolatedType
	m.mu.Unlock()
	if ok && saved != "" && !isolated {
		return OutcomeNeedsConfirmation, nil
	}
	if err := m.update(func() error { return m.inject(ctx, id) }); err != nil {
		return "", err
	}
	return OutcomeInjected, nil
}

// ConfirmUpdate persists a changed id and reloads the host context.
func (m *Manager) ConfirmUpdate(ctx context.Context, input string) error {
	id, err := ValidateID(input, m.cfg.Prefix)
	if err != nil {
		return err
	}
	if err := m.deps.Store.Set(ctx, KeyTagID, id); err != nil {
		return fmt.Errorf("persist tag id: %w", err)
	}
	return m.reload(ctx)
}

// Reset removes the container, forgets the id and reloads.
func (m *Manager) Reset(ctx context.Context) error {
	err := m.update(func() error {
		m.doc.Remove()
		if err := m.deps.Store.Delete(ctx, KeyTagID); err != nil {
			return fmt.Errorf("delete tag id: %w", err)
		}
		m.layer.deactivate()
		m.gen++
		m.id = ""
		m.status = StatusIdle
		return nil
	})
	if err != nil {
		return err
	}
	return m.reload(ctx)
}

// SetStatus applies a status reported by a frame.
func (m *Manager) SetStatus(s string) error {
	st, err := ParseStatus(s)
	if err != nil {
		return err
	}
	m.update(func() error {
		m.status = st
		return nil
	})
	return nil
}

// Settle waits for in-flight script loads.
func (m *Manager) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.loads.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) reload(ctx context.Context) error {
	if m.deps.Reload == nil {
		return nil
	}
	if err := m.deps.Reload(ctx); err != nil {
		return fmt.Errorf("reload host: %w", err)
	}
	return nil
}

// update runs fn under the lock and reports the new state to OnChange once
// the lock is released.
func (m *Manager) update(fn func() error) error {
	m.mu.Lock()
	before := m.snapshot()
	err := fn()
	after := m.snapshot()
	m.mu.Unlock()

	if before != after {
		if before.Status != after.Status {
			m.logger.Info("Tag status changed",
				zap.String("id", after.ID),
				zap.String("from", string(before.Status)),
				zap.String("to", string(after.Status)))
		}
		if m.deps.OnChange != nil {
			m.deps.OnChange(after)
		}
	}
	return err
}
