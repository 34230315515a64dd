package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/id"
)

// CreateOptions selects what a new session starts with.
type CreateOptions struct {
	// Resume reuses the persisted state of an earlier session id.
	Resume string `json:"resume,omitempty"`
	// ChallengeID opens a challenge right away. When resuming without one,
	// the persisted challenge is reopened.
	ChallengeID string `json:"challenge_id,omitempty"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID          id.SessionID `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	ChallengeID string       `json:"challenge_id,omitempty"`
	Events      int          `json:"events"`
}

// Stats summarizes the manager.
type Stats struct {
	Active  int `json:"active"`
	Created int `json:"created"`
	Closed  int `json:"closed"`
}

// Manager owns the live sessions of a server.
type Manager struct {
	cfg  Config
	deps Deps

	sessions sync.Map
	mu       sync.Mutex
	stats    Stats
}

// NewManager creates a manager. Missing dependencies fall back to offline
// defaults: the built-in catalog, memory storage and no-op egress.
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = challenge.NewBuiltinCatalog(nil)
	}
	if deps.Store == nil {
		deps.Store = storage.NewMemory()
	}
	if deps.Originals == nil {
		deps.Originals = intercept.NopPrimitives{}
	}
	if deps.Loader == nil {
		deps.Loader = sandbox.NewStaticLoader(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if len(cfg.Sandbox.AllowList) == 0 {
		cfg.Sandbox.AllowList = cfg.AllowList
	}
	deps.Logger = deps.Logger.Named("session")
	return &Manager{cfg: cfg, deps: deps}
}

// Catalog returns the challenge catalog sessions open from.
func (m *Manager) Catalog() *challenge.Catalog { return m.deps.Catalog }

// Create starts a session.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	sid := id.NewSessionID()
	if opts.Resume != "" {
		resume, err := id.ParseSessionID(opts.Resume)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
		}
		if _, live := m.sessions.Load(resume); live {
			return nil, fmt.Errorf("session %s is already live", resume)
		}
		sid = resume
	}

	s := newSession(sid, m.cfg, m.deps)

	challengeID := opts.ChallengeID
	if challengeID == "" && opts.Resume != "" {
		saved, ok, err := s.store.Get(ctx, storage.KeyAppChallenge)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("read persisted challenge: %w", err)
		}
		if ok && m.deps.Catalog.Exists(saved) {
			challengeID = saved
		}
	}

	var err error
	if challengeID != "" {
		err = s.Open(ctx, challengeID)
	} else {
		err = s.tags.Mount(ctx)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	m.sessions.Store(sid, s)
	m.mu.Lock()
	m.stats.Created++
	m.stats.Active++
	active := m.stats.Active
	m.mu.Unlock()
	m.deps.Metrics.SetActiveSessions(active)

	m.deps.Logger.Info("Session created",
		zap.String("session", sid.String()),
		zap.String("challenge", challengeID),
		zap.Bool("resumed", opts.Resume != ""))
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(sid string) (*Session, error) {
	v, ok := m.sessions.Load(id.SessionID(sid))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return v.(*Session), nil
}

// Close tears a session down. With purge its persisted state is deleted too.
func (m *Manager) Close(ctx context.Context, sid string, purge bool) error {
	v, ok := m.sessions.LoadAndDelete(id.SessionID(sid))
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	s := v.(*Session)
	s.Close()
	if purge {
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("purge session state: %w", err)
		}
	}

	m.mu.Lock()
	m.stats.Closed++
	m.stats.Active--
	active := m.stats.Active
	m.mu.Unlock()
	m.deps.Metrics.SetActiveSessions(active)
	return nil
}

// List returns summaries ordered by creation time.
func (m *Manager) List() []Summary {
	var out []Summary
	m.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		sum := Summary{ID: s.id, CreatedAt: s.created, Events: s.Log().Len()}
		if ch := s.Challenge(); ch != nil {
			sum.ChallengeID = ch.ID
		}
		out = append(out, sum)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.sessions.Range(func(k, v any) bool {
		v.(*Session).Close()
		m.sessions.Delete(k)
		return true
	})
	m.mu.Lock()
	m.stats.Closed += m.stats.Active
	m.stats.Active = 0
	m.mu.Unlock()
	m.deps.Metrics.SetActiveSessions(0)
}
