package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/tagmanager"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/storage"
)

type countingMetrics struct {
	nopMetrics
	mu       sync.Mutex
	captures map[string]int
	builds   int
	statuses []string
}

func (c *countingMetrics) RecordCapture(context, kind string, captured bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if captured {
		c.captures[context+"/"+kind]++
	}
}

func (c *countingMetrics) RecordFrameBuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builds++
}

func (c *countingMetrics) RecordTagStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

func newManager(t *testing.T, kv storage.KV) (*Manager, *countingMetrics) {
	t.Helper()
	metrics := &countingMetrics{captures: map[string]int{}}
	m := NewManager(Config{}, Deps{Store: kv, Metrics: metrics})
	t.Cleanup(m.Shutdown)
	return m, metrics
}

func settle(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Settle(ctx))
	// Frame messages posted by the last tasks may trail the frame settling.
	require.NoError(t, s.Settle(ctx))
}

func TestSession_CustomChallengeEndToEnd(t *testing.T) {
	m, metrics := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, CreateOptions{ChallengeID: "saas-platform"})
	require.NoError(t, err)
	settle(t, s)

	board, err := s.Board()
	require.NoError(t, err)
	assert.False(t, board.Complete)

	out, err := s.SubmitTag(ctx, "gtm-saas1")
	require.NoError(t, err)
	assert.Equal(t, tagmanager.OutcomeInjected, out)
	settle(t, s)

	assert.False(t, s.Tags().Document().Injected(), "isolated challenges keep the host page clean")
	assert.Equal(t, tagmanager.StatusActive, s.Tags().Status(), "status arrives from the frame")

	doc, err := s.Document(ctx)
	require.NoError(t, err)
	assert.Contains(t, doc, "GTM-SAAS1")

	require.NoError(t, s.Click(ctx, "#subscribe-btn"))
	settle(t, s)

	board, err = s.Board()
	require.NoError(t, err)
	assert.True(t, board.Complete)

	var kinds []capture.Kind
	for _, e := range s.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, capture.KindBeacon)
	assert.Contains(t, kinds, capture.KindLog)
	assert.Contains(t, kinds, capture.KindCustom)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 2, metrics.builds)
	assert.Positive(t, metrics.captures["frame/beacon"])
	assert.Contains(t, metrics.statuses, "active")
}

func TestSession_TemplateChallengeUsesHost(t *testing.T) {
	m, metrics := newManager(t, nil)
	ctx := context.Background()

	s, err := m.Create(ctx, CreateOptions{ChallengeID: "cyberpunk-store"})
	require.NoError(t, err)
	_, err = s.Frame()
	assert.ErrorIs(t, err, ErrNoFrame)

	_, err = s.SubmitTag(ctx, "GTM-SHOP")
	require.NoError(t, err)
	settle(t, s)
	assert.True(t, s.Tags().Document().Injected())
	assert.Equal(t, tagmanager.StatusActive, s.Tags().Status())
	assert.Contains(t, s.HostDocument(), `id="tag-loader"`)

	s.PushDataLayer(map[string]any{"event": "page_view"})
	_, err = s.Egress(ctx, EgressCall{Kind: capture.KindImage, URL: "https://www.google-analytics.com/collect?en=page_view&dl=%2Fshop"})
	require.NoError(t, err)
	_, err = s.Egress(ctx, EgressCall{
		Kind:   capture.KindFetch,
		Method: "POST",
		URL:    "https://www.facebook.com/tr",
		Body:   `{"event":"add_to_cart","ecommerce":{"items":[{"item_id":"NEURO-LNK-01","price":2499}]}}`,
	})
	require.NoError(t, err)
	settle(t, s)

	board, err := s.Board()
	require.NoError(t, err)
	assert.True(t, board.Complete, "%+v", board)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 1, metrics.captures["host/image"])
	assert.Equal(t, 1, metrics.captures["host/beacon"])
}

func TestSession_EgressRejectsBadCalls(t *testing.T) {
	m, _ := newManager(t, nil)
	s, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	_, err = s.Egress(context.Background(), EgressCall{Kind: capture.KindFetch})
	assert.ErrorIs(t, err, ErrInvalidEgress)
	_, err = s.Egress(context.Background(), EgressCall{Kind: "websocket", URL: "wss://x"})
	assert.ErrorIs(t, err, ErrInvalidEgress)
	_, err = s.Board()
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestSession_ResetReloadsHostContext(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{ChallengeID: "global-travel"})
	require.NoError(t, err)

	_, err = s.SubmitTag(ctx, "GTM-ONE")
	require.NoError(t, err)
	settle(t, s)
	s.PushDataLayer(map[string]any{"event": "page_view"})
	require.Equal(t, 1, s.Log().Len())
	oldDoc := s.Tags().Document()

	require.NoError(t, s.ResetTag(ctx))
	settle(t, s)

	assert.False(t, oldDoc.Injected())
	assert.Zero(t, s.Log().Len(), "reload starts a fresh log")
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Reloads)
	assert.Equal(t, tagmanager.StatusIdle, snap.Tag.Status)
	assert.Empty(t, snap.Tag.ID)
	_, ok, _ := s.State(ctx, storage.KeyTagID)
	assert.False(t, ok)
}

func TestSession_ReloadDropsTornDownFrameMessages(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{ChallengeID: "saas-platform"})
	require.NoError(t, err)
	require.NoError(t, s.SetContent(sandbox.Content{
		HTML: `<button id="burst">Go</button>`,
		JS: `document.getElementById('burst').addEventListener('click', function () {
  for (var i = 0; i < 100; i++) {
    fetch('https://www.google-analytics.com/g/collect?en=burst&i=' + i);
  }
});`,
	}))
	settle(t, s)

	// A slow subscriber keeps the frame's messages queued behind the listener.
	unsub := s.Log().Subscribe(func(capture.Change) { time.Sleep(5 * time.Millisecond) })
	defer unsub()

	require.NoError(t, s.Click(ctx, "#burst"))
	f, err := s.Frame()
	require.NoError(t, err)
	require.NoError(t, f.Settle(ctx))
	require.NoError(t, s.Reload(ctx))
	settle(t, s)

	var fetches int
	for _, e := range s.Events() {
		if e.Kind == capture.KindFetch {
			fetches++
		}
	}
	assert.Zero(t, fetches, "fetches from the torn down frame leaked into the fresh log")
}

func TestSession_ConfirmTagUpdate(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{ChallengeID: "global-travel"})
	require.NoError(t, err)
	_, err = s.SubmitTag(ctx, "GTM-ONE")
	require.NoError(t, err)
	settle(t, s)

	out, err := s.SubmitTag(ctx, "GTM-TWO")
	require.NoError(t, err)
	assert.Equal(t, tagmanager.OutcomeNeedsConfirmation, out)
	assert.Equal(t, "GTM-ONE", s.Tags().ID())

	require.NoError(t, s.ConfirmTag(ctx, "GTM-TWO"))
	settle(t, s)
	assert.Equal(t, "GTM-TWO", s.Tags().ID())
	assert.Equal(t, 1, s.Tags().Document().Count("script"))
	assert.Equal(t, 1, s.Snapshot().Reloads)
}

func TestSession_BridgeIngress(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{ChallengeID: "saas-platform"})
	require.NoError(t, err)
	settle(t, s)
	before := s.Log().Len()

	assert.Equal(t, "appended", string(s.HandleBridge([]byte(
		`{"type":"network_proxy","data":{"type":"beacon","method":"POST","url":"https://www.google-analytics.com/g/collect","body":{"event":"subscribe"}}}`))))
	assert.Equal(t, "ignored", string(s.HandleBridge([]byte(`{"type":"resize"}`))))
	assert.Equal(t, "status", string(s.HandleBridge([]byte(`{"type":"gtm_status","status":"error"}`))))

	assert.Equal(t, before+1, s.Log().Len())
	assert.Equal(t, tagmanager.StatusError, s.Tags().Status())
	board, err := s.Board()
	require.NoError(t, err)
	assert.True(t, board.Complete)
}

func TestSession_SetContentRerenders(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{ChallengeID: "saas-platform"})
	require.NoError(t, err)
	first, err := s.Frame()
	require.NoError(t, err)

	require.NoError(t, s.SetContent(sandbox.Content{
		HTML: `<p id="x">hi</p>`,
		JS:   `fetch('https://www.google-analytics.com/g/collect?en=page_view');`,
	}))
	settle(t, s)
	second, err := s.Frame()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.True(t, first.Closed())

	var found bool
	for _, e := range s.Events() {
		if e.Kind == capture.KindFetch {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSession_Subscribe(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{ChallengeID: "global-travel"})
	require.NoError(t, err)

	var mu sync.Mutex
	var reasons []string
	unsub := s.Subscribe(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, u.Reason)
	})

	_, err = s.Egress(ctx, EgressCall{Kind: capture.KindBeacon, URL: "https://www.google-analytics.com/g/collect?en=x"})
	require.NoError(t, err)
	s.Clear()
	unsub()
	_, err = s.Egress(ctx, EgressCall{Kind: capture.KindBeacon, URL: "https://www.google-analytics.com/g/collect?en=y"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ReasonEvents, ReasonEvents}, reasons)
}

func TestSession_StateKeys(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	s, err := m.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.SetState(ctx, storage.KeyAppView, "detail"))
	v, ok, err := s.State(ctx, storage.KeyAppView)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "detail", v)

	assert.ErrorIs(t, s.SetState(ctx, storage.KeyTagID, "GTM-X"), ErrUnknownStateKey)
	_, _, err = s.State(ctx, "secret")
	assert.ErrorIs(t, err, ErrUnknownStateKey)

	require.NoError(t, s.Open(ctx, "global-travel"))
	require.NoError(t, s.Leave(ctx))
	_, ok, _ = s.State(ctx, storage.KeyAppChallenge)
	assert.False(t, ok)
	assert.Nil(t, s.Challenge())
}

func TestManager_ResumeRestoresPersistedState(t *testing.T) {
	kv := storage.NewMemory()
	m, _ := newManager(t, kv)
	ctx := context.Background()

	s, err := m.Create(ctx, CreateOptions{ChallengeID: "cyberpunk-store"})
	require.NoError(t, err)
	_, err = s.SubmitTag(ctx, "GTM-KEEP")
	require.NoError(t, err)
	settle(t, s)
	sid := s.ID().String()

	_, err = m.Create(ctx, CreateOptions{Resume: sid})
	assert.Error(t, err, "a live session cannot be resumed twice")

	require.NoError(t, m.Close(ctx, sid, false))
	_, err = m.Get(sid)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	resumed, err := m.Create(ctx, CreateOptions{Resume: sid})
	require.NoError(t, err)
	settle(t, resumed)
	assert.Equal(t, sid, resumed.ID().String())
	assert.Equal(t, "cyberpunk-store", resumed.Challenge().ID)
	assert.Equal(t, "GTM-KEEP", resumed.Tags().ID())
	assert.True(t, resumed.Tags().Document().Injected())

	require.NoError(t, m.Close(ctx, sid, true))
	keys, err := kv.Keys(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, keys)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Active)

	_, err = m.Create(ctx, CreateOptions{Resume: "not-a-session"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Create(ctx, CreateOptions{ChallengeID: "missing"})
	assert.ErrorIs(t, err, challenge.ErrChallengeNotFound)
}

func TestManager_List(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx := context.Background()
	a, err := m.Create(ctx, CreateOptions{ChallengeID: "global-travel"})
	require.NoError(t, err)
	_, err = m.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID)
	assert.Equal(t, "global-travel", list[0].ChallengeID)
}
