package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/tagmanager"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/id"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrNoChallenge     = errors.New("no challenge open")
	ErrNoFrame         = errors.New("no frame rendered")
	ErrUnknownStateKey = errors.New("unknown state key")
	ErrInvalidEgress   = errors.New("invalid egress call")
)

// Update reasons.
const (
	ReasonEvents    = "events"
	ReasonTag       = "tag"
	ReasonChallenge = "challenge"
	ReasonFrame     = "frame"
	ReasonReload    = "reload"
)

// Update is delivered to subscribers after anything that may change the
// board.
type Update struct {
	Session id.SessionID `json:"session"`
	Reason  string       `json:"reason"`
	Time    time.Time    `json:"time"`
}

// Config tunes every session a Manager creates.
type Config struct {
	DedupWindow   time.Duration // zero means capture.DefaultDedupWindow
	AllowList     []string
	ChannelBuffer int
	Sandbox       sandbox.Config
	Tag           tagmanager.Config
}

// Deps are shared by all sessions.
type Deps struct {
	Catalog   *challenge.Catalog
	Store     storage.KV
	Originals intercept.Primitives
	Loader    sandbox.ScriptLoader
	Logger    *zap.Logger
	Metrics   Metrics
}

// EgressCall is a tracking call made by the host page itself.
type EgressCall struct {
	Kind    capture.Kind      `json:"type"`
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// EgressResult is what the original primitive answered.
type EgressResult struct {
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Queued bool   `json:"queued,omitempty"`
}

// Snapshot is the full observable state of a session.
type Snapshot struct {
	ID            id.SessionID            `json:"id"`
	CreatedAt     time.Time               `json:"created_at"`
	ChallengeID   string                  `json:"challenge_id,omitempty"`
	ChallengeType challenge.Type          `json:"challenge_type,omitempty"`
	Events        []capture.CapturedEvent `json:"events"`
	Board         objective.Board         `json:"board"`
	Tag           tagmanager.State        `json:"tag"`
	Frame         id.FrameID              `json:"frame,omitempty"`
	Reloads       int                     `json:"reloads"`
	Stats         capture.Stats           `json:"stats"`
}

// Session is one learner's host context: the Observation Log, the host's
// own interceptors, the tag lifecycle and the isolated renderer, wired
// together through the bridge.
type Session struct {
	id      id.SessionID
	created time.Time
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	metrics Metrics
	engine  *objective.Engine
	store   storage.Scope

	channel    *bridge.Channel
	dispatcher *bridge.Dispatcher
	renderer   *sandbox.Renderer
	tags       *tagmanager.Manager

	mu         sync.RWMutex
	log        *capture.Log
	unsubLog   func()
	host       intercept.Primitives
	challenge  *challenge.Challenge
	content    sandbox.Content
	hasContent bool
	reloads    int

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int

	closed atomic.Bool
}

func newSession(sid id.SessionID, cfg Config, deps Deps) *Session {
	s := &Session{
		id:      sid,
		created: time.Now(),
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With(zap.String("session", sid.String())),
		metrics: deps.Metrics,
		engine:  deps.Catalog.Engine(),
		store:   storage.Scoped(deps.Store, sid.String()),
		channel: bridge.NewChannel(cfg.ChannelBuffer),
		subs:    make(map[int]func(Update)),
	}

	s.tags = tagmanager.New(cfg.Tag, tagmanager.Deps{
		Store:    s.store,
		Loader:   deps.Loader,
		Egress:   s.hostEgress,
		Reload:   s.Reload,
		Logger:   s.logger,
		OnChange: s.tagChanged,
	})
	s.dispatcher = bridge.NewDispatcher(nil, s.tags.SetStatus, s.logger).
		WithObserver(func(t bridge.Type, o bridge.Outcome) {
			s.metrics.RecordBridgeMessage(string(t), string(o))
		})
	s.renderer = sandbox.NewRenderer(cfg.Sandbox, s.channel,
		sandbox.WithOriginals(deps.Originals),
		sandbox.WithLoader(deps.Loader),
		sandbox.WithLogger(s.logger),
		sandbox.WithCaptureObserver(func(kind capture.Kind, captured bool) {
			s.metrics.RecordCapture("frame", string(kind), captured)
		}),
		sandbox.WithBuildHook(func(*sandbox.Frame) { s.metrics.RecordFrameBuild() }),
	)

	s.resetHost()
	s.channel.Listen(func(msg bridge.Message) { s.dispatcher.Handle(msg) })
	return s
}

// resetHost gives the session a fresh log and host interceptor, as a new
// page load would.
func (s *Session) resetHost() {
	window := s.cfg.DedupWindow
	if window == 0 {
		window = capture.DefaultDedupWindow
	}
	log := capture.NewLog(
		capture.WithDedupWindow(window),
		capture.WithDuplicateHook(func(e capture.CapturedEvent) {
			s.metrics.RecordDuplicate(string(e.Kind))
		}),
	)
	reg := intercept.NewRegistry("host:"+s.id.String(),
		func(e capture.CapturedEvent) { log.Append(e) },
		intercept.WithFilter(intercept.NewFilter(s.cfg.AllowList)),
		intercept.WithLogger(s.logger),
		intercept.WithObserver(func(kind capture.Kind, captured bool) {
			s.metrics.RecordCapture("host", string(kind), captured)
		}),
	)
	host := reg.Install(s.deps.Originals)
	unsub := log.Subscribe(func(capture.Change) { s.notify(ReasonEvents) })

	s.mu.Lock()
	old := s.unsubLog
	s.log, s.host, s.unsubLog = log, host, unsub
	s.mu.Unlock()

	if old != nil {
		old()
	}
	s.dispatcher.SetLog(log)
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// Tags exposes the tag lifecycle manager.
func (s *Session) Tags() *tagmanager.Manager { return s.tags }

// Log returns the current Observation Log.
func (s *Session) Log() *capture.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

func (s *Session) hostEgress() intercept.Primitives {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// Challenge returns the open challenge, or nil.
func (s *Session) Challenge() *challenge.Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challenge
}

// Content returns the page the frame runs.
func (s *Session) Content() (sandbox.Content, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content, s.hasContent
}

// Open makes challengeID the active challenge. The tag manager learns the
// challenge type, which decides where the container is injected, and custom
// challenges get their page rendered in a frame.
func (s *Session) Open(ctx context.Context, challengeID string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	ch, err := s.deps.Catalog.Get(challengeID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.challenge = ch
	s.content = sandbox.Content{HTML: ch.Content.HTML, CSS: ch.Content.CSS, JS: ch.Content.JS}
	s.hasContent = ch.Type == challenge.TypeCustom
	s.mu.Unlock()

	if err := s.store.Set(ctx, storage.KeyAppChallenge, ch.ID); err != nil {
		return fmt.Errorf("persist challenge: %w", err)
	}
	if err := s.tags.SetChallengeType(ctx, string(ch.Type)); err != nil {
		return err
	}
	if err := s.render(); err != nil {
		return err
	}
	s.logger.Info("Challenge opened", zap.String("challenge", ch.ID), zap.String("type", string(ch.Type)))
	s.notify(ReasonChallenge)
	return nil
}

// Leave closes the active challenge and forgets the navigation state.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	s.challenge = nil
	s.content, s.hasContent = sandbox.Content{}, false
	s.mu.Unlock()

	s.renderer.Teardown()
	for _, key := range []string{storage.KeyAppChallenge, storage.KeyAppView} {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	if err := s.tags.SetChallengeType(ctx, ""); err != nil {
		return err
	}
	s.notify(ReasonChallenge)
	return nil
}

// SetContent replaces the page the frame runs and renders it.
func (s *Session) SetContent(content sandbox.Content) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	s.content, s.hasContent = content, true
	s.mu.Unlock()
	return s.render()
}

// frameTagID is the container id the frame loads itself. Only isolated
// challenges have one; template pages use the host's container.
func (s *Session) frameTagID() string {
	ch := s.Challenge()
	if ch == nil || !ch.Isolated() {
		return ""
	}
	return s.tags.ID()
}

func (s *Session) render() error {
	content, ok := s.Content()
	if !ok {
		s.renderer.Teardown()
		return nil
	}
	f, built, err := s.renderer.Render(content, s.frameTagID())
	if err != nil {
		return fmt.Errorf("render frame: %w", err)
	}
	if built {
		s.logger.Debug("Frame rendered", zap.String("frame", f.ID().String()))
		s.notify(ReasonFrame)
	}
	return nil
}

// Frame returns the live frame.
func (s *Session) Frame() (*sandbox.Frame, error) {
	f := s.renderer.Current()
	if f == nil || f.Closed() {
		return nil, ErrNoFrame
	}
	return f, nil
}

// Click dispatches a click inside the frame.
func (s *Session) Click(ctx context.Context, selector string) error {
	f, err := s.Frame()
	if err != nil {
		return err
	}
	return f.Click(ctx, selector)
}

// Document serializes the frame's live document.
func (s *Session) Document(ctx context.Context) (string, error) {
	f, err := s.Frame()
	if err != nil {
		return "", err
	}
	return f.Document(ctx)
}

// Console returns the frame's console output.
func (s *Session) Console() []sandbox.LogEntry {
	f, err := s.Frame()
	if err != nil {
		return nil
	}
	return f.Console()
}

// HostDocument serializes the host page with any injected container.
func (s *Session) HostDocument() string {
	return s.tags.Document().Render()
}

// HandleBridge applies a message posted by an external frame.
func (s *Session) HandleBridge(raw []byte) bridge.Outcome {
	return s.dispatcher.HandleRaw(raw)
}

// Egress performs a tracking call from the host page through the host
// interceptor.
func (s *Session) Egress(ctx context.Context, call EgressCall) (EgressResult, error) {
	if call.URL == "" {
		return EgressResult{}, fmt.Errorf("%w: url is required", ErrInvalidEgress)
	}
	prims := s.hostEgress()
	switch call.Kind {
	case capture.KindFetch, "":
		resp, err := prims.Request(ctx, intercept.Call{Method: call.Method, URL: call.URL, Body: call.Body, Headers: call.Headers})
		return result(resp), err
	case capture.KindXHR:
		req := prims.Open(call.Method, call.URL)
		for k, v := range call.Headers {
			req.SetHeader(k, v)
		}
		resp, err := prims.Send(ctx, req, call.Body)
		return result(resp), err
	case capture.KindBeacon:
		return EgressResult{Queued: prims.Beacon(call.URL, call.Body)}, nil
	case capture.KindImage:
		prims.PixelLoad(call.URL)
		return EgressResult{Queued: true}, nil
	}
	return EgressResult{}, fmt.Errorf("%w: type %q", ErrInvalidEgress, call.Kind)
}

func result(resp *intercept.Response) EgressResult {
	if resp == nil {
		return EgressResult{}
	}
	return EgressResult{Status: resp.Status, Body: string(resp.Body)}
}

// PushDataLayer pushes entries onto the host page's data layer.
func (s *Session) PushDataLayer(entries ...map[string]any) int {
	return s.tags.DataLayer().Push(entries...)
}

// SubmitTag handles a learner-entered container id. An isolated challenge
// re-renders its frame with the new id.
func (s *Session) SubmitTag(ctx context.Context, input string) (tagmanager.Outcome, error) {
	out, err := s.tags.Submit(ctx, input)
	if err != nil {
		return "", err
	}
	if out == tagmanager.OutcomeInjected {
		if err := s.render(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// ConfirmTag persists a changed id and reloads.
func (s *Session) ConfirmTag(ctx context.Context, input string) error {
	return s.tags.ConfirmUpdate(ctx, input)
}

// ResetTag removes the container and reloads.
func (s *Session) ResetTag(ctx context.Context) error {
	return s.tags.Reset(ctx)
}

// Reload rebuilds the host context from persisted state: a fresh log, host
// document and frame, then the tag manager mounts again.
func (s *Session) Reload(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.renderer.Teardown()
	// Queued messages from the torn down frame are discarded by the listener;
	// wait out the one it may be applying so it lands in the old log.
	if err := s.channel.Sync(ctx); err != nil && !errors.Is(err, bridge.ErrChannelClosed) {
		return err
	}
	s.resetHost()
	s.tags.Attach(tagmanager.NewHostDocument(), tagmanager.NewDataLayer(s.cfg.Tag.CollectURL, s.hostEgress))

	s.mu.Lock()
	s.reloads++
	chType := ""
	if s.challenge != nil {
		chType = string(s.challenge.Type)
	}
	s.mu.Unlock()

	if err := s.tags.SetChallengeType(ctx, chType); err != nil {
		return err
	}
	if err := s.render(); err != nil {
		return err
	}
	s.logger.Info("Host context reloaded")
	s.notify(ReasonReload)
	return nil
}

// Clear empties the Observation Log.
func (s *Session) Clear() {
	s.Log().Clear()
}

// Events returns the log, most recent first.
func (s *Session) Events() []capture.CapturedEvent {
	return s.Log().Events()
}

// Board grades the open challenge against the current log.
func (s *Session) Board() (objective.Board, error) {
	ch := s.Challenge()
	if ch == nil {
		return objective.Board{}, ErrNoChallenge
	}
	return s.engine.Grade(ch.Objectives, s.Events()), nil
}

// Snapshot returns the full state in one consistent read of the log.
func (s *Session) Snapshot() Snapshot {
	log := s.Log()
	events := log.Events()
	snap := Snapshot{
		ID:        s.id,
		CreatedAt: s.created,
		Events:    events,
		Tag:       s.tags.State(),
		Stats:     log.Stats(),
	}
	s.mu.RLock()
	ch := s.challenge
	snap.Reloads = s.reloads
	s.mu.RUnlock()
	if ch != nil {
		snap.ChallengeID, snap.ChallengeType = ch.ID, ch.Type
		snap.Board = s.engine.Grade(ch.Objectives, events)
	}
	if f := s.renderer.Current(); f != nil && !f.Closed() {
		snap.Frame = f.ID()
	}
	return snap
}

// Settle waits until the tag loads, frame tasks and bridge messages in
// flight have been applied.
func (s *Session) Settle(ctx context.Context) error {
	if err := s.tags.Settle(ctx); err != nil {
		return err
	}
	if f := s.renderer.Current(); f != nil && !f.Closed() {
		if err := f.Settle(ctx); err != nil && !errors.Is(err, sandbox.ErrFrameClosed) {
			return err
		}
	}
	return s.channel.Sync(ctx)
}

// UI state keys clients may read and write.
var stateKeys = map[string]bool{
	storage.KeyAppView:      true,
	storage.KeyAppChallenge: true,
}

// State reads a UI state key.
func (s *Session) State(ctx context.Context, key string) (string, bool, error) {
	if !stateKeys[key] && key != storage.KeyTagID {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownStateKey, key)
	}
	return s.store.Get(ctx, key)
}

// SetState writes a UI state key. The container id is only changed through
// the tag operations.
func (s *Session) SetState(ctx context.Context, key, value string) error {
	if !stateKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnknownStateKey, key)
	}
	if value == "" {
		return s.store.Delete(ctx, key)
	}
	return s.store.Set(ctx, key, value)
}

// Subscribe registers fn for every update. The returned function removes it.
func (s *Session) Subscribe(fn func(Update)) func() {
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, key)
		s.subMu.Unlock()
	}
}

func (s *Session) notify(reason string) {
	if s.closed.Load() {
		return
	}
	u := Update{Session: s.id, Reason: reason, Time: time.Now()}
	s.subMu.Lock()
	subs := make([]func(Update), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(u)
	}
}

func (s *Session) tagChanged(st tagmanager.State) {
	s.metrics.RecordTagStatus(string(st.Status))
	s.notify(ReasonTag)
}

// Close tears the session down. The persisted state stays.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.renderer.Teardown()
	s.channel.Close()
	s.mu.Lock()
	unsub := s.unsubLog
	s.unsubLog = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.logger.Info("Session closed")
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }
