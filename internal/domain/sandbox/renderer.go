package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
)

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithOriginals sets the network primitives frames delegate to.
func WithOriginals(p intercept.Primitives) RendererOption {
	return func(r *Renderer) { r.originals = p }
}

// WithLoader sets the script loader.
func WithLoader(l ScriptLoader) RendererOption {
	return func(r *Renderer) { r.loader = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RendererOption {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCaptureObserver attaches a metrics observer to every frame registry.
func WithCaptureObserver(o intercept.Observer) RendererOption {
	return func(r *Renderer) { r.observer = o }
}

// WithBuildHook is called after every frame build.
func WithBuildHook(fn func(*Frame)) RendererOption {
	return func(r *Renderer) { r.onBuild = fn }
}

// Renderer owns the single live frame of a host. Rendering new inputs tears
// the previous frame down before the next one starts, so at most one frame
// ever posts to the channel.
type Renderer struct {
	cfg       Config
	channel   *bridge.Channel
	originals intercept.Primitives
	loader    ScriptLoader
	logger    *zap.Logger
	observer  intercept.Observer
	onBuild   func(*Frame)

	mu      sync.Mutex
	current *Frame
	key     string
	builds  int
}

// NewRenderer creates a renderer posting into channel.
func NewRenderer(cfg Config, channel *bridge.Channel, opts ...RendererOption) *Renderer {
	r := &Renderer{
		cfg:       cfg.withDefaults(),
		channel:   channel,
		originals: intercept.NopPrimitives{},
		loader:    NewStaticLoader(nil),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render makes sure the live frame shows content with the given tag. It
// reports whether a new frame was built; identical inputs keep the current
// one.
func (r *Renderer) Render(content Content, tagID string) (*Frame, bool, error) {
	key := renderKey(content, tagID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && !r.current.Closed() && r.key == key {
		return r.current, false, nil
	}
	return r.rebuild(content, tagID, key)
}

// Rebuild unconditionally replaces the live frame.
func (r *Renderer) Rebuild(content Content, tagID string) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, _, err := r.rebuild(content, tagID, renderKey(content, tagID))
	return f, err
}

func (r *Renderer) rebuild(content Content, tagID, key string) (*Frame, bool, error) {
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
	doc := BuildDocument(content, tagID, r.cfg)
	f, err := NewFrame(doc, r.cfg, Deps{
		Port:      r.channel.Port(),
		Originals: r.originals,
		Loader:    r.loader,
		Logger:    r.logger,
		Observer:  r.observer,
	})
	if err != nil {
		return nil, false, err
	}
	r.current, r.key = f, key
	r.builds++
	r.logger.Debug("Frame built",
		zap.String("frame", f.ID().String()),
		zap.Bool("tag", tagID != ""),
		zap.Int("builds", r.builds))
	if r.onBuild != nil {
		r.onBuild(f)
	}
	f.Start()
	return f, true, nil
}

// Current returns the live frame, if any.
func (r *Renderer) Current() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Builds counts frames built so far.
func (r *Renderer) Builds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

// Teardown closes the live frame.
func (r *Renderer) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Close()
		r.current = nil
		r.key = ""
	}
}

func renderKey(content Content, tagID string) string {
	h := sha256.New()
	for _, part := range []string{content.HTML, content.CSS, content.JS, tagID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
