package intercept

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
)

// Sink receives every captured event of a context.
type Sink func(capture.CapturedEvent)

// Observer is notified of every intercepted call, captured or filtered.
type Observer func(kind capture.Kind, captured bool)

// Option configures a Registry.
type Option func(*Registry)

// WithFilter replaces the default allow-list filter.
func WithFilter(f Filter) Option {
	return func(r *Registry) { r.filter = f }
}

// WithLogger sets the logger used for recovered capture failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// Registry holds the per-context installation state. It is created once per
// execution context and lives exactly as long as that context.
type Registry struct {
	name     string
	sink     Sink
	filter   Filter
	logger   *zap.Logger
	observer Observer

	mu        sync.Mutex
	installed *Interceptor
}

// NewRegistry creates an empty registry for the named context.
func NewRegistry(name string, sink Sink, opts ...Option) *Registry {
	r := &Registry{
		name:   name,
		sink:   sink,
		filter: NewFilter(nil),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install wraps originals. Only the first call has an effect; later calls
// return the interceptor installed by the first.
func (r *Registry) Install(originals Primitives) *Interceptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed != nil {
		return r.installed
	}
	r.installed = &Interceptor{registry: r, originals: originals}
	return r.installed
}

// Installed returns the active interceptor, if any.
func (r *Registry) Installed() (*Interceptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed, r.installed != nil
}

// Name returns the context name the registry was created for.
func (r *Registry) Name() string { return r.name }

// Filter returns the active allow-list.
func (r *Registry) Filter() Filter { return r.filter }

// capture builds and emits one event. A failing sink never escapes: the
// caller always proceeds to the original primitive.
func (r *Registry) capture(kind capture.Kind, method, url string, body any, headers map[string]string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Capture failed",
				zap.String("context", r.name),
				zap.String("kind", string(kind)),
				zap.Any("panic", rec))
		}
	}()

	matched := r.filter.Match(url)
	if r.observer != nil {
		r.observer(kind, matched)
	}
	if !matched || r.sink == nil {
		return
	}
	r.sink(capture.NewEvent(kind, method, url, body).WithHeaders(headers))
}

// Interceptor is the decorator installed over a context's originals.
type Interceptor struct {
	registry  *Registry
	originals Primitives
}

var _ Primitives = (*Interceptor)(nil)

// Request captures method, url, body and headers, then delegates. The
// original's response and error are returned untouched.
func (i *Interceptor) Request(ctx context.Context, call Call) (*Response, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	i.registry.capture(capture.KindFetch, method, call.URL, call.Body, call.Headers)
	return i.originals.Request(ctx, call)
}

// Open records method and url on the request instance.
func (i *Interceptor) Open(method, url string) *RawRequest {
	return i.originals.Open(method, url)
}

// Send captures the body together with the verb and url recorded at open.
func (i *Interceptor) Send(ctx context.Context, req *RawRequest, body any) (*Response, error) {
	if req != nil && !req.markSent() {
		i.registry.capture(capture.KindXHR, req.Method, req.URL, body, req.Headers())
	}
	return i.originals.Send(ctx, req, body)
}

// Beacon always reports POST.
func (i *Interceptor) Beacon(url string, body any) bool {
	i.registry.capture(capture.KindBeacon, http.MethodPost, url, body, nil)
	return i.originals.Beacon(url, body)
}

// PixelLoad reports GET for every address assignment.
func (i *Interceptor) PixelLoad(url string) {
	i.registry.capture(capture.KindImage, http.MethodGet, url, nil, nil)
	i.originals.PixelLoad(url)
}

// Originals exposes the wrapped primitives.
func (i *Interceptor) Originals() Primitives { return i.originals }
