package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/capture"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
	"github.com/GriffinCanCode/tracklab/backend/internal/shared/id"
)

// Deps are the collaborators of a frame.
type Deps struct {
	Port      *bridge.Port
	Originals intercept.Primitives
	Loader    ScriptLoader
	Logger    *zap.Logger
	Observer  intercept.Observer
}

type task func() error

// Frame is one isolated execution context: a goja runtime driven by a single
// event loop goroutine, the parsed document it scripts, and a port to the
// host. Everything the frame observes leaves through the port.
type Frame struct {
	id     id.FrameID
	cfg    Config
	logger *zap.Logger
	vm     *goja.Runtime
	dom    *DOM
	port   *bridge.Port
	loader ScriptLoader

	originals   intercept.Primitives
	registry    *intercept.Registry
	interceptor *intercept.Interceptor

	tasks   *queue[task]
	egress  *queue[func(context.Context)]
	pending atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	timersMu  sync.Mutex
	timers    map[int64]*frameTimer
	nextTimer int64

	consoleMu sync.Mutex
	console   []LogEntry

	// Owned by the event loop.
	depth           int
	hooks           *goja.Object
	stringify       goja.Callable
	document        *goja.Object
	objects         map[*html.Node]*goja.Object
	nodes           map[*goja.Object]*html.Node
	listeners       map[*html.Node]map[string][]goja.Value
	windowListeners map[string][]goja.Value
	executed        map[*html.Node]bool
	tagID           string
}

// NewFrame parses src and prepares a runtime for it. Nothing runs until
// Start.
func NewFrame(src string, cfg Config, deps Deps) (*Frame, error) {
	cfg = cfg.withDefaults()
	dom, err := ParseDocument(src)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Originals == nil {
		deps.Originals = intercept.NopPrimitives{}
	}
	if deps.Loader == nil {
		deps.Loader = NewStaticLoader(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Frame{
		id:              id.NewFrameID(),
		cfg:             cfg,
		vm:              goja.New(),
		dom:             dom,
		port:            deps.Port,
		loader:          deps.Loader,
		originals:       deps.Originals,
		tasks:           newQueue[task](),
		egress:          newQueue[func(context.Context)](),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		loopDone:        make(chan struct{}),
		timers:          make(map[int64]*frameTimer),
		objects:         make(map[*html.Node]*goja.Object),
		nodes:           make(map[*goja.Object]*html.Node),
		listeners:       make(map[*html.Node]map[string][]goja.Value),
		windowListeners: make(map[string][]goja.Value),
		executed:        make(map[*html.Node]bool),
	}
	f.logger = deps.Logger.With(zap.String("frame", f.id.String()))
	f.registry = intercept.NewRegistry("frame:"+f.id.String(), f.relay,
		intercept.WithFilter(intercept.NewFilter(cfg.AllowList)),
		intercept.WithLogger(f.logger),
		intercept.WithObserver(deps.Observer),
	)

	f.vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	if err := f.setupGlobals(); err != nil {
		cancel()
		return nil, fmt.Errorf("setup frame globals: %w", err)
	}
	return f, nil
}

// ID returns the frame identifier.
func (f *Frame) ID() id.FrameID { return f.id }

// Port returns the frame's host port.
func (f *Frame) Port() *bridge.Port { return f.port }

// Registry returns the frame's interceptor registry.
func (f *Frame) Registry() *intercept.Registry { return f.registry }

// Start runs the document's scripts in order and then fires the load events.
func (f *Frame) Start() {
	f.startOnce.Do(func() {
		f.started.Store(true)
		for _, n := range f.dom.Scripts() {
			n := n
			f.enqueue(func() error { return f.runParserScript(n) })
		}
		f.enqueue(f.finishLoading)
		go f.loop()
		go f.egressLoop()
	})
}

// Settle waits until the frame has no queued tasks, in-flight egress, script
// loads or one-shot timers. Intervals do not keep a frame busy.
func (f *Frame) Settle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if f.pending.Load() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return ErrFrameClosed
		case <-ticker.C:
		}
	}
}

// Close tears the frame down. The port is closed first so results that are
// still in flight are dropped.
func (f *Frame) Close() {
	f.closeOnce.Do(func() {
		if f.port != nil {
			f.port.Close()
		}
		close(f.done)
		f.cancel()
		f.vm.Interrupt(ErrFrameClosed)

		f.timersMu.Lock()
		for key, t := range f.timers {
			t.timer.Stop()
			delete(f.timers, key)
		}
		f.timersMu.Unlock()
	})
	if f.started.Load() {
		<-f.loopDone
	}
}

// Closed reports whether Close was called.
func (f *Frame) Closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Document renders the current state of the document.
func (f *Frame) Document(ctx context.Context) (string, error) {
	var out string
	err := f.do(ctx, func() error {
		out = f.dom.Render()
		return nil
	})
	return out, err
}

// Eval runs a script in the frame and returns its exported result.
func (f *Frame) Eval(ctx context.Context, src string) (any, error) {
	var out any
	err := f.do(ctx, func() error {
		v, err := f.exec(func() (goja.Value, error) { return f.vm.RunScript("eval", src) })
		if err != nil {
			return err
		}
		out = f.export(v)
		return nil
	})
	return out, err
}

// Click dispatches a click on the first element matching selector and
// relays it to the host.
func (f *Frame) Click(ctx context.Context, selector string) error {
	return f.do(ctx, func() error {
		nodes := f.dom.Query(selector)
		if len(nodes) == 0 {
			return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}
		n := nodes[0]
		f.post(bridge.Click{Target: strings.ToUpper(n.Data), ID: Attr(n, "id")})
		f.dispatch(n, "click")
		return nil
	})
}

// Console returns the locally captured console output.
func (f *Frame) Console() []LogEntry {
	f.consoleMu.Lock()
	defer f.consoleMu.Unlock()
	return append([]LogEntry(nil), f.console...)
}

// Event loop

func (f *Frame) enqueue(t task) bool {
	if f.Closed() {
		return false
	}
	f.pending.Add(1)
	f.tasks.push(t)
	return true
}

// do runs fn on the event loop and waits for it.
func (f *Frame) do(ctx context.Context, fn func() error) error {
	if !f.started.Load() {
		return fmt.Errorf("frame not started")
	}
	errc := make(chan error, 1)
	if !f.enqueue(func() error {
		errc <- fn()
		return nil
	}) {
		return ErrFrameClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return ErrFrameClosed
	}
}

func (f *Frame) loop() {
	defer close(f.loopDone)
	for {
		t, ok := f.tasks.pop(f.done)
		if !ok {
			return
		}
		if err := f.protect(t); err != nil {
			f.reportError(err)
		}
		f.pending.Add(-1)
	}
}

func (f *Frame) protect(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Frame task panicked", zap.Any("panic", r))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return t()
}

// exec arms the execution budget around an outermost script entry.
func (f *Frame) exec(fn func() (goja.Value, error)) (goja.Value, error) {
	if f.depth > 0 {
		return fn()
	}
	f.depth++
	timer := time.AfterFunc(f.cfg.Timeout, func() { f.vm.Interrupt(ErrTimeout) })
	defer func() {
		timer.Stop()
		if !f.Closed() {
			f.vm.ClearInterrupt()
		}
		f.depth--
	}()
	return fn()
}

func (f *Frame) call(fn goja.Callable, this goja.Value, args ...goja.Value) error {
	_, err := f.exec(func() (goja.Value, error) { return fn(this, args...) })
	return err
}

func (f *Frame) runScript(name, src string) error {
	_, err := f.exec(func() (goja.Value, error) { return f.vm.RunScript(name, src) })
	return err
}

// schedule queues work for the egress goroutine, which runs calls in order.
func (f *Frame) schedule(fn func(context.Context)) {
	if f.Closed() {
		return
	}
	f.pending.Add(1)
	f.egress.push(fn)
}

func (f *Frame) egressLoop() {
	for {
		fn, ok := f.egress.pop(f.done)
		if !ok {
			return
		}
		fn(f.ctx)
		f.pending.Add(-1)
	}
}

// Scripts

func (f *Frame) runParserScript(n *html.Node) error {
	if f.executed[n] {
		return nil
	}
	f.executed[n] = true
	if Attr(n, "id") == InterceptorScriptID {
		f.installInterceptors()
		return nil
	}
	if !IsScript(n) {
		return nil
	}
	if src := Attr(n, "src"); src != "" {
		ctx, cancel := context.WithTimeout(f.ctx, f.cfg.LoadTimeout)
		body, err := f.loader.Load(ctx, src)
		cancel()
		return f.finishScript(n, src, body, err)
	}
	return f.runScript(scriptName(n), Text(n))
}

// inserted runs scripts that were attached to the document by script code.
func (f *Frame) inserted(n *html.Node) {
	if !f.dom.Contains(n) {
		return
	}
	var scripts []*html.Node
	walkElements(n, func(el *html.Node) bool {
		if IsScript(el) && !f.executed[el] {
			scripts = append(scripts, el)
		}
		return true
	})
	for _, el := range scripts {
		f.executed[el] = true
		if src := Attr(el, "src"); src != "" {
			f.loadScript(el, src)
			continue
		}
		if err := f.runScript(scriptName(el), Text(el)); err != nil {
			f.reportError(err)
		}
	}
}

func (f *Frame) loadScript(n *html.Node, src string) {
	if f.Closed() {
		return
	}
	f.pending.Add(1)
	go func() {
		defer f.pending.Add(-1)
		ctx, cancel := context.WithTimeout(f.ctx, f.cfg.LoadTimeout)
		body, err := f.loader.Load(ctx, src)
		cancel()
		f.enqueue(func() error { return f.finishScript(n, src, body, err) })
	}()
}

func (f *Frame) finishScript(n *html.Node, src, body string, loadErr error) error {
	if loadErr != nil {
		f.logger.Debug("Script failed to load", zap.String("src", src), zap.Error(loadErr))
		f.fire(n, "error")
		return nil
	}
	if f.isTagScript(src) {
		f.activateTag(src)
	} else if strings.TrimSpace(body) != "" {
		if err := f.runScript(src, body); err != nil {
			f.reportError(err)
		}
	}
	f.fire(n, "load")
	return nil
}

func (f *Frame) finishLoading() error {
	if f.document != nil {
		_ = f.document.Set("readyState", "complete")
	}
	f.dispatchTo([]*html.Node{f.dom.Root()}, "DOMContentLoaded", nil)
	f.dispatchWindow("load", nil)
	return nil
}

func scriptName(n *html.Node) string {
	if v := Attr(n, "id"); v != "" {
		return v
	}
	return "inline-script"
}

// Interception

func (f *Frame) installInterceptors() {
	f.interceptor = f.registry.Install(f.originals)
}

// prims returns the primitives script code currently sees: the originals
// until the interceptor script has run, the interceptor after.
func (f *Frame) prims() intercept.Primitives {
	if f.interceptor != nil {
		return f.interceptor
	}
	return f.originals
}

// relay is the registry sink: captured calls cross to the host as
// network_proxy messages.
func (f *Frame) relay(e capture.CapturedEvent) {
	f.post(bridge.NetworkProxy{Data: bridge.ProxyData{
		Kind:    e.Kind,
		Method:  e.Method,
		URL:     e.URL,
		Body:    e.Body,
		Headers: e.Headers,
	}})
}

func (f *Frame) post(msg bridge.Message) {
	if f.port != nil {
		f.port.Post(msg)
	}
}

// Errors and console

func (f *Frame) reportError(err error) {
	if err == nil || f.Closed() {
		return
	}
	msg := f.errorMessage(err)
	f.addConsole("error", "Uncaught "+msg)
	f.post(bridge.Error{Message: msg})
}

func (f *Frame) errorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				return m.String()
			}
		}
		return ex.Value().String()
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if e, ok := ie.Value().(error); ok {
			return e.Error()
		}
		return ie.String()
	}
	return err.Error()
}

func (f *Frame) addConsole(level, msg string) {
	if !f.cfg.EnableConsole {
		return
	}
	f.consoleMu.Lock()
	defer f.consoleMu.Unlock()
	if len(f.console) >= f.cfg.MaxConsole {
		f.console = f.console[1:]
	}
	f.console = append(f.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
}

// Timers

type frameTimer struct {
	timer    *time.Timer
	fn       goja.Callable
	args     []goja.Value
	delay    time.Duration
	repeat   bool
	released atomic.Bool
}

// release drops a one-shot timer's hold on Settle exactly once.
func (t *frameTimer) release(pending *atomic.Int64) {
	if !t.repeat && t.released.CompareAndSwap(false, true) {
		pending.Add(-1)
	}
}

func (f *Frame) setTimer(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return f.vm.ToValue(0)
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < 10*time.Millisecond {
		delay = 10 * time.Millisecond
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	t := &frameTimer{fn: fn, args: args, delay: delay, repeat: repeat}
	f.timersMu.Lock()
	f.nextTimer++
	key := f.nextTimer
	f.timers[key] = t
	if !repeat {
		f.pending.Add(1)
	}
	t.timer = time.AfterFunc(delay, func() { f.fireTimer(key, t) })
	f.timersMu.Unlock()
	return f.vm.ToValue(key)
}

func (f *Frame) fireTimer(key int64, t *frameTimer) {
	if t.repeat {
		f.enqueue(func() error {
			if !f.timerActive(key, t) {
				return nil
			}
			err := f.call(t.fn, goja.Undefined(), t.args...)
			f.timersMu.Lock()
			if f.timers[key] == t {
				t.timer.Reset(t.delay)
			}
			f.timersMu.Unlock()
			return err
		})
		return
	}
	f.timersMu.Lock()
	active := f.timers[key] == t
	delete(f.timers, key)
	f.timersMu.Unlock()
	if active {
		f.enqueue(func() error { return f.call(t.fn, goja.Undefined(), t.args...) })
	}
	t.release(&f.pending)
}

func (f *Frame) timerActive(key int64, t *frameTimer) bool {
	f.timersMu.Lock()
	defer f.timersMu.Unlock()
	return f.timers[key] == t
}

func (f *Frame) clearTimer(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).ToInteger()
	f.timersMu.Lock()
	t := f.timers[key]
	delete(f.timers, key)
	f.timersMu.Unlock()
	if t != nil {
		t.timer.Stop()
		t.release(&f.pending)
	}
	return goja.Undefined()
}
