package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
)

// setupGlobals configures global objects and security
func (f *Frame) setupGlobals() error {
	vm := f.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return fmt.Errorf("JSON.stringify unavailable")
	}
	f.stringify = stringify

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, f.consoleFunc(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	timers := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    func(c goja.FunctionCall) goja.Value { return f.setTimer(c, false) },
		"setInterval":   func(c goja.FunctionCall) goja.Value { return f.setTimer(c, true) },
		"clearTimeout":  f.clearTimer,
		"clearInterval": f.clearTimer,
	}
	for name, fn := range timers {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}

	f.document = f.newDocument()
	if err := vm.Set("document", f.document); err != nil {
		return err
	}
	global := vm.GlobalObject()
	_ = global.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		f.windowListeners[typ] = append(f.windowListeners[typ], call.Argument(1))
		return goja.Undefined()
	})

	host := vm.NewObject()
	natives := map[string]func(goja.FunctionCall) goja.Value{
		"request":   f.hostRequest,
		"xhrOpen":   f.hostXHROpen,
		"xhrHeader": f.hostXHRHeader,
		"xhrSend":   f.hostXHRSend,
		"beacon":    f.hostBeacon,
		"post":      f.hostPost,
		"tagEvent":  f.hostTagEvent,
	}
	for name, fn := range natives {
		if err := host.Set(name, fn); err != nil {
			return err
		}
	}

	install, err := vm.RunScript("prelude", prelude)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(install)
	if !ok {
		return fmt.Errorf("prelude is not a function")
	}
	hooks, err := fn(goja.Undefined(), global, host)
	if err != nil {
		return err
	}
	f.hooks = hooks.ToObject(vm)
	return nil
}

func (f *Frame) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = f.display(arg)
			args[i] = f.export(arg)
		}
		f.addConsole(level, strings.Join(parts, " "))
		f.post(bridge.Log{Level: level, Args: args})
		return goja.Undefined()
	}
}

// Egress natives

func (f *Frame) hostRequest(call goja.FunctionCall) goja.Value {
	c := intercept.Call{
		Method:  argString(call, 0),
		URL:     argString(call, 1),
		Body:    f.export(call.Argument(2)),
		Headers: f.exportHeaders(call.Argument(3)),
	}
	cb, _ := goja.AssertFunction(call.Argument(4))
	prims := f.prims()
	f.schedule(func(ctx context.Context) {
		resp, err := prims.Request(ctx, c)
		f.complete(cb, resp, err)
	})
	return goja.Undefined()
}

func (f *Frame) hostXHROpen(call goja.FunctionCall) goja.Value {
	return f.vm.ToValue(f.prims().Open(argString(call, 0), argString(call, 1)))
}

func (f *Frame) hostXHRHeader(call goja.FunctionCall) goja.Value {
	if req, ok := call.Argument(0).Export().(*intercept.RawRequest); ok {
		req.SetHeader(argString(call, 1), argString(call, 2))
	}
	return goja.Undefined()
}

func (f *Frame) hostXHRSend(call goja.FunctionCall) goja.Value {
	req, ok := call.Argument(0).Export().(*intercept.RawRequest)
	if !ok {
		panic(f.vm.NewTypeError("invalid request handle"))
	}
	body := f.export(call.Argument(1))
	cb, _ := goja.AssertFunction(call.Argument(2))
	prims := f.prims()
	f.schedule(func(ctx context.Context) {
		resp, err := prims.Send(ctx, req, body)
		f.complete(cb, resp, err)
	})
	return goja.Undefined()
}

func (f *Frame) hostBeacon(call goja.FunctionCall) goja.Value {
	target := argString(call, 0)
	if target == "" {
		return f.vm.ToValue(false)
	}
	body := f.export(call.Argument(1))
	prims := f.prims()
	f.schedule(func(context.Context) { prims.Beacon(target, body) })
	return f.vm.ToValue(true)
}

// pixel loads an image source and fires the element's load event after.
func (f *Frame) pixel(n *html.Node, target string) {
	prims := f.prims()
	f.schedule(func(context.Context) {
		prims.PixelLoad(target)
		f.enqueue(func() error {
			f.fire(n, "load")
			return nil
		})
	})
}

// complete hands a primitive's result back to the event loop.
func (f *Frame) complete(cb goja.Callable, resp *intercept.Response, err error) {
	if cb == nil {
		return
	}
	f.enqueue(func() error {
		if err != nil {
			return f.call(cb, goja.Undefined(), f.vm.ToValue(err.Error()))
		}
		var (
			status  int
			body    string
			headers map[string]string
		)
		if resp != nil {
			status, body, headers = resp.Status, string(resp.Body), resp.Headers
		}
		return f.call(cb, goja.Undefined(), goja.Null(), f.vm.ToValue(status), f.vm.ToValue(body), f.vm.ToValue(headers))
	})
}

// hostPost is window.parent.postMessage.
func (f *Frame) hostPost(call goja.FunctionCall) goja.Value {
	obj, ok := f.export(call.Argument(0)).(map[string]any)
	if !ok {
		f.post(bridge.Ignored{Reason: "message is not an object"})
		return goja.Undefined()
	}
	f.post(bridge.FromMap(obj))
	return goja.Undefined()
}

// Tag manager emulation

func (f *Frame) isTagScript(src string) bool {
	return strings.HasPrefix(src, f.cfg.TagScriptBase)
}

// activateTag stands in for the real container once its script has loaded:
// every data layer push other than the loader's own events becomes a hit.
func (f *Frame) activateTag(src string) {
	layer := "dataLayer"
	if u, err := url.Parse(src); err == nil {
		f.tagID = u.Query().Get("id")
		if l := u.Query().Get("l"); l != "" {
			layer = l
		}
	}
	activate, ok := goja.AssertFunction(f.hooks.Get("activateTag"))
	if !ok {
		return
	}
	if err := f.call(activate, goja.Undefined(), f.vm.ToValue(layer)); err != nil {
		f.reportError(err)
	}
}

func (f *Frame) hostTagEvent(call goja.FunctionCall) goja.Value {
	entry, ok := f.export(call.Argument(0)).(map[string]any)
	if !ok {
		return goja.Undefined()
	}
	target, body, ok := TagHit(f.cfg.CollectURL, f.tagID, entry)
	if !ok {
		return goja.Undefined()
	}
	prims := f.prims()
	f.schedule(func(context.Context) { prims.Beacon(target, body) })
	return goja.Undefined()
}

// TagHit turns a data layer entry into the hit an emulated container sends.
// Entries without an event, and the loader's own gtm.* events, send nothing.
func TagHit(collectURL, tagID string, entry map[string]any) (target, body string, ok bool) {
	event, _ := entry["event"].(string)
	if event == "" || strings.HasPrefix(event, "gtm.") {
		return "", "", false
	}
	body, err := sonic.ConfigStd.MarshalToString(entry)
	if err != nil {
		return "", "", false
	}
	q := url.Values{}
	q.Set("v", "2")
	q.Set("tid", tagID)
	q.Set("en", event)
	return collectURL + "?" + q.Encode(), body, true
}

// Value conversion

// export converts a script value into plain Go data. Objects go through
// JSON.stringify so functions and cycles never leak out of the runtime.
func (f *Frame) export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}
	switch obj.ClassName() {
	case "Error":
		return obj.String()
	case "Function":
		return "[function]"
	}
	s, err := f.stringify(goja.Undefined(), obj)
	if err != nil || s == nil || goja.IsUndefined(s) {
		return obj.String()
	}
	var out any
	if err := sonic.UnmarshalString(s.String(), &out); err != nil {
		return s.String()
	}
	return out
}

// display renders a value the way a console would print it.
func (f *Frame) display(v goja.Value) string {
	switch x := f.export(v).(type) {
	case nil:
		if v == nil || goja.IsUndefined(v) {
			return "undefined"
		}
		return "null"
	case string:
		return x
	case map[string]any, []any:
		s, err := sonic.ConfigStd.MarshalToString(x)
		if err != nil {
			return v.String()
		}
		return s
	default:
		return fmt.Sprint(x)
	}
}

func (f *Frame) exportHeaders(v goja.Value) map[string]string {
	m, ok := f.export(v).(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}

func argString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
