package sandbox

import (
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type native = func(goja.FunctionCall) goja.Value

// newDocument builds the document global over the parsed DOM.
func (f *Frame) newDocument() *goja.Object {
	vm := f.vm
	doc := vm.NewObject()
	root := f.dom.Root()
	f.objects[root] = doc
	f.nodes[doc] = root

	_ = doc.Set("nodeType", 9)
	_ = doc.Set("readyState", "loading")
	_ = doc.Set("cookie", "")
	_ = doc.Set("referrer", "")
	f.getter(doc, "head", func() goja.Value { return f.wrap(f.dom.Head()) })
	f.getter(doc, "body", func() goja.Value { return f.wrap(f.dom.Body()) })
	f.getter(doc, "documentElement", func() goja.Value { return f.wrap(f.dom.DocumentElement()) })
	f.getter(doc, "title", func() goja.Value {
		nodes := f.dom.Query("title")
		if len(nodes) == 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(Text(nodes[0]))
	})

	methods := map[string]native{
		"createElement": func(call goja.FunctionCall) goja.Value {
			return f.wrap(CreateElement(argString(call, 0)))
		},
		"createTextNode": func(call goja.FunctionCall) goja.Value {
			return f.wrap(CreateText(argString(call, 0)))
		},
		"getElementById": func(call goja.FunctionCall) goja.Value {
			return f.wrap(f.dom.ByID(argString(call, 0)))
		},
	}
	for name, fn := range methods {
		_ = doc.Set(name, fn)
	}
	f.defineQueries(doc, root)
	f.defineEvents(doc, root)
	return doc
}

// wrap returns the script object for a node. Objects are cached so identity
// comparisons and expando properties behave.
func (f *Frame) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := f.objects[n]; ok {
		return obj
	}
	obj := f.vm.NewObject()
	f.objects[n] = obj
	f.nodes[obj] = n
	if n.Type == html.ElementNode {
		f.defineElement(obj, n)
	} else {
		f.defineNode(obj, n)
	}
	return obj
}

func (f *Frame) defineNode(obj *goja.Object, n *html.Node) {
	nodeType := 3
	if n.Type == html.CommentNode {
		nodeType = 8
	}
	_ = obj.Set("nodeType", nodeType)
	_ = obj.Set("nodeName", "#text")
	f.accessor(obj, "textContent",
		func() goja.Value { return f.vm.ToValue(n.Data) },
		func(v goja.Value) { n.Data = v.String() })
	f.defineTree(obj, n)
}

func (f *Frame) defineElement(obj *goja.Object, n *html.Node) {
	vm := f.vm
	tag := strings.ToUpper(n.Data)
	_ = obj.Set("nodeType", 1)
	_ = obj.Set("tagName", tag)
	_ = obj.Set("nodeName", tag)
	_ = obj.Set("style", vm.NewObject())

	for _, attr := range []string{"id", "type", "href", "name", "value", "alt", "rel"} {
		f.reflectAttr(obj, n, attr, attr)
	}
	f.reflectAttr(obj, n, "className", "class")
	f.accessor(obj, "src",
		func() goja.Value { return vm.ToValue(Attr(n, "src")) },
		func(v goja.Value) { f.setSrc(n, v.String()) })
	f.accessor(obj, "textContent",
		func() goja.Value { return vm.ToValue(Text(n)) },
		func(v goja.Value) { SetText(n, v.String()) })
	f.accessor(obj, "innerText",
		func() goja.Value { return vm.ToValue(Text(n)) },
		func(v goja.Value) { SetText(n, v.String()) })
	f.accessor(obj, "innerHTML",
		func() goja.Value { return vm.ToValue(InnerHTML(n)) },
		func(v goja.Value) {
			if err := SetInnerHTML(n, v.String()); err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
			f.inserted(n)
		})
	f.getter(obj, "children", func() goja.Value {
		kids := Children(n)
		vals := make([]any, len(kids))
		for i, c := range kids {
			vals[i] = f.wrap(c)
		}
		return vm.NewArray(vals...)
	})

	methods := map[string]native{
		"getAttribute": func(call goja.FunctionCall) goja.Value {
			key := argString(call, 0)
			if !HasAttr(n, key) {
				return goja.Null()
			}
			return vm.ToValue(Attr(n, key))
		},
		"setAttribute": func(call goja.FunctionCall) goja.Value {
			key, val := argString(call, 0), argString(call, 1)
			if strings.EqualFold(key, "src") {
				f.setSrc(n, val)
			} else {
				SetAttr(n, key, val)
			}
			return goja.Undefined()
		},
		"removeAttribute": func(call goja.FunctionCall) goja.Value {
			RemoveAttr(n, argString(call, 0))
			return goja.Undefined()
		},
		"hasAttribute": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(HasAttr(n, argString(call, 0)))
		},
		"click": func(goja.FunctionCall) goja.Value {
			f.dispatch(n, "click")
			return goja.Undefined()
		},
	}
	for name, fn := range methods {
		_ = obj.Set(name, fn)
	}
	f.defineTree(obj, n)
	f.defineQueries(obj, n)
	f.defineEvents(obj, n)
}

// defineTree adds navigation and mutation members shared by all nodes.
func (f *Frame) defineTree(obj *goja.Object, n *html.Node) {
	vm := f.vm
	f.getter(obj, "parentNode", func() goja.Value { return f.wrap(n.Parent) })
	f.getter(obj, "parentElement", func() goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return f.wrap(n.Parent)
	})
	f.getter(obj, "firstChild", func() goja.Value { return f.wrap(n.FirstChild) })
	f.getter(obj, "lastChild", func() goja.Value { return f.wrap(n.LastChild) })
	f.getter(obj, "nextSibling", func() goja.Value { return f.wrap(n.NextSibling) })
	f.getter(obj, "previousSibling", func() goja.Value { return f.wrap(n.PrevSibling) })
	f.getter(obj, "isConnected", func() goja.Value { return vm.ToValue(f.dom.Contains(n)) })

	methods := map[string]native{
		"appendChild": func(call goja.FunctionCall) goja.Value {
			child := f.unwrap(call.Argument(0))
			Detach(child)
			n.AppendChild(child)
			f.inserted(child)
			return call.Argument(0)
		},
		"insertBefore": func(call goja.FunctionCall) goja.Value {
			child := f.unwrap(call.Argument(0))
			ref := f.unwrapOptional(call.Argument(1))
			if ref != nil && ref.Parent != n {
				panic(vm.NewTypeError("NotFoundError: reference node is not a child"))
			}
			Detach(child)
			n.InsertBefore(child, ref)
			f.inserted(child)
			return call.Argument(0)
		},
		"removeChild": func(call goja.FunctionCall) goja.Value {
			child := f.unwrap(call.Argument(0))
			if child.Parent != n {
				panic(vm.NewTypeError("NotFoundError: node is not a child"))
			}
			n.RemoveChild(child)
			return call.Argument(0)
		},
		"remove": func(goja.FunctionCall) goja.Value {
			Detach(n)
			return goja.Undefined()
		},
	}
	for name, fn := range methods {
		_ = obj.Set(name, fn)
	}
}

func (f *Frame) defineQueries(obj *goja.Object, n *html.Node) {
	vm := f.vm
	list := func(nodes []*html.Node) goja.Value {
		vals := make([]any, len(nodes))
		for i, c := range nodes {
			vals[i] = f.wrap(c)
		}
		return vm.NewArray(vals...)
	}
	methods := map[string]native{
		"querySelector": func(call goja.FunctionCall) goja.Value {
			nodes := QueryFrom(n, argString(call, 0))
			if len(nodes) == 0 {
				return goja.Null()
			}
			return f.wrap(nodes[0])
		},
		"querySelectorAll": func(call goja.FunctionCall) goja.Value {
			return list(QueryFrom(n, argString(call, 0)))
		},
		"getElementsByTagName": func(call goja.FunctionCall) goja.Value {
			return list(QueryFrom(n, argString(call, 0)))
		},
		"getElementsByClassName": func(call goja.FunctionCall) goja.Value {
			classes := strings.Fields(argString(call, 0))
			if len(classes) == 0 {
				return vm.NewArray()
			}
			return list(QueryFrom(n, "."+strings.Join(classes, ".")))
		},
	}
	for name, fn := range methods {
		_ = obj.Set(name, fn)
	}
}

func (f *Frame) defineEvents(obj *goja.Object, n *html.Node) {
	_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := argString(call, 0)
		if _, ok := goja.AssertFunction(call.Argument(1)); !ok {
			return goja.Undefined()
		}
		if f.listeners[n] == nil {
			f.listeners[n] = make(map[string][]goja.Value)
		}
		f.listeners[n][typ] = append(f.listeners[n][typ], call.Argument(1))
		return goja.Undefined()
	})
	_ = obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := argString(call, 0)
		kept := f.listeners[n][typ][:0]
		for _, l := range f.listeners[n][typ] {
			if !l.SameAs(call.Argument(1)) {
				kept = append(kept, l)
			}
		}
		if f.listeners[n] != nil {
			f.listeners[n][typ] = kept
		}
		return goja.Undefined()
	})
}

func (f *Frame) unwrap(v goja.Value) *html.Node {
	n := f.unwrapOptional(v)
	if n == nil {
		panic(f.vm.NewTypeError("parameter is not of type 'Node'"))
	}
	return n
}

func (f *Frame) unwrapOptional(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return f.nodes[obj]
}

// setSrc applies a src assignment: images load immediately, scripts load
// once they are attached and have not run yet.
func (f *Frame) setSrc(n *html.Node, src string) {
	SetAttr(n, "src", src)
	switch n.DataAtom {
	case atom.Img:
		f.pixel(n, src)
	case atom.Script:
		if f.dom.Contains(n) && !f.executed[n] {
			f.executed[n] = true
			f.loadScript(n, src)
		}
	}
}

func (f *Frame) reflectAttr(obj *goja.Object, n *html.Node, prop, attr string) {
	f.accessor(obj, prop,
		func() goja.Value { return f.vm.ToValue(Attr(n, attr)) },
		func(v goja.Value) { SetAttr(n, attr, v.String()) })
}

func (f *Frame) getter(obj *goja.Object, name string, get func() goja.Value) {
	f.accessor(obj, name, get, nil)
}

func (f *Frame) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := f.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = f.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// Events

// fire invokes an element's on<type> handler and listeners without
// propagation, the way load and error events reach script elements.
func (f *Frame) fire(n *html.Node, typ string) {
	f.dispatchTo([]*html.Node{n}, typ, n)
}

// dispatch delivers a bubbling event from n up to the document and window.
func (f *Frame) dispatch(n *html.Node, typ string) {
	var path []*html.Node
	for p := n; p != nil; p = p.Parent {
		path = append(path, p)
	}
	if !f.dispatchTo(path, typ, n) {
		f.dispatchWindow(typ, n)
	}
}

// dispatchTo runs handlers along path and reports whether propagation was
// stopped.
func (f *Frame) dispatchTo(path []*html.Node, typ string, target *html.Node) bool {
	if len(path) == 0 {
		return false
	}
	stopped := false
	event := f.newEvent(typ, target, &stopped)
	for _, node := range path {
		this := f.wrap(node)
		_ = event.Set("currentTarget", this)
		for _, handler := range f.handlers(node, typ) {
			fn, ok := goja.AssertFunction(handler)
			if !ok {
				continue
			}
			if err := f.call(fn, this, event); err != nil {
				f.reportError(err)
			}
		}
		if stopped {
			return true
		}
	}
	return false
}

func (f *Frame) dispatchWindow(typ string, target *html.Node) {
	stopped := false
	event := f.newEvent(typ, target, &stopped)
	global := f.vm.GlobalObject()
	handlers := append([]goja.Value{global.Get("on" + typ)}, f.windowListeners[typ]...)
	for _, handler := range handlers {
		if fn, ok := goja.AssertFunction(handler); ok {
			if err := f.call(fn, global, event); err != nil {
				f.reportError(err)
			}
		}
	}
}

// handlers lists the property handler, an inline attribute handler and the
// registered listeners of node, in that order.
func (f *Frame) handlers(node *html.Node, typ string) []goja.Value {
	var out []goja.Value
	if obj, ok := f.objects[node]; ok {
		if h := obj.Get("on" + typ); h != nil && !goja.IsUndefined(h) && !goja.IsNull(h) {
			out = append(out, h)
		}
	}
	if node.Type == html.ElementNode {
		if code := Attr(node, "on"+typ); code != "" {
			fn, err := f.exec(func() (goja.Value, error) {
				return f.vm.RunScript("on"+typ, "(function (event) {\n"+code+"\n})")
			})
			if err != nil {
				f.reportError(err)
			} else {
				out = append(out, fn)
			}
		}
	}
	return append(out, f.listeners[node][typ]...)
}

func (f *Frame) newEvent(typ string, target *html.Node, stopped *bool) *goja.Object {
	vm := f.vm
	event := vm.NewObject()
	_ = event.Set("type", typ)
	if target != nil {
		_ = event.Set("target", f.wrap(target))
	} else {
		_ = event.Set("target", goja.Null())
	}
	_ = event.Set("defaultPrevented", false)
	_ = event.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		_ = event.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	stop := func(goja.FunctionCall) goja.Value {
		*stopped = true
		return goja.Undefined()
	}
	_ = event.Set("stopPropagation", stop)
	_ = event.Set("stopImmediatePropagation", stop)
	return event
}
