package tagmanager

import (
	"net/url"
	"sync"

	"golang.org/x/net/html"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
)

// Element ids of the injected container markup.
const (
	ScriptElementID   = "tag-loader"
	NoscriptElementID = "tag-loader-fallback"
)

const hostShell = `<!DOCTYPE html><html><head><title>Tracking Lab</title></head><body><div id="root"></div></body></html>`

// HostDocument is the host page the container is injected into. It holds
// at most one container script and one noscript fallback.
type HostDocument struct {
	mu  sync.Mutex
	dom *sandbox.DOM
}

// NewHostDocument creates an empty host page.
func NewHostDocument() *HostDocument {
	dom, err := sandbox.ParseDocument(hostShell)
	if err != nil {
		panic(err)
	}
	return &HostDocument{dom: dom}
}

// Insert replaces any injected markup with a script loading scriptSrc as the
// first child of head and a noscript frame for frameSrc as the first child
// of body.
func (d *HostDocument) Insert(scriptSrc, frameSrc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove()

	script := sandbox.CreateElement("script")
	sandbox.SetAttr(script, "id", ScriptElementID)
	sandbox.SetAttr(script, "async", "")
	sandbox.SetAttr(script, "src", scriptSrc)
	head := d.dom.Head()
	head.InsertBefore(script, head.FirstChild)

	noscript := sandbox.CreateElement("noscript")
	sandbox.SetAttr(noscript, "id", NoscriptElementID)
	iframe := sandbox.CreateElement("iframe")
	sandbox.SetAttr(iframe, "src", frameSrc)
	sandbox.SetAttr(iframe, "height", "0")
	sandbox.SetAttr(iframe, "width", "0")
	sandbox.SetAttr(iframe, "style", "display:none;visibility:hidden")
	noscript.AppendChild(iframe)
	body := d.dom.Body()
	body.InsertBefore(noscript, body.FirstChild)
}

// Remove deletes the injected markup and reports whether anything was there.
func (d *HostDocument) Remove() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remove()
}

func (d *HostDocument) remove() bool {
	removed := false
	for _, key := range []string{ScriptElementID, NoscriptElementID} {
		for n := d.dom.ByID(key); n != nil; n = d.dom.ByID(key) {
			sandbox.Detach(n)
			removed = true
		}
	}
	return removed
}

// Injected reports whether a container script is present.
func (d *HostDocument) Injected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dom.ByID(ScriptElementID) != nil
}

// ScriptSrc returns the src of the injected script, or "".
func (d *HostDocument) ScriptSrc() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sandbox.Attr(d.dom.ByID(ScriptElementID), "src")
}

// Count returns how many elements match selector.
func (d *HostDocument) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dom.Query(selector))
}

// FirstIDs returns the ids of the first element children of head and body.
func (d *HostDocument) FirstIDs() (head, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	first := func(n *html.Node) string {
		kids := sandbox.Children(n)
		if len(kids) == 0 {
			return ""
		}
		return sandbox.Attr(kids[0], "id")
	}
	return first(d.dom.Head()), first(d.dom.Body())
}

// Render serializes the page.
func (d *HostDocument) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dom.Render()
}

func containerURL(base, id string) string { return base + "?id=" + url.QueryEscape(id) }
