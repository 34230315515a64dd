package sandbox

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM is the parsed document of one frame. It is not safe for concurrent
// use; a frame only touches it from its event loop.
type DOM struct {
	root *html.Node
}

// ParseDocument parses a full HTML document.
func ParseDocument(src string) (*DOM, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &DOM{root: root}, nil
}

// Root returns the document node.
func (d *DOM) Root() *html.Node { return d.root }

// Head returns the head element.
func (d *DOM) Head() *html.Node { return d.first("head") }

// Body returns the body element.
func (d *DOM) Body() *html.Node { return d.first("body") }

// DocumentElement returns the html element.
func (d *DOM) DocumentElement() *html.Node { return d.first("html") }

func (d *DOM) first(tag string) *html.Node {
	nodes := d.Query(tag)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Query finds elements by CSS selector in document order. An invalid
// selector matches nothing.
func (d *DOM) Query(selector string) []*html.Node {
	return QueryFrom(d.root, selector)
}

// QueryFrom runs a selector against the descendants of n.
func QueryFrom(n *html.Node, selector string) []*html.Node {
	if n == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes
}

// ByID finds the first element with the given id.
func (d *DOM) ByID(id string) *html.Node {
	var found *html.Node
	walkElements(d.root, func(n *html.Node) bool {
		if Attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Scripts returns every script element in document order.
func (d *DOM) Scripts() []*html.Node { return d.Query("script") }

// Render serializes the document.
func (d *DOM) Render() string {
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return ""
	}
	return b.String()
}

// Contains reports whether n is attached to this document.
func (d *DOM) Contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// CreateElement makes a detached element.
func CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateText makes a detached text node.
func CreateText(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// Attr returns an attribute value or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	key = strings.ToLower(key)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute.
func RemoveAttr(n *html.Node, key string) {
	key = strings.ToLower(key)
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// Text returns the combined text of n and its descendants.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	return goquery.NewDocumentFromNode(n).Text()
}

// SetText replaces the children of n with one text node.
func SetText(n *html.Node, text string) {
	removeChildren(n)
	if text != "" {
		n.AppendChild(CreateText(text))
	}
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return b.String()
		}
	}
	return b.String()
}

// SetInnerHTML parses markup in the context of n and replaces its children.
func SetInnerHTML(n *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

// Detach removes n from its parent, if any.
func Detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Children returns the element children of n.
func Children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// IsScript reports whether n is a script element with an executable type.
func IsScript(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Script {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(Attr(n, "type"))) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// walkElements visits elements depth first until fn returns false.
func walkElements(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkElements(c, fn) {
			return false
		}
	}
	return true
}
