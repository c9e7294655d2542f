// Package htmldom adapts golang.org/x/net/html trees to the dom interfaces.
// Documents are immutable snapshots; the page bridge produces one per event.
package htmldom

import (
	"fmt"
	"io"
	"strings"

	"actionrecorder/backend/internal/dom"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// IdentityAttr carries a node identity inside snapshot markup. Identities can
// also be assigned after parsing with Assign, which is how the page bridge
// delivers them without touching the live page.
const IdentityAttr = "data-recorder-node"

type Document struct {
	root  *html.Node
	doc   *goquery.Document
	nodes map[*html.Node]*Node

	ids  map[*html.Node]string
	byID map[string]*html.Node
}

type Node struct {
	n *html.Node
	d *Document
}

func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return FromNode(root), nil
}

func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func FromNode(root *html.Node) *Document {
	return &Document{
		root:  root,
		doc:   goquery.NewDocumentFromNode(root),
		nodes: make(map[*html.Node]*Node),
		ids:   make(map[*html.Node]string),
		byID:  make(map[string]*html.Node),
	}
}

// ParseDetached parses markup as a fragment whose top-level elements have no
// parent, the way a node removed from the document looks.
func ParseDetached(markup string) ([]dom.Element, error) {
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	d := FromNode(&html.Node{Type: html.DocumentNode})
	var out []dom.Element
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, d.wrap(n))
		}
	}
	return out, nil
}

func (d *Document) wrap(n *html.Node) *Node {
	if w, ok := d.nodes[n]; ok {
		return w
	}
	w := &Node{n: n, d: d}
	d.nodes[n] = w
	return w
}

func (d *Document) element(n *html.Node) dom.Element {
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

func (d *Document) Root() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c)
		}
	}
	return nil
}

func (d *Document) Body() dom.Element {
	sel := d.doc.Find("body").First()
	if sel.Length() == 0 {
		return nil
	}
	return d.element(sel.Get(0))
}

func (d *Document) ElementByID(id string) dom.Element {
	if id == "" {
		return nil
	}
	sel := d.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	}).First()
	if sel.Length() == 0 {
		return nil
	}
	return d.element(sel.Get(0))
}

func (d *Document) ElementsByClassName(class string) []dom.Element {
	tokens := strings.Fields(class)
	if len(tokens) == 0 {
		return nil
	}
	sel := d.doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		for _, t := range tokens {
			if !s.HasClass(t) {
				return false
			}
		}
		return true
	})
	out := make([]dom.Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

func (d *Document) LabelFor(id string) dom.Element {
	if id == "" {
		return nil
	}
	sel := d.doc.Find("label[for]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("for")
		return v == id
	}).First()
	if sel.Length() == 0 {
		return nil
	}
	return d.element(sel.Get(0))
}

// Query returns the first element matching a CSS selector, or nil.
func (d *Document) Query(css string) dom.Element {
	sel := d.doc.Find(css).First()
	if sel.Length() == 0 {
		return nil
	}
	return d.element(sel.Get(0))
}

// Assign gives the element at path the identity id. It reports false when
// path does not lead to an element.
func (d *Document) Assign(path []int, id string) bool {
	el, ok := d.At(path).(*Node)
	if !ok {
		return false
	}
	el.SetIdentity(id)
	return true
}

// ByIdentity finds the element carrying the given identity, assigned or
// in markup.
func (d *Document) ByIdentity(id string) dom.Element {
	if id == "" {
		return nil
	}
	if n, ok := d.byID[id]; ok {
		return d.wrap(n)
	}
	sel := d.doc.Find("[" + IdentityAttr + "]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(IdentityAttr)
		return v == id
	}).First()
	if sel.Length() == 0 {
		return nil
	}
	return d.element(sel.Get(0))
}

// At walks element-child indexes starting at the root element.
func (d *Document) At(path []int) dom.Element {
	cur := d.Root()
	for _, idx := range path {
		if cur == nil {
			return nil
		}
		kids := cur.Children()
		if idx < 0 || idx >= len(kids) {
			return nil
		}
		cur = kids[idx]
	}
	return cur
}

func (e *Node) Tag() string {
	return strings.ToLower(e.n.Data)
}

func (e *Node) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Node) Parent() dom.Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.d.wrap(p)
}

func (e *Node) Children() []dom.Element {
	var out []dom.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.d.wrap(c))
		}
	}
	return out
}

func (e *Node) Text() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return b.String()
}

func (e *Node) Identity() string {
	if id, ok := e.d.ids[e.n]; ok {
		return id
	}
	v, _ := e.Attr(IdentityAttr)
	return v
}

// SetIdentity assigns id to e, replacing any identity it had.
func (e *Node) SetIdentity(id string) {
	if old, ok := e.d.ids[e.n]; ok {
		delete(e.d.byID, old)
	}
	e.d.ids[e.n] = id
	e.d.byID[id] = e.n
}

var (
	_ dom.Document     = (*Document)(nil)
	_ dom.Element      = (*Node)(nil)
	_ dom.Identifiable = (*Node)(nil)
	_ dom.Locator      = (*Document)(nil)
)
