// Package dom is the read-only view of a page the recorder works against.
// Nothing in this package, or anything built on it, may change the page.
package dom

import "strings"

// Element is one element node. Parent returns nil for the root element and for
// detached nodes.
type Element interface {
	Tag() string
	Attr(name string) (string, bool)
	Parent() Element
	Children() []Element
	Text() string
}

// Document answers the few live queries selector resolution needs.
type Document interface {
	Root() Element
	Body() Element
	ElementByID(id string) Element
	// ElementsByClassName behaves like document.getElementsByClassName with a
	// single class token.
	ElementsByClassName(class string) []Element
	// LabelFor returns the first <label for="id"> in document order.
	LabelFor(id string) Element
}

// Identifiable elements carry an identity that survives re-parsing the page,
// so two snapshots of the same live node compare equal.
type Identifiable interface {
	Identity() string
}

func AttrOr(e Element, name string) string {
	v, _ := e.Attr(name)
	return v
}

func Same(a, b Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ai, aok := a.(Identifiable)
	bi, bok := b.(Identifiable)
	if aok && bok && ai.Identity() != "" {
		return ai.Identity() == bi.Identity()
	}
	return a == b
}

// Locator finds an element of one snapshot by its identity.
type Locator interface {
	ByIdentity(id string) Element
}

// Locate returns the element of doc that is the same live node as el. It
// returns el unchanged when el has no identity or doc has no such node.
func Locate(doc Document, el Element) Element {
	ident, ok := el.(Identifiable)
	if !ok || ident.Identity() == "" {
		return el
	}
	loc, ok := doc.(Locator)
	if !ok {
		return el
	}
	if found := loc.ByIdentity(ident.Identity()); found != nil {
		return found
	}
	return el
}

// Contains reports whether el is ancestor or one of its descendants.
func Contains(ancestor, el Element) bool {
	for cur := el; cur != nil; cur = cur.Parent() {
		if Same(cur, ancestor) {
			return true
		}
	}
	return false
}

// Closest returns el or its nearest ancestor with the given tag.
func Closest(el Element, tag string) Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if cur.Tag() == tag {
			return cur
		}
	}
	return nil
}

func TrimmedText(e Element) string {
	return strings.TrimSpace(e.Text())
}

func IsFormField(e Element) bool {
	switch e.Tag() {
	case "input", "textarea", "select":
		return true
	}
	return false
}

// InputType returns the lower-cased type of an input, "text" when absent.
func InputType(e Element) string {
	t := strings.ToLower(strings.TrimSpace(AttrOr(e, "type")))
	if t == "" {
		return "text"
	}
	return t
}
