package selector

import (
	"strings"

	"actionrecorder/backend/internal/dom"
)

// AriaRoles is the allow-list a role must belong to before it is used in a
// selector.
var AriaRoles = map[string]struct{}{}

func init() {
	for _, r := range []string{
		"alert", "alertdialog", "application", "article", "banner", "blockquote", "button",
		"caption", "cell", "checkbox", "code", "columnheader", "combobox", "complementary",
		"contentinfo", "definition", "deletion", "dialog", "directory", "document", "emphasis",
		"feed", "figure", "form", "generic", "grid", "gridcell", "group", "heading", "img",
		"insertion", "link", "list", "listbox", "listitem", "log", "main", "marquee", "math",
		"meter", "menu", "menubar", "menuitem", "menuitemcheckbox", "menuitemradio", "navigation",
		"none", "note", "option", "paragraph", "presentation", "progressbar", "radio", "radiogroup",
		"region", "row", "rowgroup", "rowheader", "scrollbar", "search", "searchbox", "separator",
		"slider", "spinbutton", "status", "strong", "subscript", "superscript", "switch", "tab",
		"table", "tablist", "tabpanel", "term", "textbox", "time", "timer", "toolbar", "tooltip",
		"tree", "treegrid", "treeitem",
	} {
		AriaRoles[r] = struct{}{}
	}
}

var tagRoles = map[string]string{
	"a":        "link",
	"button":   "button",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"img":      "img",
	"select":   "combobox",
	"textarea": "textbox",
	"article":  "article",
	"aside":    "complementary",
	"footer":   "contentinfo",
	"form":     "form",
	"header":   "banner",
	"main":     "main",
	"nav":      "navigation",
	"section":  "region",
}

var inputTypeRoles = map[string]string{
	"button":     "button",
	"checkbox":   "checkbox",
	"radio":      "radio",
	"range":      "slider",
	"search":     "searchbox",
	"spinbutton": "spinbutton",
	"text":       "textbox",
	"email":      "textbox",
	"tel":        "textbox",
	"url":        "textbox",
	"number":     "spinbutton",
}

const defaultInputRole = "textbox"

// TagRole returns the implicit role for a tag that does not depend on
// attributes. Inputs are handled by InputRole.
func TagRole(tag string) (string, bool) {
	r, ok := tagRoles[strings.ToLower(tag)]
	return r, ok
}

func InputRole(inputType string) string {
	if r, ok := inputTypeRoles[strings.ToLower(inputType)]; ok {
		return r
	}
	return defaultInputRole
}

func ImplicitRole(e dom.Element) string {
	if e.Tag() == "input" {
		return InputRole(dom.InputType(e))
	}
	r, _ := TagRole(e.Tag())
	return r
}

// Role returns the explicit role attribute, falling back to the implicit one.
func Role(e dom.Element) string {
	if r := dom.AttrOr(e, "role"); r != "" {
		return r
	}
	return ImplicitRole(e)
}

func IsAllowedRole(role string) bool {
	_, ok := AriaRoles[strings.ToLower(role)]
	return ok
}
