package selector

import (
	"strings"

	"actionrecorder/backend/internal/dom"
	"actionrecorder/backend/internal/models"
)

// Describe snapshots e into a descriptor. The label follows the priority
// chain: associated label, aria-label, aria-labelledby, then value and
// placeholder for form controls.
func Describe(doc dom.Document, e dom.Element) *models.ElementDescriptor {
	if e == nil {
		return nil
	}
	return describe(doc, e, dom.AttrOr(e, "value"))
}

// DescribeLive is Describe with the control's current value, which the value
// attribute stops tracking once the user edits the field.
func DescribeLive(doc dom.Document, e dom.Element, value string) *models.ElementDescriptor {
	if e == nil {
		return nil
	}
	if !dom.IsFormField(e) {
		return Describe(doc, e)
	}
	return describe(doc, e, value)
}

func describe(doc dom.Document, e dom.Element, value string) *models.ElementDescriptor {
	info := &models.ElementDescriptor{
		TagName:     e.Tag(),
		ID:          dom.AttrOr(e, "id"),
		Classes:     strings.Fields(dom.AttrOr(e, "class")),
		Name:        dom.AttrOr(e, "name"),
		Type:        dom.AttrOr(e, "type"),
		Value:       value,
		Placeholder: dom.AttrOr(e, "placeholder"),
		Role:        Role(e),
		TestID:      dom.AttrOr(e, "data-testid"),
		Title:       dom.AttrOr(e, "title"),
	}
	formField := dom.IsFormField(e)
	if !formField {
		info.Text = dom.TrimmedText(e)
	}

	if svg := dom.Closest(e, "svg"); svg != nil {
		if parent := svg.Parent(); parent != nil && parent.Tag() != "svg" {
			info.SVGParent = true
			info.OriginalSVG = &models.SVGElement{
				TagName: svg.Tag(),
				Role:    dom.AttrOr(svg, "role"),
			}
			info.Role = firstNonEmpty(dom.AttrOr(parent, "role"), info.Role)
			info.Text = firstNonEmpty(dom.TrimmedText(parent), info.Text)
			info.TestID = firstNonEmpty(dom.AttrOr(parent, "data-testid"), info.TestID)
			info.Title = firstNonEmpty(dom.AttrOr(parent, "title"), info.Title)
		}
	}

	if formField {
		if label := associatedLabel(doc, e); label != nil {
			info.Label = dom.TrimmedText(label)
		}
	}
	if info.Label == "" {
		info.Label = dom.AttrOr(e, "aria-label")
	}
	if info.Label == "" && formField && doc != nil {
		if ref := dom.AttrOr(e, "aria-labelledby"); ref != "" {
			if target := doc.ElementByID(ref); target != nil {
				info.Label = dom.TrimmedText(target)
			}
		}
	}
	if info.Label == "" && formField {
		info.Label = firstNonEmpty(info.Value, info.Placeholder)
	}

	if info.Name == "" && isNamedControl(e) {
		info.Name = firstNonEmpty(dom.AttrOr(e, "aria-label"), info.Title, dom.TrimmedText(e))
	}
	return info
}

// associatedLabel mirrors element.labels[0]: a wrapping <label> first, then
// <label for="id">.
func associatedLabel(doc dom.Document, e dom.Element) dom.Element {
	if l := dom.Closest(e.Parent(), "label"); l != nil {
		return l
	}
	if doc == nil {
		return nil
	}
	return doc.LabelFor(dom.AttrOr(e, "id"))
}

func isNamedControl(e dom.Element) bool {
	switch e.Tag() {
	case "button":
		return true
	case "a":
		_, ok := e.Attr("href")
		return ok
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
