package selector

import (
	"fmt"
	"strings"

	"actionrecorder/backend/internal/dom"
)

const bodyPath = "/html/body"

// StructuralPath builds an XPath-like path from body down to e. Each step is
// the tag, a 1-based index among same-tag siblings when there is more than one,
// and either the id or the first class token. It returns "" when e is nil, or
// when the parent chain ends before reaching body.
func StructuralPath(doc dom.Document, e dom.Element) string {
	if e == nil {
		return ""
	}
	var body dom.Element
	if doc != nil {
		body = doc.Body()
	}
	isBody := func(x dom.Element) bool {
		if body != nil {
			return dom.Same(x, body)
		}
		return x.Tag() == "body"
	}
	if isBody(e) {
		return bodyPath
	}

	var steps []string
	cur := e
	for !isBody(cur) {
		parent := cur.Parent()
		if parent == nil {
			return ""
		}
		steps = append(steps, pathStep(cur, parent))
		cur = parent
	}
	if len(steps) == 0 {
		return ""
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return "//" + strings.Join(steps, "/")
}

func pathStep(e, parent dom.Element) string {
	step := e.Tag()

	var sameTag []dom.Element
	for _, sib := range parent.Children() {
		if sib.Tag() == e.Tag() {
			sameTag = append(sameTag, sib)
		}
	}
	if len(sameTag) > 1 {
		for i, sib := range sameTag {
			if dom.Same(sib, e) {
				step += fmt.Sprintf("[%d]", i+1)
				break
			}
		}
	}

	if id := dom.AttrOr(e, "id"); id != "" {
		step += fmt.Sprintf(`[@id="%s"]`, id)
	} else if classes := strings.Fields(dom.AttrOr(e, "class")); len(classes) > 0 {
		step += fmt.Sprintf(`[contains(@class, "%s")]`, classes[0])
	}
	return step
}
