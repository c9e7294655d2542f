package observer

import (
	"time"

	"actionrecorder/backend/internal/dom"
	"actionrecorder/backend/internal/models"
)

type EventKind string

const (
	EventClick       EventKind = "click"
	EventInput       EventKind = "input"
	EventChange      EventKind = "change"
	EventBlur        EventKind = "blur"
	EventFocus       EventKind = "focus"
	EventKeyDown     EventKind = "keydown"
	EventMouseOver   EventKind = "mouseover"
	EventDragStart   EventKind = "dragstart"
	EventDrop        EventKind = "drop"
	EventDblClick    EventKind = "dblclick"
	EventContextMenu EventKind = "contextmenu"
	EventSubmit      EventKind = "submit"
)

// Kinds lists every event kind an observer listens for.
var Kinds = []EventKind{
	EventClick, EventInput, EventChange, EventBlur, EventFocus, EventKeyDown,
	EventMouseOver, EventDragStart, EventDrop, EventDblClick, EventContextMenu,
	EventSubmit,
}

// Event is one raw DOM event together with the document snapshot it was
// dispatched against. Value and Checked carry the live control state, which
// attributes in the snapshot may not reflect.
type Event struct {
	Kind    EventKind
	Doc     dom.Document
	Target  dom.Element
	Value   string
	Checked bool
	Files   []string
	Key     string
	X, Y    float64
	URL     string
	Time    time.Time
}

var specialKeys = map[string]bool{
	"Tab":        true,
	"Escape":     true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
}

// Input types whose value is committed through change, not typing.
var nonTextInputs = map[string]bool{
	"checkbox": true,
	"radio":    true,
	"file":     true,
	"submit":   true,
	"button":   true,
	"reset":    true,
	"image":    true,
}

func isTextEntry(e dom.Element) bool {
	switch e.Tag() {
	case "textarea":
		return true
	case "input":
		return !nonTextInputs[dom.InputType(e)]
	}
	return false
}

type pendingInput struct {
	doc   dom.Document
	el    dom.Element
	value string
	url   string
}

type dragOrigin struct {
	doc  dom.Document
	el   dom.Element
	live string
	x, y float64
}

// emission is everything needed to build one Action outside the state lock.
// live and targetLive are the controls' current values.
type emission struct {
	typ        models.ActionType
	doc        dom.Document
	el         dom.Element
	live       string
	value      string
	key        string
	files      []string
	drag       *models.DragData
	targetDoc  dom.Document
	target     dom.Element
	targetLive string
	url        string
}

func newEmission(typ models.ActionType, ev Event) emission {
	return emission{typ: typ, doc: ev.Doc, el: ev.Target, live: ev.Value, url: ev.URL}
}

func (p *pendingInput) emission() emission {
	return emission{typ: models.ActionInput, doc: p.doc, el: p.el, live: p.value, value: p.value, url: p.url}
}

// plan applies ev to the observer state and returns the actions it produces,
// in order. Callers hold o.mutex.
func (o *Observer) plan(ev Event) []emission {
	if ev.Target == nil {
		return nil
	}
	switch ev.Kind {
	case EventClick:
		return o.planClick(ev)
	case EventInput:
		return o.planInput(ev)
	case EventChange:
		return o.planChange(ev)
	case EventBlur:
		if !o.settings.CaptureBlurFocus {
			return nil
		}
		out := o.flushPending(func(p *pendingInput) bool { return dom.Same(p.el, ev.Target) })
		return append(out, newEmission(models.ActionBlur, ev))
	case EventFocus:
		if !o.settings.CaptureBlurFocus {
			return nil
		}
		return []emission{newEmission(models.ActionFocus, ev)}
	case EventKeyDown:
		return o.planKey(ev)
	case EventMouseOver:
		if !o.settings.CaptureHover || dom.IsFormField(ev.Target) || dom.Same(o.lastHover, ev.Target) {
			return nil
		}
		o.lastHover = ev.Target
		return []emission{newEmission(models.ActionHover, ev)}
	case EventDragStart:
		o.drag = &dragOrigin{doc: ev.Doc, el: ev.Target, live: ev.Value, x: ev.X, y: ev.Y}
		return []emission{newEmission(models.ActionDragStart, ev)}
	case EventDrop:
		return o.planDrop(ev)
	case EventDblClick:
		return []emission{newEmission(models.ActionDoubleClick, ev)}
	case EventContextMenu:
		return []emission{newEmission(models.ActionRightClick, ev)}
	case EventSubmit:
		// The pending input may come from an older snapshot; find it again in
		// the one the submit was dispatched against.
		return o.flushPending(func(p *pendingInput) bool {
			return dom.Contains(ev.Target, dom.Locate(ev.Doc, p.el))
		})
	}
	return nil
}

func (o *Observer) planClick(ev Event) []emission {
	if o.assertion {
		o.assertion = false
		return []emission{newEmission(models.ActionAssertion, ev)}
	}
	out := o.flushPending(func(p *pendingInput) bool { return !dom.Same(p.el, ev.Target) })
	if dom.IsFormField(ev.Target) && !(ev.Target.Tag() == "input" && dom.InputType(ev.Target) == "submit") {
		return out
	}
	return append(out, newEmission(models.ActionClick, ev))
}

func (o *Observer) planInput(ev Event) []emission {
	if !isTextEntry(ev.Target) {
		return nil
	}
	out := o.flushPending(func(p *pendingInput) bool { return !dom.Same(p.el, ev.Target) })
	if ev.Value == "" {
		o.pending = nil
		return append(out, newEmission(models.ActionClear, ev))
	}
	o.pending = &pendingInput{doc: ev.Doc, el: ev.Target, value: ev.Value, url: ev.URL}
	return out
}

func (o *Observer) planChange(ev Event) []emission {
	t := ev.Target
	switch {
	case t.Tag() == "select":
		e := newEmission(models.ActionSelect, ev)
		e.value = ev.Value
		return []emission{e}
	case t.Tag() != "input":
		return nil
	}
	switch dom.InputType(t) {
	case "checkbox":
		if ev.Checked {
			return []emission{newEmission(models.ActionCheck, ev)}
		}
		return []emission{newEmission(models.ActionUncheck, ev)}
	case "radio":
		return []emission{newEmission(models.ActionCheck, ev)}
	case "file":
		e := newEmission(models.ActionFileUpload, ev)
		e.files = append([]string(nil), ev.Files...)
		return []emission{e}
	}
	return nil
}

func (o *Observer) planKey(ev Event) []emission {
	if ev.Key == "Enter" {
		p := o.pending
		if p == nil {
			return nil
		}
		o.pending = nil
		enter := p.emission()
		enter.typ = models.ActionEnterPress
		enter.key = "Enter"
		return []emission{p.emission(), enter}
	}
	if specialKeys[ev.Key] {
		e := newEmission(models.ActionKeyPress, ev)
		e.key = ev.Key
		e.value = ev.Key
		return []emission{e}
	}
	return nil
}

func (o *Observer) planDrop(ev Event) []emission {
	origin := o.drag
	if origin == nil {
		return nil
	}
	o.drag = nil
	return []emission{{
		typ:        models.ActionDragDrop,
		doc:        origin.doc,
		el:         origin.el,
		live:       origin.live,
		targetDoc:  ev.Doc,
		target:     ev.Target,
		targetLive: ev.Value,
		drag: &models.DragData{
			StartX: origin.x,
			StartY: origin.y,
			EndX:   ev.X,
			EndY:   ev.Y,
		},
		url: ev.URL,
	}}
}

// flushPending commits the pending input when match accepts it.
func (o *Observer) flushPending(match func(p *pendingInput) bool) []emission {
	p := o.pending
	if p == nil || !match(p) {
		return nil
	}
	o.pending = nil
	return []emission{p.emission()}
}
