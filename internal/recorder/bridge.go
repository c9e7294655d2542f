package recorder

import (
	"fmt"
	"strconv"
	"time"

	"actionrecorder/backend/internal/dom"
	"actionrecorder/backend/internal/dom/htmldom"
	"actionrecorder/backend/internal/observer"
)

// rawEvent is one DOM event as queued by the page bridge.
type rawEvent struct {
	Kind     string   `json:"kind"`
	Node     string   `json:"node"`
	Path     []int    `json:"path"`
	Detached string   `json:"detached,omitempty"`
	Value    string   `json:"value"`
	Checked  bool     `json:"checked"`
	Files    []string `json:"files"`
	Key      string   `json:"key"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	TS       int64    `json:"ts"`
}

// nodeRef places a bridge identity in the snapshot by element-child indexes.
type nodeRef struct {
	ID   string `json:"id"`
	Path []int  `json:"path"`
}

// batch is what one drain of the bridge queue returns. HTML and Nodes are
// only filled when Events is not empty. Nodes lists every connected element
// the bridge has seen as an event target, not just this batch's.
type batch struct {
	Missing bool       `json:"missing"`
	URL     string     `json:"url"`
	HTML    string     `json:"html"`
	Nodes   []nodeRef  `json:"nodes"`
	Events  []rawEvent `json:"events"`
}

const (
	bridgeProbe = `!!window.__actionRecorder`
	bridgeDrain = `window.__actionRecorder ? window.__actionRecorder.drain() : {missing: true}`
)

// decodeBatch parses the batch snapshot once and resolves every event target
// in it. Events whose target cannot be found are skipped and counted.
func decodeBatch(b batch) (events []observer.Event, skipped int, err error) {
	if len(b.Events) == 0 {
		return nil, 0, nil
	}
	doc, err := htmldom.ParseString(b.HTML)
	if err != nil {
		return nil, 0, err
	}
	for _, ref := range b.Nodes {
		doc.Assign(ref.Path, ref.ID)
	}

	for _, raw := range b.Events {
		target, err := resolveTarget(doc, raw)
		if err != nil {
			return events, skipped, err
		}
		if target == nil {
			skipped++
			continue
		}
		at := time.Now()
		if raw.TS > 0 {
			at = time.UnixMilli(raw.TS)
		}
		events = append(events, observer.Event{
			Kind:    observer.EventKind(raw.Kind),
			Doc:     doc,
			Target:  target,
			Value:   raw.Value,
			Checked: raw.Checked,
			Files:   raw.Files,
			Key:     raw.Key,
			X:       raw.X,
			Y:       raw.Y,
			URL:     b.URL,
			Time:    at,
		})
	}
	return events, skipped, nil
}

func resolveTarget(doc *htmldom.Document, raw rawEvent) (dom.Element, error) {
	if raw.Detached != "" {
		els, err := htmldom.ParseDetached(raw.Detached)
		if err != nil {
			return nil, fmt.Errorf("event %s on node %s: %w", raw.Kind, raw.Node, err)
		}
		if len(els) == 0 {
			return nil, nil
		}
		if n, ok := els[0].(*htmldom.Node); ok && raw.Node != "" {
			n.SetIdentity(raw.Node)
		}
		return els[0], nil
	}
	if el := doc.ByIdentity(raw.Node); el != nil {
		return el, nil
	}
	return doc.At(raw.Path), nil
}

// bridgeScript installs capture-phase listeners that queue trusted events
// for the poller. Event targets get an identity kept in bridge-side maps; the
// page DOM is never written to. Each drain reports where the identified
// elements sit in the snapshot so the Go side can find them again.
var bridgeScript = `
(function() {
	if (window.__actionRecorder) return;

	const queue = [];
	const idOf = new WeakMap();
	const tracked = new Map();
	let seq = 0;

	const identify = function(el) {
		let id = idOf.get(el);
		if (!id) {
			id = String(++seq);
			idOf.set(el, id);
			tracked.set(id, new WeakRef(el));
		}
		return id;
	};

	const pathOf = function(el) {
		const path = [];
		while (el && el.parentElement) {
			path.unshift(Array.prototype.indexOf.call(el.parentElement.children, el));
			el = el.parentElement;
		}
		return path;
	};

	const record = function(kind, event) {
		if (!event.isTrusted || !(event.target instanceof Element)) return;
		const el = event.target;
		queue.push({
			el: el,
			kind: kind,
			node: identify(el),
			path: pathOf(el),
			value: el.value == null ? '' : String(el.value),
			checked: !!el.checked,
			files: el.files ? Array.from(el.files).map(function(f) { return f.name; }) : [],
			key: event.key || '',
			x: event.clientX || 0,
			y: event.clientY || 0,
			ts: Date.now()
		});
	};

	const liveNodes = function() {
		const nodes = [];
		tracked.forEach(function(ref, id) {
			const el = ref.deref();
			if (!el) {
				tracked.delete(id);
			} else if (el.isConnected) {
				nodes.push({id: id, path: pathOf(el)});
			}
		});
		return nodes;
	};

	` + kindList() + `.forEach(function(kind) {
		document.addEventListener(kind, function(event) { record(kind, event); }, true);
	});

	window.__actionRecorder = {
		drain: function() {
			const events = queue.splice(0, queue.length).map(function(e) {
				const out = Object.assign({}, e);
				delete out.el;
				if (e.el.isConnected) {
					out.path = pathOf(e.el);
				} else {
					out.detached = e.el.outerHTML;
				}
				return out;
			});
			return {
				url: location.href,
				html: events.length ? document.documentElement.outerHTML : '',
				nodes: events.length ? liveNodes() : [],
				events: events
			};
		}
	};
})();
`

func kindList() string {
	out := "["
	for i, k := range observer.Kinds {
		if i > 0 {
			out += ", "
		}
		out += strconv.Quote(string(k))
	}
	return out + "]"
}
