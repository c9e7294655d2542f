// Package observer turns raw page events for one tab into recorded actions.
//
// An Observer is INACTIVE until the coordinator toggles recording on. While
// ACTIVE it classifies events, coalesces typing into a single input action
// and sends each finished action over its channel. A channel reporting that
// the extension context is gone moves it to INVALIDATED for good.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"actionrecorder/backend/internal/dom"
	"actionrecorder/backend/internal/messaging"
	"actionrecorder/backend/internal/models"
	"actionrecorder/backend/internal/selector"

	"go.uber.org/zap"
)

type State int32

const (
	StateInactive State = iota
	StateActive
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateInvalidated:
		return "invalidated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	Logger   *zap.Logger
	Resolver *selector.Resolver
	// DedupWindow drops an action identical to one sent within the window.
	// Zero disables the check.
	DedupWindow time.Duration
	// OnInvalidated is the best-effort outward notification made once the
	// observer has shut down. Its error is only logged.
	OnInvalidated func(ctx context.Context) error
	Now           func() time.Time
}

type Observer struct {
	ch            messaging.Channel
	logger        *zap.Logger
	resolver      *selector.Resolver
	dedupWindow   time.Duration
	onInvalidated func(ctx context.Context) error
	now           func() time.Time

	registry Registry
	state    atomic.Int32
	inFlight atomic.Bool

	mutex     sync.Mutex
	settings  models.Settings
	assertion bool
	pending   *pendingInput
	lastHover dom.Element
	drag      *dragOrigin
	recent    map[string]time.Time
}

func New(ch messaging.Channel, cfg Config) *Observer {
	o := &Observer{
		ch:            ch,
		logger:        cfg.Logger,
		resolver:      cfg.Resolver,
		dedupWindow:   cfg.DedupWindow,
		onInvalidated: cfg.OnInvalidated,
		now:           cfg.Now,
		recent:        make(map[string]time.Time),
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.resolver == nil {
		o.resolver = selector.NewResolver(o.logger)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Attach installs a listener on src for every event kind.
func (o *Observer) Attach(src Source) {
	for _, kind := range Kinds {
		o.registry.Add(src, kind, o.guard(kind))
	}
}

// Detach removes the listeners without changing state, as on page unload.
func (o *Observer) Detach() {
	o.registry.Teardown()
}

func (o *Observer) State() State {
	return State(o.state.Load())
}

func (o *Observer) Listeners() int {
	return o.registry.Len()
}

func (o *Observer) guard(kind EventKind) Handler {
	return func(ctx context.Context, ev Event) {
		if o.State() == StateInvalidated {
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error("event handler panicked", zap.String("event", string(kind)), zap.Any("panic", rec))
			}
		}()
		o.HandleEvent(ctx, ev)
	}
}

// HandleEvent classifies one event and sends any actions it produces. Events
// are ignored unless the observer is ACTIVE.
func (o *Observer) HandleEvent(ctx context.Context, ev Event) {
	if o.State() != StateActive {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = o.now()
	}

	o.mutex.Lock()
	planned := o.plan(ev)
	o.mutex.Unlock()

	for _, e := range planned {
		o.emit(ctx, e, ev.Time)
	}
}

// HandleMessage applies a coordinator command. It has the Channel signature
// so a host can wire it directly as the coordinator-to-observer link.
func (o *Observer) HandleMessage(ctx context.Context, msg messaging.Message) (messaging.Response, error) {
	if o.State() == StateInvalidated {
		return messaging.Response{}, messaging.ErrContextInvalidated
	}
	if err := msg.Validate(); err != nil {
		return messaging.Response{Status: messaging.StatusError, Message: err.Error()}, nil
	}

	switch msg.Kind {
	case messaging.KindPing:
		return messaging.Response{Status: messaging.StatusPong}, nil
	case messaging.KindToggleRecording:
		o.setRecording(messaging.Flag(msg.IsRecording))
	case messaging.KindUpdateSettings:
		o.mutex.Lock()
		o.settings = *msg.Settings
		o.mutex.Unlock()
		o.logger.Debug("settings updated", zap.Any("settings", *msg.Settings))
	case messaging.KindToggleAssertionMode:
		o.mutex.Lock()
		o.assertion = messaging.Flag(msg.Enabled)
		o.mutex.Unlock()
	default:
		return messaging.Response{Status: messaging.StatusError, Message: "unsupported command " + string(msg.Kind)}, nil
	}
	return messaging.Response{Status: messaging.StatusSuccess}, nil
}

func (o *Observer) setRecording(on bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if on {
		o.pending = nil
		o.lastHover = nil
		o.drag = nil
		clear(o.recent)
		o.state.CompareAndSwap(int32(StateInactive), int32(StateActive))
	} else {
		o.state.CompareAndSwap(int32(StateActive), int32(StateInactive))
	}
	o.logger.Info("recording state changed", zap.Bool("recording", on))
}

// Settings returns the capture settings last pushed by the coordinator.
func (o *Observer) Settings() models.Settings {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.settings
}

func (o *Observer) emit(ctx context.Context, e emission, at time.Time) {
	if e.el == nil || o.State() != StateActive {
		return
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("action dropped, another is in flight", zap.String("type", string(e.typ)))
		return
	}
	defer o.inFlight.Store(false)

	key := o.dedupKey(e, at)
	if o.seenRecently(key, at) {
		o.logger.Debug("duplicate action skipped", zap.String("key", key))
		return
	}

	action := models.Action{
		Type:      e.typ,
		Timestamp: at.UnixMilli(),
		Element:   selector.DescribeLive(e.doc, e.el, e.live),
		Selector:  o.resolver.Resolve(e.doc, e.el),
		Value:     e.value,
		Key:       e.key,
		Files:     e.files,
		Drag:      e.drag,
		URL:       e.url,
	}
	if e.target != nil {
		action.Target = selector.DescribeLive(e.targetDoc, e.target, e.targetLive)
		action.TargetSel = o.resolver.Resolve(e.targetDoc, e.target)
	}

	action.PageContext = o.pageContext(ctx)
	if o.State() == StateInvalidated {
		return
	}

	o.remember(key, at)
	if _, err := o.ch.Send(ctx, messaging.ActionRecorded(action)); err != nil {
		o.sendFailed(ctx, "actionRecorded", err)
		return
	}
	o.logger.Debug("action recorded", zap.String("type", string(action.Type)), zap.String("selector", action.Selector))
}

func (o *Observer) pageContext(ctx context.Context) models.PageContext {
	resp, err := o.ch.Send(ctx, messaging.GetPageContext())
	if err != nil {
		o.sendFailed(ctx, "getPageContext", err)
		return models.PageContext{}
	}
	if resp.PageContext == nil {
		return models.PageContext{}
	}
	return *resp.PageContext
}

func (o *Observer) sendFailed(ctx context.Context, what string, err error) {
	if errors.Is(err, messaging.ErrContextInvalidated) {
		o.invalidate(ctx)
		return
	}
	o.logger.Warn("message failed", zap.String("message", what), zap.Error(err))
}

// invalidate is the one-way exit: listeners go, state stays INVALIDATED.
func (o *Observer) invalidate(ctx context.Context) {
	for {
		cur := o.state.Load()
		if State(cur) == StateInvalidated {
			return
		}
		if o.state.CompareAndSwap(cur, int32(StateInvalidated)) {
			break
		}
	}

	o.mutex.Lock()
	o.pending = nil
	o.drag = nil
	o.lastHover = nil
	o.mutex.Unlock()

	removed := o.registry.Teardown()
	o.logger.Warn("extension context invalidated, recording stopped", zap.Int("listeners_removed", removed))

	if o.onInvalidated == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Warn("invalidation notice panicked", zap.Any("panic", rec))
		}
	}()
	if err := o.onInvalidated(ctx); err != nil {
		o.logger.Debug("invalidation notice failed", zap.Error(err))
	}
}

func (o *Observer) dedupKey(e emission, at time.Time) string {
	window := o.dedupWindow.Milliseconds()
	if window <= 0 {
		return ""
	}
	path := selector.StructuralPath(e.doc, e.el)
	if path == "" {
		path = e.el.Tag()
	}
	bucket := at.UnixMilli() / window
	return fmt.Sprintf("%s|%s|%s|%d", e.typ, path, e.value, bucket)
}

func (o *Observer) seenRecently(key string, at time.Time) bool {
	if key == "" {
		return false
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	for k, ts := range o.recent {
		if at.Sub(ts) >= o.dedupWindow {
			delete(o.recent, k)
		}
	}
	_, ok := o.recent[key]
	return ok
}

func (o *Observer) remember(key string, at time.Time) {
	if key == "" {
		return
	}
	o.mutex.Lock()
	o.recent[key] = at
	o.mutex.Unlock()
}
