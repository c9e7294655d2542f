// Package recorder drives a real Chrome through chromedp. It opens and tracks
// tabs, injects the page bridge, polls queued DOM events into each tab's
// observer and feeds tab lifecycle events to the coordinator.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"actionrecorder/backend/internal/coordinator"
	"actionrecorder/backend/internal/messaging"
	"actionrecorder/backend/internal/observer"
	"actionrecorder/backend/pkg/chrome"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var (
	ErrTabNotFound = fmt.Errorf("%w: no such target", coordinator.ErrTabUnavailable)
	ErrNoObserver  = errors.New("no observer in tab")
	ErrClosed      = errors.New("browser host closed")
)

// Lifecycle is the coordinator surface the host reports to.
type Lifecycle interface {
	Channel(tabID int) messaging.Channel
	TabRemoved(ctx context.Context, tabID int)
	NavigationStarted(tabID, frameID int)
	TabUpdated(ctx context.Context, tabID int, complete bool)
	TabActivated(ctx context.Context, tabID int)
	WindowFocusChanged(ctx context.Context, windowID int)
}

type Config struct {
	Logger       *zap.Logger
	Chrome       chrome.Options
	StartURL     string
	PollInterval time.Duration
	DedupWindow  time.Duration
}

type Host struct {
	cfg    Config
	logger *zap.Logger
	sink   Lifecycle

	ctx           context.Context
	stop          context.CancelFunc
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	browser       *chromedp.Browser

	mutex     sync.RWMutex
	tabs      map[int]*tab
	byTarget  map[target.ID]int
	attaching map[target.ID]*attachment
	nextID    int
	focused   int
	closed    bool

	lifecycle chan func(ctx context.Context)
	wg        sync.WaitGroup
}

type tab struct {
	id         int
	targetID   target.ID
	ctx        context.Context
	cancel     context.CancelFunc
	windowID   int
	url        string
	dispatcher *observer.Dispatcher
	observer   *observer.Observer
}

type attachment struct {
	done chan struct{}
	tab  *tab
	err  error
}

var _ coordinator.TabHost = (*Host)(nil)

func NewHost(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Host{
		cfg:       cfg,
		logger:    cfg.Logger.Named("recorder"),
		ctx:       ctx,
		stop:      stop,
		tabs:      make(map[int]*tab),
		byTarget:  make(map[target.ID]int),
		attaching: make(map[target.ID]*attachment),
		lifecycle: make(chan func(ctx context.Context), 64),
	}
}

// Start launches Chrome, adopts its first tab and begins reporting tab
// lifecycle events to sink.
func (h *Host) Start(ctx context.Context, sink Lifecycle) error {
	h.sink = sink

	execPath, err := chrome.FindExecutable(h.cfg.Chrome.ExecPath)
	if err != nil {
		return err
	}
	opts := h.cfg.Chrome
	opts.ExecPath = execPath

	allocCtx, allocCancel := chromedp.NewExecAllocator(h.ctx, chrome.AllocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(h.logger.Sugar().Debugf),
		chromedp.WithErrorf(h.logger.Sugar().Warnf),
	)
	h.allocCancel, h.browserCtx, h.browserCancel = allocCancel, browserCtx, browserCancel

	if err := chromedp.Run(browserCtx); err != nil {
		h.shutdownBrowser()
		return fmt.Errorf("failed to start chrome: %w", err)
	}
	c := chromedp.FromContext(browserCtx)
	h.browser = c.Browser

	first := h.register(c.Target.TargetID, browserCtx, nil)
	h.attaching[first.targetID] = &attachment{done: closedChan(), tab: first}
	h.mutex.Lock()
	h.focused = first.id
	h.mutex.Unlock()

	h.wg.Add(1)
	go h.runLifecycle()

	chromedp.ListenBrowser(browserCtx, h.onBrowserEvent)
	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, h.browser)); err != nil {
		h.logger.Warn("target discovery unavailable, tabs opened by pages will not be recorded", zap.Error(err))
	}

	if h.cfg.StartURL != "" {
		if err := chromedp.Run(browserCtx, chromedp.Navigate(h.cfg.StartURL)); err != nil {
			h.logger.Warn("failed to open start url", zap.String("url", h.cfg.StartURL), zap.Error(err))
		}
	}
	h.logger.Info("chrome started", zap.String("exec_path", execPath), zap.Int("tab_id", first.id))
	return nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Close stops every poller and shuts Chrome down.
func (h *Host) Close() {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return
	}
	h.closed = true
	tabs := make([]*tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		tabs = append(tabs, t)
	}
	h.mutex.Unlock()

	for _, t := range tabs {
		if t.observer != nil {
			t.observer.Detach()
		}
	}
	h.stop()
	h.wg.Wait()
	h.shutdownBrowser()
	h.logger.Info("chrome stopped")
}

func (h *Host) shutdownBrowser() {
	if h.browserCancel != nil {
		h.browserCancel()
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
}

func (h *Host) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
			return
		}
		id := e.TargetInfo.TargetID
		go func() {
			if _, err := h.adopt(id); err != nil {
				h.logger.Debug("failed to attach to new tab", zap.String("target_id", string(id)), zap.Error(err))
			}
		}()
	case *target.EventTargetInfoChanged:
		if e.TargetInfo == nil {
			return
		}
		h.mutex.Lock()
		if n, ok := h.byTarget[e.TargetInfo.TargetID]; ok {
			h.tabs[n].url = e.TargetInfo.URL
		}
		h.mutex.Unlock()
	case *target.EventTargetDestroyed:
		id := e.TargetID
		h.enqueue(func(ctx context.Context) {
			if n, ok := h.forget(id); ok {
				h.sink.TabRemoved(ctx, n)
			}
		})
	}
}

func (h *Host) onTabEvent(t *tab) func(ev interface{}) {
	topFrame := cdp.FrameID(t.targetID)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameStartedLoading:
			frame := 1
			if e.FrameID == topFrame {
				frame = 0
				h.detachObserver(t.id)
			}
			h.enqueue(func(context.Context) { h.sink.NavigationStarted(t.id, frame) })
		case *page.EventLoadEventFired:
			h.enqueue(func(ctx context.Context) { h.sink.TabUpdated(ctx, t.id, true) })
		}
	}
}

// enqueue hands fn to the lifecycle worker. chromedp listeners must not block,
// so a full queue drops the event.
func (h *Host) enqueue(fn func(ctx context.Context)) {
	select {
	case h.lifecycle <- fn:
	default:
		h.logger.Warn("lifecycle queue full, dropping tab event")
	}
}

func (h *Host) runLifecycle() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case fn := <-h.lifecycle:
			fn(h.ctx)
		}
	}
}

// adopt attaches to a page target exactly once, however many callers race
// for it.
func (h *Host) adopt(id target.ID) (*tab, error) {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil, ErrClosed
	}
	if a, ok := h.attaching[id]; ok {
		h.mutex.Unlock()
		<-a.done
		return a.tab, a.err
	}
	a := &attachment{done: make(chan struct{})}
	h.attaching[id] = a
	h.mutex.Unlock()

	ctx, cancel := chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		a.err = fmt.Errorf("attach to target %s: %w", id, err)
	} else {
		a.tab = h.register(id, ctx, cancel)
	}
	close(a.done)
	return a.tab, a.err
}

func (h *Host) register(id target.ID, ctx context.Context, cancel context.CancelFunc) *tab {
	t := &tab{
		targetID:   id,
		ctx:        ctx,
		cancel:     cancel,
		dispatcher: observer.NewDispatcher(),
	}
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		windowID, _, err := browser.GetWindowForTarget().WithTargetID(id).Do(ctx)
		t.windowID = int(windowID)
		return err
	})); err != nil {
		h.logger.Debug("window lookup failed", zap.String("target_id", string(id)), zap.Error(err))
	}
	var url string
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err == nil {
		t.url = url
	}

	h.mutex.Lock()
	h.nextID++
	t.id = h.nextID
	h.tabs[t.id] = t
	h.byTarget[id] = t.id
	h.mutex.Unlock()

	chromedp.ListenTarget(ctx, h.onTabEvent(t))
	h.wg.Add(1)
	go h.poll(t)

	h.logger.Debug("tab registered", zap.Int("tab_id", t.id), zap.String("target_id", string(id)))
	return t
}

// forget drops a destroyed target and reports the tab id it had.
func (h *Host) forget(id target.ID) (int, bool) {
	h.mutex.Lock()
	delete(h.attaching, id)
	n, ok := h.byTarget[id]
	if !ok {
		h.mutex.Unlock()
		return 0, false
	}
	t := h.tabs[n]
	delete(h.byTarget, id)
	delete(h.tabs, n)
	obs := t.observer
	t.observer = nil
	h.mutex.Unlock()

	if obs != nil {
		obs.Detach()
	}
	if t.cancel != nil {
		t.cancel()
	}
	return n, true
}

func (h *Host) lookup(tabID int) (*tab, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	t, ok := h.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTabNotFound, tabID)
	}
	return t, nil
}

func (h *Host) info(t *tab) coordinator.Tab {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return coordinator.Tab{ID: t.id, URL: t.url, WindowID: t.windowID}
}

func (h *Host) Tab(_ context.Context, tabID int) (coordinator.Tab, error) {
	t, err := h.lookup(tabID)
	if err != nil {
		return coordinator.Tab{}, err
	}
	return h.info(t), nil
}

// ActiveTab returns the focused tab when it is in windowID, otherwise the
// oldest tab of that window.
func (h *Host) ActiveTab(_ context.Context, windowID int) (coordinator.Tab, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if t, ok := h.tabs[h.focused]; ok && t.windowID == windowID {
		return coordinator.Tab{ID: t.id, URL: t.url, WindowID: t.windowID}, nil
	}
	best := 0
	for id, t := range h.tabs {
		if t.windowID == windowID && (best == 0 || id < best) {
			best = id
		}
	}
	if best == 0 {
		return coordinator.Tab{}, fmt.Errorf("%w: no tab in window %d", ErrTabNotFound, windowID)
	}
	t := h.tabs[best]
	return coordinator.Tab{ID: t.id, URL: t.url, WindowID: t.windowID}, nil
}

// Tabs lists every open tab ordered by id.
func (h *Host) Tabs() []coordinator.Tab {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]coordinator.Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, coordinator.Tab{ID: t.id, URL: t.url, WindowID: t.windowID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Inject evaluates the bridge in the tab and gives it a fresh observer. A
// previous observer, left over from before a navigation, is detached.
func (h *Host) Inject(ctx context.Context, tabID int) error {
	t, err := h.lookup(tabID)
	if err != nil {
		return err
	}
	if err := h.run(ctx, t, chromedp.Evaluate(bridgeScript, nil)); err != nil {
		return fmt.Errorf("inject bridge into tab %d: %w", tabID, err)
	}

	obs := observer.New(h.channel(tabID), observer.Config{
		Logger:      h.logger.With(zap.Int("tab_id", tabID)),
		DedupWindow: h.cfg.DedupWindow,
		OnInvalidated: func(context.Context) error {
			h.logger.Info("observer invalidated", zap.Int("tab_id", tabID))
			return nil
		},
	})
	obs.Attach(t.dispatcher)

	h.mutex.Lock()
	old := t.observer
	t.observer = obs
	h.mutex.Unlock()
	if old != nil {
		old.Detach()
	}
	return nil
}

func (h *Host) detachObserver(tabID int) {
	h.mutex.Lock()
	t, ok := h.tabs[tabID]
	if !ok || t.observer == nil {
		h.mutex.Unlock()
		return
	}
	obs := t.observer
	t.observer = nil
	h.mutex.Unlock()
	obs.Detach()
}

func (h *Host) observerOf(t *tab) *observer.Observer {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return t.observer
}

// Send delivers msg to the tab's observer. A ping also checks that the bridge
// is still in the page; if it is gone the observer is discarded.
func (h *Host) Send(ctx context.Context, tabID int, msg messaging.Message) (messaging.Response, error) {
	t, err := h.lookup(tabID)
	if err != nil {
		return messaging.Response{}, err
	}
	obs := h.observerOf(t)
	if obs == nil {
		return messaging.Response{}, fmt.Errorf("%w: %d", ErrNoObserver, tabID)
	}
	if msg.Kind == messaging.KindPing {
		var present bool
		if err := h.run(ctx, t, chromedp.Evaluate(bridgeProbe, &present)); err != nil {
			return messaging.Response{}, fmt.Errorf("probe tab %d: %w", tabID, err)
		}
		if !present {
			h.detachObserver(tabID)
			return messaging.Response{}, fmt.Errorf("%w: %d", ErrNoObserver, tabID)
		}
	}
	return obs.HandleMessage(ctx, msg)
}

// channel is the observer's link back to the coordinator. Once the host is
// closed the link reports the extension context as gone.
func (h *Host) channel(tabID int) messaging.Channel {
	return messaging.ChannelFunc(func(ctx context.Context, msg messaging.Message) (messaging.Response, error) {
		h.mutex.RLock()
		closed := h.closed
		h.mutex.RUnlock()
		if closed {
			return messaging.Response{}, messaging.ErrContextInvalidated
		}
		return h.sink.Channel(tabID).Send(ctx, msg)
	})
}

// OpenTab opens url in a new tab and waits until it is attached.
func (h *Host) OpenTab(ctx context.Context, url string) (coordinator.Tab, error) {
	if h.browser == nil {
		return coordinator.Tab{}, ErrClosed
	}
	id, err := target.CreateTarget(url).Do(cdp.WithExecutor(ctx, h.browser))
	if err != nil {
		return coordinator.Tab{}, fmt.Errorf("open tab: %w", err)
	}
	t, err := h.adopt(id)
	if err != nil {
		return coordinator.Tab{}, err
	}
	return h.info(t), nil
}

// ActivateTab brings a tab to the front. Switching to another window is
// reported as a focus change, otherwise as a tab activation.
func (h *Host) ActivateTab(ctx context.Context, tabID int) error {
	t, err := h.lookup(tabID)
	if err != nil {
		return err
	}
	if err := target.ActivateTarget(t.targetID).Do(cdp.WithExecutor(ctx, h.browser)); err != nil {
		return fmt.Errorf("activate tab %d: %w", tabID, err)
	}

	h.mutex.Lock()
	prev, had := h.tabs[h.focused]
	h.focused = tabID
	h.mutex.Unlock()

	if had && prev.windowID != t.windowID {
		windowID := t.windowID
		h.enqueue(func(ctx context.Context) { h.sink.WindowFocusChanged(ctx, windowID) })
	} else {
		h.enqueue(func(ctx context.Context) { h.sink.TabActivated(ctx, tabID) })
	}
	return nil
}

func (h *Host) CloseTab(ctx context.Context, tabID int) error {
	t, err := h.lookup(tabID)
	if err != nil {
		return err
	}
	if err := target.CloseTarget(t.targetID).Do(cdp.WithExecutor(ctx, h.browser)); err != nil {
		return fmt.Errorf("close tab %d: %w", tabID, err)
	}
	if n, ok := h.forget(t.targetID); ok {
		h.sink.TabRemoved(ctx, n)
	}
	return nil
}

// run executes actions in the tab, bounded by both the tab and ctx.
func (h *Host) run(ctx context.Context, t *tab, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		return err
	}
	return nil
}
