// Package coordinator owns the recording session: the on/off flag, page
// numbering per tab, which tabs have a live observer, and the action log.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"actionrecorder/backend/internal/messaging"
	"actionrecorder/backend/internal/models"
	"actionrecorder/backend/internal/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTabUnavailable  = errors.New("tab unavailable")
	ErrInjectionFailed = errors.New("observer injection failed")
	ErrRestrictedURL   = errors.New("url cannot be recorded")
)

// WindowNone is the window id reported when every browser window lost focus.
const WindowNone = -1

type Tab struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	WindowID int    `json:"window_id"`
}

// TabHost is the browser side: tab lookup, observer injection and message
// delivery to a tab's observer.
type TabHost interface {
	Tab(ctx context.Context, tabID int) (Tab, error)
	ActiveTab(ctx context.Context, windowID int) (Tab, error)
	Inject(ctx context.Context, tabID int) error
	Send(ctx context.Context, tabID int, msg messaging.Message) (messaging.Response, error)
}

// Publisher receives every finished action, e.g. a websocket hub.
type Publisher interface {
	Publish(action models.Action)
}

type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveState(ctx context.Context, snap Snapshot) error
	AppendAction(ctx context.Context, sessionID string, seq int, action models.Action) error
	ClearActions(ctx context.Context) error
}

type Config struct {
	Logger       *zap.Logger
	Store        Store
	Publisher    Publisher
	ProbeTimeout time.Duration
	Inject       retry.Policy
	ReadyDelay   time.Duration
	NewID        func() string
}

func DefaultConfig() Config {
	return Config{
		ProbeTimeout: time.Second,
		Inject:       retry.Policy{Retries: 2, Delay: 100 * time.Millisecond},
		ReadyDelay:   100 * time.Millisecond,
	}
}

type Coordinator struct {
	host   TabHost
	cfg    Config
	logger *zap.Logger

	mutex   sync.Mutex
	session *Session

	publishing sync.WaitGroup
}

func New(host TabHost, cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Coordinator{
		host:    host,
		cfg:     cfg,
		logger:  cfg.Logger,
		session: newSession(),
	}
}

// Restore loads the persisted session. Observers do not survive a restart,
// so recording comes back off and no tab counts as active.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.cfg.Store == nil {
		return nil
	}
	snap, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	s := newSession()
	s.ID = snap.SessionID
	s.PageCounter = snap.PageCounter
	s.Settings = snap.Settings
	s.Actions = append([]models.Action(nil), snap.Actions...)
	for id, pc := range snap.Pages {
		s.Pages[id] = pc
	}
	c.session = s
	c.logger.Info("session restored",
		zap.String("session_id", s.ID),
		zap.Int("actions", len(s.Actions)),
		zap.Int("page_counter", s.PageCounter))
	return nil
}

// Close waits for in-flight republishing to finish.
func (c *Coordinator) Close() {
	c.publishing.Wait()
}

// SetRecording turns recording on for tabID, or off everywhere.
func (c *Coordinator) SetRecording(ctx context.Context, tabID int, enabled bool) error {
	tab, err := c.host.Tab(ctx, tabID)
	if err != nil {
		return fmt.Errorf("%w: tab %d: %v", ErrTabUnavailable, tabID, err)
	}
	if !enabled {
		c.stop(ctx)
		return nil
	}
	return c.start(ctx, tab)
}

func (c *Coordinator) start(ctx context.Context, tab Tab) error {
	if err := c.ensureObserver(ctx, tab); err != nil {
		return err
	}

	c.mutex.Lock()
	fresh := c.session.begin(c.cfg.NewID)
	pc, _ := c.session.assignPage(tab.ID, tab.URL)
	c.session.ActiveTabs[tab.ID] = struct{}{}
	settings := c.session.Settings
	sessionID := c.session.ID
	c.mutex.Unlock()

	if fresh && c.cfg.Store != nil {
		if err := c.cfg.Store.ClearActions(ctx); err != nil {
			c.logger.Error("failed to clear persisted actions", zap.Error(err))
		}
	}
	c.persist(ctx)
	c.logger.Info("recording started",
		zap.Int("tab_id", tab.ID),
		zap.String("session_id", sessionID),
		zap.Int("page_number", pc.PageNumber))

	if _, err := c.host.Send(ctx, tab.ID, messaging.UpdateSettings(settings)); err != nil {
		c.logger.Warn("failed to push settings", zap.Int("tab_id", tab.ID), zap.Error(err))
	}
	if err := c.notify(ctx, tab.ID, true); err != nil {
		c.dropActive(tab.ID)
		return fmt.Errorf("%w: notify tab %d: %v", ErrInjectionFailed, tab.ID, err)
	}
	return nil
}

func (c *Coordinator) stop(ctx context.Context) {
	c.mutex.Lock()
	c.session.IsRecording = false
	tabs := c.session.activeTabIDs()
	c.mutex.Unlock()

	for _, id := range tabs {
		if err := c.notify(ctx, id, false); err != nil {
			c.dropActive(id)
			c.logger.Info("error stopping recording in tab", zap.Int("tab_id", id), zap.Error(err))
		}
	}
	c.persist(ctx)
	c.logger.Info("recording stopped", zap.Int("tabs_notified", len(tabs)))
}

func (c *Coordinator) notify(ctx context.Context, tabID int, on bool) error {
	resp, err := c.host.Send(ctx, tabID, messaging.ToggleRecording(on))
	if err != nil {
		return err
	}
	if !resp.Acknowledged() {
		return fmt.Errorf("toggle not acknowledged: %s %s", resp.Status, resp.Message)
	}
	return nil
}

// PageContext returns the tab's context, creating one while recording.
func (c *Coordinator) PageContext(ctx context.Context, tabID int) models.PageContext {
	c.mutex.Lock()
	pc, ok := c.session.Pages[tabID]
	recording := c.session.IsRecording
	c.mutex.Unlock()
	if ok {
		return pc
	}
	if !recording {
		return models.PageContext{}
	}

	tab, err := c.host.Tab(ctx, tabID)
	if err != nil {
		c.logger.Debug("page context for unknown tab", zap.Int("tab_id", tabID), zap.Error(err))
		return models.PageContext{}
	}

	c.mutex.Lock()
	if !c.session.IsRecording {
		c.mutex.Unlock()
		return models.PageContext{}
	}
	pc, created := c.session.assignPage(tabID, tab.URL)
	c.mutex.Unlock()
	if created {
		c.persist(ctx)
	}
	return pc
}

// RecordAction stamps raw with the tab's page context and URL and appends it
// to the log. The reply is always "received".
func (c *Coordinator) RecordAction(ctx context.Context, tabID int, raw models.Action) messaging.Response {
	ack := messaging.Response{Status: messaging.StatusReceived}

	action := raw
	action.PageContext = c.PageContext(ctx, tabID)
	if tab, err := c.host.Tab(ctx, tabID); err == nil {
		action.URL = tab.URL
	}

	c.mutex.Lock()
	if !c.session.IsRecording {
		c.mutex.Unlock()
		c.logger.Debug("action ignored, not recording", zap.Int("tab_id", tabID), zap.String("type", string(raw.Type)))
		return ack
	}
	c.session.Actions = append(c.session.Actions, action)
	seq := len(c.session.Actions)
	sessionID := c.session.ID
	c.mutex.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.AppendAction(ctx, sessionID, seq, action); err != nil {
			c.logger.Error("failed to persist action", zap.Int("seq", seq), zap.Error(err))
		}
	}
	c.publish(action)
	return ack
}

func (c *Coordinator) publish(action models.Action) {
	if c.cfg.Publisher == nil {
		return
	}
	c.publishing.Add(1)
	go func() {
		defer c.publishing.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.Error("publisher panicked", zap.Any("panic", rec))
			}
		}()
		c.cfg.Publisher.Publish(action)
	}()
}

// HandleMessage answers a message sent by the observer in senderTabID.
func (c *Coordinator) HandleMessage(ctx context.Context, senderTabID int, msg messaging.Message) messaging.Response {
	if err := msg.Validate(); err != nil {
		return messaging.Response{Status: messaging.StatusError, Message: err.Error()}
	}
	switch msg.Kind {
	case messaging.KindPing:
		return messaging.Response{Status: messaging.StatusPong}
	case messaging.KindGetPageContext:
		pc := c.PageContext(ctx, senderTabID)
		return messaging.Response{PageContext: &pc}
	case messaging.KindActionRecorded:
		return c.RecordAction(ctx, senderTabID, *msg.Action)
	case messaging.KindToggleRecording:
		tabID := senderTabID
		if msg.TabID != nil {
			tabID = *msg.TabID
		}
		if err := c.SetRecording(ctx, tabID, messaging.Flag(msg.IsRecording)); err != nil {
			return messaging.Response{Status: messaging.StatusError, Message: err.Error()}
		}
		return messaging.Response{Status: messaging.StatusSuccess}
	case messaging.KindUpdateSettings:
		c.UpdateSettings(ctx, *msg.Settings)
		return messaging.Response{Status: messaging.StatusSuccess}
	}
	return messaging.Response{Status: messaging.StatusError, Message: "unsupported message " + string(msg.Kind)}
}

// Channel returns the observer-to-coordinator link for one tab.
func (c *Coordinator) Channel(tabID int) messaging.Channel {
	return messaging.ChannelFunc(func(ctx context.Context, msg messaging.Message) (messaging.Response, error) {
		return c.HandleMessage(ctx, tabID, msg), nil
	})
}

// UpdateSettings stores the capture settings and pushes them to every tab
// with an active observer.
func (c *Coordinator) UpdateSettings(ctx context.Context, settings models.Settings) {
	c.mutex.Lock()
	c.session.Settings = settings
	tabs := c.session.activeTabIDs()
	c.mutex.Unlock()

	c.persist(ctx)
	for _, id := range tabs {
		if _, err := c.host.Send(ctx, id, messaging.UpdateSettings(settings)); err != nil {
			c.logger.Warn("failed to push settings", zap.Int("tab_id", id), zap.Error(err))
		}
	}
}

// SetAssertionMode arms (or disarms) the one-shot assertion capture in tabID.
func (c *Coordinator) SetAssertionMode(ctx context.Context, tabID int, enabled bool) error {
	if _, err := c.host.Send(ctx, tabID, messaging.ToggleAssertionMode(enabled)); err != nil {
		return fmt.Errorf("%w: tab %d: %v", ErrTabUnavailable, tabID, err)
	}
	return nil
}

func (c *Coordinator) Settings() models.Settings {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session.Settings
}

func (c *Coordinator) IsRecording() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session.IsRecording
}

// Actions returns a copy of the log in append order.
func (c *Coordinator) Actions() []models.Action {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]models.Action(nil), c.session.Actions...)
}

func (c *Coordinator) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	snap := c.session.snapshot()
	return Status{
		IsRecording: snap.IsRecording,
		SessionID:   snap.SessionID,
		PageCounter: snap.PageCounter,
		ActionCount: len(c.session.Actions),
		Pages:       snap.Pages,
		ActiveTabs:  c.session.activeTabIDs(),
		Settings:    snap.Settings,
	}
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}
	c.mutex.Lock()
	snap := c.session.snapshot()
	c.mutex.Unlock()
	if err := c.cfg.Store.SaveState(ctx, snap); err != nil {
		c.logger.Error("failed to persist session state", zap.Error(err))
	}
}
