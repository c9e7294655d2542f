package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"actionrecorder/backend/internal/messaging"
	"actionrecorder/backend/internal/retry"

	"go.uber.org/zap"
)

// Alive pings the tab's observer. Anything but a pong within the probe
// timeout counts as no observer.
func (c *Coordinator) Alive(ctx context.Context, tabID int) bool {
	timeout := c.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp messaging.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.host.Send(ctx, tabID, messaging.Ping())
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		c.logger.Debug("ping timeout", zap.Int("tab_id", tabID), zap.Error(messaging.ErrChannelTimeout))
		return false
	case r := <-done:
		return r.err == nil && r.resp.Status == messaging.StatusPong
	}
}

func (c *Coordinator) isActive(tabID int) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.session.ActiveTabs[tabID]
	return ok
}

func (c *Coordinator) markActive(tabID int) {
	c.mutex.Lock()
	c.session.ActiveTabs[tabID] = struct{}{}
	c.mutex.Unlock()
}

func (c *Coordinator) dropActive(tabID int) {
	c.mutex.Lock()
	delete(c.session.ActiveTabs, tabID)
	c.mutex.Unlock()
}

// ensureObserver makes sure tab has an observer answering pings, injecting
// one with bounded retries if needed.
func (c *Coordinator) ensureObserver(ctx context.Context, tab Tab) error {
	if !IsValidURL(tab.URL) {
		return fmt.Errorf("%w: %w: %s", ErrInjectionFailed, ErrRestrictedURL, tab.URL)
	}
	if c.isActive(tab.ID) {
		if c.Alive(ctx, tab.ID) {
			return nil
		}
		c.logger.Info("removing non-responsive tab from active set", zap.Int("tab_id", tab.ID))
		c.dropActive(tab.ID)
	}

	err := retry.Do(ctx, c.cfg.Inject, func(ctx context.Context, attempt int) error {
		if err := c.host.Inject(ctx, tab.ID); err != nil {
			if errors.Is(err, ErrTabUnavailable) {
				return fmt.Errorf("inject attempt %d: %w: %w", attempt+1, retry.ErrStop, err)
			}
			return fmt.Errorf("inject attempt %d: %w", attempt+1, err)
		}
		if !c.Alive(ctx, tab.ID) {
			c.logger.Debug("injection verification failed", zap.Int("tab_id", tab.ID), zap.Int("attempt", attempt+1))
			return fmt.Errorf("inject attempt %d: %w", attempt+1, messaging.ErrChannelTimeout)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: tab %d: %w", ErrInjectionFailed, tab.ID, err)
	}
	c.markActive(tab.ID)
	c.logger.Info("observer injected and verified", zap.Int("tab_id", tab.ID))
	return nil
}

// TabRemoved forgets everything about a closed tab.
func (c *Coordinator) TabRemoved(ctx context.Context, tabID int) {
	c.mutex.Lock()
	delete(c.session.Pages, tabID)
	delete(c.session.ActiveTabs, tabID)
	c.mutex.Unlock()
	c.persist(ctx)
}

// NavigationStarted drops the tab's observer membership when its top frame
// navigates. The page context is kept, so a reload keeps its page number.
func (c *Coordinator) NavigationStarted(tabID, frameID int) {
	if frameID != 0 {
		return
	}
	c.dropActive(tabID)
}

func (c *Coordinator) TabActivated(ctx context.Context, tabID int) {
	tab, err := c.host.Tab(ctx, tabID)
	if err != nil {
		c.logger.Warn("error handling tab activation", zap.Int("tab_id", tabID), zap.Error(err))
		return
	}
	c.refresh(ctx, tab)
}

func (c *Coordinator) WindowFocusChanged(ctx context.Context, windowID int) {
	if windowID == WindowNone {
		return
	}
	tab, err := c.host.ActiveTab(ctx, windowID)
	if err != nil {
		c.logger.Debug("no active tab in focused window", zap.Int("window_id", windowID), zap.Error(err))
		return
	}
	c.refresh(ctx, tab)
}

// TabUpdated reacts to a tab finishing a load.
func (c *Coordinator) TabUpdated(ctx context.Context, tabID int, complete bool) {
	if !complete {
		return
	}
	tab, err := c.host.Tab(ctx, tabID)
	if err != nil {
		c.logger.Warn("error handling tab update", zap.Int("tab_id", tabID), zap.Error(err))
		return
	}
	c.refresh(ctx, tab)
}

// refresh brings a tab into the running recording: verify or inject its
// observer, number it if it is new, then tell it to record.
func (c *Coordinator) refresh(ctx context.Context, tab Tab) {
	if !IsValidURL(tab.URL) || !c.IsRecording() {
		return
	}

	if c.Alive(ctx, tab.ID) {
		c.markActive(tab.ID)
	} else {
		c.dropActive(tab.ID)
		if err := c.ensureObserver(ctx, tab); err != nil {
			c.logger.Info("failed to inject observer", zap.Int("tab_id", tab.ID), zap.Error(err))
			return
		}

		c.mutex.Lock()
		created := false
		if c.session.IsRecording {
			_, created = c.session.assignPage(tab.ID, tab.URL)
		}
		c.mutex.Unlock()
		if created {
			c.persist(ctx)
		}
		if err := sleep(ctx, c.cfg.ReadyDelay); err != nil {
			return
		}
	}

	if _, err := c.host.Send(ctx, tab.ID, messaging.UpdateSettings(c.Settings())); err != nil {
		c.logger.Debug("failed to push settings", zap.Int("tab_id", tab.ID), zap.Error(err))
	}
	if err := c.notify(ctx, tab.ID, true); err != nil {
		c.logger.Info("failed to update recording state", zap.Int("tab_id", tab.ID), zap.Error(err))
		c.dropActive(tab.ID)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SweepActive pings every tab in the active set and drops the ones whose
// observer no longer answers. It returns the dropped tab ids.
func (c *Coordinator) SweepActive(ctx context.Context) []int {
	c.mutex.Lock()
	tabs := c.session.activeTabIDs()
	c.mutex.Unlock()

	var dropped []int
	for _, id := range tabs {
		if c.Alive(ctx, id) {
			continue
		}
		c.dropActive(id)
		dropped = append(dropped, id)
	}
	if len(dropped) > 0 {
		c.logger.Info("removed non-responsive tabs from active set", zap.Ints("tab_ids", dropped))
	}
	return dropped
}
