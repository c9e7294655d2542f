package recorder

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// poll drains the tab's bridge queue on every tick and dispatches the events
// to whichever observer is attached at the time.
func (h *Host) poll(t *tab) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if h.observerOf(t) == nil {
				continue
			}
			h.drain(t)
		}
	}
}

func (h *Host) drain(t *tab) {
	ctx, cancel := context.WithTimeout(h.ctx, 5*h.cfg.PollInterval)
	defer cancel()

	var b batch
	if err := h.run(ctx, t, chromedp.Evaluate(bridgeDrain, &b)); err != nil {
		h.logger.Debug("error getting events", zap.Int("tab_id", t.id), zap.Error(err))
		return
	}
	if b.Missing {
		return
	}
	events, skipped, err := decodeBatch(b)
	if err != nil {
		h.logger.Warn("failed to decode page events", zap.Int("tab_id", t.id), zap.Error(err))
	}
	if skipped > 0 {
		h.logger.Debug("events without a resolvable target", zap.Int("tab_id", t.id), zap.Int("skipped", skipped))
	}
	for _, ev := range events {
		t.dispatcher.Dispatch(h.ctx, ev)
	}
}
