package session

import (
	"context"
	"time"

	"github.com/mrsingh-rishi/voice-relay/types"
)

// restartTimerLocked opens an active interval if none is open. With force it
// closes the current interval first and starts a fresh one, replacing any
// running limit timer. Caller holds c.mu.
func (c *Controller) restartTimerLocked(force bool) {
	if !force && !c.activeSince.IsZero() {
		return
	}
	if force {
		c.foldLocked()
		c.stopTimerLocked()
	}
	c.activeSince = c.now()

	if c.cfg.Limit <= 0 || c.timerCancel != nil {
		return
	}
	c.timerGen++
	gen := c.timerGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.timerCancel = cancel

	c.wg.Add(1)
	go c.enforceLimit(ctx, gen)
}

// stopTimerLocked cancels the running limit timer. Caller holds c.mu.
func (c *Controller) stopTimerLocked() {
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
	c.timerGen++
}

func (c *Controller) enforceLimit(ctx context.Context, gen int) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.checkLimit(gen) {
				return
			}
		}
	}
}

// checkLimit reports whether the timer of generation gen is finished,
// either because it was superseded or because it fired.
func (c *Controller) checkLimit(gen int) bool {
	c.mu.Lock()
	if gen != c.timerGen || c.limited {
		c.mu.Unlock()
		return true
	}
	if c.activeSince.IsZero() {
		c.mu.Unlock()
		return false
	}
	active := c.now().Sub(c.activeSince)
	if active < c.cfg.Limit {
		c.mu.Unlock()
		return false
	}

	c.foldLocked()
	c.limited = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.logger.Warn("session limit reached", "tier", c.cfg.Tier, "active", active.Round(100*time.Millisecond))
	c.out.Send(types.LimitMessage{
		Type:         types.MessageLimitReached,
		Tier:         string(c.cfg.Tier),
		LimitSeconds: int(c.cfg.Limit / time.Second),
	})
	if err := c.relay.Close(); err != nil {
		c.logger.Debug("relay close", "error", err)
	}
	c.out.CloseWith(types.CloseLimitReached, "time limit reached")
	return true
}
