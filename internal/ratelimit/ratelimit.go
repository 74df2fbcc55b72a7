// Package ratelimit implements the per-run throttle controller that
// serializes detail-page navigation across worker goroutines: a jittered
// minimum spacing between launches, escalated by a multiplier whenever a
// worker trips a 429/403/AUTH_BLOCKED response, and a shared cooldown
// window that gates every worker until the escalation backs off. This is
// an exact port of the Python original's process_details closure (the
// rate_lock/throttle_lock pair, next_start_at, throttle_multiplier,
// throttle_until, throttle_events), not a generic token-bucket limiter —
// golang.org/x/time/rate has no notion of an escalating cooldown on 429s,
// so it is reimplemented here rather than adapted.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/toastextract/internal/clock"
)

// Controller serializes detail-page launches across worker goroutines and
// escalates spacing on throttle signals.
type Controller struct {
	mu                       sync.Mutex
	minIntervalMS            int
	nextStartAt              time.Time
	throttleMultiplier       float64
	throttleUntil            time.Time
	throttleEvents           int
	logger                   *slog.Logger
}

// New returns a Controller with the given base minimum spacing between
// detail-page launches, matching detail_start_min_interval_ms.
func New(minIntervalMS int, logger *slog.Logger) *Controller {
	return &Controller{
		minIntervalMS:      minIntervalMS,
		throttleMultiplier: 1.0,
		logger:             logger,
	}
}

// WaitForSlot blocks the caller until it may launch its next navigation:
// first honoring any active cooldown window, then the serialized minimum-
// spacing schedule jittered by 0.8x-1.3x of the base interval and scaled
// by the current throttle multiplier. Mirrors the rate_lock critical
// section of run_one.
func (c *Controller) WaitForSlot(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	globalWait := c.throttleUntil.Sub(now)
	if globalWait > 0 {
		c.mu.Unlock()
		if err := sleepCtx(ctx, globalWait); err != nil {
			return err
		}
		c.mu.Lock()
	}

	now = time.Now()
	wait := c.nextStartAt.Sub(now)
	if wait > 0 {
		c.mu.Unlock()
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		c.mu.Lock()
	}

	low := int(float64(c.minIntervalMS) * 0.8)
	if low < 0 {
		low = 0
	}
	high := int(float64(c.minIntervalMS) * 1.3)
	if high < 0 {
		high = 0
	}
	intervalMS := clock.JitterMS(low, high)
	scaled := float64(intervalMS.Milliseconds()) * math.Max(1.0, c.throttleMultiplier)
	if scaled < 100 {
		scaled = 100
	}
	c.nextStartAt = time.Now().Add(time.Duration(scaled) * time.Millisecond)
	c.mu.Unlock()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RelaxOnSuccess nudges the throttle multiplier back toward 1.0 by 10%
// after a successful detail fetch, mirroring the throttle_lock block at
// the end of the success path of run_one.
func (c *Controller) RelaxOnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.throttleMultiplier > 1.0 {
		c.throttleMultiplier = math.Max(1.0, round3(c.throttleMultiplier*0.9))
	}
}

// RegisterThrottleEvent escalates the multiplier (clamped to [1.5, 8.0]
// via a 1.65x step) and opens a cooldown window of
// min(120, 2^min(events,7)) seconds plus up to 1.5s of jitter, mirroring
// the throttle_lock block of the exception path of run_one. Call this
// whenever a detail fetch fails with a throttle-classified error
// (scrapeerr.IsThrottle).
func (c *Controller) RegisterThrottleEvent(runID, paymentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttleEvents++
	c.throttleMultiplier = math.Min(8.0, math.Max(1.5, c.throttleMultiplier*1.65))
	exp := c.throttleEvents
	if exp > 7 {
		exp = 7
	}
	cooldownBase := math.Min(120.0, math.Pow(2, float64(exp)))
	cooldown := cooldownBase + float64(clock.JitterMS(0, 1500).Milliseconds())/1000.0
	candidate := time.Now().Add(time.Duration(cooldown * float64(time.Second)))
	if candidate.After(c.throttleUntil) {
		c.throttleUntil = candidate
	}
	if c.logger != nil {
		c.logger.Info("detail_throttle_backoff",
			"run_id", runID, "payment_id", paymentID,
			"throttle_multiplier", round3(c.throttleMultiplier),
			"cooldown_seconds", round2(cooldown),
			"throttle_events", c.throttleEvents,
		)
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
