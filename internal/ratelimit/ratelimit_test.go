package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitForSlot_RespectsContextCancellation(t *testing.T) {
	c := New(50000, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// First call schedules nextStartAt far in the future (a 50s base
	// interval); the second call must observe ctx.Done() rather than block.
	_ = c.WaitForSlot(context.Background())
	if err := c.WaitForSlot(ctx); err == nil {
		t.Error("expected context cancellation to abort the wait")
	}
}

func TestRegisterThrottleEvent_EscalatesMultiplierAndCooldown(t *testing.T) {
	c := New(700, nil)
	if c.throttleMultiplier != 1.0 {
		t.Fatalf("expected initial multiplier 1.0, got %v", c.throttleMultiplier)
	}

	c.RegisterThrottleEvent("run-1", "p001")
	if c.throttleMultiplier < 1.5 {
		t.Errorf("expected multiplier >= 1.5 after first throttle event, got %v", c.throttleMultiplier)
	}
	if c.throttleUntil.Before(time.Now()) {
		t.Error("expected a cooldown window to be opened")
	}
	if c.throttleEvents != 1 {
		t.Errorf("throttleEvents = %d, want 1", c.throttleEvents)
	}

	firstMultiplier := c.throttleMultiplier
	for i := 0; i < 10; i++ {
		c.RegisterThrottleEvent("run-1", "p001")
	}
	if c.throttleMultiplier > 8.0 {
		t.Errorf("expected multiplier clamped to 8.0, got %v", c.throttleMultiplier)
	}
	if c.throttleMultiplier < firstMultiplier {
		t.Error("expected multiplier to monotonically increase (until clamp)")
	}
}

func TestRelaxOnSuccess_DecaysMultiplierTowardOne(t *testing.T) {
	c := New(700, nil)
	c.throttleMultiplier = 4.0

	c.RelaxOnSuccess()
	if c.throttleMultiplier >= 4.0 {
		t.Errorf("expected multiplier to decay below 4.0, got %v", c.throttleMultiplier)
	}
	if c.throttleMultiplier < 1.0 {
		t.Errorf("expected multiplier floored at 1.0, got %v", c.throttleMultiplier)
	}

	c.throttleMultiplier = 1.0
	c.RelaxOnSuccess()
	if c.throttleMultiplier != 1.0 {
		t.Errorf("expected multiplier to stay at 1.0 once relaxed, got %v", c.throttleMultiplier)
	}
}
