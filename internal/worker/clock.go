package worker

import (
	"context"
	"time"
)

// Clock supplies wall-clock time and blocking waits to the lifecycle
// manager.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// clockTimer adapts a Clock to the backoff.Timer interface so that
// submission retries share the manager's notion of time.
type clockTimer struct {
	ctx   context.Context
	clock Clock
	c     chan time.Time
}

func newClockTimer(ctx context.Context, clock Clock) *clockTimer {
	return &clockTimer{ctx: ctx, clock: clock, c: make(chan time.Time, 1)}
}

// Start blocks for d; the retry loop waits on C right after Start anyway.
// Nothing is delivered when the context ends first.
func (t *clockTimer) Start(d time.Duration) {
	if err := t.clock.Sleep(t.ctx, d); err != nil {
		return
	}
	t.c <- t.clock.Now()
}

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
