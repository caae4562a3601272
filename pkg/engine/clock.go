package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock is the source of time for the engine.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}

// backoffTimer returns the timer retries wait on. The real clock uses
// backoff's own timer, which stops its runtime timer between retries.
func backoffTimer(c Clock) backoff.Timer {
	if _, ok := c.(realClock); ok {
		return nil
	}
	return &clockTimer{clock: c}
}

// clockTimer adapts a Clock to backoff.Timer so retries wait on the
// engine's clock.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

var _ backoff.Timer = (*clockTimer)(nil)

func (t *clockTimer) Start(d time.Duration) {
	t.c = t.clock.After(d)
}

// Stop drops the pending channel. Clock has no way to cancel an After.
func (t *clockTimer) Stop() {
	t.c = nil
}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	return startOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
