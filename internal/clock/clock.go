// Package clock abstracts time so delays and timeouts can be driven virtually in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the time source injected into every component that waits.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine after d.
	AfterFunc(d time.Duration, f func()) Timer
	// After returns a channel that receives the time after d.
	After(d time.Duration) <-chan time.Time
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop reports whether the timer was stopped before firing.
	Stop() bool
}

// Sleep blocks for d on c, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// After wraps time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
