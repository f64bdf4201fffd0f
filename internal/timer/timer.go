// Package timer abstracts deferred execution behind an injectable service so
// cache components can run against the wall clock in production and against a
// deterministic virtual clock in tests and simulations.
package timer

import (
	"time"
)

// Service schedules callbacks after a delay and reports the current time.
// Implementations must be safe for concurrent use.
type Service interface {
	// Now returns the service's current time.
	Now() time.Time

	// Schedule runs fn once after delay. Non-positive delays fire as soon
	// as possible. The returned Handle can be passed to Cancel.
	Schedule(delay time.Duration, fn func()) Handle

	// Cancel stops a scheduled callback. Cancelling a fired, already
	// cancelled, or nil handle is a no-op.
	Cancel(handle Handle)
}

// Handle identifies one scheduled callback.
type Handle interface {
	// cancel stops the callback and reports whether it was still pending.
	cancel() bool
}

// WallClock is the production Service backed by the runtime timer heap.
type WallClock struct{}

// NewWallClock returns a Service that uses real time.
func NewWallClock() *WallClock {
	return &WallClock{}
}

// Now returns the current wall time.
func (*WallClock) Now() time.Time {
	return time.Now()
}

// Schedule runs fn on its own goroutine after delay.
func (*WallClock) Schedule(delay time.Duration, fn func()) Handle {
	if delay < 0 {
		delay = 0
	}
	return wallHandle{timer: time.AfterFunc(delay, fn)}
}

// Cancel stops the callback if it has not fired yet.
func (*WallClock) Cancel(handle Handle) {
	if handle == nil {
		return
	}
	handle.cancel()
}

type wallHandle struct {
	timer *time.Timer
}

func (h wallHandle) cancel() bool {
	return h.timer.Stop()
}
