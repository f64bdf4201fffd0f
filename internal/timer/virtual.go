package timer

import (
	"container/heap"
	"sync"
	"time"
)

// VirtualClock is a deterministic Service for tests and simulations. Time
// only moves when the caller advances it; scheduled callbacks run
// synchronously on the advancing goroutine, ordered by fire time with
// scheduling order breaking ties.
//
// Callbacks run outside the clock's lock and may schedule or cancel further
// timers. While a callback runs, Now reports that callback's fire time.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int64
	pending eventHeap
}

// NewVirtualClock returns a virtual clock whose current time is start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the virtual current time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule registers fn to fire at now+delay. Non-positive delays schedule
// at the current time; the callback still waits for the next advance.
func (c *VirtualClock) Schedule(delay time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	c.seq++
	ev := &event{at: c.now.Add(delay), seq: c.seq, fn: fn}
	heap.Push(&c.pending, ev)
	return &virtualHandle{clock: c, ev: ev}
}

// Cancel marks a pending callback so it will be skipped. Cancelled events
// stay in the heap and are discarded when they surface.
func (c *VirtualClock) Cancel(handle Handle) {
	if handle == nil {
		return
	}
	handle.cancel()
}

// Advance moves the clock forward by d, firing due callbacks in order.
// It returns the number of callbacks fired.
func (c *VirtualClock) Advance(d time.Duration) int {
	return c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo moves the clock to t, firing every callback scheduled at or
// before t in (fire time, scheduling order). Callbacks scheduled during the
// advance also fire if they fall within t. Moving to a time at or before the
// current time fires nothing new and leaves the clock where it is.
func (c *VirtualClock) AdvanceTo(t time.Time) int {
	fired := 0
	for {
		c.mu.Lock()
		ev := c.popDueLocked(t)
		if ev == nil {
			if t.After(c.now) {
				c.now = t
			}
			c.mu.Unlock()
			return fired
		}
		if ev.at.After(c.now) {
			c.now = ev.at
		}
		c.mu.Unlock()

		ev.fn()
		fired++
	}
}

// Run fires all pending callbacks regardless of their fire time, advancing
// the clock to each in turn, until the heap is empty. Callbacks that keep
// rescheduling themselves must be cancelled externally or Run will not
// return.
func (c *VirtualClock) Run() int {
	fired := 0
	for {
		c.mu.Lock()
		ev := c.popAnyLocked()
		if ev == nil {
			c.mu.Unlock()
			return fired
		}
		if ev.at.After(c.now) {
			c.now = ev.at
		}
		c.mu.Unlock()

		ev.fn()
		fired++
	}
}

// Pending returns the number of callbacks that are scheduled and not
// cancelled.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, ev := range c.pending {
		if !ev.cancelled {
			n++
		}
	}
	return n
}

// popDueLocked removes and returns the next live event at or before t,
// discarding cancelled events on the way. Returns nil when nothing is due.
func (c *VirtualClock) popDueLocked(t time.Time) *event {
	for len(c.pending) > 0 {
		head := c.pending[0]
		if head.cancelled {
			heap.Pop(&c.pending)
			continue
		}
		if head.at.After(t) {
			return nil
		}
		ev := heap.Pop(&c.pending).(*event)
		ev.fired = true
		return ev
	}
	return nil
}

// popAnyLocked removes and returns the next live event, or nil if none.
func (c *VirtualClock) popAnyLocked() *event {
	for len(c.pending) > 0 {
		head := c.pending[0]
		if head.cancelled {
			heap.Pop(&c.pending)
			continue
		}
		ev := heap.Pop(&c.pending).(*event)
		ev.fired = true
		return ev
	}
	return nil
}

type event struct {
	at        time.Time
	seq       int64
	fn        func()
	cancelled bool
	fired     bool
}

type virtualHandle struct {
	clock *VirtualClock
	ev    *event
}

func (h *virtualHandle) cancel() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()

	if h.ev.fired || h.ev.cancelled {
		return false
	}
	h.ev.cancelled = true
	return true
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*event))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}
