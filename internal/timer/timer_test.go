package timer

import (
	"sync"
	"testing"
	"time"
)

func TestWallClockSchedule(t *testing.T) {
	clock := NewWallClock()

	fired := make(chan struct{})
	clock.Schedule(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
}

func TestWallClockCancel(t *testing.T) {
	clock := NewWallClock()

	var mu sync.Mutex
	fired := false
	handle := clock.Schedule(50*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	clock.Cancel(handle)
	clock.Cancel(handle) // second cancel is a no-op
	clock.Cancel(nil)    // nil handle is a no-op

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Error("cancelled callback fired")
	}
}

func TestVirtualClockAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewVirtualClock(start)

	var order []int
	clock.Schedule(30*time.Millisecond, func() { order = append(order, 3) })
	clock.Schedule(10*time.Millisecond, func() { order = append(order, 1) })
	clock.Schedule(20*time.Millisecond, func() { order = append(order, 2) })

	if fired := clock.Advance(15 * time.Millisecond); fired != 1 {
		t.Fatalf("Advance(15ms) fired %d callbacks, want 1", fired)
	}
	if fired := clock.Advance(30 * time.Millisecond); fired != 2 {
		t.Fatalf("Advance(30ms) fired %d callbacks, want 2", fired)
	}

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("fired order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("fired order %v, want %v", order, want)
		}
	}
}

func TestVirtualClockTieBreaksByScheduleOrder(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	var order []string
	clock.Schedule(10*time.Millisecond, func() { order = append(order, "first") })
	clock.Schedule(10*time.Millisecond, func() { order = append(order, "second") })

	clock.Advance(10 * time.Millisecond)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("tie order = %v, want [first second]", order)
	}
}

func TestVirtualClockNowDuringCallback(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := NewVirtualClock(start)

	var seen time.Time
	clock.Schedule(7*time.Second, func() { seen = clock.Now() })

	clock.Advance(time.Minute)

	if want := start.Add(7 * time.Second); !seen.Equal(want) {
		t.Errorf("Now() during callback = %v, want %v", seen, want)
	}
	if want := start.Add(time.Minute); !clock.Now().Equal(want) {
		t.Errorf("Now() after advance = %v, want %v", clock.Now(), want)
	}
}

func TestVirtualClockCancel(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	fired := false
	handle := clock.Schedule(10*time.Millisecond, func() { fired = true })

	clock.Cancel(handle)
	clock.Cancel(handle)
	clock.Cancel(nil)

	if n := clock.Advance(time.Second); n != 0 {
		t.Errorf("Advance fired %d callbacks after cancel, want 0", n)
	}
	if fired {
		t.Error("cancelled callback fired")
	}
}

func TestVirtualClockCancelAfterFire(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	handle := clock.Schedule(time.Millisecond, func() {})
	clock.Advance(time.Second)

	// Cancelling a fired handle must not panic or affect other timers.
	clock.Cancel(handle)

	fired := false
	clock.Schedule(time.Millisecond, func() { fired = true })
	clock.Advance(time.Second)
	if !fired {
		t.Error("later callback did not fire")
	}
}

func TestVirtualClockCallbackSchedulesMore(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	var order []int
	clock.Schedule(10*time.Millisecond, func() {
		order = append(order, 1)
		clock.Schedule(5*time.Millisecond, func() { order = append(order, 2) })
		clock.Schedule(50*time.Millisecond, func() { order = append(order, 3) })
	})

	// The advance window covers the first chained callback but not the second.
	if fired := clock.Advance(20 * time.Millisecond); fired != 2 {
		t.Fatalf("Advance fired %d callbacks, want 2", fired)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}

	clock.Advance(time.Second)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestVirtualClockRunDrainsAll(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	count := 0
	clock.Schedule(time.Hour, func() { count++ })
	clock.Schedule(time.Minute, func() {
		count++
		clock.Schedule(time.Second, func() { count++ })
	})

	if fired := clock.Run(); fired != 3 {
		t.Fatalf("Run fired %d callbacks, want 3", fired)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if want := time.Unix(0, 0).Add(time.Hour); !clock.Now().Equal(want) {
		t.Errorf("Now() after Run = %v, want %v", clock.Now(), want)
	}
}

func TestVirtualClockAdvanceToPast(t *testing.T) {
	start := time.Unix(500, 0)
	clock := NewVirtualClock(start)
	clock.Advance(10 * time.Second)

	fired := clock.AdvanceTo(start) // before current time
	if fired != 0 {
		t.Errorf("AdvanceTo(past) fired %d callbacks, want 0", fired)
	}
	if want := start.Add(10 * time.Second); !clock.Now().Equal(want) {
		t.Errorf("clock moved backwards to %v", clock.Now())
	}
}

func TestVirtualClockZeroDelay(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	fired := false
	clock.Schedule(0, func() { fired = true })
	clock.Schedule(-time.Second, func() {})

	if clock.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", clock.Pending())
	}

	// Zero-delay callbacks wait for the next advance, then fire immediately.
	if n := clock.AdvanceTo(clock.Now()); n != 2 {
		t.Fatalf("AdvanceTo(now) fired %d, want 2", n)
	}
	if !fired {
		t.Error("zero-delay callback did not fire")
	}
}

func TestVirtualClockPending(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	h1 := clock.Schedule(time.Second, func() {})
	clock.Schedule(2*time.Second, func() {})

	if got := clock.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	clock.Cancel(h1)
	if got := clock.Pending(); got != 1 {
		t.Fatalf("Pending() after cancel = %d, want 1", got)
	}

	clock.Run()
	if got := clock.Pending(); got != 0 {
		t.Fatalf("Pending() after Run = %d, want 0", got)
	}
}
