package sim

import (
	"math/rand"
	"testing"
	"time"
)

func TestSequentialWalkWraps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w, err := newWorkload(WorkloadSequential, 5, rng)
	if err != nil {
		t.Fatalf("newWorkload: %v", err)
	}

	seen := map[int64]int{}
	prev := w.next()
	seen[int64(prev)]++
	for i := 0; i < 9; i++ {
		cur := w.next()
		if int64(cur) != (int64(prev)+1)%5 {
			t.Fatalf("step %d: %d does not follow %d", i, cur, prev)
		}
		seen[int64(cur)]++
		prev = cur
	}
	if len(seen) != 5 {
		t.Errorf("visited %d pages, want 5", len(seen))
	}
}

func TestHotspotWalkSkew(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w, err := newWorkload(WorkloadHotspot, 100, rng)
	if err != nil {
		t.Fatalf("newWorkload: %v", err)
	}

	hot := 0
	const draws = 10000
	for i := 0; i < draws; i++ {
		p := w.next()
		if p < 0 || p >= 100 {
			t.Fatalf("page %d out of range", p)
		}
		if p < 20 {
			hot++
		}
	}
	// 80% to the hot fifth, plus the uniform 20% spillover into it.
	frac := float64(hot) / draws
	if frac < 0.75 || frac > 0.95 {
		t.Errorf("hot fraction = %.3f, want around 0.84", frac)
	}
}

func TestRandomWalkRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	w, err := newWorkload(WorkloadRandom, 10, rng)
	if err != nil {
		t.Fatalf("newWorkload: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if p := w.next(); p < 0 || p >= 10 {
			t.Fatalf("page %d out of range", p)
		}
	}
}

func TestUnknownWorkload(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := newWorkload("zipf", 10, rng); err == nil {
		t.Error("expected error for unknown workload")
	}
	if _, err := newWorkload(WorkloadRandom, 0, rng); err == nil {
		t.Error("expected error for zero pages")
	}
}

func TestExpDuration(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if d := expDuration(rng, 0); d != 0 {
		t.Errorf("zero mean should yield zero, got %v", d)
	}

	var sum time.Duration
	const draws = 10000
	for i := 0; i < draws; i++ {
		d := expDuration(rng, 100*time.Millisecond)
		if d < 0 {
			t.Fatalf("negative duration %v", d)
		}
		sum += d
	}
	mean := sum / draws
	if mean < 90*time.Millisecond || mean > 110*time.Millisecond {
		t.Errorf("empirical mean = %v, want about 100ms", mean)
	}
}
