package sim

import (
	"fmt"
	"math/rand"

	"github.com/precache/precache/pkg/types"
)

// Workload model names accepted by Config.Workload.
const (
	WorkloadSequential = "sequential"
	WorkloadHotspot    = "hotspot"
	WorkloadRandom     = "random"
)

// workload produces the next page a client navigates to. Implementations
// draw only from the *rand.Rand they were built with, keeping runs
// reproducible.
type workload interface {
	next() types.PageID
}

// newWorkload builds the named workload over pages [0, pages).
func newWorkload(kind string, pages int, rng *rand.Rand) (workload, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("workload needs a positive page count, got %d", pages)
	}
	switch kind {
	case WorkloadSequential:
		return &sequentialWalk{pages: pages, current: rng.Intn(pages)}, nil
	case WorkloadHotspot:
		return newHotspotWalk(pages, rng), nil
	case WorkloadRandom:
		return &randomWalk{pages: pages, rng: rng}, nil
	default:
		return nil, fmt.Errorf("unknown workload %q", kind)
	}
}

// sequentialWalk steps through the page space in order from a random start,
// wrapping around. The most predictable workload; the pattern learner
// should approach a perfect hit rate on it.
type sequentialWalk struct {
	pages   int
	current int
}

func (w *sequentialWalk) next() types.PageID {
	w.current = (w.current + 1) % w.pages
	return types.PageID(w.current)
}

// hotspotWalk models skewed traffic: 80% of requests land on a hot set
// covering 20% of the page space, the rest are uniform over all pages.
type hotspotWalk struct {
	pages int
	hot   int
	rng   *rand.Rand
}

func newHotspotWalk(pages int, rng *rand.Rand) *hotspotWalk {
	hot := pages / 5
	if hot < 1 {
		hot = 1
	}
	return &hotspotWalk{pages: pages, hot: hot, rng: rng}
}

func (w *hotspotWalk) next() types.PageID {
	if w.rng.Float64() < 0.8 {
		return types.PageID(w.rng.Intn(w.hot))
	}
	return types.PageID(w.rng.Intn(w.pages))
}

// randomWalk draws uniformly over the page space. The adversarial case:
// there is no pattern to learn.
type randomWalk struct {
	pages int
	rng   *rand.Rand
}

func (w *randomWalk) next() types.PageID {
	return types.PageID(w.rng.Intn(w.pages))
}
