package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/precache/precache/pkg/types"
)

// PatternConfig configures the pattern learner
type PatternConfig struct {
	// Minimum transition probability for a page to be returned as a prediction
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Maximum number of pages a prediction query returns
	MaxPredictions int `yaml:"max_predictions"`
}

const (
	defaultConfidenceThreshold = 0.3
	defaultMaxPredictions      = 5
)

// transition is one observed navigation edge.
type transition struct {
	from types.PageID
	to   types.PageID
}

// PatternTable learns (fromPage -> toPage) transition frequencies online and
// answers confidence-gated next-page prediction queries.
//
// All operations are total functions over well-formed input: invalid page IDs
// and self-transitions are silently skipped, never reported as errors. The
// table is safe for concurrent use behind its own mutex.
type PatternTable struct {
	mu  sync.Mutex
	cfg PatternConfig

	counts map[transition]int64
	totals map[types.PageID]int64 // totals[p] == sum of counts[(p, *)]
	memo   map[types.PageID][]types.PageID

	learning         bool
	totalTransitions int64

	// Statistics
	totalUpdates       int64
	predictionRequests int64
	predictionsServed  int64
	memoHits           int64
}

// NewPatternTable creates a pattern table. Zero or out-of-range config values
// fall back to defaults.
func NewPatternTable(cfg PatternConfig) *PatternTable {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if cfg.MaxPredictions <= 0 {
		cfg.MaxPredictions = defaultMaxPredictions
	}

	return &PatternTable{
		cfg:      cfg,
		counts:   make(map[transition]int64),
		totals:   make(map[types.PageID]int64),
		memo:     make(map[types.PageID][]types.PageID),
		learning: true,
	}
}

// RecordTransition adds one observation of from -> to. Invalid pages and
// self-transitions are skipped silently.
func (t *PatternTable) RecordTransition(from, to types.PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(from, to, 1)
}

// RecordSequence records a transition for every consecutive pair in pages.
// Sequences shorter than 2 are a no-op.
func (t *PatternTable) RecordSequence(pages []types.PageID) {
	if len(pages) < 2 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < len(pages)-1; i++ {
		t.addLocked(pages[i], pages[i+1], 1)
	}
}

// UpdatePattern adds an arbitrary positive increment to one transition in a
// single step. Non-positive counts are rejected along with the usual page
// validation.
func (t *PatternTable) UpdatePattern(from, to types.PageID, count int64) {
	if count <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(from, to, count)
}

// addLocked applies one increment. Caller holds t.mu.
func (t *PatternTable) addLocked(from, to types.PageID, count int64) {
	if !t.learning || !from.Valid() || !to.Valid() || from == to {
		return
	}

	t.counts[transition{from, to}] += count
	t.totals[from] += count
	t.totalTransitions += count
	t.totalUpdates++
	delete(t.memo, from)
}

// Predictions returns the pages reachable from page whose probability meets
// the confidence threshold, most likely first, truncated to MaxPredictions.
// Results are memoized and recomputed only after a write touches page.
func (t *PatternTable) Predictions(page types.PageID) []types.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.predictionRequests++
	if !page.Valid() {
		return nil
	}

	if cached, ok := t.memo[page]; ok {
		t.memoHits++
		if len(cached) > 0 {
			t.predictionsServed++
		}
		return append([]types.PageID(nil), cached...)
	}

	var result []types.PageID
	if t.cfg.ConfidenceThreshold < 1 {
		for _, p := range t.probabilitiesLocked(page) {
			if p.Probability < t.cfg.ConfidenceThreshold {
				break
			}
			result = append(result, p.Page)
			if len(result) >= t.cfg.MaxPredictions {
				break
			}
		}
	}

	t.memo[page] = result
	if len(result) > 0 {
		t.predictionsServed++
	}
	return append([]types.PageID(nil), result...)
}

// PredictionsWithConfidence returns every successor of page with its
// probability, most likely first. Unlike Predictions the result is neither
// threshold-filtered, truncated, nor cached; it is recomputed on every call.
func (t *PatternTable) PredictionsWithConfidence(page types.PageID) []types.Prediction {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.predictionRequests++
	if !page.Valid() {
		return nil
	}
	return t.probabilitiesLocked(page)
}

// MostLikelyNextPage returns the single best successor of page if its
// probability meets the confidence threshold, else types.NoPage.
func (t *PatternTable) MostLikelyNextPage(page types.PageID) types.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !page.Valid() || t.cfg.ConfidenceThreshold >= 1 {
		return types.NoPage
	}

	probs := t.probabilitiesLocked(page)
	if len(probs) == 0 || probs[0].Probability < t.cfg.ConfidenceThreshold {
		return types.NoPage
	}
	return probs[0].Page
}

// TransitionProbability returns count(from,to) / totalFrom(from), or 0 when
// either page is invalid or from has no recorded outgoing transitions.
func (t *PatternTable) TransitionProbability(from, to types.PageID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !from.Valid() || !to.Valid() {
		return 0
	}
	total := t.totals[from]
	if total == 0 {
		return 0
	}
	return float64(t.counts[transition{from, to}]) / float64(total)
}

// TransitionCount returns the recorded count for one edge.
func (t *PatternTable) TransitionCount(from, to types.PageID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[transition{from, to}]
}

// TotalTransitionsFrom returns the sum of counts over all edges leaving from.
func (t *PatternTable) TotalTransitionsFrom(from types.PageID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[from]
}

// TopTransitions returns the globally most frequent transitions,
// count-descending, up to limit. Ties are broken by ascending (from, to) so
// the order is stable, but callers must not rely on the relative order of
// equal counts as a contract.
func (t *PatternTable) TopTransitions(limit int) []types.TransitionCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 {
		return nil
	}

	all := make([]types.TransitionCount, 0, len(t.counts))
	for tr, c := range t.counts {
		all = append(all, types.TransitionCount{From: tr.from, To: tr.to, Count: c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		if all[i].From != all[j].From {
			return all[i].From < all[j].From
		}
		return all[i].To < all[j].To
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ReachablePages returns every page with a recorded transition from the given
// page, in ascending page order.
func (t *PatternTable) ReachablePages(from types.PageID) []types.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !from.Valid() {
		return nil
	}

	var pages []types.PageID
	for tr := range t.counts {
		if tr.from == from {
			pages = append(pages, tr.to)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// Decay multiplies every count by factor (rounding down), flooring surviving
// transitions at 1 so rarely seen edges stay alive instead of vanishing.
// Factors outside (0, 1) are a no-op. All memoized predictions are
// invalidated and the running total is recomputed from the surviving counts.
func (t *PatternTable) Decay(factor float64) {
	if factor <= 0 || factor >= 1 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for tr, c := range t.counts {
		c = int64(float64(c) * factor)
		if c < 1 {
			c = 1
		}
		t.counts[tr] = c
	}
	t.recomputeTotalsLocked()
	t.memo = make(map[types.PageID][]types.PageID)
}

// Compact removes every transition whose count is below minCount, adjusting
// the running totals. All memoized predictions are invalidated.
func (t *PatternTable) Compact(minCount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tr, c := range t.counts {
		if c < minCount {
			delete(t.counts, tr)
			t.totals[tr.from] -= c
			t.totalTransitions -= c
			if t.totals[tr.from] <= 0 {
				delete(t.totals, tr.from)
			}
		}
	}
	t.memo = make(map[types.PageID][]types.PageID)
}

// Clear resets all learned state and statistics. The learning toggle is left
// as it was.
func (t *PatternTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts = make(map[transition]int64)
	t.totals = make(map[types.PageID]int64)
	t.memo = make(map[types.PageID][]types.PageID)
	t.totalTransitions = 0
	t.totalUpdates = 0
	t.predictionRequests = 0
	t.predictionsServed = 0
	t.memoHits = 0
}

// SetLearning enables or disables learning. While disabled every write
// operation is a silent no-op; reads are unaffected.
func (t *PatternTable) SetLearning(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.learning = enabled
}

// LearningEnabled reports whether the table currently records transitions.
func (t *PatternTable) LearningEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.learning
}

// Stats returns a snapshot of the learner's counters.
func (t *PatternTable) Stats() types.PatternStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return types.PatternStats{
		Pages:              len(t.totals),
		Transitions:        len(t.counts),
		TotalTransitions:   t.totalTransitions,
		TotalUpdates:       t.totalUpdates,
		PredictionRequests: t.predictionRequests,
		PredictionsServed:  t.predictionsServed,
		MemoHits:           t.memoHits,
		LearningEnabled:    t.learning,
	}
}

// String returns a compact human-readable summary for diagnostics.
func (t *PatternTable) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("PatternTable{pages=%d, transitions=%d, total=%d, updates=%d}",
		len(t.totals), len(t.counts), t.totalTransitions, t.totalUpdates)
}

// probabilitiesLocked computes every (successor, probability) pair for page,
// probability-descending with ties broken by ascending page ID. Caller holds
// t.mu.
func (t *PatternTable) probabilitiesLocked(page types.PageID) []types.Prediction {
	total := t.totals[page]
	if total == 0 {
		return nil
	}

	var probs []types.Prediction
	for tr, c := range t.counts {
		if tr.from == page {
			probs = append(probs, types.Prediction{
				Page:        tr.to,
				Probability: float64(c) / float64(total),
			})
		}
	}
	sort.Slice(probs, func(i, j int) bool {
		if probs[i].Probability != probs[j].Probability {
			return probs[i].Probability > probs[j].Probability
		}
		return probs[i].Page < probs[j].Page
	})
	return probs
}

// recomputeTotalsLocked rebuilds the per-page totals and the running total
// from the current counts. Caller holds t.mu.
func (t *PatternTable) recomputeTotalsLocked() {
	t.totals = make(map[types.PageID]int64, len(t.totals))
	t.totalTransitions = 0
	for tr, c := range t.counts {
		t.totals[tr.from] += c
		t.totalTransitions += c
	}
}
