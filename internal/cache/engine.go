package cache

import (
	"context"
	"sync"
	"time"

	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
	"github.com/precache/precache/pkg/utils"
)

// EngineConfig configures the predictive engine
type EngineConfig struct {
	// Minimum transition probability for a predicted page to be precached.
	// The comparison is strict: a probability equal to the threshold does
	// not qualify. Values >= 1 disable precaching.
	PredictionThreshold float64 `yaml:"prediction_threshold"`

	// TTL for speculatively inserted content
	SpeculativeTTL time.Duration `yaml:"speculative_ttl"`

	// TTL for content inserted after a demand miss
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// Estimated cost of generating a page, credited as time saved whenever
	// a lookup hits
	ProcessingCostEstimate time.Duration `yaml:"processing_cost_estimate"`

	// Periodic decay of learned transition counts. DecayInterval <= 0
	// disables the decay timer.
	DecayFactor   float64       `yaml:"decay_factor"`
	DecayInterval time.Duration `yaml:"decay_interval"`

	// Cadence of periodic pattern snapshots. Zero disables them; snapshots
	// also require a snapshot store to be attached.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

const (
	defaultPredictionThreshold    = 0.6
	defaultSpeculativeTTL         = 15 * time.Second
	defaultDefaultTTL             = 60 * time.Second
	defaultProcessingCostEstimate = 50 * time.Millisecond
	defaultDecayFactor            = 0.95
)

// Precache skip reasons reported to the metrics sink.
const (
	skipReasonDisabled = "cache_disabled"
	skipReasonPresent  = "already_cached"
)

// Engine ties the pattern learner to the content cache: every served page
// feeds the learner, and the learner's confident predictions are generated
// ahead of demand and parked in the cache under a short TTL.
//
// The PatternTable and Store are each safe on their own; the engine's mutex
// additionally makes compound flows (check-then-insert during precache,
// lookup-then-generate during serving) atomic with respect to each other.
type Engine struct {
	mu  sync.Mutex
	cfg EngineConfig

	patterns *PatternTable
	store    *Store
	provider types.ContentProvider
	clock    timer.Service
	sink     types.MetricsSink
	snaps    SnapshotStore
	log      *utils.Logger

	lastPage map[string]types.PageID

	running       bool
	decayTimer    timer.Handle
	snapshotTimer timer.Handle

	// Counters
	lookups            int64
	hits               int64
	misses             int64
	precacheAttempts   int64
	precacheInserts    int64
	precacheSkips      int64
	generationFailures int64
	timeSaved          time.Duration
}

// NewEngine creates an engine over the given learner, store, and origin.
// Zero or out-of-range config values fall back to defaults; a threshold of
// 1 or more is kept as-is and disables precaching.
func NewEngine(cfg EngineConfig, patterns *PatternTable, store *Store, provider types.ContentProvider, clock timer.Service) *Engine {
	if cfg.PredictionThreshold <= 0 {
		cfg.PredictionThreshold = defaultPredictionThreshold
	}
	if cfg.SpeculativeTTL <= 0 {
		cfg.SpeculativeTTL = defaultSpeculativeTTL
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultDefaultTTL
	}
	if cfg.ProcessingCostEstimate <= 0 {
		cfg.ProcessingCostEstimate = defaultProcessingCostEstimate
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = defaultDecayFactor
	}

	return &Engine{
		cfg:      cfg,
		patterns: patterns,
		store:    store,
		provider: provider,
		clock:    clock,
		sink:     types.NopSink{},
		log:      utils.DefaultLogger().WithComponent("engine"),
		lastPage: make(map[string]types.PageID),
	}
}

// SetMetricsSink attaches a metrics sink. A nil sink restores the no-op
// default. Call before Start.
func (e *Engine) SetMetricsSink(sink types.MetricsSink) {
	if sink == nil {
		sink = types.NopSink{}
	}
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// SetSnapshotStore attaches a snapshot store, enabling SaveSnapshot,
// LoadSnapshot, and (with SnapshotInterval set) periodic snapshots. Call
// before Start.
func (e *Engine) SetSnapshotStore(snaps SnapshotStore) {
	e.mu.Lock()
	e.snaps = snaps
	e.mu.Unlock()
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(log *utils.Logger) {
	if log == nil {
		return
	}
	e.mu.Lock()
	e.log = log.WithComponent("engine")
	e.mu.Unlock()
}

// Start begins background maintenance: the store's sweep, periodic pattern
// decay, and periodic snapshots when configured. Idempotent.
func (e *Engine) Start() {
	e.store.Start()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true

	if e.cfg.DecayInterval > 0 {
		e.decayTimer = e.clock.Schedule(e.cfg.DecayInterval, e.decayTick)
	}
	if e.cfg.SnapshotInterval > 0 && e.snaps != nil {
		e.snapshotTimer = e.clock.Schedule(e.cfg.SnapshotInterval, e.snapshotTick)
	}
}

// Stop cancels background maintenance and, when a snapshot store is attached,
// persists a final snapshot. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.clock.Cancel(e.decayTimer)
	e.clock.Cancel(e.snapshotTimer)
	e.decayTimer = nil
	e.snapshotTimer = nil
	snaps := e.snaps
	e.mu.Unlock()

	e.store.Stop()

	if snaps != nil {
		if err := snaps.Save(context.Background(), e.patterns.Snapshot()); err != nil {
			e.log.Warn("final snapshot failed: %v", err)
		}
	}
}

func (e *Engine) decayTick() {
	e.patterns.Decay(e.cfg.DecayFactor)

	e.mu.Lock()
	if e.running {
		e.decayTimer = e.clock.Schedule(e.cfg.DecayInterval, e.decayTick)
	}
	e.mu.Unlock()
}

func (e *Engine) snapshotTick() {
	e.mu.Lock()
	snaps := e.snaps
	running := e.running
	if running {
		e.snapshotTimer = e.clock.Schedule(e.cfg.SnapshotInterval, e.snapshotTick)
	}
	e.mu.Unlock()

	if snaps == nil {
		return
	}
	if err := snaps.Save(context.Background(), e.patterns.Snapshot()); err != nil {
		e.log.Warn("periodic snapshot failed: %v", err)
	}
}

// OnPageServed records one navigation step and evaluates precaching from the
// newly served page. A fromPage of types.NoPage (session start) skips the
// transition but still triggers precache.
func (e *Engine) OnPageServed(ctx context.Context, clientID string, fromPage, toPage types.PageID, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPageServedLocked(ctx, fromPage, toPage, now)
}

// ObserveServed resolves the client's previous page from the engine's
// per-client history, records the transition, and remembers page as the
// client's new last page.
func (e *Engine) ObserveServed(ctx context.Context, clientID string, page types.PageID, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeServedLocked(ctx, clientID, page, now)
}

// ForgetClient drops a client's navigation history, so its next request is
// treated as a session start.
func (e *Engine) ForgetClient(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastPage, clientID)
}

// TriggerPrecache evaluates the learner's predictions from currentPage and
// generates content ahead of demand for every successor whose probability
// strictly exceeds the prediction threshold. Pages already cached and
// unexpired are skipped; generation failures are logged and counted but never
// propagated.
func (e *Engine) TriggerPrecache(ctx context.Context, currentPage types.PageID, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggerPrecacheLocked(ctx, currentPage, now)
}

// Lookup probes the cache for page. On a hit the engine credits the
// configured processing cost as time saved.
func (e *Engine) Lookup(page types.PageID, now time.Time) (*types.PageContent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupLocked(page, now)
}

// StoreGenerated inserts content produced after a demand miss, under the
// normal TTL.
func (e *Engine) StoreGenerated(page types.PageID, content *types.PageContent, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Insert(page, content, e.cfg.DefaultTTL, now)
}

// ServePage runs one full serving cycle for a client request: probe the
// cache, on a miss generate and store the content, then feed the navigation
// step back into the learner and evaluate precaching. Returns the served
// content and whether it came from the cache.
func (e *Engine) ServePage(ctx context.Context, clientID string, page types.PageID, now time.Time) (*types.PageContent, bool, error) {
	if !page.Valid() {
		return nil, false, errors.NewErrorf(errors.ErrCodeValidationFailed, "invalid page %d", page).
			WithComponent("engine").WithOperation("serve")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	content, hit := e.lookupLocked(page, now)
	if !hit {
		var err error
		content, err = e.provider.Generate(ctx, page)
		if err != nil {
			e.generationFailures++
			e.sink.RecordGenerationFailure()
			return nil, false, errors.NewErrorf(errors.ErrCodeOriginFetch, "generate page %d", page).
				WithComponent("engine").WithOperation("serve").WithCause(err)
		}
		e.store.Insert(page, content, e.cfg.DefaultTTL, now)
	}

	e.observeServedLocked(ctx, clientID, page, now)
	return content, hit, nil
}

// SetLearning toggles the learner. Serving and lookups are unaffected.
func (e *Engine) SetLearning(enabled bool) {
	e.patterns.SetLearning(enabled)
}

// Invalidate removes page from the cache.
func (e *Engine) Invalidate(page types.PageID) bool {
	return e.store.Invalidate(page)
}

// Predictions returns the learner's confidence-gated predictions for page.
func (e *Engine) Predictions(page types.PageID) []types.PageID {
	return e.patterns.Predictions(page)
}

// PredictionsWithConfidence returns every successor of page with its
// probability.
func (e *Engine) PredictionsWithConfidence(page types.PageID) []types.Prediction {
	return e.patterns.PredictionsWithConfidence(page)
}

// TopTransitions returns the globally most frequent navigation edges.
func (e *Engine) TopTransitions(limit int) []types.TransitionCount {
	return e.patterns.TopTransitions(limit)
}

// PatternStats returns the learner's counters.
func (e *Engine) PatternStats() types.PatternStats {
	return e.patterns.Stats()
}

// StoreStats returns the cache store's counters.
func (e *Engine) StoreStats() types.CacheStats {
	return e.store.Stats()
}

// Stats returns the engine's own counters.
func (e *Engine) Stats() types.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := types.EngineStats{
		Lookups:            e.lookups,
		Hits:               e.hits,
		Misses:             e.misses,
		PrecacheAttempts:   e.precacheAttempts,
		PrecacheInserts:    e.precacheInserts,
		PrecacheSkips:      e.precacheSkips,
		GenerationFailures: e.generationFailures,
		TimeSaved:          e.timeSaved,
		ActiveClients:      len(e.lastPage),
	}
	if e.lookups > 0 {
		stats.HitRate = float64(e.hits) / float64(e.lookups)
	}
	return stats
}

// SaveSnapshot persists the learner's current state to the attached snapshot
// store.
func (e *Engine) SaveSnapshot(ctx context.Context) error {
	e.mu.Lock()
	snaps := e.snaps
	e.mu.Unlock()

	if snaps == nil {
		return errors.NewError(errors.ErrCodeNotInitialized, "no snapshot store attached").
			WithComponent("engine").WithOperation("save_snapshot")
	}
	return snaps.Save(ctx, e.patterns.Snapshot())
}

// LoadSnapshot restores the learner from the most recent saved snapshot.
// A missing snapshot is returned as ErrCodeSnapshotNotFound; callers starting
// cold typically treat it as benign.
func (e *Engine) LoadSnapshot(ctx context.Context) error {
	e.mu.Lock()
	snaps := e.snaps
	e.mu.Unlock()

	if snaps == nil {
		return errors.NewError(errors.ErrCodeNotInitialized, "no snapshot store attached").
			WithComponent("engine").WithOperation("load_snapshot")
	}

	snap, err := snaps.Load(ctx)
	if err != nil {
		return err
	}
	return e.patterns.Restore(snap)
}

// observeServedLocked resolves the client's previous page and applies one
// serving observation. Caller holds e.mu.
func (e *Engine) observeServedLocked(ctx context.Context, clientID string, page types.PageID, now time.Time) {
	fromPage, ok := e.lastPage[clientID]
	if !ok {
		fromPage = types.NoPage
	}
	e.onPageServedLocked(ctx, fromPage, page, now)
	e.lastPage[clientID] = page
}

// onPageServedLocked records the transition and evaluates precaching.
// Caller holds e.mu.
func (e *Engine) onPageServedLocked(ctx context.Context, fromPage, toPage types.PageID, now time.Time) {
	if !toPage.Valid() {
		return
	}
	if fromPage.Valid() {
		e.patterns.RecordTransition(fromPage, toPage)
	}
	e.triggerPrecacheLocked(ctx, toPage, now)
}

// lookupLocked probes the store and maintains the engine's hit accounting.
// Caller holds e.mu.
func (e *Engine) lookupLocked(page types.PageID, now time.Time) (*types.PageContent, bool) {
	start := time.Now()
	content, hit := e.store.Lookup(page, now)
	e.sink.RecordLookup(hit, time.Since(start))

	e.lookups++
	if hit {
		e.hits++
		saved := e.cfg.ProcessingCostEstimate
		e.timeSaved += saved
		e.sink.RecordTimeSaved(saved)
	} else {
		e.misses++
	}
	return content, hit
}

// triggerPrecacheLocked evaluates and executes precaching from currentPage.
// Caller holds e.mu.
func (e *Engine) triggerPrecacheLocked(ctx context.Context, currentPage types.PageID, now time.Time) {
	if e.cfg.PredictionThreshold >= 1 || !currentPage.Valid() {
		return
	}

	predictions := e.patterns.PredictionsWithConfidence(currentPage)
	candidates := 0
	for _, p := range predictions {
		if p.Probability > e.cfg.PredictionThreshold {
			candidates++
		}
	}
	e.sink.RecordPredictions(candidates)

	for _, p := range predictions {
		if p.Probability <= e.cfg.PredictionThreshold {
			// Sorted by probability, nothing further qualifies.
			break
		}

		e.precacheAttempts++

		if e.store.Capacity() == 0 {
			e.precacheSkips++
			e.sink.RecordPrecacheSkip(skipReasonDisabled)
			continue
		}
		if e.store.Contains(p.Page, now) {
			e.precacheSkips++
			e.sink.RecordPrecacheSkip(skipReasonPresent)
			continue
		}

		content, err := e.provider.Generate(ctx, p.Page)
		if err != nil {
			e.generationFailures++
			e.sink.RecordGenerationFailure()
			e.log.Warn("precache generation for page %d failed: %v", p.Page, err)
			continue
		}

		e.store.InsertSpeculative(p.Page, content, e.cfg.SpeculativeTTL, now)
		e.precacheInserts++
		e.sink.RecordPrecacheInsert()
	}
}
