package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
)

// fakeProvider is a deterministic origin that counts generations and can be
// told to fail for specific pages.
type fakeProvider struct {
	generated map[types.PageID]int
	failing   map[types.PageID]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		generated: make(map[types.PageID]int),
		failing:   make(map[types.PageID]bool),
	}
}

func (p *fakeProvider) Generate(_ context.Context, page types.PageID) (*types.PageContent, error) {
	if p.failing[page] {
		return nil, fmt.Errorf("synthetic failure for page %d", page)
	}
	p.generated[page]++
	return &types.PageContent{
		Body:        []byte(fmt.Sprintf("generated page %d", page)),
		ContentType: "text/html",
	}, nil
}

type engineFixture struct {
	engine   *Engine
	patterns *PatternTable
	store    *Store
	provider *fakeProvider
	clock    *timer.VirtualClock
}

func newEngineFixture(cfg EngineConfig, storeCfg StoreConfig) *engineFixture {
	clock := timer.NewVirtualClock(storeEpoch)
	patterns := NewPatternTable(PatternConfig{ConfidenceThreshold: 0.3})
	store := NewStore(storeCfg, clock, nil)
	provider := newFakeProvider()
	return &engineFixture{
		engine:   NewEngine(cfg, patterns, store, provider, clock),
		patterns: patterns,
		store:    store,
		provider: provider,
		clock:    clock,
	}
}

func TestEngineServePageMissThenHit(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})
	ctx := context.Background()

	content, hit, err := f.engine.ServePage(ctx, "client-1", 1, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "generated page 1", string(content.Body))
	assert.Equal(t, 1, f.provider.generated[1])

	content, hit, err = f.engine.ServePage(ctx, "client-1", 1, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "generated page 1", string(content.Body))
	assert.Equal(t, 1, f.provider.generated[1], "hit must not regenerate")

	stats := f.engine.Stats()
	assert.Equal(t, int64(2), stats.Lookups)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, defaultProcessingCostEstimate, stats.TimeSaved)
}

func TestEngineServePageInvalidPage(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})

	_, _, err := f.engine.ServePage(context.Background(), "client-1", types.NoPage, f.clock.Now())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestEngineServePageGenerationFailure(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})
	f.provider.failing[7] = true

	_, _, err := f.engine.ServePage(context.Background(), "client-1", 7, f.clock.Now())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOriginFetch))
	assert.Equal(t, int64(1), f.engine.Stats().GenerationFailures)
}

func TestEnginePrecacheOnConfidentPrediction(t *testing.T) {
	f := newEngineFixture(EngineConfig{PredictionThreshold: 0.6}, StoreConfig{Capacity: 8})
	ctx := context.Background()

	const home, login, dashboard = 1, 2, 3
	for i := 0; i < 8; i++ {
		f.patterns.RecordTransition(home, login)
	}
	for i := 0; i < 2; i++ {
		f.patterns.RecordTransition(home, dashboard)
	}

	// Serving home predicts login at 0.8 > 0.6 and precaches it.
	_, _, err := f.engine.ServePage(ctx, "client-1", home, f.clock.Now())
	require.NoError(t, err)

	assert.True(t, f.store.Contains(login, f.clock.Now()))
	assert.False(t, f.store.Contains(dashboard, f.clock.Now()))
	assert.Equal(t, 1, f.provider.generated[login])

	// The follow-up request is a hit without regeneration.
	_, hit, err := f.engine.ServePage(ctx, "client-1", login, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, f.provider.generated[login])

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.PrecacheInserts)
}

func TestEnginePrecacheThresholdIsStrict(t *testing.T) {
	f := newEngineFixture(EngineConfig{PredictionThreshold: 0.6}, StoreConfig{Capacity: 8})

	// 3 of 5 transitions: probability exactly 0.6, which must not qualify.
	f.patterns.UpdatePattern(1, 2, 3)
	f.patterns.UpdatePattern(1, 3, 2)

	f.engine.TriggerPrecache(context.Background(), 1, f.clock.Now())

	assert.False(t, f.store.Contains(2, f.clock.Now()))
	assert.Zero(t, f.engine.Stats().PrecacheAttempts)
}

func TestEnginePrecacheSkipsCachedPage(t *testing.T) {
	f := newEngineFixture(EngineConfig{PredictionThreshold: 0.5}, StoreConfig{Capacity: 8})
	ctx := context.Background()

	f.patterns.UpdatePattern(1, 2, 9)
	f.store.Insert(2, pageBody(2), time.Minute, f.clock.Now())

	f.engine.TriggerPrecache(ctx, 1, f.clock.Now())

	assert.Zero(t, f.provider.generated[2], "cached page regenerated")
	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.PrecacheAttempts)
	assert.Equal(t, int64(1), stats.PrecacheSkips)
}

func TestEnginePrecacheAbsorbsGenerationFailure(t *testing.T) {
	f := newEngineFixture(EngineConfig{PredictionThreshold: 0.5}, StoreConfig{Capacity: 8})
	f.provider.failing[2] = true
	f.patterns.UpdatePattern(1, 2, 9)

	// Must not panic or propagate.
	f.engine.TriggerPrecache(context.Background(), 1, f.clock.Now())

	assert.False(t, f.store.Contains(2, f.clock.Now()))
	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.GenerationFailures)
	assert.Zero(t, stats.PrecacheInserts)
}

func TestEngineSpeculativeTTLShorterThanDefault(t *testing.T) {
	cfg := EngineConfig{
		PredictionThreshold: 0.5,
		SpeculativeTTL:      10 * time.Second,
		DefaultTTL:          time.Minute,
	}
	f := newEngineFixture(cfg, StoreConfig{Capacity: 8})
	ctx := context.Background()

	f.patterns.UpdatePattern(1, 2, 9)

	_, _, err := f.engine.ServePage(ctx, "client-1", 1, f.clock.Now())
	require.NoError(t, err)
	require.True(t, f.store.Contains(2, f.clock.Now()))

	// Past the speculative TTL the precached page is gone while the
	// demand-loaded page survives under the default TTL.
	now := f.clock.Now().Add(30 * time.Second)
	assert.False(t, f.store.Contains(2, now))
	assert.True(t, f.store.Contains(1, now))
}

func TestEngineThresholdOneDisablesPrecache(t *testing.T) {
	f := newEngineFixture(EngineConfig{PredictionThreshold: 1.0}, StoreConfig{Capacity: 8})

	f.patterns.UpdatePattern(1, 2, 100)
	f.engine.TriggerPrecache(context.Background(), 1, f.clock.Now())

	assert.Zero(t, f.engine.Stats().PrecacheAttempts)
	assert.Zero(t, f.provider.generated[2])
}

func TestEngineCapacityZeroSkipsPrecache(t *testing.T) {
	f := newEngineFixture(EngineConfig{PredictionThreshold: 0.5}, StoreConfig{Capacity: 0})

	f.patterns.UpdatePattern(1, 2, 9)
	f.engine.TriggerPrecache(context.Background(), 1, f.clock.Now())

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.PrecacheAttempts)
	assert.Equal(t, int64(1), stats.PrecacheSkips)
	assert.Zero(t, f.provider.generated[2])
}

func TestEngineObserveServedTracksClients(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})
	ctx := context.Background()
	now := f.clock.Now()

	// First sight of a client is a session start: no transition recorded.
	f.engine.ObserveServed(ctx, "alice", 1, now)
	assert.Zero(t, f.patterns.Stats().TotalTransitions)

	f.engine.ObserveServed(ctx, "alice", 2, now)
	assert.Equal(t, int64(1), f.patterns.TransitionCount(1, 2))

	// Separate clients keep separate histories.
	f.engine.ObserveServed(ctx, "bob", 5, now)
	f.engine.ObserveServed(ctx, "bob", 6, now)
	assert.Equal(t, int64(1), f.patterns.TransitionCount(5, 6))
	assert.Zero(t, f.patterns.TransitionCount(2, 5))

	assert.Equal(t, 2, f.engine.Stats().ActiveClients)

	// A forgotten client starts a new session.
	f.engine.ForgetClient("alice")
	f.engine.ObserveServed(ctx, "alice", 9, now)
	assert.Zero(t, f.patterns.TransitionCount(2, 9))
}

func TestEngineOnPageServedSessionStart(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})
	ctx := context.Background()

	f.engine.OnPageServed(ctx, "client-1", types.NoPage, 1, f.clock.Now())
	assert.Zero(t, f.patterns.Stats().TotalTransitions)

	f.engine.OnPageServed(ctx, "client-1", 1, 2, f.clock.Now())
	assert.Equal(t, int64(1), f.patterns.TransitionCount(1, 2))
}

func TestEngineSetLearning(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})
	ctx := context.Background()

	f.engine.SetLearning(false)
	_, _, err := f.engine.ServePage(ctx, "client-1", 1, f.clock.Now())
	require.NoError(t, err)
	_, _, err = f.engine.ServePage(ctx, "client-1", 2, f.clock.Now())
	require.NoError(t, err)

	assert.Zero(t, f.patterns.Stats().TotalTransitions)

	// Serving still works while learning is off.
	_, hit, err := f.engine.ServePage(ctx, "client-1", 1, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestEnginePeriodicDecay(t *testing.T) {
	cfg := EngineConfig{
		DecayFactor:   0.5,
		DecayInterval: time.Minute,
	}
	f := newEngineFixture(cfg, StoreConfig{Capacity: 8})

	f.patterns.UpdatePattern(1, 2, 8)

	f.engine.Start()
	defer f.engine.Stop()

	f.clock.Advance(time.Minute)
	assert.Equal(t, int64(4), f.patterns.TransitionCount(1, 2))

	// The decay timer reschedules itself.
	f.clock.Advance(time.Minute)
	assert.Equal(t, int64(2), f.patterns.TransitionCount(1, 2))

	f.engine.Stop()
	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, int64(2), f.patterns.TransitionCount(1, 2), "decay fired after Stop")
}

func TestEngineStartStopIdempotent(t *testing.T) {
	f := newEngineFixture(EngineConfig{DecayInterval: time.Minute}, StoreConfig{Capacity: 8})

	f.engine.Start()
	f.engine.Start()
	assert.Equal(t, 1, f.clock.Pending())

	f.engine.Stop()
	f.engine.Stop()
	assert.Zero(t, f.clock.Pending())
}

func TestEngineSnapshotWithoutStore(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})

	err := f.engine.SaveSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized))

	err = f.engine.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInitialized))
}

func TestEngineLookupAndStoreGenerated(t *testing.T) {
	f := newEngineFixture(EngineConfig{DefaultTTL: time.Minute}, StoreConfig{Capacity: 8})
	now := f.clock.Now()

	_, hit := f.engine.Lookup(1, now)
	assert.False(t, hit)

	f.engine.StoreGenerated(1, pageBody(1), now)

	content, hit := f.engine.Lookup(1, now)
	require.True(t, hit)
	assert.Equal(t, string(pageBody(1).Body), string(content.Body))

	// StoreGenerated uses the default TTL.
	assert.True(t, f.store.Contains(1, now.Add(59*time.Second)))
	assert.False(t, f.store.Contains(1, now.Add(61*time.Second)))
}

func TestEngineInvalidate(t *testing.T) {
	f := newEngineFixture(EngineConfig{}, StoreConfig{Capacity: 8})
	now := f.clock.Now()

	f.engine.StoreGenerated(1, pageBody(1), now)
	assert.True(t, f.engine.Invalidate(1))
	assert.False(t, f.engine.Invalidate(1))
	_, hit := f.engine.Lookup(1, now)
	assert.False(t, hit)
}
