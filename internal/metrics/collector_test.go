package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/precache/precache/pkg/types"
)

func TestNewCollectorDefaults(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	if !c.Enabled() {
		t.Error("default collector should be enabled")
	}
	if c.config.Port != 9090 {
		t.Errorf("default port = %d, want 9090", c.config.Port)
	}
	if c.config.Path != "/metrics" {
		t.Errorf("default path = %q, want /metrics", c.config.Path)
	}
	if c.config.Namespace != "precache" {
		t.Errorf("default namespace = %q, want precache", c.config.Namespace)
	}
	if c.Registry() == nil {
		t.Error("registry is nil for enabled collector")
	}
}

func TestDisabledCollectorIsInert(t *testing.T) {
	t.Parallel()

	c := NewCollector(&Config{Enabled: false})

	if c.Enabled() {
		t.Error("collector should be disabled")
	}
	if c.Registry() != nil {
		t.Error("disabled collector should have no registry")
	}

	// None of these may panic.
	c.RecordLookup(true, time.Millisecond)
	c.RecordInsert(false, 100)
	c.RecordEviction("lru")
	c.RecordExpiration(types.ExpireTriggerTimer)
	c.RecordInvalidation()
	c.RecordPredictions(3)
	c.RecordPrecacheInsert()
	c.RecordPrecacheSkip("already_cached")
	c.RecordGenerationFailure()
	c.RecordTimeSaved(time.Second)
	c.UpdateGauges()

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Errorf("Start on disabled collector: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop on disabled collector: %v", err)
	}
}

func TestCollectorCounters(t *testing.T) {
	t.Parallel()

	c := NewCollector(&Config{Enabled: true})

	c.RecordLookup(true, time.Millisecond)
	c.RecordLookup(true, time.Millisecond)
	c.RecordLookup(false, time.Millisecond)
	if got := testutil.ToFloat64(c.lookups.WithLabelValues("hit")); got != 2 {
		t.Errorf("hit lookups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.lookups.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss lookups = %v, want 1", got)
	}

	c.RecordInsert(false, 100)
	c.RecordInsert(true, 50)
	if got := testutil.ToFloat64(c.inserts.WithLabelValues("demand")); got != 1 {
		t.Errorf("demand inserts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.inserts.WithLabelValues("speculative")); got != 1 {
		t.Errorf("speculative inserts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.insertedBytes); got != 150 {
		t.Errorf("inserted bytes = %v, want 150", got)
	}

	c.RecordEviction("lru")
	if got := testutil.ToFloat64(c.evictions.WithLabelValues("lru")); got != 1 {
		t.Errorf("lru evictions = %v, want 1", got)
	}

	c.RecordExpiration(types.ExpireTriggerSweep)
	if got := testutil.ToFloat64(c.expirations.WithLabelValues(types.ExpireTriggerSweep)); got != 1 {
		t.Errorf("sweep expirations = %v, want 1", got)
	}

	c.RecordInvalidation()
	if got := testutil.ToFloat64(c.invalidations); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}

	c.RecordPredictions(3)
	c.RecordPredictions(0)
	if got := testutil.ToFloat64(c.predictions); got != 3 {
		t.Errorf("predictions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.predictionRequests); got != 2 {
		t.Errorf("prediction requests = %v, want 2", got)
	}

	c.RecordPrecacheInsert()
	c.RecordPrecacheSkip("already_cached")
	c.RecordGenerationFailure()
	if got := testutil.ToFloat64(c.precacheInserts); got != 1 {
		t.Errorf("precache inserts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.precacheSkips.WithLabelValues("already_cached")); got != 1 {
		t.Errorf("precache skips = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.generationFailures); got != 1 {
		t.Errorf("generation failures = %v, want 1", got)
	}

	c.RecordTimeSaved(1500 * time.Millisecond)
	if got := testutil.ToFloat64(c.timeSavedSeconds); got != 1.5 {
		t.Errorf("time saved = %v, want 1.5", got)
	}
}

type stubStatsSource struct {
	store    types.CacheStats
	patterns types.PatternStats
}

func (s *stubStatsSource) StoreStats() types.CacheStats     { return s.store }
func (s *stubStatsSource) PatternStats() types.PatternStats { return s.patterns }

func TestCollectorGauges(t *testing.T) {
	t.Parallel()

	c := NewCollector(&Config{Enabled: true})
	c.SetStatsSource(&stubStatsSource{
		store:    types.CacheStats{Entries: 12, Bytes: 4096},
		patterns: types.PatternStats{Pages: 7, Transitions: 21},
	})

	c.UpdateGauges()

	if got := testutil.ToFloat64(c.entriesGauge); got != 12 {
		t.Errorf("entries gauge = %v, want 12", got)
	}
	if got := testutil.ToFloat64(c.bytesGauge); got != 4096 {
		t.Errorf("bytes gauge = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(c.pagesGauge); got != 7 {
		t.Errorf("pages gauge = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.transitionsGauge); got != 21 {
		t.Errorf("transitions gauge = %v, want 21", got)
	}
}

func TestCollectorGaugesWithoutSource(t *testing.T) {
	t.Parallel()

	c := NewCollector(&Config{Enabled: true})
	// Must not panic with no source attached.
	c.UpdateGauges()
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	c := NewCollector(&Config{Enabled: true})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	c.healthHandler(rec, req)

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMetricNames(t *testing.T) {
	t.Parallel()

	c := NewCollector(&Config{Enabled: true, Namespace: "precache"})
	c.RecordLookup(true, time.Millisecond)
	c.RecordPrecacheInsert()

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"precache_lookups_total",
		"precache_lookup_duration_seconds",
		"precache_precache_inserts_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
