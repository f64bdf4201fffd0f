package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/precache/precache/pkg/types"
)

// Config represents metrics configuration
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// NewDefaultConfig returns the default metrics configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9090,
		Path:           "/metrics",
		Namespace:      "precache",
		UpdateInterval: 15 * time.Second,
	}
}

// StatsSource supplies the gauge values the collector polls periodically.
// The cache engine satisfies it.
type StatsSource interface {
	StoreStats() types.CacheStats
	PatternStats() types.PatternStats
}

// Collector exposes cache activity as Prometheus metrics and implements
// types.MetricsSink. A disabled collector is inert: every method is safe to
// call and does nothing.
type Collector struct {
	config *Config
	source StatsSource

	registry *prometheus.Registry
	server   *http.Server
	cancel   context.CancelFunc

	lookups            *prometheus.CounterVec
	lookupDuration     prometheus.Histogram
	inserts            *prometheus.CounterVec
	insertedBytes      prometheus.Counter
	evictions          *prometheus.CounterVec
	expirations        *prometheus.CounterVec
	invalidations      prometheus.Counter
	predictions        prometheus.Counter
	predictionRequests prometheus.Counter
	precacheInserts    prometheus.Counter
	precacheSkips      *prometheus.CounterVec
	generationFailures prometheus.Counter
	timeSavedSeconds   prometheus.Counter

	entriesGauge     prometheus.Gauge
	bytesGauge       prometheus.Gauge
	pagesGauge       prometheus.Gauge
	transitionsGauge prometheus.Gauge
}

// NewCollector creates a collector. A nil config uses defaults; a disabled
// config yields an inert collector.
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = NewDefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "precache"
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 15 * time.Second
	}

	c := &Collector{config: config}
	if !config.Enabled {
		return c
	}

	ns := config.Namespace
	c.registry = prometheus.NewRegistry()

	c.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "lookups_total",
		Help: "Cache lookups by result.",
	}, []string{"result"})

	c.lookupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "lookup_duration_seconds",
		Help:    "Cache lookup latency.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	c.inserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "inserts_total",
		Help: "Content inserted into the cache, by admission kind.",
	}, []string{"kind"})

	c.insertedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "inserted_bytes_total",
		Help: "Total bytes of content inserted into the cache.",
	})

	c.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "evictions_total",
		Help: "Capacity evictions by policy.",
	}, []string{"policy"})

	c.expirations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "expirations_total",
		Help: "TTL expirations by trigger.",
	}, []string{"trigger"})

	c.invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "invalidations_total",
		Help: "Explicit cache invalidations.",
	})

	c.predictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "predictions_total",
		Help: "Prediction candidates produced for precaching.",
	})

	c.predictionRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "prediction_requests_total",
		Help: "Prediction queries evaluated.",
	})

	c.precacheInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "precache_inserts_total",
		Help: "Speculative entries admitted ahead of demand.",
	})

	c.precacheSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "precache_skips_total",
		Help: "Precache candidates not inserted, by reason.",
	}, []string{"reason"})

	c.generationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "generation_failures_total",
		Help: "Content provider errors.",
	})

	c.timeSavedSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "time_saved_seconds_total",
		Help: "Estimated processing time avoided by cache hits.",
	})

	c.entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "entries",
		Help: "Entries currently cached.",
	})

	c.bytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "bytes",
		Help: "Bytes of content currently cached.",
	})

	c.pagesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "pattern_pages",
		Help: "Pages with learned outgoing transitions.",
	})

	c.transitionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "pattern_transitions",
		Help: "Distinct learned transitions.",
	})

	c.registry.MustRegister(
		c.lookups, c.lookupDuration, c.inserts, c.insertedBytes,
		c.evictions, c.expirations, c.invalidations,
		c.predictions, c.predictionRequests,
		c.precacheInserts, c.precacheSkips,
		c.generationFailures, c.timeSavedSeconds,
		c.entriesGauge, c.bytesGauge, c.pagesGauge, c.transitionsGauge,
	)

	return c
}

// SetStatsSource attaches the source polled by the gauge update loop. Call
// before Start.
func (c *Collector) SetStatsSource(source StatsSource) {
	c.source = source
}

// Enabled reports whether the collector records and serves metrics.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Start serves the metrics and health endpoints and begins the gauge update
// loop. A no-op when disabled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.updateLoop(loopCtx)

	return nil
}

// Stop shuts the metrics listener down and stops the update loop.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Registry returns the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// updateLoop refreshes the gauges from the stats source.
func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.UpdateGauges()
		}
	}
}

// UpdateGauges refreshes the gauges once. Exposed so callers can force a
// refresh outside the loop cadence.
func (c *Collector) UpdateGauges() {
	if !c.config.Enabled || c.source == nil {
		return
	}

	store := c.source.StoreStats()
	c.entriesGauge.Set(float64(store.Entries))
	c.bytesGauge.Set(float64(store.Bytes))

	patterns := c.source.PatternStats()
	c.pagesGauge.Set(float64(patterns.Pages))
	c.transitionsGauge.Set(float64(patterns.Transitions))
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// MetricsSink implementation. Every method tolerates a disabled collector.

func (c *Collector) RecordLookup(hit bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.lookups.WithLabelValues(result).Inc()
	c.lookupDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordInsert(speculative bool, bytes int64) {
	if !c.config.Enabled {
		return
	}
	kind := "demand"
	if speculative {
		kind = "speculative"
	}
	c.inserts.WithLabelValues(kind).Inc()
	c.insertedBytes.Add(float64(bytes))
}

func (c *Collector) RecordEviction(policy string) {
	if !c.config.Enabled {
		return
	}
	c.evictions.WithLabelValues(policy).Inc()
}

func (c *Collector) RecordExpiration(trigger string) {
	if !c.config.Enabled {
		return
	}
	c.expirations.WithLabelValues(trigger).Inc()
}

func (c *Collector) RecordInvalidation() {
	if !c.config.Enabled {
		return
	}
	c.invalidations.Inc()
}

func (c *Collector) RecordPredictions(count int) {
	if !c.config.Enabled {
		return
	}
	c.predictionRequests.Inc()
	c.predictions.Add(float64(count))
}

func (c *Collector) RecordPrecacheInsert() {
	if !c.config.Enabled {
		return
	}
	c.precacheInserts.Inc()
}

func (c *Collector) RecordPrecacheSkip(reason string) {
	if !c.config.Enabled {
		return
	}
	c.precacheSkips.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordGenerationFailure() {
	if !c.config.Enabled {
		return
	}
	c.generationFailures.Inc()
}

func (c *Collector) RecordTimeSaved(duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.timeSavedSeconds.Add(duration.Seconds())
}

var _ types.MetricsSink = (*Collector)(nil)
