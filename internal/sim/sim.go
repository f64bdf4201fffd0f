package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/precache/precache/internal/cache"
	"github.com/precache/precache/internal/origin"
	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/types"
)

// Config represents simulation configuration
type Config struct {
	// Seed for all random streams. Runs with the same seed and settings
	// produce identical reports.
	Seed int64 `yaml:"seed"`

	Clients           int    `yaml:"clients"`
	Pages             int    `yaml:"pages"`
	RequestsPerClient int    `yaml:"requests_per_client"`
	Workload          string `yaml:"workload"`

	// Mean of the exponential pause between a client's navigations
	MeanThinkTime time.Duration `yaml:"mean_think_time"`

	// Mean of the exponential server delay for generating a missed page
	MeanProcessingTime time.Duration `yaml:"mean_processing_time"`

	// Fixed server delay for serving a cached page
	CacheHitCost time.Duration `yaml:"cache_hit_cost"`

	// Entries in each client's local ARC cache
	ClientCacheSize int `yaml:"client_cache_size"`

	Pattern cache.PatternConfig `yaml:"pattern"`
	Store   cache.StoreConfig   `yaml:"store"`
	Engine  cache.EngineConfig  `yaml:"engine"`
}

// NewDefaultConfig returns the default simulation configuration.
func NewDefaultConfig() Config {
	return Config{
		Seed:               1,
		Clients:            10,
		Pages:              100,
		RequestsPerClient:  100,
		Workload:           WorkloadSequential,
		MeanThinkTime:      500 * time.Millisecond,
		MeanProcessingTime: 50 * time.Millisecond,
		CacheHitCost:       time.Millisecond,
		ClientCacheSize:    16,
		Store:              cache.StoreConfig{Capacity: 1024},
	}
}

// simEpoch anchors virtual time so reports are stable across runs.
var simEpoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Simulation drives seeded clients against a cache engine on a virtual
// clock. Build with New, run once with Run.
type Simulation struct {
	cfg     Config
	clock   *timer.VirtualClock
	engine  *cache.Engine
	server  *server
	clients []*client

	finished  int
	lastEvent time.Time
}

// New validates the configuration and wires the simulated world: virtual
// clock, synthetic origin, cache engine, and clients.
func New(cfg Config) (*Simulation, error) {
	if cfg.Clients <= 0 {
		return nil, fmt.Errorf("simulation needs at least one client, got %d", cfg.Clients)
	}
	if cfg.RequestsPerClient <= 0 {
		return nil, fmt.Errorf("simulation needs a positive request count, got %d", cfg.RequestsPerClient)
	}
	if cfg.Pages <= 0 {
		cfg.Pages = 100
	}
	if cfg.Workload == "" {
		cfg.Workload = WorkloadSequential
	}
	if cfg.ClientCacheSize <= 0 {
		cfg.ClientCacheSize = 16
	}

	clock := timer.NewVirtualClock(simEpoch)
	provider := origin.NewSynthetic(origin.SyntheticConfig{Pages: cfg.Pages})

	patterns := cache.NewPatternTable(cfg.Pattern)
	store := cache.NewStore(cfg.Store, clock, nil)
	engine := cache.NewEngine(cfg.Engine, patterns, store, provider, clock)

	srv := &server{
		engine:   engine,
		provider: provider,
		clock:    clock,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		hitCost:  cfg.CacheHitCost,
		meanProc: cfg.MeanProcessingTime,
	}

	clients := make([]*client, cfg.Clients)
	for i := range clients {
		c, err := newClient(cfg, i)
		if err != nil {
			return nil, err
		}
		clients[i] = c
	}

	return &Simulation{
		cfg:     cfg,
		clock:   clock,
		engine:  engine,
		server:  srv,
		clients: clients,
	}, nil
}

// Run plays the simulation to completion and returns the report. The clock
// is advanced in fixed steps until every client has issued its quota, so a
// configured periodic sweep or decay cannot keep the run alive forever.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	s.engine.Start()

	start := s.clock.Now()
	s.lastEvent = start
	for _, c := range s.clients {
		s.scheduleNext(ctx, c)
	}

	for s.finished < len(s.clients) && s.clock.Pending() > 0 {
		if err := ctx.Err(); err != nil {
			s.engine.Stop()
			return nil, err
		}
		s.clock.Advance(time.Second)
	}

	s.engine.Stop()
	return s.report(start), nil
}

// scheduleNext queues the client's next navigation after its think time.
func (s *Simulation) scheduleNext(ctx context.Context, c *client) {
	s.clock.Schedule(c.thinkTime(), func() {
		s.step(ctx, c)
	})
}

// step issues one navigation for the client, or retires it when its quota
// is spent.
func (s *Simulation) step(ctx context.Context, c *client) {
	if c.remaining == 0 {
		s.finished++
		return
	}
	c.remaining--
	c.requests++

	page := c.walk.next()
	if _, ok := c.local.Get(page); ok {
		c.localHits++
		s.lastEvent = s.clock.Now()
		s.scheduleNext(ctx, c)
		return
	}

	s.server.handle(ctx, c.id, page, func(content *types.PageContent, hit bool, err error) {
		if err != nil {
			c.errors++
		} else {
			c.local.Add(page, content.Body)
		}
		s.lastEvent = s.clock.Now()
		s.scheduleNext(ctx, c)
	})
}

// report assembles the final numbers after the run.
func (s *Simulation) report(start time.Time) *Report {
	r := &Report{
		Workload: s.cfg.Workload,
		Seed:     s.cfg.Seed,
		Clients:  len(s.clients),
		Pages:    s.cfg.Pages,
		Duration: s.lastEvent.Sub(start),

		ServerRequests:   s.server.requests,
		ServerHits:       s.server.hits,
		ServerMisses:     s.server.misses,
		GenerationErrors: s.server.failures,

		Engine:   s.engine.Stats(),
		Store:    s.engine.StoreStats(),
		Patterns: s.engine.PatternStats(),
	}
	for _, c := range s.clients {
		r.Requests += c.requests
		r.LocalHits += c.localHits
	}
	if r.ServerRequests > 0 {
		r.ServerHitRate = float64(r.ServerHits) / float64(r.ServerRequests)
	}
	return r
}

// TopTransitions exposes the learned navigation edges after a run, most
// frequent first.
func (s *Simulation) TopTransitions(limit int) []types.TransitionCount {
	return s.engine.TopTransitions(limit)
}

// Report summarizes one simulation run.
type Report struct {
	Workload string `json:"workload"`
	Seed     int64  `json:"seed"`
	Clients  int    `json:"clients"`
	Pages    int    `json:"pages"`

	Requests         int64         `json:"requests"`
	LocalHits        int64         `json:"local_hits"`
	ServerRequests   int64         `json:"server_requests"`
	ServerHits       int64         `json:"server_hits"`
	ServerMisses     int64         `json:"server_misses"`
	ServerHitRate    float64       `json:"server_hit_rate"`
	GenerationErrors int64         `json:"generation_errors"`
	Duration         time.Duration `json:"duration"`

	Engine   types.EngineStats  `json:"engine"`
	Store    types.CacheStats   `json:"store"`
	Patterns types.PatternStats `json:"patterns"`
}

// String renders the report for the CLI.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workload=%s seed=%d clients=%d pages=%d\n", r.Workload, r.Seed, r.Clients, r.Pages)
	fmt.Fprintf(&b, "requests: %d total, %d served locally, %d reached the server\n", r.Requests, r.LocalHits, r.ServerRequests)
	fmt.Fprintf(&b, "server cache: %d hits / %d misses (%.1f%% hit rate)\n", r.ServerHits, r.ServerMisses, r.ServerHitRate*100)
	fmt.Fprintf(&b, "precache: %d inserted, %d skipped, %d generation failures\n", r.Engine.PrecacheInserts, r.Engine.PrecacheSkips, r.GenerationErrors)
	fmt.Fprintf(&b, "patterns: %d pages, %d transitions learned\n", r.Patterns.Pages, r.Patterns.Transitions)
	fmt.Fprintf(&b, "time: %s simulated, %s estimated saved\n", r.Duration, r.Engine.TimeSaved)
	return b.String()
}
