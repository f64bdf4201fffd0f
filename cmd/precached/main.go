// Package main provides the precached CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/precache/precache/internal/cache"
	"github.com/precache/precache/internal/config"
	"github.com/precache/precache/internal/metrics"
	"github.com/precache/precache/internal/origin"
	"github.com/precache/precache/internal/sim"
	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/api"
	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
	"github.com/precache/precache/pkg/utils"
)

var (
	version   = "0.3.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "precached",
		Short: "precached - Predictive content cache daemon",
		Long: `precached serves dynamically generated pages through a predictive cache.

It learns per-client navigation patterns (which page tends to follow which),
and generates the likely next pages ahead of demand, parking them in a
bounded TTL cache so the next click is a hit instead of a render.`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("precached v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cache daemon",
		Long:  "Start the predictive cache with its HTTP API and metrics endpoints",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", getEnvStr("PRECACHE_CONFIG", ""), "Configuration file (YAML)")
	serveCmd.Flags().String("address", getEnvStr("PRECACHE_ADDRESS", ""), "API bind address, overrides config host:port")
	serveCmd.Flags().Int("capacity", 0, "Cache capacity in entries, overrides config")
	serveCmd.Flags().String("origin", getEnvStr("PRECACHE_ORIGIN_PROVIDER", ""), "Origin provider: synthetic, s3")
	serveCmd.Flags().String("snapshot-path", getEnvStr("PRECACHE_SNAPSHOT_PATH", ""), "Pattern snapshot directory, enables persistence")
	rootCmd.AddCommand(serveCmd)

	// Simulate command
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a deterministic workload simulation",
		Long:  "Replay a seeded navigation workload against an in-process cache and print the resulting report",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().String("config", getEnvStr("PRECACHE_CONFIG", ""), "Configuration file (YAML)")
	simulateCmd.Flags().Int64("seed", 0, "Random seed, overrides config")
	simulateCmd.Flags().Int("clients", 0, "Simulated clients, overrides config")
	simulateCmd.Flags().Int("requests", 0, "Requests per client, overrides config")
	simulateCmd.Flags().String("workload", "", "Workload: sequential, hotspot, random")
	simulateCmd.Flags().Bool("dump-patterns", false, "Print the learned top transitions after the run")
	rootCmd.AddCommand(simulateCmd)

	// Patterns command
	patternsCmd := &cobra.Command{
		Use:   "patterns",
		Short: "Dump learned transitions from a snapshot store",
		RunE:  runPatterns,
	}
	patternsCmd.Flags().String("snapshot-path", getEnvStr("PRECACHE_SNAPSHOT_PATH", ""), "Pattern snapshot directory")
	patternsCmd.Flags().Int("limit", 20, "Transitions to print")
	rootCmd.AddCommand(patternsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfiguration merges defaults, an optional file, and the environment.
func loadConfiguration(cmd *cobra.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()

	if file, _ := cmd.Flags().GetString("config"); file != "" {
		if err := cfg.LoadFromFile(file); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	// Flag overrides beat file and environment.
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		host, port, ok := splitAddress(address)
		if !ok {
			return fmt.Errorf("invalid address %q, want host:port", address)
		}
		cfg.API.Host = host
		cfg.API.Port = port
	}
	if capacity, _ := cmd.Flags().GetInt("capacity"); capacity > 0 {
		cfg.Store.Capacity = capacity
	}
	if provider, _ := cmd.Flags().GetString("origin"); provider != "" {
		cfg.Origin.Provider = strings.ToLower(provider)
	}
	if path, _ := cmd.Flags().GetString("snapshot-path"); path != "" {
		cfg.Persistence.Enabled = true
		cfg.Persistence.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := utils.SetupLogging(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	log := logger.WithComponent("main")

	ctx := context.Background()

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(&cfg.Metrics)

	clock := timer.NewWallClock()
	patterns := cache.NewPatternTable(cfg.Pattern)
	store := cache.NewStore(cfg.Store, clock, collector)
	engine := cache.NewEngine(cfg.Engine, patterns, store, provider, clock)
	engine.SetMetricsSink(collector)
	engine.SetLogger(logger)
	collector.SetStatsSource(engine)

	// Pattern persistence: restore what a previous run learned, keep
	// snapshotting while running.
	var snaps *cache.BadgerSnapshotStore
	if cfg.Persistence.Enabled {
		snaps, err = cache.OpenBadgerSnapshotStore(cfg.Persistence.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := snaps.Close(); err != nil {
				log.Warn("Closing snapshot store: %v", err)
			}
		}()
		engine.SetSnapshotStore(snaps)

		if err := engine.LoadSnapshot(ctx); err != nil {
			if !errors.IsCode(err, errors.ErrCodeSnapshotNotFound) {
				return err
			}
			log.Info("No pattern snapshot found, starting cold")
		} else {
			stats := engine.PatternStats()
			log.Info("Restored %d learned transitions across %d pages", stats.Transitions, stats.Pages)
		}
	}

	engine.Start()

	if err := collector.Start(ctx); err != nil {
		return err
	}
	if collector.Enabled() {
		log.Info("Metrics on :%d%s", cfg.Metrics.Port, cfg.Metrics.Path)
	}

	apiConfig := api.DefaultServerConfig()
	apiConfig.Address = fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	apiServer := api.NewServer(apiConfig, engine, logger)
	apiServer.StartBackground()

	log.Info("precached v%s serving on %s (origin: %s, capacity: %d)",
		version, apiConfig.Address, cfg.Origin.Provider, cfg.Store.Capacity)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown: %v", err)
	}
	if err := collector.Stop(shutdownCtx); err != nil {
		log.Warn("Metrics shutdown: %v", err)
	}
	engine.Stop()

	return nil
}

// buildProvider assembles the configured origin, optionally behind a
// circuit breaker.
func buildProvider(ctx context.Context, cfg *config.Configuration) (types.ContentProvider, error) {
	var provider types.ContentProvider
	switch cfg.Origin.Provider {
	case config.ProviderSynthetic:
		provider = origin.NewSynthetic(cfg.Origin.Synthetic)
	case config.ProviderS3:
		s3, err := origin.NewS3Provider(ctx, cfg.Origin.S3, slog.Default())
		if err != nil {
			return nil, err
		}
		provider = s3
	default:
		return nil, fmt.Errorf("unknown origin provider %q", cfg.Origin.Provider)
	}

	if cfg.Origin.BreakerEnabled {
		provider = origin.NewBreakerProvider(provider, cfg.Origin.Breaker)
	}
	return provider, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	simCfg := cfg.Simulation
	// The cache under simulation inherits the daemon's tuning unless the
	// simulation section set its own.
	if simCfg.Pattern == (cache.PatternConfig{}) {
		simCfg.Pattern = cfg.Pattern
	}
	if simCfg.Store == (cache.StoreConfig{}) {
		simCfg.Store = cfg.Store
	}
	if simCfg.Engine == (cache.EngineConfig{}) {
		simCfg.Engine = cfg.Engine
	}

	if seed, _ := cmd.Flags().GetInt64("seed"); seed != 0 {
		simCfg.Seed = seed
	}
	if clients, _ := cmd.Flags().GetInt("clients"); clients > 0 {
		simCfg.Clients = clients
	}
	if requests, _ := cmd.Flags().GetInt("requests"); requests > 0 {
		simCfg.RequestsPerClient = requests
	}
	if workload, _ := cmd.Flags().GetString("workload"); workload != "" {
		simCfg.Workload = strings.ToLower(workload)
	}

	simulation, err := sim.New(simCfg)
	if err != nil {
		return err
	}

	report, err := simulation.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(report.String())

	if dump, _ := cmd.Flags().GetBool("dump-patterns"); dump {
		fmt.Println()
		printTransitions(simulation.TopTransitions(20))
	}
	return nil
}

func runPatterns(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("snapshot-path")
	if path == "" {
		return fmt.Errorf("--snapshot-path is required")
	}
	limit, _ := cmd.Flags().GetInt("limit")

	snaps, err := cache.OpenBadgerSnapshotStore(path)
	if err != nil {
		return err
	}
	defer snaps.Close()

	snap, err := snaps.Load(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("snapshot from %s: %d transitions, %d observations\n",
		snap.CreatedAt.Format(time.RFC3339), len(snap.Transitions), snap.TotalTransitions)

	transitions := make([]types.TransitionCount, len(snap.Transitions))
	copy(transitions, snap.Transitions)
	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Count > transitions[j].Count
	})
	if limit > 0 && len(transitions) > limit {
		transitions = transitions[:limit]
	}
	printTransitions(transitions)
	return nil
}

func printTransitions(transitions []types.TransitionCount) {
	if len(transitions) == 0 {
		fmt.Println("no learned transitions")
		return
	}
	for _, tr := range transitions {
		fmt.Printf("%6d -> %-6d %d\n", tr.From, tr.To, tr.Count)
	}
}

func splitAddress(address string) (string, int, bool) {
	idx := strings.LastIndex(address, ":")
	if idx < 0 {
		return "", 0, false
	}
	port, err := strconv.Atoi(address[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return address[:idx], port, true
}

// getEnvStr returns environment variable or default
func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
