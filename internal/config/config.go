package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/precache/precache/internal/cache"
	"github.com/precache/precache/internal/circuit"
	"github.com/precache/precache/internal/metrics"
	"github.com/precache/precache/internal/origin"
	"github.com/precache/precache/internal/sim"
)

// Origin provider names accepted by OriginConfig.Provider.
const (
	ProviderSynthetic = "synthetic"
	ProviderS3        = "s3"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Pattern     cache.PatternConfig `yaml:"pattern"`
	Store       cache.StoreConfig   `yaml:"store"`
	Engine      cache.EngineConfig  `yaml:"engine"`
	Origin      OriginConfig        `yaml:"origin"`
	Persistence PersistenceConfig   `yaml:"persistence"`
	Metrics     metrics.Config      `yaml:"metrics"`
	API         APIConfig           `yaml:"api"`
	Logging     LoggingConfig       `yaml:"logging"`
	Simulation  sim.Config          `yaml:"simulation"`
}

// OriginConfig selects and configures the content provider
type OriginConfig struct {
	// Provider is "synthetic" or "s3"
	Provider  string                 `yaml:"provider"`
	Synthetic origin.SyntheticConfig `yaml:"synthetic"`
	S3        origin.S3Config        `yaml:"s3"`

	// Wrap the provider in a circuit breaker
	BreakerEnabled bool           `yaml:"breaker_enabled"`
	Breaker        circuit.Config `yaml:"breaker"`
}

// PersistenceConfig represents pattern snapshot persistence settings
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig represents HTTP API settings
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Pattern: cache.PatternConfig{
			ConfidenceThreshold: 0.3,
			MaxPredictions:      5,
		},
		Store: cache.StoreConfig{
			Capacity:       1024,
			SweepInterval:  30 * time.Second,
			EvictionPolicy: cache.PolicyLRU,
		},
		Engine: cache.EngineConfig{
			PredictionThreshold:    0.6,
			SpeculativeTTL:         15 * time.Second,
			DefaultTTL:             60 * time.Second,
			ProcessingCostEstimate: 50 * time.Millisecond,
			DecayFactor:            0.95,
			DecayInterval:          10 * time.Minute,
			SnapshotInterval:       5 * time.Minute,
		},
		Origin: OriginConfig{
			Provider: ProviderSynthetic,
			Synthetic: origin.SyntheticConfig{
				Pages:    100,
				NavLinks: 5,
				BodySize: 2048,
			},
			S3: origin.S3Config{
				Region:     "us-east-1",
				Prefix:     "pages/",
				MaxRetries: 3,
			},
			BreakerEnabled: true,
			Breaker: circuit.Config{
				Timeout: 30 * time.Second,
			},
		},
		Persistence: PersistenceConfig{
			Enabled: false,
			Path:    "/var/lib/precache/snapshots",
		},
		Metrics: *metrics.NewDefaultConfig(),
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			File:  "",
		},
		Simulation: sim.NewDefaultConfig(),
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Logging
	if val := os.Getenv("PRECACHE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("PRECACHE_LOG_FILE"); val != "" {
		c.Logging.File = val
	}

	// Store
	if val := os.Getenv("PRECACHE_CAPACITY"); val != "" {
		if capacity, err := strconv.Atoi(val); err == nil {
			c.Store.Capacity = capacity
		}
	}
	if val := os.Getenv("PRECACHE_EVICTION_POLICY"); val != "" {
		c.Store.EvictionPolicy = strings.ToLower(val)
	}
	if val := os.Getenv("PRECACHE_SWEEP_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Store.SweepInterval = duration
		}
	}

	// Engine
	if val := os.Getenv("PRECACHE_PREDICTION_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			c.Engine.PredictionThreshold = threshold
		}
	}
	if val := os.Getenv("PRECACHE_DEFAULT_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Engine.DefaultTTL = duration
		}
	}
	if val := os.Getenv("PRECACHE_SPECULATIVE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Engine.SpeculativeTTL = duration
		}
	}

	// Pattern learner
	if val := os.Getenv("PRECACHE_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			c.Pattern.ConfidenceThreshold = threshold
		}
	}
	if val := os.Getenv("PRECACHE_MAX_PREDICTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Pattern.MaxPredictions = n
		}
	}

	// Origin
	if val := os.Getenv("PRECACHE_ORIGIN_PROVIDER"); val != "" {
		c.Origin.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("PRECACHE_S3_BUCKET"); val != "" {
		c.Origin.S3.Bucket = val
	}
	if val := os.Getenv("PRECACHE_S3_REGION"); val != "" {
		c.Origin.S3.Region = val
	}
	if val := os.Getenv("PRECACHE_S3_ENDPOINT"); val != "" {
		c.Origin.S3.Endpoint = val
	}

	// Persistence
	if val := os.Getenv("PRECACHE_PERSISTENCE_ENABLED"); val != "" {
		c.Persistence.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PRECACHE_SNAPSHOT_PATH"); val != "" {
		c.Persistence.Path = val
	}

	// Serving ports
	if val := os.Getenv("PRECACHE_API_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.API.Port = port
		}
	}
	if val := os.Getenv("PRECACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("PRECACHE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Pattern.ConfidenceThreshold < 0 || c.Pattern.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1], got %g", c.Pattern.ConfidenceThreshold)
	}
	if c.Pattern.MaxPredictions < 0 {
		return fmt.Errorf("max_predictions must not be negative")
	}

	if c.Store.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	switch c.Store.EvictionPolicy {
	case "", cache.PolicyLRU, cache.PolicyLFU, cache.PolicyFIFO:
	default:
		return fmt.Errorf("invalid eviction_policy: %s (must be one of: %s)",
			c.Store.EvictionPolicy, strings.Join([]string{cache.PolicyLRU, cache.PolicyLFU, cache.PolicyFIFO}, ", "))
	}

	if c.Engine.PredictionThreshold < 0 {
		return fmt.Errorf("prediction_threshold must not be negative")
	}
	if c.Engine.SpeculativeTTL < 0 || c.Engine.DefaultTTL < 0 {
		return fmt.Errorf("ttl values must not be negative")
	}
	if c.Engine.DecayFactor < 0 || c.Engine.DecayFactor > 1 {
		return fmt.Errorf("decay_factor must be within [0, 1], got %g", c.Engine.DecayFactor)
	}

	switch c.Origin.Provider {
	case ProviderSynthetic:
	case ProviderS3:
		if c.Origin.S3.Bucket == "" {
			return fmt.Errorf("s3 origin requires a bucket")
		}
		if c.Origin.S3.Region == "" {
			return fmt.Errorf("s3 origin requires a region")
		}
	default:
		return fmt.Errorf("invalid origin provider: %s (must be one of: %s)",
			c.Origin.Provider, strings.Join([]string{ProviderSynthetic, ProviderS3}, ", "))
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return fmt.Errorf("persistence requires a snapshot path")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.API.Port {
			return fmt.Errorf("metrics port and api port cannot be the same")
		}
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Logging.Level) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	return nil
}
