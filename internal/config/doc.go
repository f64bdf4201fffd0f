/*
Package config provides configuration management for the predictive cache
with multi-source support.

Configuration merges three sources with increasing precedence: compiled-in
defaults (NewDefault), a YAML file (LoadFromFile), and PRECACHE_* environment
variables (LoadFromEnv). Validate checks the merged result before anything is
wired.

# Sections

The YAML layout mirrors the runtime components:

	pattern:
	  confidence_threshold: 0.3
	  max_predictions: 5
	store:
	  capacity: 1024
	  sweep_interval: 30s
	  eviction_policy: lru
	engine:
	  prediction_threshold: 0.6
	  default_ttl: 60s
	  speculative_ttl: 15s
	  processing_cost_estimate: 50ms
	  decay_factor: 0.95
	  decay_interval: 10m
	origin:
	  provider: synthetic   # or s3
	  s3:
	    bucket: rendered-pages
	    region: us-east-1
	  breaker_enabled: true
	persistence:
	  enabled: false
	  path: /var/lib/precache/snapshots
	metrics:
	  enabled: true
	  port: 9090
	api:
	  host: 0.0.0.0
	  port: 8080
	logging:
	  level: INFO
	simulation:
	  seed: 1
	  clients: 10
	  workload: sequential

Sections omitted from the file keep their defaults. Malformed environment
values are ignored rather than fatal, so a bad override never takes down a
healthy default.

# Environment Variables

The common knobs have PRECACHE_* overrides, for example PRECACHE_CAPACITY,
PRECACHE_PREDICTION_THRESHOLD, PRECACHE_ORIGIN_PROVIDER, PRECACHE_S3_BUCKET,
PRECACHE_API_PORT, and PRECACHE_LOG_LEVEL. See LoadFromEnv for the full set.
*/
package config
