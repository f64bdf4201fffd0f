/*
Package types provides the core interfaces and data structures shared by the
precache components.

The package defines the contracts between the cache layers and establishes the
data structures used throughout the codebase.

# Core Interfaces

ContentProvider:
Abstracts the origin that produces page content on a cache miss. Implementations
range from a synthetic generator used in tests and simulations to an S3-backed
provider for real deployments.

MetricsSink:
Receives cache events (lookups, inserts, evictions, expirations) as they
happen. The engine and the store report through this interface so that metrics
backends can be swapped without touching cache logic.

# Data Structures

PageID:
Identifies a unit of cacheable content. Valid IDs are non-negative; the NoPage
sentinel marks "no page" (session start, nothing to predict from).

Prediction:
A candidate next page together with its observed transition probability,
ordered by the pattern learner from most to least likely.

Statistics Types:
PatternStats, CacheStats and EngineStats snapshot the counters of the three
cache layers for the HTTP API and the Prometheus collector.

# Interface Contracts

All interfaces in this package follow these principles:

 1. Context Awareness: blocking operations accept context.Context
 2. Error Handling: all operations return explicit errors following Go conventions
 3. Thread Safety: implementations must be safe for concurrent use
*/
package types
