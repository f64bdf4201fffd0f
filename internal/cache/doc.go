/*
Package cache implements the predictive content cache: a pattern learner, a
bounded TTL cache store, and the engine that ties them together.

# Components

PatternTable learns first-order navigation patterns online. Every observed
(fromPage -> toPage) step increments a transition counter; prediction queries
rank the successors of a page by empirical probability and gate them on a
confidence threshold. Prediction results are memoized per page and
invalidated by writes that touch the page, so read-heavy workloads rarely
recompute. Periodic decay ages counts so the table tracks shifting patterns.

Store is a bounded page -> content cache. Entries carry an individual TTL
enforced three ways: a per-entry timer scheduled through timer.Service, a
periodic defensive sweep, and a lazy check on lookup. At capacity the store
sweeps expired entries first and then evicts one victim under the configured
policy (LRU, LFU, or FIFO).

Engine glues the two together. Every served page feeds the learner; the
learner's confident predictions are generated ahead of demand through a
types.ContentProvider and parked in the store under a short speculative TTL,
so the client's likely next request becomes a cache hit.

# Usage

	clock := timer.NewWallClock()
	patterns := cache.NewPatternTable(cache.PatternConfig{})
	store := cache.NewStore(cache.StoreConfig{Capacity: 1024}, clock, nil)
	engine := cache.NewEngine(cache.EngineConfig{}, patterns, store, provider, clock)

	engine.Start()
	defer engine.Stop()

	content, hit, err := engine.ServePage(ctx, clientID, page, clock.Now())

# Concurrency

PatternTable and Store are each independently safe for concurrent use. The
engine adds its own mutex around compound flows (check-then-insert during
precache, lookup-then-generate during serving) so they execute atomically
with respect to each other.

# Persistence

Learned patterns survive restarts through PatternSnapshot and a
SnapshotStore; BadgerSnapshotStore keeps the latest snapshot plus a short
history in an embedded badger database. Cached content is deliberately not
persisted: it is cheap to regenerate and its TTLs are short.

# Time

All components take time as an explicit parameter or through an injected
timer.Service, so tests and simulations drive them with a deterministic
virtual clock while production uses the wall clock.
*/
package cache
