package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/types"
)

// Eviction policies accepted by StoreConfig.
const (
	PolicyLRU  = "lru"
	PolicyLFU  = "lfu"
	PolicyFIFO = "fifo"
)

// StoreConfig configures the cache store
type StoreConfig struct {
	// Maximum number of entries. Zero disables the cache entirely: every
	// insert is a no-op and every lookup a miss.
	Capacity int `yaml:"capacity"`

	// Cadence of the periodic defensive sweep. Non-positive disables the
	// sweep; per-entry expiry timers still fire.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// One of lru, lfu, fifo. Defaults to lru.
	EvictionPolicy string `yaml:"eviction_policy"`
}

// Store is a bounded page -> content cache with per-entry TTL, policy-driven
// eviction under capacity pressure, and both proactive (scheduled timer) and
// reactive (lazy, on lookup) expiry.
//
// The store is safe for concurrent use behind its own mutex; expiry and sweep
// callbacks re-enter it from the timer goroutine.
type Store struct {
	mu    sync.Mutex
	cfg   StoreConfig
	clock timer.Service
	sink  types.MetricsSink

	entries map[types.PageID]*entry
	recency *list.List // front = most recently accessed
	bytes   int64

	running    bool
	sweepTimer timer.Handle

	// Counters
	hits           int64
	misses         int64
	inserts        int64
	replacements   int64
	evictions      int64
	expiredByTimer int64
	expiredBySweep int64
	expiredOnRead  int64
	invalidations  int64
}

// NewStore creates a store driven by the given timer service. A nil sink is
// replaced by a no-op implementation.
func NewStore(cfg StoreConfig, clock timer.Service, sink types.MetricsSink) *Store {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	switch cfg.EvictionPolicy {
	case PolicyLRU, PolicyLFU, PolicyFIFO:
	default:
		cfg.EvictionPolicy = PolicyLRU
	}
	if sink == nil {
		sink = types.NopSink{}
	}

	return &Store{
		cfg:     cfg,
		clock:   clock,
		sink:    sink,
		entries: make(map[types.PageID]*entry),
		recency: list.New(),
	}
}

// Start begins the periodic sweep. Idempotent; a no-op when the cache is
// disabled or no sweep interval is configured.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.cfg.Capacity == 0 || s.cfg.SweepInterval <= 0 {
		return
	}
	s.running = true
	s.sweepTimer = s.clock.Schedule(s.cfg.SweepInterval, s.sweepTick)
}

// Stop cancels the periodic sweep. Idempotent. Entries and their expiry
// timers are left in place; use Clear to drop them.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.clock.Cancel(s.sweepTimer)
	s.sweepTimer = nil
}

// sweepTick runs one defensive sweep and reschedules itself.
func (s *Store) sweepTick() {
	now := s.clock.Now()

	s.mu.Lock()
	s.sweepLocked(now, types.ExpireTriggerSweep)
	if s.running {
		s.sweepTimer = s.clock.Schedule(s.cfg.SweepInterval, s.sweepTick)
	}
	s.mu.Unlock()
}

// Lookup probes the store for page at the given time. An entry whose TTL has
// elapsed is removed and reported as a miss. On a hit the entry's access
// statistics are updated and it moves to the most-recently-used position.
func (s *Store) Lookup(page types.PageID, now time.Time) (*types.PageContent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[page]
	if !ok {
		s.misses++
		return nil, false
	}

	if e.expired(now) {
		s.removeLocked(e)
		s.expiredOnRead++
		s.sink.RecordExpiration(types.ExpireTriggerRead)
		s.misses++
		return nil, false
	}

	e.accessCount++
	e.lastAccess = now
	s.recency.MoveToFront(e.element)
	s.hits++
	return e.content, true
}

// Contains reports whether page is present and unexpired at now, without
// touching access statistics or removing an expired entry.
func (s *Store) Contains(page types.PageID, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[page]
	return ok && !e.expired(now)
}

// Insert stores content for page with the given TTL. An existing entry is
// replaced in place: content and TTL are updated, createdAt resets to now,
// the dirty flag is set, and the expiry timer is rescheduled — but the
// entry's recency position and access statistics are deliberately untouched.
//
// A new entry always succeeds: when the store is at capacity, expired entries
// are swept first and, if that is not enough, one victim is evicted per the
// configured policy. ttl <= 0 means the entry never expires.
func (s *Store) Insert(page types.PageID, content *types.PageContent, ttl time.Duration, now time.Time) {
	s.insert(page, content, ttl, now, false)
}

// InsertSpeculative is Insert for entries admitted ahead of demand by the
// predictive engine. The entry is flagged so hit statistics can distinguish
// speculative content.
func (s *Store) InsertSpeculative(page types.PageID, content *types.PageContent, ttl time.Duration, now time.Time) {
	s.insert(page, content, ttl, now, true)
}

func (s *Store) insert(page types.PageID, content *types.PageContent, ttl time.Duration, now time.Time, speculative bool) {
	if s.cfg.Capacity == 0 || !page.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[page]; ok {
		s.bytes += content.Size() - e.size
		e.content = content
		e.size = content.Size()
		e.ttl = ttl
		e.createdAt = now
		e.dirty = true
		e.speculative = speculative
		s.rescheduleExpiryLocked(e, now)
		s.replacements++
		s.sink.RecordInsert(speculative, e.size)
		return
	}

	if len(s.entries) >= s.cfg.Capacity {
		s.sweepLocked(now, types.ExpireTriggerSweep)
	}
	if len(s.entries) >= s.cfg.Capacity {
		s.evictLocked()
	}

	e := &entry{
		page:        page,
		content:     content,
		size:        content.Size(),
		createdAt:   now,
		ttl:         ttl,
		lastAccess:  now,
		accessCount: 1,
		speculative: speculative,
	}
	e.element = s.recency.PushFront(e)
	s.entries[page] = e
	s.bytes += e.size
	s.scheduleExpiryLocked(e, now)
	s.inserts++
	s.sink.RecordInsert(speculative, e.size)
}

// Refresh replaces an existing entry's content and TTL, clearing the dirty
// flag. Returns false if page is not present.
func (s *Store) Refresh(page types.PageID, content *types.PageContent, ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[page]
	if !ok {
		return false
	}

	s.bytes += content.Size() - e.size
	e.content = content
	e.size = content.Size()
	e.ttl = ttl
	e.createdAt = now
	e.dirty = false
	s.rescheduleExpiryLocked(e, now)
	return true
}

// SweepExpired removes every entry whose TTL has elapsed at now and returns
// the number removed.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now, types.ExpireTriggerSweep)
}

// EvictLRU removes exactly one entry, chosen by the configured eviction
// policy. A no-op on an empty store.
func (s *Store) EvictLRU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

// Invalidate removes page explicitly, cancelling its pending expiry timer.
// Returns whether an entry was removed.
func (s *Store) Invalidate(page types.PageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[page]
	if !ok {
		return false
	}
	s.removeLocked(e)
	s.invalidations++
	s.sink.RecordInvalidation()
	return true
}

// Len returns the number of entries currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Capacity returns the configured maximum number of entries.
func (s *Store) Capacity() int {
	return s.cfg.Capacity
}

// Bytes returns the total size of stored content.
func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Clear removes every entry and cancels all pending expiry timers. Counters
// are preserved.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		s.clock.Cancel(e.expiryTimer)
	}
	s.entries = make(map[types.PageID]*entry)
	s.recency.Init()
	s.bytes = 0
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := types.CacheStats{
		Hits:           s.hits,
		Misses:         s.misses,
		Inserts:        s.inserts,
		Replacements:   s.replacements,
		Evictions:      s.evictions,
		ExpiredByTimer: s.expiredByTimer,
		ExpiredBySweep: s.expiredBySweep,
		ExpiredOnRead:  s.expiredOnRead,
		Invalidations:  s.invalidations,
		Entries:        len(s.entries),
		Bytes:          s.bytes,
		Capacity:       s.cfg.Capacity,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	if s.cfg.Capacity > 0 {
		stats.Utilization = float64(len(s.entries)) / float64(s.cfg.Capacity)
	}
	return stats
}

// scheduleExpiryLocked arms the entry's expiry timer. Skipped for entries
// that never expire. Caller holds s.mu.
func (s *Store) scheduleExpiryLocked(e *entry, now time.Time) {
	if e.ttl <= 0 {
		return
	}

	page := e.page
	gen := e.generation
	e.expiryTimer = s.clock.Schedule(e.createdAt.Add(e.ttl).Sub(now), func() {
		s.expire(page, gen)
	})
}

// rescheduleExpiryLocked cancels any pending timer, bumps the generation so a
// stale callback is ignored, and arms a fresh timer. Caller holds s.mu.
func (s *Store) rescheduleExpiryLocked(e *entry, now time.Time) {
	s.clock.Cancel(e.expiryTimer)
	e.expiryTimer = nil
	e.generation++
	s.scheduleExpiryLocked(e, now)
}

// expire is the per-entry timer callback. The generation check discards
// callbacks armed for an earlier incarnation of the entry, and expiry is
// re-verified against the clock so a refreshed entry is never removed early.
func (s *Store) expire(page types.PageID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[page]
	if !ok || e.generation != gen {
		return
	}
	if !e.expired(s.clock.Now()) {
		return
	}
	s.removeLocked(e)
	s.expiredByTimer++
	s.sink.RecordExpiration(types.ExpireTriggerTimer)
}

// sweepLocked removes every expired entry. Caller holds s.mu.
func (s *Store) sweepLocked(now time.Time, trigger string) int {
	removed := 0
	for _, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(e)
			removed++
			s.expiredBySweep++
			s.sink.RecordExpiration(trigger)
		}
	}
	return removed
}

// evictLocked removes one victim per the configured policy. The LRU victim
// comes straight off the back of the recency list; LFU and FIFO scan for
// theirs. Caller holds s.mu.
func (s *Store) evictLocked() {
	if len(s.entries) == 0 {
		return
	}

	var victim *entry
	switch s.cfg.EvictionPolicy {
	case PolicyLFU:
		victim = s.scanVictimLocked(lessLFU)
	case PolicyFIFO:
		victim = s.scanVictimLocked(lessFIFO)
	default:
		victim = s.recency.Back().Value.(*entry)
	}

	s.removeLocked(victim)
	s.evictions++
	s.sink.RecordEviction(s.cfg.EvictionPolicy)
}

// scanVictimLocked returns the entry that sorts first under less. Caller
// holds s.mu and guarantees the store is non-empty.
func (s *Store) scanVictimLocked(less func(a, b *entry) bool) *entry {
	var victim *entry
	for _, e := range s.entries {
		if victim == nil || less(e, victim) {
			victim = e
		}
	}
	return victim
}

// removeLocked unlinks an entry and cancels its timer. Caller holds s.mu.
func (s *Store) removeLocked(e *entry) {
	s.clock.Cancel(e.expiryTimer)
	e.expiryTimer = nil
	s.recency.Remove(e.element)
	delete(s.entries, e.page)
	s.bytes -= e.size
}
