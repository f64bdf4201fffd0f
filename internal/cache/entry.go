package cache

import (
	"container/list"
	"time"

	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/types"
)

// entry is a single cached page. Entries are owned exclusively by the Store:
// they are created on insert, mutated on lookup and refresh, and destroyed on
// expiry, eviction, or invalidation.
type entry struct {
	page        types.PageID
	content     *types.PageContent
	size        int64
	createdAt   time.Time
	ttl         time.Duration
	lastAccess  time.Time
	accessCount int64
	dirty       bool
	speculative bool

	// element is this entry's node in the store's recency list
	// (front = most recently accessed).
	element *list.Element

	// expiryTimer fires at createdAt+ttl. generation guards against a timer
	// scheduled for an earlier incarnation of the entry firing after the
	// content was replaced or refreshed.
	expiryTimer timer.Handle
	generation  uint64
}

// expired reports whether the entry's TTL has elapsed at now. A non-positive
// TTL means the entry never expires.
func (e *entry) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return !now.Before(e.createdAt.Add(e.ttl))
}

// Victim comparators for the eviction policies. Each returns true when a
// should be evicted before b.

func lessLRU(a, b *entry) bool {
	if !a.lastAccess.Equal(b.lastAccess) {
		return a.lastAccess.Before(b.lastAccess)
	}
	return a.createdAt.Before(b.createdAt)
}

func lessLFU(a, b *entry) bool {
	if a.accessCount != b.accessCount {
		return a.accessCount < b.accessCount
	}
	return a.lastAccess.Before(b.lastAccess)
}

func lessFIFO(a, b *entry) bool {
	return a.createdAt.Before(b.createdAt)
}
