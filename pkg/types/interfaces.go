package types

import (
	"context"
	"time"
)

// ContentProvider generates content for a page on demand. Implementations
// stand in for the origin: a rendering pipeline, a database query, or an
// object store fetch.
type ContentProvider interface {
	Generate(ctx context.Context, page PageID) (*PageContent, error)
}

// MetricsSink receives cache events as they happen. Implementations must be
// safe for concurrent use and must not block; a nil sink is replaced by a
// no-op implementation so callers never need nil checks.
type MetricsSink interface {
	// RecordLookup reports one cache lookup and its latency.
	RecordLookup(hit bool, duration time.Duration)

	// RecordInsert reports content stored in the cache.
	RecordInsert(speculative bool, bytes int64)

	// RecordEviction reports a capacity eviction under the given policy.
	RecordEviction(policy string)

	// RecordExpiration reports a TTL expiration and what triggered it
	// (ExpireTriggerTimer, ExpireTriggerSweep or ExpireTriggerRead).
	RecordExpiration(trigger string)

	// RecordInvalidation reports an explicit removal.
	RecordInvalidation()

	// RecordPredictions reports how many candidates a prediction query returned.
	RecordPredictions(count int)

	// RecordPrecacheInsert reports a speculative entry admitted ahead of demand.
	RecordPrecacheInsert()

	// RecordPrecacheSkip reports a precache candidate that was not inserted.
	RecordPrecacheSkip(reason string)

	// RecordGenerationFailure reports a content provider error.
	RecordGenerationFailure()

	// RecordTimeSaved reports estimated latency avoided by a speculative hit.
	RecordTimeSaved(duration time.Duration)
}

// NopSink is a MetricsSink that discards all events.
type NopSink struct{}

func (NopSink) RecordLookup(bool, time.Duration)  {}
func (NopSink) RecordInsert(bool, int64)          {}
func (NopSink) RecordEviction(string)             {}
func (NopSink) RecordExpiration(string)           {}
func (NopSink) RecordInvalidation()               {}
func (NopSink) RecordPredictions(int)             {}
func (NopSink) RecordPrecacheInsert()             {}
func (NopSink) RecordPrecacheSkip(string)         {}
func (NopSink) RecordGenerationFailure()          {}
func (NopSink) RecordTimeSaved(time.Duration)     {}

var _ MetricsSink = NopSink{}
