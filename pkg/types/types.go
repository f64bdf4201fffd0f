package types

import (
	"time"
)

// PageID identifies a unit of cacheable content. Valid page IDs are
// non-negative; NoPage marks the absence of a page (session start, no
// prediction available).
type PageID int64

// NoPage is the sentinel PageID meaning "no page".
const NoPage PageID = -1

// Valid reports whether p can take part in learning and caching.
func (p PageID) Valid() bool {
	return p >= 0
}

// PageContent is an opaque content payload served for a page.
type PageContent struct {
	Body        []byte
	ContentType string
}

// Size returns the payload size in bytes.
func (c *PageContent) Size() int64 {
	if c == nil {
		return 0
	}
	return int64(len(c.Body))
}

// Prediction pairs a predicted next page with its transition probability.
type Prediction struct {
	Page        PageID  `json:"page"`
	Probability float64 `json:"probability"`
}

// TransitionCount reports the observed frequency of one navigation edge.
type TransitionCount struct {
	From  PageID `json:"from"`
	To    PageID `json:"to"`
	Count int64  `json:"count"`
}

// Expiration triggers reported to the metrics sink.
const (
	ExpireTriggerTimer = "timer"
	ExpireTriggerSweep = "sweep"
	ExpireTriggerRead  = "read"
)

// PatternStats represents pattern learner statistics
type PatternStats struct {
	Pages              int   `json:"pages"`
	Transitions        int   `json:"transitions"`
	TotalTransitions   int64 `json:"total_transitions"`
	TotalUpdates       int64 `json:"total_updates"`
	PredictionRequests int64 `json:"prediction_requests"`
	PredictionsServed  int64 `json:"predictions_served"`
	MemoHits           int64 `json:"memo_hits"`
	LearningEnabled    bool  `json:"learning_enabled"`
}

// CacheStats represents cache store statistics
type CacheStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Inserts        int64   `json:"inserts"`
	Replacements   int64   `json:"replacements"`
	Evictions      int64   `json:"evictions"`
	ExpiredByTimer int64   `json:"expired_by_timer"`
	ExpiredBySweep int64   `json:"expired_by_sweep"`
	ExpiredOnRead  int64   `json:"expired_on_read"`
	Invalidations  int64   `json:"invalidations"`
	Entries        int     `json:"entries"`
	Bytes          int64   `json:"bytes"`
	Capacity       int     `json:"capacity"`
	HitRate        float64 `json:"hit_rate"`
	Utilization    float64 `json:"utilization"`
}

// EngineStats represents predictive engine statistics
type EngineStats struct {
	Lookups            int64         `json:"lookups"`
	Hits               int64         `json:"hits"`
	Misses             int64         `json:"misses"`
	HitRate            float64       `json:"hit_rate"`
	PrecacheAttempts   int64         `json:"precache_attempts"`
	PrecacheInserts    int64         `json:"precache_inserts"`
	PrecacheSkips      int64         `json:"precache_skips"`
	GenerationFailures int64         `json:"generation_failures"`
	TimeSaved          time.Duration `json:"time_saved"`
	ActiveClients      int           `json:"active_clients"`
}
