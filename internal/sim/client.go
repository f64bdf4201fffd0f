package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/precache/precache/pkg/types"
)

// client is one simulated visitor. It walks the page space under its
// workload, keeps a small local ARC cache of pages it already fetched, and
// pauses an exponentially distributed think time between navigations.
type client struct {
	id   string
	walk workload
	rng  *rand.Rand

	local *arc.ARCCache[types.PageID, []byte]

	remaining int
	think     time.Duration

	requests  int64
	localHits int64
	errors    int64
}

// newClient builds the index-th client. Each client gets its own seeded
// random stream so runs with the same Config.Seed replay identically.
func newClient(cfg Config, index int) (*client, error) {
	rng := rand.New(rand.NewSource(cfg.Seed + int64(index+1)*1000003))

	walk, err := newWorkload(cfg.Workload, cfg.Pages, rng)
	if err != nil {
		return nil, err
	}

	local, err := arc.NewARC[types.PageID, []byte](cfg.ClientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("client cache: %w", err)
	}

	return &client{
		id:        uuid.New().String(),
		walk:      walk,
		rng:       rng,
		local:     local,
		remaining: cfg.RequestsPerClient,
		think:     cfg.MeanThinkTime,
	}, nil
}

// thinkTime draws the pause before the client's next navigation.
func (c *client) thinkTime() time.Duration {
	return expDuration(c.rng, c.think)
}

// expDuration draws from an exponential distribution with the given mean.
func expDuration(rng *rand.Rand, mean time.Duration) time.Duration {
	if mean <= 0 {
		return 0
	}
	return time.Duration(rng.ExpFloat64() * float64(mean))
}
