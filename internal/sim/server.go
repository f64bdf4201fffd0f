package sim

import (
	"context"
	"math/rand"
	"time"

	"github.com/precache/precache/internal/cache"
	"github.com/precache/precache/internal/timer"
	"github.com/precache/precache/pkg/types"
)

// server fronts the cache engine for simulated clients. A cached page costs
// a fixed hit delay; a miss costs an exponentially distributed processing
// delay before the generated content is stored and served.
type server struct {
	engine   *cache.Engine
	provider types.ContentProvider
	clock    timer.Service
	rng      *rand.Rand

	hitCost  time.Duration
	meanProc time.Duration

	requests int64
	hits     int64
	misses   int64
	failures int64
}

// handle serves one request and invokes done when the simulated response
// completes. Every completed response feeds the pattern learner, so hits
// and misses alike can trigger precaching of the client's likely next page.
func (s *server) handle(ctx context.Context, clientID string, page types.PageID, done func(*types.PageContent, bool, error)) {
	s.requests++
	now := s.clock.Now()

	if content, ok := s.engine.Lookup(page, now); ok {
		s.hits++
		s.clock.Schedule(s.hitCost, func() {
			s.engine.ObserveServed(ctx, clientID, page, s.clock.Now())
			done(content, true, nil)
		})
		return
	}

	s.misses++
	delay := expDuration(s.rng, s.meanProc)
	s.clock.Schedule(delay, func() {
		content, err := s.provider.Generate(ctx, page)
		if err != nil {
			s.failures++
			done(nil, false, err)
			return
		}
		now := s.clock.Now()
		s.engine.StoreGenerated(page, content, now)
		s.engine.ObserveServed(ctx, clientID, page, now)
		done(content, false, nil)
	})
}
