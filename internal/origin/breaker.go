package origin

import (
	"context"
	stderrors "errors"

	"github.com/precache/precache/internal/circuit"
	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
)

// BreakerProvider wraps a ContentProvider in a circuit breaker. While the
// breaker is open every Generate fails fast with a retryable
// origin-unavailable error, shedding both demand and precache load from a
// struggling origin.
type BreakerProvider struct {
	inner   types.ContentProvider
	breaker *circuit.CircuitBreaker
}

// NewBreakerProvider wraps inner with a breaker built from cfg.
func NewBreakerProvider(inner types.ContentProvider, cfg circuit.Config) *BreakerProvider {
	return &BreakerProvider{
		inner:   inner,
		breaker: circuit.NewCircuitBreaker("origin", cfg),
	}
}

// Generate delegates to the wrapped provider under the breaker.
func (p *BreakerProvider) Generate(ctx context.Context, page types.PageID) (*types.PageContent, error) {
	var content *types.PageContent
	err := p.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var genErr error
		content, genErr = p.inner.Generate(ctx, page)
		return genErr
	})
	if err != nil {
		if stderrors.Is(err, circuit.ErrOpenState) || stderrors.Is(err, circuit.ErrTooManyRequests) {
			return nil, errors.NewError(errors.ErrCodeOriginUnavailable, "origin circuit open").
				WithComponent("origin").WithOperation("generate").WithCause(err)
		}
		return nil, err
	}
	return content, nil
}

// State exposes the breaker's current position for diagnostics.
func (p *BreakerProvider) State() circuit.State {
	return p.breaker.GetState()
}

// Reset closes the breaker.
func (p *BreakerProvider) Reset() {
	p.breaker.Reset()
}

var _ types.ContentProvider = (*BreakerProvider)(nil)
