package origin

import (
	"context"
	"fmt"
	"testing"

	"github.com/precache/precache/internal/circuit"
	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
)

// flakyProvider fails until told otherwise.
type flakyProvider struct {
	failing bool
	calls   int
}

func (p *flakyProvider) Generate(_ context.Context, page types.PageID) (*types.PageContent, error) {
	p.calls++
	if p.failing {
		return nil, fmt.Errorf("origin down")
	}
	return &types.PageContent{Body: []byte(fmt.Sprintf("page %d", page))}, nil
}

func TestBreakerProviderPassesThrough(t *testing.T) {
	inner := &flakyProvider{}
	p := NewBreakerProvider(inner, circuit.Config{})

	content, err := p.Generate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(content.Body) != "page 1" {
		t.Errorf("content = %q", content.Body)
	}
	if p.State() != circuit.StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
}

func TestBreakerProviderOpensAfterFailures(t *testing.T) {
	inner := &flakyProvider{failing: true}
	p := NewBreakerProvider(inner, circuit.Config{
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Generate(ctx, 1); err == nil {
			t.Fatal("expected failure")
		}
	}
	if p.State() != circuit.StateOpen {
		t.Fatalf("state = %v, want open", p.State())
	}

	// Open breaker fails fast without touching the origin.
	callsBefore := inner.calls
	_, err := p.Generate(ctx, 1)
	if err == nil {
		t.Fatal("expected error while open")
	}
	if !errors.IsCode(err, errors.ErrCodeOriginUnavailable) {
		t.Errorf("error code = %v, want origin unavailable", errors.GetCode(err))
	}
	if !errors.IsRetryable(err) {
		t.Error("open-circuit error should be retryable")
	}
	if inner.calls != callsBefore {
		t.Error("origin called while breaker open")
	}
}

func TestBreakerProviderRecovers(t *testing.T) {
	inner := &flakyProvider{failing: true}
	p := NewBreakerProvider(inner, circuit.Config{
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	ctx := context.Background()

	_, _ = p.Generate(ctx, 1)
	if p.State() != circuit.StateOpen {
		t.Fatalf("state = %v, want open", p.State())
	}

	// Manual reset stands in for the open-interval elapsing.
	inner.failing = false
	p.Reset()

	content, err := p.Generate(ctx, 2)
	if err != nil {
		t.Fatalf("Generate after recovery: %v", err)
	}
	if string(content.Body) != "page 2" {
		t.Errorf("content = %q", content.Body)
	}
	if p.State() != circuit.StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
}

func TestBreakerProviderPropagatesOriginError(t *testing.T) {
	inner := &flakyProvider{failing: true}
	p := NewBreakerProvider(inner, circuit.Config{})

	_, err := p.Generate(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	// Below the trip threshold the origin's own error comes through.
	if errors.IsCode(err, errors.ErrCodeOriginUnavailable) {
		t.Error("origin error masked as circuit-open")
	}
}
