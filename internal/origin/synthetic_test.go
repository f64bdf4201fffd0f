package origin

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/precache/precache/pkg/types"
)

func TestSyntheticDeterministic(t *testing.T) {
	g := NewSynthetic(SyntheticConfig{Pages: 50, NavLinks: 3, BodySize: 1024})
	ctx := context.Background()

	first, err := g.Generate(ctx, 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := g.Generate(ctx, 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !bytes.Equal(first.Body, second.Body) {
		t.Error("same page produced different content")
	}
	if first.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", first.ContentType)
	}
}

func TestSyntheticBodyShape(t *testing.T) {
	g := NewSynthetic(SyntheticConfig{Pages: 20, NavLinks: 4, BodySize: 2048})

	content, err := g.Generate(context.Background(), 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	body := string(content.Body)

	if !strings.Contains(body, "<title>Page 3</title>") {
		t.Error("missing title")
	}
	if got := strings.Count(body, "<a href="); got != 4 {
		t.Errorf("nav link count = %d, want 4", got)
	}
	if len(content.Body) < 2048 {
		t.Errorf("body size = %d, want >= 2048", len(content.Body))
	}
	if strings.Contains(body, `href="/pages/3"`) {
		t.Error("page links to itself")
	}
}

func TestSyntheticDistinctPages(t *testing.T) {
	g := NewSynthetic(SyntheticConfig{})
	ctx := context.Background()

	a, err := g.Generate(ctx, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g.Generate(ctx, 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if bytes.Equal(a.Body, b.Body) {
		t.Error("distinct pages produced identical content")
	}
}

func TestSyntheticInvalidPage(t *testing.T) {
	g := NewSynthetic(SyntheticConfig{})

	if _, err := g.Generate(context.Background(), types.NoPage); err == nil {
		t.Error("expected error for invalid page")
	}
}

func TestSyntheticCancelledContext(t *testing.T) {
	g := NewSynthetic(SyntheticConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Generate(ctx, 1); err == nil {
		t.Error("expected error for cancelled context")
	}
}
