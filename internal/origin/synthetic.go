// Package origin provides types.ContentProvider implementations: a
// deterministic synthetic generator, an S3-backed fetcher, and a circuit
// breaker wrapper that sheds load from a failing origin.
package origin

import (
	"context"
	"fmt"
	"strings"

	"github.com/precache/precache/pkg/types"
)

// SyntheticConfig configures the synthetic page generator
type SyntheticConfig struct {
	// Number of pages the generated nav links cycle over
	Pages int `yaml:"pages"`

	// Nav links per page
	NavLinks int `yaml:"nav_links"`

	// Approximate body filler size in bytes
	BodySize int `yaml:"body_size"`
}

const (
	defaultSyntheticPages    = 100
	defaultSyntheticNavLinks = 5
	defaultSyntheticBodySize = 2048
)

// Synthetic generates page content deterministically from the page ID: same
// page, same bytes, every time, with zero I/O. It is the daemon's default
// origin and the one the simulation uses.
type Synthetic struct {
	cfg SyntheticConfig
}

// NewSynthetic creates a synthetic provider. Zero config values fall back to
// defaults.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Pages <= 0 {
		cfg.Pages = defaultSyntheticPages
	}
	if cfg.NavLinks <= 0 {
		cfg.NavLinks = defaultSyntheticNavLinks
	}
	if cfg.BodySize <= 0 {
		cfg.BodySize = defaultSyntheticBodySize
	}
	return &Synthetic{cfg: cfg}
}

// Generate builds the HTML document for page.
func (g *Synthetic) Generate(ctx context.Context, page types.PageID) (*types.PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !page.Valid() {
		return nil, fmt.Errorf("invalid page %d", page)
	}

	var b strings.Builder
	b.Grow(g.cfg.BodySize + 512)

	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>Page %d</title></head>\n<body>\n", page)
	fmt.Fprintf(&b, "<h1>Page %d</h1>\n<nav>\n", page)
	for i := 0; i < g.cfg.NavLinks; i++ {
		target := g.linkTarget(page, i)
		fmt.Fprintf(&b, "  <a href=\"/pages/%d\">Page %d</a>\n", target, target)
	}
	b.WriteString("</nav>\n<article>\n")

	// Filler paragraphs keyed by position and page ID so the body is stable.
	for b.Len() < g.cfg.BodySize {
		fmt.Fprintf(&b, "<p>Generated content block %d for page %d.</p>\n", b.Len(), page)
	}
	b.WriteString("</article>\n</body>\n</html>\n")

	return &types.PageContent{
		Body:        []byte(b.String()),
		ContentType: "text/html; charset=utf-8",
	}, nil
}

// linkTarget derives the i-th nav link of page. Spread over the page space,
// never a self-link.
func (g *Synthetic) linkTarget(page types.PageID, i int) types.PageID {
	target := (int64(page) + int64(i)*7 + 1) % int64(g.cfg.Pages)
	if target == int64(page) {
		target = (target + 1) % int64(g.cfg.Pages)
	}
	return types.PageID(target)
}

var _ types.ContentProvider = (*Synthetic)(nil)
