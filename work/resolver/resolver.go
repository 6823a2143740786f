// Package resolver turns target pages and provider links into playable
// stream URLs. Every failure inside the pipeline is contained at the
// smallest scope and degrades to fewer results; no exported method returns
// an error.
package resolver

import (
	"context"

	"aonline-proxy/work/config"
	"aonline-proxy/work/filter"
	"aonline-proxy/work/parser"

	"golang.org/x/sync/singleflight"
)

// Fetcher is the page-fetching dependency of the resolver.
type Fetcher interface {
	FetchText(ctx context.Context, rawURL, referer string) (string, error)
	FetchJSON(ctx context.Context, rawURL, referer string, v any) error
}

// Mode selects how much of the pipeline ResolveTarget runs.
type Mode int

const (
	// ModeFull resolves every embed option and every provider source.
	ModeFull Mode = iota
	// ModeFast limits the option set and defers provider resolution to
	// the gateway.
	ModeFast
)

func (m Mode) String() string {
	if m == ModeFast {
		return "fast"
	}
	return "full"
}

// Resolver owns the collaborators of the resolution pipeline.
type Resolver struct {
	cfg         *config.Config
	fetcher     Fetcher
	pages       *parser.PageParser
	sources     *filter.SourceFilter
	gatewayBase string // base URL for lazy /provider links, may be empty
	playable    singleflight.Group
}

// New creates a Resolver. gatewayBase is the advertised base URL of the
// streaming gateway; when empty, fast mode emits no lazy provider links.
func New(cfg *config.Config, fetcher Fetcher, gatewayBase string) *Resolver {
	return &Resolver{
		cfg:         cfg,
		fetcher:     fetcher,
		pages:       parser.NewPageParser(cfg.SiteBaseURL),
		sources:     filter.NewSourceFilter(cfg),
		gatewayBase: gatewayBase,
	}
}

// optionLimit returns how many embed options the mode considers; zero
// means all.
func (r *Resolver) optionLimit(mode Mode) int {
	if mode == ModeFast {
		return r.cfg.FastOptionLimit
	}
	return 0
}

// resolvesProviders reports whether the mode runs the provider pipeline.
func (mode Mode) resolvesProviders() bool {
	return mode == ModeFull
}
