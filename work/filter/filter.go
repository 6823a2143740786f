package filter

import (
	"sync"

	"aonline-proxy/work/config"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/types"

	"github.com/grafana/regexp"
)

// SourceFilter decides which provider sources found on an embed page are
// worth resolving, based on the language allow-list and an optional server
// exclusion pattern.
type SourceFilter struct {
	cfg           *config.Config
	serverExclude *regexp.Regexp
}

var (
	compiled   = make(map[string]*regexp.Regexp)
	compiledMu sync.Mutex
)

// compile returns a cached compiled pattern, or nil when pattern is empty
// or invalid. Invalid patterns are logged once and treated as no filter.
func compile(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}

	compiledMu.Lock()
	defer compiledMu.Unlock()

	if re, ok := compiled[pattern]; ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter - compile} Failed to compile server exclude regex '%s': %v", pattern, err)
	} else {
		logger.Debug("{filter - compile} Compiled server exclude regex: '%s'", pattern)
	}
	compiled[pattern] = re
	return re
}

// NewSourceFilter builds a filter from the configured languages and
// server exclusion pattern.
func NewSourceFilter(cfg *config.Config) *SourceFilter {
	return &SourceFilter{
		cfg:           cfg,
		serverExclude: compile(cfg.ServerExcludeRegex),
	}
}

// Allow reports whether src passes the language and server filters.
func (f *SourceFilter) Allow(src types.ProviderSource) bool {
	if !f.cfg.LanguageAllowed(string(src.Language)) {
		return false
	}
	if f.serverExclude != nil && f.serverExclude.MatchString(src.Server) {
		return false
	}
	return true
}

// Apply returns the sources that pass the filter, preserving order.
func (f *SourceFilter) Apply(sources []types.ProviderSource) []types.ProviderSource {
	kept := sources[:0:0]
	for _, src := range sources {
		if f.Allow(src) {
			kept = append(kept, src)
		} else {
			logger.Debug("{filter - Apply} Skipping provider %s (%s)", src.Server, src.Language)
		}
	}
	return kept
}
