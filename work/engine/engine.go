// Package engine coordinates stream resolution for target pages: a TTL
// cache in front, a quick lane bounded by a short deadline, and at most one
// background full-resolution job per target that catches the cache up.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"aonline-proxy/work/cache"
	"aonline-proxy/work/config"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/metrics"
	"aonline-proxy/work/resolver"
	"aonline-proxy/work/types"
	"aonline-proxy/work/utils"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// jobTimeout bounds a single background resolution.
const jobTimeout = 90 * time.Second

// TargetResolver resolves a target page in the given mode.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, targetURL string, mode resolver.Mode) []types.ResolvedStream
}

// Prober filters out streams that do not answer like media.
type Prober interface {
	Filter(ctx context.Context, streams []types.ResolvedStream) []types.ResolvedStream
}

// job is an in-flight background resolution. done is closed after the
// result has been written to the cache and the job deregistered.
type job struct {
	done    chan struct{}
	started time.Time
}

// Stats is a snapshot of the engine state.
type Stats struct {
	CachedTargets int   `json:"cachedTargets"`
	ActiveJobs    int   `json:"activeJobs"`
	JobsStarted   int64 `json:"jobsStarted"`
}

// Engine owns the stream cache, the job registry and the worker pool used
// for background jobs. Separate engines share no state.
type Engine struct {
	cfg      *config.Config
	resolver TargetResolver
	cache    *cache.StreamCache
	probe    Prober // nil when probing is disabled
	jobs     *xsync.MapOf[string, *job]
	pool     *ants.Pool

	jobsStarted atomic.Int64
}

// New creates an Engine. probe may be nil.
func New(cfg *config.Config, res TargetResolver, streamCache *cache.StreamCache, probe Prober) (*Engine, error) {
	pool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true), ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		resolver: res,
		cache:    streamCache,
		probe:    probe,
		jobs:     xsync.NewMapOf[string, *job](),
		pool:     pool,
	}, nil
}

// Close releases the worker pool. Running jobs finish on their own.
func (e *Engine) Close() {
	e.pool.Release()
}

// Lookup returns the streams for target.
//
// Process:
//   - A fresh cache entry is returned without network access.
//   - Otherwise a background job is started, or joined if one is running.
//   - The quick lane runs fast-mode resolution against QuickDeadline; a
//     non-empty result is cached as partial and returned.
//   - Otherwise the caller waits for the background job up to JoinWait
//     and returns the cache if it is now populated.
//   - As a last resort one full resolution runs against FinalDeadline.
func (e *Engine) Lookup(ctx context.Context, target string) []types.ResolvedStream {
	if entry, ok := e.cache.Get(target); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return entry.Streams
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	j, _ := e.ensureJob(target)

	quick := Race(ctx, e.cfg.QuickDeadline, []types.ResolvedStream(nil), func(ctx context.Context) []types.ResolvedStream {
		return e.resolve(ctx, target, resolver.ModeFast, "quick")
	})
	if len(quick) > 0 {
		e.cache.PutIfAbsent(target, quick)
		if entry, ok := e.cache.Get(target); ok {
			return entry.Streams
		}
		return quick
	}

	logger.Debug("{engine/engine - Lookup} Quick lane empty for %s, joining background job", utils.LogURL(e.cfg, target))

	timer := time.NewTimer(e.cfg.JoinWait)
	select {
	case <-j.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	timer.Stop()

	if entry, ok := e.cache.Get(target); ok {
		return entry.Streams
	}
	if ctx.Err() != nil {
		return nil
	}

	final := Race(ctx, e.cfg.FinalDeadline, []types.ResolvedStream(nil), func(ctx context.Context) []types.ResolvedStream {
		return e.resolve(ctx, target, resolver.ModeFull, "final")
	})
	if len(final) > 0 {
		e.cache.Put(target, final)
	}
	return final
}

// ensureJob returns the job registered for target, starting one if none
// is running. The registry holds at most one job per target.
func (e *Engine) ensureJob(target string) (*job, bool) {
	j, loaded := e.jobs.LoadOrCompute(target, func() *job {
		return &job{done: make(chan struct{}), started: time.Now()}
	})
	if loaded {
		metrics.Jobs.WithLabelValues("joined").Inc()
		return j, false
	}

	e.jobsStarted.Add(1)
	metrics.Jobs.WithLabelValues("started").Inc()
	metrics.ActiveJobs.Inc()

	run := func() { e.runJob(target, j) }
	if err := e.pool.Submit(run); err != nil {
		logger.Warn("{engine/engine - ensureJob} Worker pool busy (%v), running job for %s inline", err, utils.LogURL(e.cfg, target))
		go run()
	}
	return j, true
}

// runJob performs a full resolution for target, caches a non-empty result,
// then deregisters j and signals its waiters.
func (e *Engine) runJob(target string, j *job) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("{engine/engine - runJob} Job for %s panicked: %v", utils.LogURL(e.cfg, target), rec)
		}
		e.jobs.Compute(target, func(current *job, loaded bool) (*job, bool) {
			if loaded && current != j {
				return current, false
			}
			return nil, true
		})
		metrics.ActiveJobs.Dec()
		close(j.done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	streams := e.resolve(ctx, target, resolver.ModeFull, "background")
	if len(streams) > 0 {
		e.cache.Put(target, streams)
	}

	logger.Debug("{engine/engine - runJob} Background job for %s finished with %d streams in %s",
		utils.LogURL(e.cfg, target), len(streams), time.Since(j.started).Round(time.Millisecond))
}

// resolve runs the resolver and, when configured, the playability probe.
func (e *Engine) resolve(ctx context.Context, target string, mode resolver.Mode, lane string) []types.ResolvedStream {
	start := time.Now()
	streams := e.resolver.ResolveTarget(ctx, target, mode)
	if e.probe != nil && len(streams) > 0 {
		streams = e.probe.Filter(ctx, streams)
	}
	metrics.ResolveDuration.WithLabelValues(lane).Observe(time.Since(start).Seconds())
	metrics.ResolvedStreams.WithLabelValues(lane).Add(float64(len(streams)))
	return streams
}

// Prewarm starts background jobs for the first PrewarmCount targets that
// are not already cached and returns how many jobs it started.
func (e *Engine) Prewarm(targets []string) int {
	if len(targets) > e.cfg.PrewarmCount {
		targets = targets[:e.cfg.PrewarmCount]
	}

	started := 0
	for _, target := range targets {
		if target == "" {
			continue
		}
		if _, ok := e.cache.Get(target); ok {
			continue
		}
		if _, ok := e.ensureJob(target); ok {
			started++
		}
	}

	if started > 0 {
		logger.Info("{engine/engine - Prewarm} Started %d prewarm jobs", started)
	}
	return started
}

// Stats returns a snapshot of cache and job counters.
func (e *Engine) Stats() Stats {
	return Stats{
		CachedTargets: e.cache.Len(),
		ActiveJobs:    e.jobs.Size(),
		JobsStarted:   e.jobsStarted.Load(),
	}
}
