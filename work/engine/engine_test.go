package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aonline-proxy/work/cache"
	"aonline-proxy/work/config"
	"aonline-proxy/work/resolver"
	"aonline-proxy/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedResolver answers fast and full resolutions with test callbacks.
type scriptedResolver struct {
	fast      func(ctx context.Context, target string) []types.ResolvedStream
	full      func(ctx context.Context, target string, call int32) []types.ResolvedStream
	fastCalls atomic.Int32
	fullCalls atomic.Int32
}

func (s *scriptedResolver) ResolveTarget(ctx context.Context, target string, mode resolver.Mode) []types.ResolvedStream {
	if mode == resolver.ModeFast {
		s.fastCalls.Add(1)
		if s.fast == nil {
			return nil
		}
		return s.fast(ctx, target)
	}
	call := s.fullCalls.Add(1)
	if s.full == nil {
		return nil
	}
	return s.full(ctx, target, call)
}

func streams(prefix string, n int) []types.ResolvedStream {
	out := make([]types.ResolvedStream, n)
	for i := range out {
		out[i] = types.ResolvedStream{Title: fmt.Sprintf("%s %d", prefix, i), URL: fmt.Sprintf("https://cdn.example/%s/%d.mp4", prefix, i)}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.QuickDeadline = 150 * time.Millisecond
	cfg.JoinWait = 400 * time.Millisecond
	cfg.FinalDeadline = 300 * time.Millisecond
	cfg.WorkerThreads = 4
	cfg.PrewarmCount = 3
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, res TargetResolver) *Engine {
	t.Helper()
	e, err := New(cfg, res, cache.NewStreamCache(cfg.CacheDuration, 1000), nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Stats().ActiveJobs == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestLookupCachedHitNeedsNoResolution(t *testing.T) {
	res := &scriptedResolver{}
	e := newEngine(t, testConfig(), res)
	require.True(t, e.cache.Put("k", streams("c", 2)))

	got := e.Lookup(context.Background(), "k")
	assert.Len(t, got, 2)
	assert.Equal(t, int32(0), res.fastCalls.Load())
	assert.Equal(t, int32(0), res.fullCalls.Load())
	assert.Equal(t, int64(0), e.Stats().JobsStarted)
}

func TestQuickLaneServesAndSecondRequestHitsCache(t *testing.T) {
	release := make(chan struct{})
	res := &scriptedResolver{
		fast: func(ctx context.Context, target string) []types.ResolvedStream { return streams("quick", 2) },
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			<-release
			return streams("full", 5)
		},
	}
	e := newEngine(t, testConfig(), res)

	first := e.Lookup(context.Background(), "k")
	assert.Equal(t, streams("quick", 2), first)

	time.Sleep(50 * time.Millisecond)
	second := e.Lookup(context.Background(), "k")
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), e.Stats().JobsStarted)
	assert.Equal(t, int32(1), res.fastCalls.Load())

	// the background job later supersedes the partial entry
	close(release)
	waitIdle(t, e)
	third := e.Lookup(context.Background(), "k")
	assert.Equal(t, streams("full", 5), third)
	assert.Equal(t, int64(1), e.Stats().JobsStarted)
}

func TestQuickTimeoutJoinsBackgroundJob(t *testing.T) {
	res := &scriptedResolver{
		fast: func(ctx context.Context, target string) []types.ResolvedStream {
			time.Sleep(600 * time.Millisecond)
			return streams("late", 1)
		},
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			time.Sleep(200 * time.Millisecond)
			return streams("full", 5)
		},
	}
	e := newEngine(t, testConfig(), res)

	start := time.Now()
	got := e.Lookup(context.Background(), "k")
	assert.Equal(t, streams("full", 5), got)
	assert.Less(t, time.Since(start), 550*time.Millisecond)

	// the late quick result is dropped, not written over the full entry
	time.Sleep(600 * time.Millisecond)
	entry, ok := e.cache.Get("k")
	require.True(t, ok)
	assert.Len(t, entry.Streams, 5)
	assert.False(t, entry.Partial)
	assert.Equal(t, int32(1), res.fullCalls.Load())
}

func TestFinalLaneWhenJobIsSlow(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	res := &scriptedResolver{
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			if call == 1 {
				<-release
				return nil
			}
			return streams("final", 3)
		},
	}
	e := newEngine(t, testConfig(), res)

	got := e.Lookup(context.Background(), "k")
	assert.Equal(t, streams("final", 3), got)

	entry, ok := e.cache.Get("k")
	require.True(t, ok)
	assert.Len(t, entry.Streams, 3)
}

func TestFinalLaneMayReturnEmpty(t *testing.T) {
	res := &scriptedResolver{}
	e := newEngine(t, testConfig(), res)

	got := e.Lookup(context.Background(), "k")
	assert.Empty(t, got)
	_, ok := e.cache.Get("k")
	assert.False(t, ok)
}

func TestAtMostOneJobPerKey(t *testing.T) {
	release := make(chan struct{})
	res := &scriptedResolver{
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			<-release
			return streams(target, 1)
		},
	}
	e := newEngine(t, testConfig(), res)

	keys := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	var startedCount atomic.Int32
	for i := 0; i < 40; i++ {
		for _, k := range keys {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, started := e.ensureJob(k); started {
					startedCount.Add(1)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(len(keys)), startedCount.Load())
	assert.Equal(t, int64(len(keys)), e.Stats().JobsStarted)
	assert.Equal(t, len(keys), e.Stats().ActiveJobs)

	close(release)
	waitIdle(t, e)
	assert.Equal(t, int32(len(keys)), res.fullCalls.Load())

	// a completed job frees the key for the next one
	_, started := e.ensureJob("a")
	assert.True(t, started)
	waitIdle(t, e)
}

func TestConcurrentLookupsShareOneJob(t *testing.T) {
	release := make(chan struct{})
	res := &scriptedResolver{
		fast: func(ctx context.Context, target string) []types.ResolvedStream { return streams("quick", 2) },
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			<-release
			return streams("full", 4)
		},
	}
	e := newEngine(t, testConfig(), res)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotEmpty(t, e.Lookup(context.Background(), "shared"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), e.Stats().JobsStarted)
	close(release)
	waitIdle(t, e)
}

func TestEmptyJobResultKeepsEntry(t *testing.T) {
	res := &scriptedResolver{}
	e := newEngine(t, testConfig(), res)

	require.True(t, e.cache.PutIfAbsent("k", streams("quick", 2)))
	j, started := e.ensureJob("k")
	require.True(t, started)
	<-j.done

	entry, ok := e.cache.Get("k")
	require.True(t, ok)
	assert.Len(t, entry.Streams, 2)
}

func TestJobPanicReleasesKey(t *testing.T) {
	res := &scriptedResolver{
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			panic("resolver exploded")
		},
	}
	e := newEngine(t, testConfig(), res)

	j, _ := e.ensureJob("k")
	select {
	case <-j.done:
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, 0, e.Stats().ActiveJobs)
}

func TestPrewarm(t *testing.T) {
	release := make(chan struct{})
	res := &scriptedResolver{
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream {
			<-release
			return streams(target, 2)
		},
	}
	e := newEngine(t, testConfig(), res)
	require.True(t, e.cache.Put("ep2", streams("cached", 1)))

	started := e.Prewarm([]string{"ep1", "ep2", "ep3", "ep4", "ep5"})
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, e.Stats().ActiveJobs)

	// prewarming again joins the running jobs
	assert.Equal(t, 0, e.Prewarm([]string{"ep1", "ep2", "ep3"}))

	close(release)
	waitIdle(t, e)

	_, ok := e.cache.Get("ep1")
	assert.True(t, ok)
	_, ok = e.cache.Get("ep4")
	assert.False(t, ok)
}

type dropAll struct{ calls atomic.Int32 }

func (d *dropAll) Filter(ctx context.Context, s []types.ResolvedStream) []types.ResolvedStream {
	d.calls.Add(1)
	return nil
}

func TestProbeFiltersBeforeCaching(t *testing.T) {
	cfg := testConfig()
	res := &scriptedResolver{
		fast: func(ctx context.Context, target string) []types.ResolvedStream { return streams("quick", 2) },
		full: func(ctx context.Context, target string, call int32) []types.ResolvedStream { return streams("full", 2) },
	}
	probe := &dropAll{}
	e, err := New(cfg, res, cache.NewStreamCache(cfg.CacheDuration, 100), probe)
	require.NoError(t, err)
	defer e.Close()

	assert.Empty(t, e.Lookup(context.Background(), "k"))
	_, ok := e.cache.Get("k")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, probe.calls.Load(), int32(2))
}

func TestRace(t *testing.T) {
	got := Race(context.Background(), 50*time.Millisecond, "fallback", func(ctx context.Context) string { return "fast" })
	assert.Equal(t, "fast", got)

	var finished atomic.Bool
	got = Race(context.Background(), 20*time.Millisecond, "fallback", func(ctx context.Context) string {
		time.Sleep(100 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return "slow"
	})
	assert.Equal(t, "fallback", got)
	// the losing branch keeps running with an uncancelled context
	assert.Eventually(t, finished.Load, time.Second, 10*time.Millisecond)

	got = Race(context.Background(), time.Second, "fallback", func(ctx context.Context) string { panic("boom") })
	assert.Equal(t, "fallback", got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got = Race(ctx, time.Second, "fallback", func(ctx context.Context) string {
		time.Sleep(50 * time.Millisecond)
		return "late"
	})
	assert.Equal(t, "fallback", got)
}
