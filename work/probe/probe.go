// Package probe verifies that candidate streams answer like media before
// they are exposed. Results are memoized per URL and header set.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"aonline-proxy/work/classify"
	"aonline-proxy/work/config"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/metrics"
	"aonline-proxy/work/parser"
	"aonline-proxy/work/types"
	"aonline-proxy/work/utils"

	"github.com/maypok86/otter/v2"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/crypto/blake2b"
)

// Doer performs HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Probe issues minimal ranged requests against stream URLs.
type Probe struct {
	cfg  *config.Config
	http Doer
	memo *otter.Cache[[32]byte, types.ProbeResult]
	pool *ants.Pool
	now  func() time.Time
}

// New creates a Probe that memoizes results for cfg.ProbeTTL and runs at
// most cfg.WorkerThreads checks at once.
func New(cfg *config.Config, doer Doer) (*Probe, error) {
	pool, err := ants.NewPool(cfg.WorkerThreads)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe pool: %w", err)
	}
	return &Probe{
		cfg:  cfg,
		http: doer,
		memo: otter.Must(&otter.Options[[32]byte, types.ProbeResult]{
			MaximumSize:      50_000,
			ExpiryCalculator: otter.ExpiryWriting[[32]byte, types.ProbeResult](cfg.ProbeTTL),
		}),
		pool: pool,
		now:  time.Now,
	}, nil
}

// Close releases the probe worker pool.
func (p *Probe) Close() {
	p.pool.Release()
}

// memoKey digests the URL and its headers in a stable order.
func memoKey(rawURL string, headers map[string]string) [32]byte {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, k := range names {
		b.WriteString("\n")
		b.WriteString(strings.ToLower(k))
		b.WriteString(":")
		b.WriteString(headers[k])
	}
	return blake2b.Sum256([]byte(b.String()))
}

// Filter keeps the streams that pass Check. Streams that are not direct
// media, such as lazy gateway links, are kept without probing. Order is
// preserved.
func (p *Probe) Filter(ctx context.Context, streams []types.ResolvedStream) []types.ResolvedStream {
	keep := make([]bool, len(streams))
	var wg sync.WaitGroup

	for i, s := range streams {
		if !classify.IsDirectMedia(s.URL) {
			keep[i] = true
			continue
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			keep[i] = p.Check(ctx, s.URL, s.Headers)
		}
		if err := p.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	out := make([]types.ResolvedStream, 0, len(streams))
	for i, s := range streams {
		if keep[i] {
			out = append(out, s)
		}
	}
	if dropped := len(streams) - len(out); dropped > 0 {
		logger.Debug("{probe/probe - Filter} Dropped %d of %d streams", dropped, len(streams))
	}
	return out
}

// Check reports whether rawURL answers a two-byte ranged request with a
// media content type. HLS URLs served with a generic content type pass
// when their body decodes as a playable playlist. Only answers are
// memoized; transport errors and timeouts are retried on the next check.
func (p *Probe) Check(ctx context.Context, rawURL string, headers map[string]string) bool {
	key := memoKey(rawURL, headers)
	if res, ok := p.memo.GetIfPresent(key); ok && p.now().Sub(res.CheckedAt) < p.cfg.ProbeTTL {
		metrics.ProbeResults.WithLabelValues("memo").Inc()
		return res.OK
	}

	ok, err := p.check(ctx, rawURL, headers)
	if err != nil {
		metrics.ProbeResults.WithLabelValues("error").Inc()
		logger.Debug("{probe/probe - Check} Probe failed for %s: %v", utils.LogURL(p.cfg, rawURL), err)
		return false
	}
	if ok {
		metrics.ProbeResults.WithLabelValues("ok").Inc()
	} else {
		metrics.ProbeResults.WithLabelValues("rejected").Inc()
	}

	p.memo.Set(key, types.ProbeResult{CheckedAt: p.now(), OK: ok})
	return ok
}

// check returns an error only when no answer was received.
func (p *Probe) check(ctx context.Context, rawURL string, headers map[string]string) (bool, error) {
	resp, err := p.get(ctx, rawURL, headers, "bytes=0-1")
	if err != nil {
		return false, err
	}
	contentType := resp.Header.Get("Content-Type")
	status := resp.StatusCode
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if status != http.StatusOK && status != http.StatusPartialContent {
		logger.Debug("{probe/probe - check} %s answered status %d", utils.LogURL(p.cfg, rawURL), status)
		return false, nil
	}
	if classify.IsMediaContentType(contentType) {
		return true, nil
	}
	if !classify.IsHLS(rawURL) || !classify.IsGenericContentType(contentType) {
		return false, nil
	}

	resp, err = p.get(ctx, rawURL, headers, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	info, err := parser.InspectManifest(resp.Body)
	if err != nil {
		return false, nil
	}
	return info.Playable(), nil
}

func (p *Probe) get(ctx context.Context, rawURL string, headers map[string]string, rangeHeader string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
