package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"aonline-proxy/work/buffer"
	"aonline-proxy/work/classify"
	"aonline-proxy/work/client"
	"aonline-proxy/work/config"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/metrics"
	"aonline-proxy/work/types"
	"aonline-proxy/work/utils"

	"github.com/google/uuid"
)

// ErrNotMedia is returned when an upstream answers with a content type
// that is not video, HLS or DASH.
var ErrNotMedia = errors.New("upstream content is not media")

const (
	routeProxy    = "proxy"
	routeProvider = "provider"
)

// passthroughHeaders are copied from the upstream response to the client.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"Last-Modified",
	"ETag",
}

// Doer performs HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProviderResolver turns a provider page into its first playable candidate.
type ProviderResolver interface {
	ResolveFirstPlayable(ctx context.Context, providerURL, referer string) (types.Candidate, bool)
}

// Gateway relays media bytes from third-party hosts to players that cannot
// send the Referer and Origin headers those hosts require.
type Gateway struct {
	cfg       *config.Config
	http      Doer
	providers ProviderResolver
	buffers   *buffer.BufferPool
	sem       chan struct{}
}

// NewGateway creates a Gateway that serves at most cfg.MaxConnectionsToApp
// sessions at once.
func NewGateway(cfg *config.Config, doer Doer, providers ProviderResolver) *Gateway {
	logger.Debug("{proxy/gateway - NewGateway} Gateway limited to %d concurrent sessions", cfg.MaxConnectionsToApp)

	return &Gateway{
		cfg:       cfg,
		http:      doer,
		providers: providers,
		buffers:   buffer.NewBufferPool(buffer.ChunkSize),
		sem:       make(chan struct{}, cfg.MaxConnectionsToApp),
	}
}

// HandleProxy serves GET /proxy?url=&referer=.
func (g *Gateway) HandleProxy(w http.ResponseWriter, r *http.Request) {
	target, referer, ok := g.params(w, r, routeProxy)
	if !ok {
		return
	}
	if !g.acquire(w, routeProxy) {
		return
	}
	defer g.release()

	g.stream(w, r, routeProxy, target, referer)
}

// HandleProvider serves GET /provider?url=&referer=. The provider page is
// resolved to its first direct, playback-safe candidate, which is then
// relayed like /proxy.
func (g *Gateway) HandleProvider(w http.ResponseWriter, r *http.Request) {
	providerURL, referer, ok := g.params(w, r, routeProvider)
	if !ok {
		return
	}
	if !g.acquire(w, routeProvider) {
		return
	}
	defer g.release()

	candidate, found := g.providers.ResolveFirstPlayable(r.Context(), providerURL, referer)
	if !found {
		logger.Debug("{proxy/gateway - HandleProvider} No playable candidate for %s", utils.LogURL(g.cfg, providerURL))
		g.fail(w, routeProvider, http.StatusBadGateway, "provider unresolved")
		return
	}

	g.stream(w, r, routeProvider, candidate.URL, candidate.Referer)
}

// params validates the url and referer query parameters.
func (g *Gateway) params(w http.ResponseWriter, r *http.Request, route string) (string, string, bool) {
	q := r.URL.Query()
	target := q.Get("url")
	if !classify.IsAbsoluteHTTP(target) {
		g.fail(w, route, http.StatusBadRequest, "invalid url")
		return "", "", false
	}
	return target, q.Get("referer"), true
}

func (g *Gateway) acquire(w http.ResponseWriter, route string) bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		logger.Debug("{proxy/gateway - acquire} Max connections reached (%d), rejecting client", g.cfg.MaxConnectionsToApp)
		g.fail(w, route, http.StatusServiceUnavailable, "Server at capacity")
		return false
	}
}

func (g *Gateway) release() {
	<-g.sem
}

func (g *Gateway) fail(w http.ResponseWriter, route string, status int, msg string) {
	metrics.GatewayRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	http.Error(w, msg, status)
}

// stream opens target upstream and copies it to the client.
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, route, target, referer string) {
	session := uuid.NewString()
	start := time.Now()

	logger.Debug("{proxy/gateway - stream} [%s] %s %s for %s", session, route, utils.LogURL(g.cfg, target), r.RemoteAddr)

	resp, err := g.openUpstream(r.Context(), target, referer, r.Header.Get("Range"))
	if err != nil {
		logger.Warn("{proxy/gateway - stream} [%s] Upstream rejected: %v", session, err)
		msg := "upstream unavailable"
		if errors.Is(err, ErrNotMedia) {
			msg = "upstream is not media"
		}
		g.fail(w, route, http.StatusBadGateway, msg)
		return
	}
	defer resp.Body.Close()

	for _, h := range passthroughHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	crw := client.NewCustomResponseWriter(w)
	crw.WriteHeader(resp.StatusCode)
	metrics.GatewayRequests.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

	metrics.ActiveConnections.WithLabelValues(route).Inc()
	defer metrics.ActiveConnections.WithLabelValues(route).Dec()

	err = g.copy(r.Context(), crw, resp.Body, route)
	switch {
	case err == nil:
		logger.Debug("{proxy/gateway - stream} [%s] Finished after %d bytes in %s", session, crw.BytesWritten(), time.Since(start).Round(time.Millisecond))
	case r.Context().Err() != nil:
		logger.Debug("{proxy/gateway - stream} [%s] Client disconnected after %d bytes", session, crw.BytesWritten())
	default:
		logger.Warn("{proxy/gateway - stream} [%s] Stream error after %d bytes: %v", session, crw.BytesWritten(), err)
	}
}

// openUpstream requests target with the playback headers derived from
// referer. Responses that are not a success or not media are closed and
// returned as errors.
func (g *Gateway) openUpstream(ctx context.Context, target, referer, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range client.PlaybackHeaders(g.cfg.UserAgent, referer) {
		req.Header.Set(k, v)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", client.ErrUpstreamStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !classify.IsMediaContentType(ct) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q", ErrNotMedia, ct)
	}
	return resp, nil
}

// copy streams src to w in pooled chunks, flushing after each one.
func (g *Gateway) copy(ctx context.Context, w *client.CustomResponseWriter, src io.Reader, route string) error {
	buf := g.buffers.Get()
	defer g.buffers.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(*buf)
		if n > 0 {
			if _, werr := w.Write((*buf)[:n]); werr != nil {
				return werr
			}
			w.Flush()
			metrics.BytesTransferred.WithLabelValues(route).Add(float64(n))
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
