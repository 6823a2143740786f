package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aonline-proxy/work/config"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// ErrUpstreamStatus is returned when an upstream answers with a non-2xx status.
var ErrUpstreamStatus = errors.New("upstream returned non-success status")

// maxPageBytes bounds how much of an HTML or JSON page is read.
const maxPageBytes = 4 * 1024 * 1024

const (
	AcceptHTML = "text/html,application/xhtml+xml"
	AcceptJSON = "application/json,text/plain,*/*"
)

// HeaderSettingClient wraps http.Client to automatically set browser-like
// headers and, unless built with NewRelayClient, pace requests per
// upstream host.
type HeaderSettingClient struct {
	Client   *http.Client
	config   *config.Config
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

// CustomResponseWriter wraps http.ResponseWriter to track headers and implement Flusher
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader bool
	statusCode  int
	written     int64
}

// HeaderSettingClient implementation
func NewHeaderSettingClient(config *config.Config) *HeaderSettingClient {
	return &HeaderSettingClient{
		Client:   newHTTPClient(),
		config:   config,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// NewRelayClient creates a client for relaying player requests. It sets the
// same headers but does not pace, since every Range request of a playing
// stream goes to the same host.
func NewRelayClient(config *config.Config) *HeaderSettingClient {
	return &HeaderSettingClient{
		Client: newHTTPClient(),
		config: config,
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}
}

// Do sets default headers, waits for the host's rate limiter and performs
// the request. Headers already present on req are kept. The wait ends early
// when the request context is done.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	if err := hsc.pace(req.Context(), req.URL.Host); err != nil {
		return nil, err
	}
	return hsc.Client.Do(req)
}

// pace blocks until host may be contacted again or ctx is done. A limiter
// slot taken after ctx is done is simply left unused.
func (hsc *HeaderSettingClient) pace(ctx context.Context, host string) error {
	if hsc.limiters == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ready := make(chan struct{}, 1)
	limiter := hsc.limiterFor(host)
	go func() {
		limiter.Take()
		ready <- struct{}{}
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait for %s: %w", host, ctx.Err())
	}
}

func (hsc *HeaderSettingClient) limiterFor(host string) ratelimit.Limiter {
	limiter, _ := hsc.limiters.LoadOrCompute(strings.ToLower(host), func() ratelimit.Limiter {
		return ratelimit.New(hsc.config.RequestsPerSecond)
	})
	return limiter
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Connection", "keep-alive")
}

// Fetch GETs rawURL with the given referer and Accept header, bounded by
// the configured fetch timeout, and returns the body.
func (hsc *HeaderSettingClient) Fetch(ctx context.Context, rawURL, referer, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, hsc.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := hsc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// FetchText is Fetch for HTML pages.
func (hsc *HeaderSettingClient) FetchText(ctx context.Context, rawURL, referer string) (string, error) {
	body, err := hsc.Fetch(ctx, rawURL, referer, AcceptHTML)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchJSON fetches rawURL and decodes the JSON body into v.
func (hsc *HeaderSettingClient) FetchJSON(ctx context.Context, rawURL, referer string, v any) error {
	body, err := hsc.Fetch(ctx, rawURL, referer, AcceptJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}

// OriginOf returns scheme://host of rawURL, or "" when it cannot be parsed.
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// PlaybackHeaders returns the request headers a player needs to fetch a
// stream discovered behind referer.
func PlaybackHeaders(userAgent, referer string) map[string]string {
	headers := map[string]string{"User-Agent": userAgent}
	if referer != "" {
		headers["Referer"] = referer
		if origin := OriginOf(referer); origin != "" {
			headers["Origin"] = origin
		}
	}
	return headers
}

// CustomResponseWriter implementation
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	crw.Header().Set("Connection", "keep-alive")

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	n, err := crw.ResponseWriter.Write(b)
	crw.written += int64(n)
	return n, err
}

// Implement http.Flusher interface
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// StatusCode returns the status written so far, or 0.
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

// BytesWritten returns the number of body bytes written.
func (crw *CustomResponseWriter) BytesWritten() int64 {
	return crw.written
}
