package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aonline-proxy/work/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RequestsPerSecond = 1000
	return cfg
}

func TestFetchSetsHeaders(t *testing.T) {
	var gotUA, gotReferer, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	cfg := testConfig()
	c := NewHeaderSettingClient(cfg)

	body, err := c.FetchText(context.Background(), srv.URL, "https://site.example/ep/1")
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
	assert.Equal(t, cfg.UserAgent, gotUA)
	assert.Equal(t, "https://site.example/ep/1", gotReferer)
	assert.Equal(t, AcceptHTML, gotAccept)
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHeaderSettingClient(testConfig())
	_, err := c.FetchText(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamStatus))
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embed_url":"https://embed.example/1"}`))
	}))
	defer srv.Close()

	c := NewHeaderSettingClient(testConfig())
	var out struct {
		EmbedURL string `json:"embed_url"`
	}
	require.NoError(t, c.FetchJSON(context.Background(), srv.URL, "", &out))
	assert.Equal(t, "https://embed.example/1", out.EmbedURL)
}

func TestPlaybackHeaders(t *testing.T) {
	h := PlaybackHeaders("UA", "https://embed.example/v/1?x=2")
	assert.Equal(t, map[string]string{
		"User-Agent": "UA",
		"Referer":    "https://embed.example/v/1?x=2",
		"Origin":     "https://embed.example",
	}, h)

	assert.Equal(t, map[string]string{"User-Agent": "UA"}, PlaybackHeaders("UA", ""))
	assert.Equal(t, "", OriginOf("not a url"))
}

func TestRateLimitWaitHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.RequestsPerSecond = 1
	cfg.FetchTimeout = 100 * time.Millisecond
	c := NewHeaderSettingClient(cfg)

	_, err := c.FetchText(context.Background(), srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.FetchText(ctx, srv.URL, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// the fetch timeout alone also bounds the wait
	start = time.Now()
	_, err = c.FetchText(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRelayClientIsNotPaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.RequestsPerSecond = 1
	c := NewRelayClient(cfg)

	start := time.Now()
	for i := 0; i < 5; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
