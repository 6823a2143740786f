package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"aonline-proxy/work/config"
	"aonline-proxy/work/engine"
	"aonline-proxy/work/types"
	"aonline-proxy/work/videos"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	streams   map[string][]types.ResolvedStream
	looked    []string
	prewarmed []string
}

func (f *fakeEngine) Lookup(ctx context.Context, target string) []types.ResolvedStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.looked = append(f.looked, target)
	return f.streams[target]
}

func (f *fakeEngine) Prewarm(targets []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prewarmed = append(f.prewarmed, targets...)
	return len(targets)
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{CachedTargets: 3, ActiveJobs: 1, JobsStarted: 7}
}

type fakeGateway struct{}

func (fakeGateway) HandleProxy(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("proxy:" + r.URL.Query().Get("url")))
}

func (fakeGateway) HandleProvider(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("provider"))
}

func newRouter(t *testing.T, eng *fakeEngine) (http.Handler, *videos.Index) {
	t.Helper()
	cfg := config.Default()
	cfg.SiteBaseURL = "https://site.example"
	idx := videos.NewIndex(cfg)
	return New(cfg, eng, idx, "test").Routes(fakeGateway{}), idx
}

func decodeStreams(t *testing.T, rec *httptest.ResponseRecorder) types.StreamsResponse {
	t.Helper()
	var resp struct {
		Streams []map[string]any `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	out := types.StreamsResponse{Streams: []types.ResolvedStream{}}
	for _, s := range resp.Streams {
		out.Streams = append(out.Streams, types.ResolvedStream{Title: s["title"].(string), URL: s["url"].(string)})
	}
	return out
}

func TestHandleStreamsResolvesEncodedID(t *testing.T) {
	target := "https://site.example/episodio/naruto-1/"
	eng := &fakeEngine{streams: map[string][]types.ResolvedStream{
		target: {{Title: "Streamtape (CAST)", URL: "https://cdn.example/a.mp4"}},
	}}
	router, _ := newRouter(t, eng)

	id := videos.EpisodeID("animeonline:naruto", target)
	req := httptest.NewRequest(http.MethodGet, "/stream/series/"+url.PathEscape(id)+".json", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decodeStreams(t, rec)
	require.Len(t, resp.Streams, 1)
	assert.Equal(t, "https://cdn.example/a.mp4", resp.Streams[0].URL)
	assert.Equal(t, []string{target}, eng.looked)
}

func TestHandleStreamsUnknownIDIsEmpty(t *testing.T) {
	eng := &fakeEngine{}
	router, _ := newRouter(t, eng)

	for _, path := range []string{"/stream/series/animeonline:naruto.json", "/stream/channel/x.json"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"streams":[]}`, rec.Body.String(), path)
	}
	assert.Empty(t, eng.looked)
}

func TestHandleStreamsMovieFallback(t *testing.T) {
	eng := &fakeEngine{}
	router, _ := newRouter(t, eng)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/movie/animeonline:your-name.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://site.example/pelicula/your-name/"}, eng.looked)
}

func TestHandlePrewarmRegistersVideos(t *testing.T) {
	eng := &fakeEngine{}
	router, idx := newRouter(t, eng)

	body := `{"metaId":"animeonline:naruto","videos":[
		{"id":"animeonline:naruto:1","url":"https://site.example/episodio/naruto-1/"},
		{"id":"animeonline:naruto:2","url":"https://site.example/episodio/naruto-2/"}
	],"targets":["https://site.example/episodio/extra/","not-a-url"]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prewarm", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PrewarmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Registered)
	assert.Equal(t, 3, resp.Started)
	assert.Equal(t, []string{"animeonline:naruto:1", "animeonline:naruto:2"}, resp.IDs)
	assert.Equal(t, []string{
		"https://site.example/episodio/naruto-1/",
		"https://site.example/episodio/naruto-2/",
		"https://site.example/episodio/extra/",
	}, eng.prewarmed)

	got, ok := idx.Resolve("series", "animeonline:naruto:2")
	require.True(t, ok)
	assert.Equal(t, "https://site.example/episodio/naruto-2/", got)
}

func TestHandlePrewarmDerivesMissingIDs(t *testing.T) {
	eng := &fakeEngine{}
	router, idx := newRouter(t, eng)

	target := "https://site.example/episodio/bleach-1/"
	body := `{"metaId":"animeonline:bleach","videos":[{"url":"` + target + `"}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prewarm", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PrewarmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{videos.EpisodeID("animeonline:bleach", target)}, resp.IDs)

	got, ok := idx.Resolve("series", resp.IDs[0])
	require.True(t, ok)
	assert.Equal(t, target, got)
	assert.Equal(t, []string{target}, eng.prewarmed)
}

func TestHandlePrewarmRejectsBadBody(t *testing.T) {
	router, _ := newRouter(t, &fakeEngine{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prewarm", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	router, _ := newRouter(t, &fakeEngine{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.NotEmpty(t, resp.LogLevel)
	assert.Equal(t, 3, resp.CachedTargets)
	assert.Equal(t, int64(7), resp.JobsStarted)
}

func TestGatewayRoutes(t *testing.T) {
	router, _ := newRouter(t, &fakeEngine{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy?url=https%3A%2F%2Fcdn.example%2Fa.mp4", nil))
	assert.Equal(t, "proxy:https://cdn.example/a.mp4", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/provider", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
