// Package handlers exposes the stream lookup, prewarm and health endpoints
// and wires every route onto the router.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"aonline-proxy/work/classify"
	"aonline-proxy/work/config"
	"aonline-proxy/work/engine"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/middleware"
	"aonline-proxy/work/types"
	"aonline-proxy/work/utils"
	"aonline-proxy/work/videos"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxPrewarmBody bounds the prewarm request body.
const maxPrewarmBody = 1 << 20

// StreamEngine is the part of the engine the handlers use.
type StreamEngine interface {
	Lookup(ctx context.Context, target string) []types.ResolvedStream
	Prewarm(targets []string) int
	Stats() engine.Stats
}

// Gateway serves the media relay routes.
type Gateway interface {
	HandleProxy(w http.ResponseWriter, r *http.Request)
	HandleProvider(w http.ResponseWriter, r *http.Request)
}

// Handlers holds the collaborators of the JSON endpoints.
type Handlers struct {
	cfg     *config.Config
	engine  StreamEngine
	index   *videos.Index
	version string
	started time.Time
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memoryUsage"`
	Goroutines    int    `json:"goroutines"`
	LogLevel      string `json:"logLevel"`
	KnownVideos   int    `json:"knownVideos"`
	ProbeEnabled  bool   `json:"probeEnabled"`
	WorkerThreads int    `json:"workerThreads"`
	engine.Stats
}

// PrewarmResponse is the body of POST /prewarm.
type PrewarmResponse struct {
	Status     string   `json:"status"`
	Registered int      `json:"registered"`
	Started    int      `json:"started"`
	IDs        []string `json:"ids,omitempty"`
}

// New creates the endpoint handlers.
func New(cfg *config.Config, eng StreamEngine, index *videos.Index, version string) *Handlers {
	return &Handlers{
		cfg:     cfg,
		engine:  eng,
		index:   index,
		version: version,
		started: time.Now(),
	}
}

// Routes builds the router for every endpoint. Paths are matched in their
// encoded form so ids carrying escaped URLs survive intact.
func (h *Handlers) Routes(gw Gateway) *mux.Router {
	router := mux.NewRouter()
	router.UseEncodedPath()
	router.Use(middleware.RequestLogger)

	router.HandleFunc("/stream/{type}/{id}.json", middleware.CORS(middleware.GzipMiddleware(h.HandleStreams))).Methods("GET", "OPTIONS")
	router.HandleFunc("/prewarm", middleware.CORS(h.HandlePrewarm)).Methods("POST", "OPTIONS")
	router.HandleFunc("/health", middleware.GzipMiddleware(h.HandleHealth)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/proxy", gw.HandleProxy).Methods("GET")
	router.HandleFunc("/provider", gw.HandleProvider).Methods("GET")

	return router
}

// HandleStreams serves GET /stream/{type}/{id}.json. Unknown ids and
// failed resolutions yield an empty list, never an error status.
func (h *Handlers) HandleStreams(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	contentType := vars["type"]
	id, err := url.PathUnescape(vars["id"])
	if err != nil {
		id = vars["id"]
	}

	resp := types.StreamsResponse{Streams: []types.ResolvedStream{}}

	if contentType == "series" || contentType == videos.KindMovie {
		if target, ok := h.index.Resolve(contentType, id); ok {
			if streams := h.engine.Lookup(r.Context(), target); len(streams) > 0 {
				resp.Streams = streams
			}
		} else {
			logger.Debug("{handlers/handlers - HandleStreams} No target for %s id %s", contentType, id)
		}
	}

	logger.Debug("{handlers/handlers - HandleStreams} Returning %d streams for %s", len(resp.Streams), id)
	writeJSON(w, http.StatusOK, resp)
}

// HandlePrewarm serves POST /prewarm. Videos are registered in the index
// before their targets are prewarmed, in request order. Videos sent
// without an id get one derived from metaId and are answered with the ids
// they were registered under.
func (h *Handlers) HandlePrewarm(w http.ResponseWriter, r *http.Request) {
	var req types.PrewarmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPrewarmBody)).Decode(&req); err != nil {
		logger.Debug("{handlers/handlers - HandlePrewarm} Invalid body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	targets, ids := h.index.RegisterAll(req.MetaID, req.Videos)
	registered := len(targets)
	for _, t := range req.Targets {
		t = strings.TrimSpace(t)
		if classify.IsAbsoluteHTTP(t) {
			targets = append(targets, t)
		}
	}

	started := h.engine.Prewarm(targets)
	if req.MetaID != "" {
		logger.Info("{handlers/handlers - HandlePrewarm} %s: registered %d videos, started %d jobs", req.MetaID, registered, started)
	}

	writeJSON(w, http.StatusOK, PrewarmResponse{Status: "success", Registered: registered, Started: started, IDs: ids})
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Uptime:        utils.FormatDuration(time.Since(h.started)),
		MemoryUsage:   utils.FormatBytes(int64(m.Alloc)),
		Goroutines:    runtime.NumGoroutine(),
		LogLevel:      logger.GetLogLevel(),
		KnownVideos:   h.index.Len(),
		ProbeEnabled:  h.cfg.ProbeEnabled,
		WorkerThreads: h.cfg.WorkerThreads,
		Stats:         h.engine.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} Failed to encode response: %v", err)
	}
}
