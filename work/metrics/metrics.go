package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheLookups counts stream cache lookups by result ("hit" or "miss").
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aonline_proxy_cache_lookups_total",
	Help: "Stream cache lookups by result",
}, []string{"result"})

// Jobs counts background resolution jobs. The "event" label is "started"
// when a new job is registered and "joined" when a caller reuses one.
var Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aonline_proxy_jobs_total",
	Help: "Background resolution jobs started or joined",
}, []string{"event"})

// ActiveJobs tracks the number of background jobs currently registered.
var ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "aonline_proxy_active_jobs",
	Help: "Background resolution jobs in flight",
})

// ResolveDuration observes how long each resolution lane takes. The
// "lane" label is one of quick, background or final.
var ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "aonline_proxy_resolve_duration_seconds",
	Help:    "Duration of stream resolution by lane",
	Buckets: []float64{0.25, 0.5, 1, 2, 4.5, 8, 15, 30},
}, []string{"lane"})

// ResolvedStreams counts streams produced per lane.
var ResolvedStreams = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aonline_proxy_resolved_streams_total",
	Help: "Streams produced by resolution lane",
}, []string{"lane"})

// GatewayRequests counts gateway requests by route and response status.
var GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aonline_proxy_gateway_requests_total",
	Help: "Gateway requests by route and status",
}, []string{"route", "status"})

// ActiveConnections tracks the current number of streaming sessions per route.
var ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "aonline_proxy_active_connections",
	Help: "Number of active streaming sessions",
}, []string{"route"})

// BytesTransferred tracks the total number of bytes proxied to clients.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aonline_proxy_bytes_transferred",
	Help: "Total bytes transferred",
}, []string{"route"})

// ProbeResults counts playability probe outcomes ("ok", "rejected",
// "error", "memo").
var ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aonline_proxy_probe_results_total",
	Help: "Playability probe outcomes",
}, []string{"outcome"})
