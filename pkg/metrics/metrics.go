// Package metrics defines the Prometheus collectors used across the index
// services and exposes an HTTP handler for scraping.
//
// Index collectors are package-level so engines created in tests need no
// registry; services call Register once at startup.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "iix"

var (
	UpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "updates_total",
		Help:      "Computed unit updates by index and outcome (changed, unchanged, error).",
	}, []string{"index", "outcome"})

	UpdateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "update_duration_seconds",
		Help:      "Time spent applying a computed update to both stores.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"index"})

	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "lookups_total",
		Help:      "Key lookups by index and outcome (hit, empty, error).",
	}, []string{"index", "outcome"})

	FlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "flushes_total",
		Help:      "Store flushes by store and status.",
	}, []string{"store", "status"})

	RebuildRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rebuild_requests_total",
		Help:      "Corruption detections by index; coalesced ones did not re-notify.",
	}, []string{"index", "result"})

	Rebuilds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rebuild",
		Name:      "duration_seconds",
		Help:      "Full re-index duration by status.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"status"})

	BatchFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "flushes_total",
		Help:      "Batched writer flushes by trigger (threshold, explicit, close) and status.",
	}, []string{"trigger", "status"})

	BatchRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "rejected_total",
		Help:      "Records dropped because the sink rejected them as invalid.",
	})

	BatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "queue_depth",
		Help:      "Records buffered in the batched writer.",
	})

	LockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting for the cross-process index lock.",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})

	SegmentsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backref",
		Name:      "segments_written_total",
		Help:      "Reference index segments written.",
	})
)

// Register registers every index collector with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		UpdatesTotal, UpdateDuration, LookupsTotal, FlushesTotal,
		RebuildRequests, Rebuilds, BatchFlushes, BatchRejected, BatchQueueDepth,
		LockWait, SegmentsWritten,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// HTTP holds the request collectors used by the middleware.
type HTTP struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// NewHTTP creates the request collectors and registers them with reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "word_cache_hits_total",
				Help: "Total number of word query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "word_cache_misses_total",
				Help: "Total number of word query cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}
