package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "medianage"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for the service.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Histogram
	BirthdaysAdded    prometheus.Counter
	BirthdaysRejected *prometheus.CounterVec // reason

	// Median
	MedianQueries       *prometheus.CounterVec // result (found/empty/error)
	MedianCacheHits     prometheus.Counter
	MedianQueryDuration prometheus.Histogram

	// Persistence
	PersistFlushes   prometheus.Counter
	PersistErrors    prometheus.Counter
	PersistDuration  prometheus.Histogram
	PersistedBytes   prometheus.Gauge
	SchedulerRunning prometheus.Gauge

	// Sinks
	SinkEventsProcessed *prometheus.CounterVec   // sink
	SinkFlushDuration   *prometheus.HistogramVec // sink
	SinkBatchSize       *prometheus.HistogramVec // sink
	ExportBatchErrors   *prometheus.CounterVec   // sink, error_type
	ClickHouseConnected *prometheus.GaugeVec     // sink

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		BirthdaysAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "birthdays_added_total",
			Help:      "Total birth dates recorded.",
		}),
		BirthdaysRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "birthdays_rejected_total",
				Help:      "Total birth dates rejected by reason.",
			},
			[]string{"reason"},
		),

		MedianQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "median_queries_total",
				Help:      "Total median queries by result.",
			},
			[]string{"result"},
		),
		MedianCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "median_cache_hits_total",
			Help:      "Total median queries answered from the result cache.",
		}),
		MedianQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "median_query_duration_seconds",
			Help:      "Time to answer a median query, including the snapshot copy.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}, // 50us-10ms
		}),

		PersistFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_flushes_total",
			Help:      "Total successful histogram flushes to disk.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total failed histogram flushes.",
		}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Time to copy and write the histogram.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
		}),
		PersistedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persisted_bytes",
			Help:      "Size of the last histogram file written.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "Whether the persistence scheduler is running (1=yes, 0=no).",
		}),

		SinkEventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_processed_total",
				Help:      "Total birthdays processed by sink.",
			},
			[]string{"sink"},
		),
		SinkFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_flush_duration_seconds",
				Help:      "Time to flush a batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"sink"},
		),
		SinkBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_batch_size",
				Help:      "Number of rows per batch flush by sink.",
				Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 10000},
			},
			[]string{"sink"},
		),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batch_errors_total",
				Help:      "Total export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		h.BirthdaysAdded,
		h.BirthdaysRejected,
		h.MedianQueries,
		h.MedianCacheHits,
		h.MedianQueryDuration,
	)

	reg.MustRegister(
		h.PersistFlushes,
		h.PersistErrors,
		h.PersistDuration,
		h.PersistedBytes,
		h.SchedulerRunning,
	)

	reg.MustRegister(
		h.SinkEventsProcessed,
		h.SinkFlushDuration,
		h.SinkBatchSize,
		h.ExportBatchErrors,
		h.ClickHouseConnected,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln
	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address, or the configured one before
// Start.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Registry exposes the registry so other servers can mount the handler.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
