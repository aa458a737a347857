package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the message logger.
type PipelineMetrics struct {
	EventsTotal          *prometheus.CounterVec
	ClassificationErrors prometheus.Counter
	EnrichmentTotal      *prometheus.CounterVec
	EnrichmentDuration   prometheus.Histogram
	IdentityCacheHits    prometheus.Counter
	IdentityCacheMisses  prometheus.Counter
	APIKeyCacheHits      prometheus.Counter
	APIKeyCacheMisses    prometheus.Counter
	LogEntries           prometheus.Gauge
	EvictionsTotal       prometheus.Counter
	InterposedCalls      *prometheus.CounterVec
}

// NewPipelineMetrics creates the metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler;
// tests pass a fresh registry.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total number of log entries appended by event type.",
		}, []string{"type"}),
		ClassificationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "pipeline",
			Name:      "classification_errors_total",
			Help:      "Total number of messages that failed classification.",
		}),
		EnrichmentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "enrich",
			Name:      "lookups_total",
			Help:      "Total number of identity lookups by outcome.",
		}, []string{"status"}), // status: ok, error, timeout, rate_limited, empty
		EnrichmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msgtap",
			Subsystem: "enrich",
			Name:      "lookup_duration_seconds",
			Help:      "Latency of identity lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		IdentityCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "identity",
			Name:      "cache_hits_total",
			Help:      "Total number of identity directory cache hits.",
		}),
		IdentityCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "identity",
			Name:      "cache_misses_total",
			Help:      "Total number of identity directory cache misses.",
		}),
		APIKeyCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
		LogEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgtap",
			Subsystem: "logstore",
			Name:      "entries",
			Help:      "Number of entries currently held by the log store.",
		}),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "logstore",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted to honor the capacity.",
		}),
		InterposedCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgtap",
			Subsystem: "interpose",
			Name:      "calls_total",
			Help:      "Total number of intercepted host calls by slot.",
		}, []string{"slot"}),
	}
}
