package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 检索核心的运行指标
type Metrics struct {
	SearchRequests  *prometheus.CounterVec
	SearchLatency   *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	EventsProcessed *prometheus.CounterVec
	PendingBackfill prometheus.Gauge
	VectorDegraded  prometheus.Counter
}

// New 在给定registry上注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SearchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Search requests by mode and outcome.",
		}, []string{"mode", "status"}),
		SearchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "search_latency_seconds",
			Help:    "Search request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "result_cache_hits_total",
			Help: "Result cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "result_cache_misses_total",
			Help: "Result cache misses.",
		}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "change_events_total",
			Help: "Change events by type and outcome.",
		}, []string{"type", "status"}),
		PendingBackfill: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pending_embedding_backfill",
			Help: "Index entries waiting for vector backfill.",
		}),
		VectorDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vector_search_degraded_total",
			Help: "Searches served without the vector channel.",
		}),
	}
}

// NewNop 返回不对外暴露的指标实例，用于测试
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
