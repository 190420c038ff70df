package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	EndpointRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "endpoint_requests_total",
		Help:      "Upstream endpoint attempts by source, operation and outcome.",
	}, []string{"source", "op", "status"})

	EndpointRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "endpoint_request_duration_seconds",
		Help:      "Upstream endpoint attempt duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source", "op"})

	EndpointHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "musicsearch",
		Name:      "endpoint_healthy",
		Help:      "Whether an endpoint is healthy (1) or failed past the threshold (0).",
	}, []string{"source", "endpoint"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "source_requests_total",
		Help:      "Aggregation-level source searches by source name and result status.",
	}, []string{"source", "status"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "cache_hits_total",
		Help:      "Total number of search cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "cache_misses_total",
		Help:      "Total number of search cache misses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EndpointRequestsTotal,
		EndpointRequestDuration,
		EndpointHealthy,
		SourceRequestsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
	)
}
