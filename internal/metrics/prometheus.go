package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgraph_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"kind"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgraph_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"kind", "status"},
	)

	QueryResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgraph_query_results_count",
			Help:    "Number of results returned per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"kind"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgraph_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgraph_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIntegrated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgraph_documents_integrated_total",
			Help: "Total documents merged into the global graph",
		},
	)

	IntegrationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgraph_integration_failures_total",
			Help: "Total documents whose integration was aborted",
		},
	)

	StorageFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgraph_storage_failures_total",
			Help: "Total knowledge graph persistence failures",
		},
	)

	CrossDocumentLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgraph_cross_document_links_total",
			Help: "Total cross-document relationships discovered",
		},
		[]string{"relationship_type"},
	)

	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgraph_external_call_duration_seconds",
			Help:    "Latency of calls to external collaborators",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"service", "operation", "status"},
	)

	GraphEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgraph_entities_total",
			Help: "Entities in the global registry",
		},
	)

	GraphRelationships = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgraph_relationships_total",
			Help: "Edges in the global graph",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			QueryResultsCount,
			CacheHits,
			CacheMisses,
			DocumentsIntegrated,
			IntegrationFailures,
			StorageFailures,
			CrossDocumentLinks,
			ExternalCallDuration,
			GraphEntities,
			GraphRelationships,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
