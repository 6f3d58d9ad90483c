package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collectibus_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectibus_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	EvidenceCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collectibus_evidence_count",
			Help:    "Number of fused evidence items per query",
			Buckets: []float64{0, 1, 2, 5, 10, 15},
		},
	)

	EvidenceSimilarity = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collectibus_evidence_avg_similarity",
			Help:    "Average similarity of the fused evidence set",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	WebSearchTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectibus_web_search_triggered_total",
			Help: "Web searches triggered, labelled by deciding factor",
		},
		[]string{"reason"},
	)

	CitationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectibus_citations_emitted_total",
			Help: "Reconciled citations emitted to clients",
		},
		[]string{"kind"},
	)

	StreamFramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collectibus_stream_frames_dropped_total",
			Help: "Frames not delivered because the consumer went away",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectibus_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectibus_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectibus_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(EvidenceCount)
	prometheus.MustRegister(EvidenceSimilarity)
	prometheus.MustRegister(WebSearchTriggered)
	prometheus.MustRegister(CitationsEmitted)
	prometheus.MustRegister(StreamFramesDropped)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
