package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	InitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csharp_provider_init_seconds",
		Help:    "Time spent serving an Init request, by outcome.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 180, 600},
	}, []string{"outcome"})

	PipelineStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csharp_provider_pipeline_step_seconds",
		Help:    "Time spent in each decompilation pipeline step.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csharp_provider_tool_seconds",
		Help:    "Time spent running an external tool, by tool and outcome.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"tool", "outcome"})

	ParsingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "csharp_provider_parsing_seconds",
		Help:    "Time spent parsing a single C# source file.",
		Buckets: prometheus.DefBuckets,
	})

	EvaluateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csharp_provider_evaluate_seconds",
		Help:    "Time spent evaluating a condition, by capability.",
		Buckets: prometheus.DefBuckets,
	}, []string{"capability"})

	EvaluateMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csharp_provider_evaluate_matches_total",
		Help: "Total number of incidents returned by Evaluate, by capability.",
	}, []string{"capability"})

	Sessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "csharp_provider_sessions",
		Help: "Number of known sessions, by state.",
	}, []string{"state"})

	IndexSymbols = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "csharp_provider_index_symbols",
		Help: "Number of symbols in a Ready session's index, by session.",
	}, []string{"session"})

	IndexEdges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "csharp_provider_index_edges",
		Help: "Number of reference edges in a Ready session's index, by session.",
	}, []string{"session"})

	StoreCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csharp_provider_store_cache_hits_total",
		Help: "Total number of index lookups served from the in-memory cache.",
	})

	StoreCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csharp_provider_store_cache_misses_total",
		Help: "Total number of index lookups that went to the backing store.",
	})

	StoreWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csharp_provider_store_write_seconds",
		Help:    "Latency of Session Store writes, by driver.",
		Buckets: prometheus.DefBuckets,
	}, []string{"driver"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csharp_provider_requests_total",
		Help: "Total number of transport requests, by operation and status.",
	}, []string{"operation", "status"})

	RequestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csharp_provider_requests_throttled_total",
		Help: "Total number of transport requests rejected by the rate limiter.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csharp_provider_watcher_events_total",
		Help: "Filesystem events seen by the source watcher.",
	})
)

// Outcome labels shared by the duration histograms.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// OutcomeOf maps an error to an outcome label.
func OutcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
