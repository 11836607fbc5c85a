// Package metrics exposes the Prometheus collectors the event
// processor instruments itself with, following the teacher's
// registry-plus-package-level-Record* pattern.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds this service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	bedrockInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "analyzer",
			Name:      "bedrock_invocations_total",
			Help:      "Total Bedrock InvokeModel calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	bedrockThrottles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "analyzer",
			Name:      "bedrock_throttles_total",
			Help:      "Total throttling responses received from Bedrock.",
		},
		[]string{},
	)

	bedrockFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "analyzer",
			Name:      "fallback_analyses_total",
			Help:      "Total times the deterministic fallback analysis was used instead of Bedrock.",
		},
		[]string{"reason"},
	)

	bedrockDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventprocessor",
			Subsystem: "analyzer",
			Name:      "bedrock_call_duration_seconds",
			Help:      "Duration of successful Bedrock InvokeModel calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{},
	)

	dispatchBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "dispatch",
			Name:      "batches_total",
			Help:      "Total work-unit batches emitted, labeled by route (queue|inline).",
		},
		[]string{"route"},
	)

	dispatchUnits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventprocessor",
			Subsystem: "dispatch",
			Name:      "units_per_event",
			Help:      "Number of work units a single event was partitioned into.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{},
	)

	workerBatchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "worker",
			Name:      "batch_results_total",
			Help:      "Total work-unit batches processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	counterRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eventprocessor",
			Subsystem: "counters",
			Name:      "recompute_duration_seconds",
			Help:      "Duration of a full counter-table recompute.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	counterDirtyARNs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "counters",
			Name:      "dirty_arns_processed_total",
			Help:      "Total dirty-ARN incremental counter updates applied from the change stream.",
		},
	)

	changeStreamRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Subsystem: "changestream",
			Name:      "records_total",
			Help:      "Total DynamoDB Stream records handled, labeled by event name.",
		},
		[]string{"event_name"},
	)
)

func init() {
	Registry.MustRegister(
		bedrockInvocations,
		bedrockThrottles,
		bedrockFallbacks,
		bedrockDuration,
		dispatchBatches,
		dispatchUnits,
		workerBatchResults,
		counterRecomputeDuration,
		counterDirtyARNs,
		changeStreamRecords,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordBedrockInvocation records the outcome and duration of a
// Bedrock InvokeModel call.
func RecordBedrockInvocation(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	bedrockInvocations.WithLabelValues(outcome).Inc()
	if success {
		bedrockDuration.WithLabelValues().Observe(duration.Seconds())
	}
}

// RecordBedrockThrottle increments the throttle counter.
func RecordBedrockThrottle() {
	bedrockThrottles.WithLabelValues().Inc()
}

// RecordFallbackAnalysis increments the fallback-analysis counter.
func RecordFallbackAnalysis(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	bedrockFallbacks.WithLabelValues(reason).Inc()
}

// RecordDispatchBatch records a batch emission and how many work units
// the triggering event was split into.
func RecordDispatchBatch(route string, units int) {
	if route == "" {
		route = "unknown"
	}
	dispatchBatches.WithLabelValues(route).Inc()
	dispatchUnits.WithLabelValues().Observe(float64(units))
}

// RecordWorkerBatchResult records the outcome of a single work-unit
// batch processed by the worker.
func RecordWorkerBatchResult(success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	workerBatchResults.WithLabelValues(outcome).Inc()
}

// RecordCounterRecompute records the duration of a full recompute.
func RecordCounterRecompute(duration time.Duration) {
	counterRecomputeDuration.Observe(duration.Seconds())
}

// RecordDirtyARNProcessed increments the incremental-update counter.
func RecordDirtyARNProcessed() {
	counterDirtyARNs.Inc()
}

// RecordChangeStreamRecord records a handled stream record by its
// DynamoDB Streams event name (INSERT|MODIFY|REMOVE).
func RecordChangeStreamRecord(eventName string) {
	if eventName == "" {
		eventName = "UNKNOWN"
	}
	changeStreamRecords.WithLabelValues(eventName).Inc()
}
