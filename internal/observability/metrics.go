// Package observability provides Prometheus metrics for gemwatch's error
// taxonomy, pipeline stages, and storage layers.
package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Category names the error taxonomy from spec §7. Every drop, suppression,
// or retry in the pipeline is tagged with exactly one of these.
type Category string

const (
	CategoryTransientInput      Category = "transient_input"
	CategoryMalformed           Category = "malformed"
	CategoryEligibilityRejected Category = "eligibility_rejected"
	CategoryDedupSuppressed     Category = "dedup_suppressed"
	CategoryDurableWriteFailed  Category = "durable_write_failed"
	CategoryConfigError         Category = "config_error"
)

var allCategories = []Category{
	CategoryTransientInput,
	CategoryMalformed,
	CategoryEligibilityRejected,
	CategoryDedupSuppressed,
	CategoryDurableWriteFailed,
	CategoryConfigError,
}

// Metrics holds every Prometheus metric gemwatch exposes.
type Metrics struct {
	EventsByCategory *prometheus.CounterVec

	EventsIngested    *prometheus.CounterVec // source_id
	EventsParsed      *prometheus.CounterVec // source_id
	ParserDropsTotal  *prometheus.CounterVec // source_id, reason
	IngestLatency     prometheus.Histogram

	AlertsEmitted      *prometheus.CounterVec // tier
	CorrelatorEvalTime prometheus.Histogram
	EnrichmentLatency  prometheus.Histogram
	EnrichmentFailures prometheus.Counter

	DurableWriteDuration prometheus.Histogram
	DurableWriteRetries  prometheus.Counter
	EmergencySidecarUsed prometheus.Counter

	MirrorPushDuration prometheus.Histogram
	MirrorPushFailures prometheus.Counter
	MirrorQueueDropped prometheus.Counter

	FanoutDeliveryFailures *prometheus.CounterVec // class: permanent|transient
	FanoutQueueDropped     prometheus.Counter

	// categoryCounts mirrors EventsByCategory as plain atomic counters so
	// /api/health can report them without scraping Prometheus.
	categoryCounts map[Category]*int64
}

// NewMetrics creates a Metrics instance with every metric registered under
// namespace (defaults to "gemwatch").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gemwatch"
	}

	m := &Metrics{
		EventsByCategory: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_by_category_total",
			Help:      "Total events handled per error-taxonomy category",
		}, []string{"category"}),

		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_ingested_total",
			Help:      "Total raw messages received per source",
		}, []string{"source_id"}),
		EventsParsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "events_parsed_total",
			Help:      "Total messages that yielded a ParsedEvent per source",
		}, []string{"source_id"}),
		ParserDropsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "drops_total",
			Help:      "Total messages dropped by the parser per source and reason",
		}, []string{"source_id", "reason"}),
		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "observed_latency_seconds",
			Help:      "Seconds from local message receipt to correlator admission",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		AlertsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "alerts_emitted_total",
			Help:      "Total alerts emitted per tier",
		}, []string{"tier"}),
		CorrelatorEvalTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "correlator",
			Name:      "evaluate_duration_seconds",
			Help:      "Duration of a single Correlator.Evaluate call",
			Buckets:   prometheus.DefBuckets,
		}),
		EnrichmentLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "enrichment_latency_seconds",
			Help:      "Live quote enrichment call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		EnrichmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "enrichment_failures_total",
			Help:      "Total enrichment calls that fell back to the parsed market cap",
		}),

		DurableWriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "write_duration_seconds",
			Help:      "Duration of an event-log persist call, retries included",
			Buckets:   prometheus.DefBuckets,
		}),
		DurableWriteRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "write_retries_total",
			Help:      "Total event-log persist calls that needed more than one write attempt",
		}),
		EmergencySidecarUsed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "emergency_sidecar_appends_total",
			Help:      "Total records that fell back to the emergency sidecar",
		}),

		MirrorPushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "push_duration_seconds",
			Help:      "Duration of a remote mirror push cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		MirrorPushFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "push_failures_total",
			Help:      "Total remote mirror push cycles that exhausted retries",
		}),
		MirrorQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "queue_dropped_total",
			Help:      "Total records dropped because the mirror queue was full",
		}),

		FanoutDeliveryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "delivery_failures_total",
			Help:      "Total delivery failures by permanent/transient classification",
		}, []string{"class"}),
		FanoutQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "queue_dropped_total",
			Help:      "Total alerts dropped because the correlator-to-fanout channel was full",
		}),
	}

	m.categoryCounts = make(map[Category]*int64, len(allCategories))
	for _, c := range allCategories {
		var v int64
		m.categoryCounts[c] = &v
	}

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the process-wide metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCategory increments both the Prometheus counter and the plain
// atomic counter for category, the latter read back by the read API's
// /api/health endpoint.
func RecordCategory(category Category) {
	DefaultMetrics.EventsByCategory.WithLabelValues(string(category)).Inc()
	if p, ok := DefaultMetrics.categoryCounts[category]; ok {
		atomic.AddInt64(p, 1)
	}
}

// CategorySnapshot returns the current count for every error-taxonomy
// category, for /api/health.
func CategorySnapshot() map[string]int64 {
	out := make(map[string]int64, len(allCategories))
	for _, c := range allCategories {
		out[string(c)] = atomic.LoadInt64(DefaultMetrics.categoryCounts[c])
	}
	return out
}

// RecordIngested increments the per-source ingested-message counter.
func RecordIngested(sourceID string) {
	DefaultMetrics.EventsIngested.WithLabelValues(sourceID).Inc()
}

// RecordParsed increments the per-source parsed-event counter.
func RecordParsed(sourceID string) {
	DefaultMetrics.EventsParsed.WithLabelValues(sourceID).Inc()
}

// RecordParserDrop increments the per-source, per-reason parser drop
// counter and the malformed category counter.
func RecordParserDrop(sourceID, reason string) {
	DefaultMetrics.ParserDropsTotal.WithLabelValues(sourceID, reason).Inc()
	RecordCategory(CategoryMalformed)
}

// RecordStaleEventDropped increments the per-source parser drop counter
// with reason "stale", for an event dropped by the ingest latency budget
// (spec §8 invariant 6) rather than by a parse failure — it is not counted
// against the malformed category, since the message parsed cleanly.
func RecordStaleEventDropped(sourceID string) {
	DefaultMetrics.ParserDropsTotal.WithLabelValues(sourceID, "stale").Inc()
	RecordCategory(CategoryTransientInput)
}

// RecordIngestLatency observes the gap between a message's local receipt
// time (RawMessage.ReceivedAt) and the moment it was admitted to the
// correlator.
func RecordIngestLatency(seconds float64) {
	DefaultMetrics.IngestLatency.Observe(seconds)
}

// RecordAlertEmitted increments the per-tier alert counter.
func RecordAlertEmitted(tier string) {
	DefaultMetrics.AlertsEmitted.WithLabelValues(tier).Inc()
}

// RecordCorrelatorEval observes how long a single Evaluate call took.
func RecordCorrelatorEval(seconds float64) {
	DefaultMetrics.CorrelatorEvalTime.Observe(seconds)
}

// RecordEnrichment observes enrichment call latency and, on failure,
// increments the failure counter and the transient_input category.
func RecordEnrichment(seconds float64, err error) {
	DefaultMetrics.EnrichmentLatency.Observe(seconds)
	if err != nil {
		DefaultMetrics.EnrichmentFailures.Inc()
		RecordCategory(CategoryTransientInput)
	}
}

// RecordDurableWrite observes one persist call's total duration (every
// attempt and backoff included) and, if the call needed more than one
// attempt, increments the retry counter once.
func RecordDurableWrite(seconds float64, retried bool) {
	DefaultMetrics.DurableWriteDuration.Observe(seconds)
	if retried {
		DefaultMetrics.DurableWriteRetries.Inc()
	}
}

// RecordEmergencySidecar increments the emergency-sidecar-append counter
// and the durable_write_failed category.
func RecordEmergencySidecar() {
	DefaultMetrics.EmergencySidecarUsed.Inc()
	RecordCategory(CategoryDurableWriteFailed)
}

// RecordMirrorPush observes a mirror push cycle's duration and, on
// failure, increments the failure counter and the transient_input
// category.
func RecordMirrorPush(seconds float64, err error) {
	DefaultMetrics.MirrorPushDuration.Observe(seconds)
	if err != nil {
		DefaultMetrics.MirrorPushFailures.Inc()
		RecordCategory(CategoryTransientInput)
	}
}

// RecordMirrorQueueDropped increments the mirror queue overflow counter.
func RecordMirrorQueueDropped() {
	DefaultMetrics.MirrorQueueDropped.Inc()
}

// RecordFanoutFailure increments the fan-out delivery failure counter for
// the given classification ("permanent" or "transient").
func RecordFanoutFailure(class string) {
	DefaultMetrics.FanoutDeliveryFailures.WithLabelValues(class).Inc()
}

// RecordFanoutQueueDropped increments the correlator-to-fanout channel
// overflow counter.
func RecordFanoutQueueDropped() {
	DefaultMetrics.FanoutQueueDropped.Inc()
}

// RecordDedupSuppressed increments the dedup_suppressed category.
func RecordDedupSuppressed() {
	RecordCategory(CategoryDedupSuppressed)
}

// RecordEligibilityRejected increments the eligibility_rejected category.
func RecordEligibilityRejected() {
	RecordCategory(CategoryEligibilityRejected)
}
