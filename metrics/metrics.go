// Package metrics exposes the engine's Prometheus instrumentation and the
// optional HTTP endpoint serving it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's collectors. A nil *Metrics is a no-op, so
// components never need to guard their instrumentation calls.
type Metrics struct {
	recordsProcessed *prometheus.CounterVec
	entriesCommitted *prometheus.CounterVec
	entriesFailed    *prometheus.CounterVec
	batchesFlushed   *prometheus.CounterVec
	operationRetries prometheus.Counter
	flushDuration    *prometheus.HistogramVec
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldapsink_records_processed_total",
			Help: "Records consumed from the input stream.",
		}, []string{"stream"}),
		entriesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldapsink_entries_committed_total",
			Help: "Entries successfully written to the directory.",
		}, []string{"stream", "op"}),
		entriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldapsink_entries_failed_total",
			Help: "Entries that failed, by resolution class.",
		}, []string{"stream", "class"}),
		batchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldapsink_batches_flushed_total",
			Help: "Batches flushed to the directory.",
		}, []string{"stream"}),
		operationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ldapsink_operation_retries_total",
			Help: "Directory operations that failed transiently and were retried.",
		}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ldapsink_flush_duration_seconds",
			Help:    "Wall time spent flushing one batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream"}),
	}
	reg.MustRegister(
		m.recordsProcessed,
		m.entriesCommitted,
		m.entriesFailed,
		m.batchesFlushed,
		m.operationRetries,
		m.flushDuration,
	)
	return m
}

func (m *Metrics) RecordProcessed(stream string) {
	if m == nil {
		return
	}
	m.recordsProcessed.WithLabelValues(stream).Inc()
}

func (m *Metrics) EntryCommitted(stream, op string) {
	if m == nil {
		return
	}
	m.entriesCommitted.WithLabelValues(stream, op).Inc()
}

func (m *Metrics) EntryFailed(stream string, permanent bool) {
	if m == nil {
		return
	}
	class := "unresolved"
	if permanent {
		class = "permanent"
	}
	m.entriesFailed.WithLabelValues(stream, class).Inc()
}

func (m *Metrics) BatchFlushed(stream string) {
	if m == nil {
		return
	}
	m.batchesFlushed.WithLabelValues(stream).Inc()
}

func (m *Metrics) OperationRetried() {
	if m == nil {
		return
	}
	m.operationRetries.Inc()
}

func (m *Metrics) FlushObserved(stream string, d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.WithLabelValues(stream).Observe(d.Seconds())
}
