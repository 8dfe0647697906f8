// Package metrics exposes Prometheus instruments for the sync pipeline.
// Every method is safe on a nil *Metrics so components can run unmetered.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the pipeline instruments registered on one registry.
type Metrics struct {
	Sends            *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	SweepItems       *prometheus.CounterVec
	RetentionDeleted prometheus.Counter
	RealtimeEvents   *prometheus.CounterVec
	Uploads          *prometheus.CounterVec
	Invalidations    prometheus.Counter
	Optimistic       prometheus.Gauge
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_sends_total",
				Help: "Message sends by final outcome",
			},
			[]string{"outcome"}, // "confirmed", "failed", "rejected"
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_stage_duration_seconds",
				Help:    "Pipeline stage latency",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		SweepItems: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_sweep_items_total",
				Help: "Messages attempted by the retry sweep",
			},
			[]string{"result"},
		),
		RetentionDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_retention_deleted_total",
				Help: "Messages hard-deleted by the retention sweep",
			},
		),
		RealtimeEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_realtime_events_total",
				Help: "Realtime events by type and handling result",
			},
			[]string{"type", "result"},
		),
		Uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_media_uploads_total",
				Help: "Media uploads by result",
			},
			[]string{"result"},
		),
		Invalidations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_cache_invalidations_total",
				Help: "Cache keys invalidated",
			},
		),
		Optimistic: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_optimistic_messages",
				Help: "Messages currently held in the optimistic layer",
			},
		),
	}
}

// ObserveSend counts a finished send.
func (m *Metrics) ObserveSend(outcome string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// ObserveSweepItem counts one retry sweep attempt.
func (m *Metrics) ObserveSweepItem(result string) {
	if m == nil {
		return
	}
	m.SweepItems.WithLabelValues(result).Inc()
}

// ObserveRetention adds n hard-deleted messages.
func (m *Metrics) ObserveRetention(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeleted.Add(float64(n))
}

// ObserveRealtime counts one handled realtime event.
func (m *Metrics) ObserveRealtime(eventType, result string) {
	if m == nil {
		return
	}
	m.RealtimeEvents.WithLabelValues(eventType, result).Inc()
}

// ObserveUpload counts one media upload.
func (m *Metrics) ObserveUpload(result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
}

// ObserveInvalidation adds n invalidated keys.
func (m *Metrics) ObserveInvalidation(n int) {
	if m == nil {
		return
	}
	m.Invalidations.Add(float64(n))
}

// SetOptimistic reports the optimistic layer size.
func (m *Metrics) SetOptimistic(n int) {
	if m == nil {
		return
	}
	m.Optimistic.Set(float64(n))
}
