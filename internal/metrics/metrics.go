// Package metrics exposes ingestion counters and queue gauges to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Prefix = "feeder_"

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	updates          *prometheus.CounterVec
	recordsSaved     *prometheus.CounterVec
	providerErrors   *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	throttleBacklog  prometheus.Gauge
	vkRequests       *prometheus.CounterVec
	downloadsRunning prometheus.Gauge
	downloadsWaiting prometheus.Gauge
	fanIn            prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "updates_total",
			Help: "Updates received by the aggregator grouped by provider kind and outcome",
		}, []string{"kind", "outcome"}),
		recordsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "records_saved_total",
			Help: "Newly stored records grouped by provider kind",
		}, []string{"kind"}),
		providerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "provider_errors_total",
			Help: "Provider errors grouped by kind and operation",
		}, []string{"kind", "operation"}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    Prefix + "synchronize_duration_seconds",
			Help:    "Duration of history synchronization per provider kind",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"kind"}),
		throttleBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "vk_throttle_backlog",
			Help: "VK API calls waiting for a throttle tick",
		}),
		vkRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "vk_requests_total",
			Help: "VK API calls grouped by method and result",
		}, []string{"method", "result"}),
		downloadsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "downloads_in_progress",
			Help: "Telegram file downloads currently running",
		}),
		downloadsWaiting: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "downloads_waiting",
			Help: "Telegram file downloads waiting for a slot",
		}),
		fanIn: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "fanin_queue_length",
			Help: "Updates buffered between providers and the aggregator",
		}),
	}
}

func (m *Metrics) RecordUpdate(kind string, outcome Outcome) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind, string(outcome)).Inc()
}

func (m *Metrics) RecordSaved(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsSaved.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RecordProviderError(kind, operation string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(kind, operation).Inc()
}

func (m *Metrics) ObserveSync(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) SetThrottleBacklog(n int) {
	if m == nil {
		return
	}
	m.throttleBacklog.Set(float64(n))
}

func (m *Metrics) RecordVKRequest(method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.vkRequests.WithLabelValues(method, result).Inc()
}

func (m *Metrics) SetDownloads(running, waiting int) {
	if m == nil {
		return
	}
	m.downloadsRunning.Set(float64(running))
	m.downloadsWaiting.Set(float64(waiting))
}

func (m *Metrics) SetFanIn(n int) {
	if m == nil {
		return
	}
	m.fanIn.Set(float64(n))
}
