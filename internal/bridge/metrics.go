package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the bridge's Prometheus collectors
type Metrics struct {
	Polls         *prometheus.CounterVec
	PollErrors    *prometheus.CounterVec
	PollsSkipped  *prometheus.CounterVec
	PollDuration  *prometheus.HistogramVec
	Published     *prometheus.CounterVec
	PublishErrors prometheus.Counter
	Alerts        *prometheus.CounterVec
	Devices       prometheus.Gauge
	Interval      prometheus.Gauge
	Level         *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awair_polls_total",
			Help: "Total number of device polls",
		}, []string{"kind"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awair_poll_errors_total",
			Help: "Total number of failed device polls",
		}, []string{"kind"}),
		PollsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awair_polls_skipped_total",
			Help: "Polls skipped because the previous fetch was still in flight",
		}, []string{"serial"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "awair_poll_duration_seconds",
			Help:    "Duration of device polls",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awair_updates_published_total",
			Help: "Total number of characteristic updates published",
		}, []string{"characteristic"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "awair_publish_errors_total",
			Help: "Total number of failed publishes",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awair_alert_transitions_total",
			Help: "Total number of threshold transitions",
		}, []string{"metric", "state"}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "awair_devices_tracked",
			Help: "Number of tracked devices",
		}),
		Interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "awair_polling_interval_seconds",
			Help: "Resolved air-data polling interval",
		}),
		Level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "awair_air_quality_level",
			Help: "Last published air quality level per device",
		}, []string{"serial"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Polls, m.PollErrors, m.PollsSkipped, m.PollDuration,
			m.Published, m.PublishErrors, m.Alerts,
			m.Devices, m.Interval, m.Level,
		)
	}
	return m
}
