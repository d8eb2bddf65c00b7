// Package metrics exposes Prometheus counters/gauges for the broadcaster
// and implements the periodic metrics aggregator: clients, pub_rate,
// e2e_latency p50/p95, disconnects_total, and optional per-session rows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors the broadcaster updates.
type Registry struct {
	Clients            prometheus.Gauge
	MessagesPublished  prometheus.Counter
	MessagesDelivered  prometheus.Counter
	MessagesDropped    prometheus.Counter
	SendErrors         prometheus.Counter
	DisconnectsTotal   prometheus.Counter
	PubRate            prometheus.Gauge
	E2ELatencyP50Ms    prometheus.Gauge
	E2ELatencyP95Ms    prometheus.Gauge
	ProcessCPUPercent  prometheus.Gauge
	ProcessRSSBytes    prometheus.Gauge
}

// NewRegistry creates and registers every collector against the default
// Prometheus registerer.
func NewRegistry() *Registry {
	return &Registry{
		Clients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsfanout_clients",
			Help: "Current number of live sessions in the registry",
		}),
		MessagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsfanout_messages_published_total",
			Help: "Total number of messages produced by the publisher",
		}),
		MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsfanout_messages_delivered_total",
			Help: "Total number of successful per-session deliveries",
		}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsfanout_messages_dropped_total",
			Help: "Total number of per-session drop-oldest evictions",
		}),
		SendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsfanout_send_errors_total",
			Help: "Total number of naive-mode send errors or timeouts",
		}),
		DisconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wsfanout_disconnects_total",
			Help: "Cumulative count of sessions that have reached Closed",
		}),
		PubRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsfanout_publish_rate",
			Help: "Messages produced per second, sampled each metrics period",
		}),
		E2ELatencyP50Ms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsfanout_e2e_latency_p50_ms",
			Help: "p50 end-to-end latency across all sessions' recent ACKs, milliseconds",
		}),
		E2ELatencyP95Ms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsfanout_e2e_latency_p95_ms",
			Help: "p95 end-to-end latency across all sessions' recent ACKs, milliseconds",
		}),
		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsfanout_process_cpu_percent",
			Help: "Process CPU utilization percent, sampled each metrics period",
		}),
		ProcessRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsfanout_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled each metrics period",
		}),
	}
}

// IncMessagesPublished implements dispatcher.Metrics.
func (r *Registry) IncMessagesPublished() { r.MessagesPublished.Inc() }

// IncMessagesDelivered implements dispatcher.Metrics.
func (r *Registry) IncMessagesDelivered() { r.MessagesDelivered.Inc() }

// IncMessagesDropped implements dispatcher.Metrics.
func (r *Registry) IncMessagesDropped() { r.MessagesDropped.Inc() }

// IncSendErrors implements dispatcher.Metrics.
func (r *Registry) IncSendErrors() { r.SendErrors.Inc() }

// Handler returns the HTTP handler serving /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
