// README: Prometheus collector on a private registry for monitor, escalation, SOS, and broadcast activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveMonitors prometheus.Gauge
	OpenAlerts     prometheus.Gauge

	EpisodesStarted  prometheus.Counter
	EpisodesResolved *prometheus.CounterVec // reason label
	AlertsSent       prometheus.Counter
	CallAttempts     prometheus.Counter
	TicketsCreated   prometheus.Counter
	SOSTriggered     prometheus.Counter

	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter
	NotifyFailures     prometheus.Counter

	IngestReceived prometheus.Counter
	IngestRejected prometheus.Counter
	NATSConnected  prometheus.Gauge

	SweepDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_active_monitors",
			Help: "Number of trips currently registered with the stationary monitor.",
		}),
		OpenAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_open_alerts",
			Help: "Stationary events currently awaiting a passenger response.",
		}),
		EpisodesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_stationary_episodes_total",
			Help: "Total stationary episodes detected.",
		}),
		EpisodesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_stationary_resolved_total",
			Help: "Stationary episodes resolved, by reason.",
		}, []string{"reason"}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_safety_checks_sent_total",
			Help: "Safety-check prompts dispatched to riders.",
		}),
		CallAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_call_attempts_total",
			Help: "Escalation call attempts placed.",
		}),
		TicketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_support_tickets_total",
			Help: "Support tickets created by escalation.",
		}),
		SOSTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_sos_alerts_total",
			Help: "SOS alerts triggered.",
		}),
		BroadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_broadcast_delivered_total",
			Help: "Messages delivered to room subscribers.",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_broadcast_dropped_total",
			Help: "Messages dropped because a subscriber buffer was full.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_notify_failures_total",
			Help: "Notification sends that reported an error.",
		}),
		IngestReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_location_updates_total",
			Help: "Location updates received.",
		}),
		IngestRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_location_rejected_total",
			Help: "Location updates rejected as invalid.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_sweep_duration_seconds",
			Help:    "Duration of stationary/escalation sweep passes.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.ActiveMonitors, c.OpenAlerts,
		c.EpisodesStarted, c.EpisodesResolved, c.AlertsSent,
		c.CallAttempts, c.TicketsCreated, c.SOSTriggered,
		c.BroadcastDelivered, c.BroadcastDropped, c.NotifyFailures,
		c.IngestReceived, c.IngestRejected, c.NATSConnected,
		c.SweepDuration,
	)
	return c
}

// NATSSetConnected implements the infra connection-state hook.
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// Handler serves the private registry; mounted at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
