// Package metrics defines the Prometheus collectors of the payment engine.
// A nil *Metrics is valid and records nothing, so tests can skip it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "token_shop"

// Metrics groups every collector the engine updates.
type Metrics struct {
	transitions   *prometheus.CounterVec
	credited      *prometheus.CounterVec
	creditedUnits *prometheus.CounterVec
	scheduled     *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Applied payment status transitions.",
		}, []string{"provider", "trigger", "from", "to"}),
		credited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_credited_total",
			Help:      "Payment records whose tokens were credited.",
		}, []string{"provider", "trigger"}),
		creditedUnits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_credited_total",
			Help:      "Tokens added to balances by purchases.",
		}, []string{"provider"}),
		scheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_scheduled_total",
			Help:      "Paid records whose credit was delayed to a release time.",
		}, []string{"category"}),
		gatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Payment provider call failures by kind.",
		}, []string{"provider", "op", "kind"}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Received webhook events by outcome.",
		}, []string{"provider", "outcome"}),
		sweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Records processed by sweeps by outcome.",
		}, []string{"sweep", "outcome"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"sweep"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}
}

func (m *Metrics) Transition(provider, trigger, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(provider, trigger, from, to).Inc()
}

func (m *Metrics) Credited(provider, trigger string, tokens int64) {
	if m == nil {
		return
	}
	m.credited.WithLabelValues(provider, trigger).Inc()
	m.creditedUnits.WithLabelValues(provider).Add(float64(tokens))
}

func (m *Metrics) Scheduled(category string) {
	if m == nil {
		return
	}
	m.scheduled.WithLabelValues(category).Inc()
}

func (m *Metrics) GatewayError(provider, op, kind string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(provider, op, kind).Inc()
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) SweepItem(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(sweep, outcome).Inc()
}

// ObserveSweep records a sweep run; use as defer m.ObserveSweep("x", time.Now()).
func (m *Metrics) ObserveSweep(sweep string, start time.Time) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Notification(sink, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(sink, outcome).Inc()
}
