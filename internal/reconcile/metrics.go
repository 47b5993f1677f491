package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricWebhookEvents   = "paystack_webhook_events_total"
	MetricReconciliations = "paystack_reconciliations_total"
	MetricOperatorActions = "paystack_operator_actions_total"
)

// Metrics contains Prometheus counters for reconciliation outcomes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	operatorActions *prometheus.CounterVec
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWebhookEvents,
				Help: "Total number of Paystack webhook events by subject, kind and outcome",
			},
			[]string{"subject", "kind", "outcome"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReconciliations,
				Help: "Total number of terminal transition attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		operatorActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricOperatorActions,
				Help: "Total number of operator refund and cancellation actions by outcome",
			},
			[]string{"action", "outcome"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns the collectors for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.webhookEvents,
		m.reconciliations,
		m.operatorActions,
	}
}

// ObserveWebhook counts one dispatched webhook event.
func (m *Metrics) ObserveWebhook(subject, kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(subject, kind, outcome).Inc()
}

// ObserveReconciliation counts one terminal transition attempt for a channel.
func (m *Metrics) ObserveReconciliation(channel, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(channel, outcome).Inc()
}

// ObserveOperatorAction counts one refund or cancellation attempt.
func (m *Metrics) ObserveOperatorAction(action, outcome string) {
	if m == nil {
		return
	}
	m.operatorActions.WithLabelValues(action, outcome).Inc()
}
