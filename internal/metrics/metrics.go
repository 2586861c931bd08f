package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowops"

// Metrics holds the Prometheus instruments for the FlowOps core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActionsTotal           *prometheus.CounterVec
	ActionDuration         *prometheus.HistogramVec
	TicketTransitions      *prometheus.CounterVec
	InferenceTotal         *prometheus.CounterVec
	InferenceDuration      prometheus.Histogram
	NotificationsPublished *prometheus.CounterVec
}

// New creates the instruments and registers them on reg. A nil reg creates
// unregistered instruments.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safe_actions_total",
				Help:      "Safe actions executed, by action type and result code",
			},
			[]string{"action", "result"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "safe_action_duration_seconds",
				Help:      "Safe action execution time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
			},
			[]string{"action"},
		),
		TicketTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticket_transitions_total",
				Help:      "Ticket status transitions written",
			},
			[]string{"from", "to"},
		),
		InferenceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_invocations_total",
				Help:      "Agent invocations, by result code",
			},
			[]string{"result"},
		),
		InferenceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_invocation_duration_seconds",
				Help:      "Agent invocation latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
		),
		NotificationsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_published_total",
				Help:      "Alert notifications handed to a transport",
			},
			[]string{"transport", "action", "result"},
		),
	}
}

func (m *Metrics) ObserveAction(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) TicketTransition(from, to string) {
	if m == nil {
		return
	}
	m.TicketTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveInference(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceTotal.WithLabelValues(result).Inc()
	m.InferenceDuration.Observe(d.Seconds())
}

func (m *Metrics) NotificationPublished(transport, action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.NotificationsPublished.WithLabelValues(transport, action, result).Inc()
}
