package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAction("create_ticket", "OK", time.Millisecond)
	m.TicketTransition("open", "closed")
	m.ObserveInference("OK", time.Second)
	m.NotificationPublished("sns", "request_logs", nil)
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAction("create_ticket", "OK", 10*time.Millisecond)
	m.ObserveAction("create_ticket", "OK", 20*time.Millisecond)
	m.TicketTransition("open", "escalated")
	m.ObserveInference("INFERENCE_FAILURE", time.Second)
	m.NotificationPublished("sns", "escalate_to_human", errors.New("boom"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("create_ticket", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TicketTransitions.WithLabelValues("open", "escalated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.InferenceTotal.WithLabelValues("INFERENCE_FAILURE")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues("sns", "escalate_to_human", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
