package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsReplies(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.EntityStarted()
	m.EntityStarted()
	m.EntityFinished()
	m.Reply(200, "", 5*time.Millisecond)
	m.Reply(404, "METHOD_NOT_FOUND", time.Millisecond)
	m.Reply(404, "METHOD_NOT_FOUND", time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.active))
	require.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("200", "none")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.replies.WithLabelValues("404", "METHOD_NOT_FOUND")))
}

func TestMetricsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.EntityStarted()
	m.EntityFinished()
	m.Reply(204, "", 0)
}
