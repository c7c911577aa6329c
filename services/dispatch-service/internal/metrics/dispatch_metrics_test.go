package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics("dispatch", reg, reg)
	require.NotNil(t, m.Base())

	m.RecordTransition("OPEN", "MATCHED", "ok")
	m.RecordTransition("OPEN", "MATCHED", "ok")
	m.RecordConflict()
	m.RecordPositionReport("ok")
	m.RecordEvent("task.matched", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("OPEN", "MATCHED", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.casConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.positionReports.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("task.matched", "ok")))
}

func TestDispatchMetrics_OnlineGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics("dispatch", reg, reg)

	m.WorkerOnlineChanged(false, true)
	m.WorkerOnlineChanged(false, true)
	m.WorkerOnlineChanged(true, true)
	m.WorkerOnlineChanged(true, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.onlineWorkers))
}

// TestDispatchMetrics_RegisterTwice проверяет повторную регистрацию в одном реестре
func TestDispatchMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewDispatchMetrics("dispatch", reg, reg)
	second := NewDispatchMetrics("dispatch", reg, reg)

	first.RecordConflict()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.casConflicts))
}
