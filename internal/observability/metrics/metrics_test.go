package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsRecord(t *testing.T) {
	t.Parallel()

	m, err := NewPipelineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordFrameCaptured("camera")
	m.RecordFrameCaptured("camera")
	m.RecordInference("onnx", 0.02, "")
	m.RecordInference("onnx", 0, "timeout")
	m.RecordFilterDrop("below_threshold", 3)
	m.RecordFilterDrop("unknown_class", 0)
	m.IncrementDetectionCounter("ToolBox")
	m.RecordTransition("ToolBox", true)
	m.RecordAlert("INFO")
	m.RecordModelLoad("onnx", nil)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FramesCaptured.WithLabelValues("camera")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FramesProcessed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.InferenceErrors.WithLabelValues("onnx", "timeout")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.FilterDrops.WithLabelValues("below_threshold")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FilterDrops), "zero drops create no series")
	assert.InDelta(t, 1, testutil.ToFloat64(m.EquipmentPresent.WithLabelValues("ToolBox")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ModelLoadedGauge), 0)

	m.RecordTransition("ToolBox", false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.EquipmentPresent.WithLabelValues("ToolBox")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("ToolBox", "missing")), 0)

	m.RecordModelLoad("onnx", errors.New("bad weights"))
	assert.InDelta(t, 0, testutil.ToFloat64(m.ModelLoadedGauge), 0)
}

func TestNilPipelineMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.RecordFrameCaptured("camera")
		m.RecordInference("onnx", 1, "")
		m.RecordTransition("ToolBox", true)
		m.SetWorkerRunning(true)
	})
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(reg)
	require.NoError(t, err)
	_, err = NewPipelineMetrics(reg)
	require.Error(t, err)
}

func TestDatastoreMetricsParsesTable(t *testing.T) {
	t.Parallel()

	m, err := NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordOperation(OpAlertSave+":alerts", StatusSuccess)
	m.RecordError(OpAlertSave+":alerts", "database")
	m.RecordOperation(OpMigrate, StatusSuccess)

	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues(OpAlertSave, "alerts", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues(OpAlertSave, "alerts", StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues(OpMigrate, "unknown", StatusSuccess)), 0)
}

func TestMQTTAndNotificationMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	mq, err := NewMQTTMetrics(reg)
	require.NoError(t, err)
	nm, err := NewNotificationMetrics(reg)
	require.NoError(t, err)

	mq.UpdateConnectionStatus(true)
	mq.RecordPublish("alert", 120, 5*time.Millisecond, nil)
	mq.RecordPublish("state", 0, 0, errors.New("not connected"))
	nm.RecordDelivery("telegram", time.Second, nil)
	nm.RecordSuppressed("cooldown")

	assert.InDelta(t, 1, testutil.ToFloat64(mq.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(mq.MessagesDelivered.WithLabelValues("alert")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(mq.Errors.WithLabelValues("state")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(nm.ProviderDeliveriesTotal.WithLabelValues("telegram", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(nm.Suppressed.WithLabelValues("cooldown")), 0)
}

func TestSSEConnectionTracking(t *testing.T) {
	t.Parallel()

	m, err := NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SSEConnectionStarted("/api/v2/alerts/stream")
	m.SSEConnectionStarted("/api/v2/alerts/stream")
	assert.InDelta(t, 2, m.GetActiveSSEConnections(), 0)

	m.SSEConnectionClosed("/api/v2/alerts/stream", 3, "weird")
	assert.InDelta(t, 1, m.GetActiveSSEConnections(), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sseTotalConnections.WithLabelValues("/api/v2/alerts/stream", SSECloseReasonError)), 0)
}
