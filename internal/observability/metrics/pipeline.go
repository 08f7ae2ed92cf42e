// Package metrics provides custom Prometheus metrics for the scanner.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics covers the frame to alert path: capture, inference,
// filtering, presence tracking and the alert log.
// A nil *PipelineMetrics records nothing.
type PipelineMetrics struct {
	FramesCaptured  *prometheus.CounterVec
	FramesProcessed prometheus.Counter
	FramesSkipped   prometheus.Counter

	InferenceDuration *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec

	FilterDrops      *prometheus.CounterVec
	DetectionCounter *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec

	ModelLoadTotal   *prometheus.CounterVec
	ModelLoadedGauge prometheus.Gauge
	EquipmentPresent *prometheus.GaugeVec
	WorkerRunning    prometheus.Gauge
	CameraRunning    prometheus.Gauge
}

// NewPipelineMetrics creates and registers the pipeline collectors.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() error {
	m.FramesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_frames_captured_total",
			Help: "Total number of frames published to the frame slot",
		},
		[]string{"source"},
	)

	m.FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_frames_processed_total",
		Help: "Total number of frames run through the detector",
	})

	m.FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_frames_skipped_total",
		Help: "Total number of captured frames overwritten before the worker picked them up",
	})

	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanner_inference_duration_seconds",
			Help:    "Time taken by the detector for one frame",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"backend"},
	)

	m.InferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_inference_errors_total",
			Help: "Total number of failed inference calls by error category",
		},
		[]string{"backend", "category"},
	)

	m.FilterDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_filter_drops_total",
			Help: "Raw candidates discarded by the detection filter",
		},
		[]string{"reason"},
	)

	m.DetectionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_detections_total",
			Help: "Accepted detections by equipment class",
		},
		[]string{"class"},
	)

	m.Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_presence_transitions_total",
			Help: "Presence changes by equipment class and direction",
		},
		[]string{"class", "kind"},
	)

	m.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_alerts_total",
			Help: "Alert log entries by level",
		},
		[]string{"level"},
	)

	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_model_load_total",
			Help: "Total number of model load attempts",
		},
		[]string{"backend", "status"},
	)

	m.ModelLoadedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_model_loaded",
		Help: "Whether a detection model is currently loaded (1) or not (0)",
	})

	m.EquipmentPresent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanner_equipment_present",
			Help: "Current presence of each equipment class (1 detected, 0 missing or never seen)",
		},
		[]string{"class"},
	)

	m.WorkerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_worker_running",
		Help: "Whether the inference worker is running",
	})

	m.CameraRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_camera_running",
		Help: "Whether the camera capture loop is running",
	})

	return nil
}

func (m *PipelineMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesCaptured,
		m.FramesProcessed,
		m.FramesSkipped,
		m.InferenceDuration,
		m.InferenceErrors,
		m.FilterDrops,
		m.DetectionCounter,
		m.Transitions,
		m.AlertsTotal,
		m.ModelLoadTotal,
		m.ModelLoadedGauge,
		m.EquipmentPresent,
		m.WorkerRunning,
		m.CameraRunning,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RecordFrameCaptured counts a frame published by source
func (m *PipelineMetrics) RecordFrameCaptured(source string) {
	if m == nil {
		return
	}
	m.FramesCaptured.WithLabelValues(source).Inc()
}

// RecordFramesSkipped counts frames that were replaced in the slot unseen
func (m *PipelineMetrics) RecordFramesSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesSkipped.Add(float64(n))
}

// RecordInference records one detector call. category is empty on success.
func (m *PipelineMetrics) RecordInference(backend string, seconds float64, category string) {
	if m == nil {
		return
	}
	if category != "" {
		m.InferenceErrors.WithLabelValues(backend, category).Inc()
		return
	}
	m.FramesProcessed.Inc()
	m.InferenceDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordFilterDrop adds n drops for reason
func (m *PipelineMetrics) RecordFilterDrop(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilterDrops.WithLabelValues(reason).Add(float64(n))
}

// IncrementDetectionCounter counts an accepted detection of class
func (m *PipelineMetrics) IncrementDetectionCounter(class string) {
	if m == nil {
		return
	}
	m.DetectionCounter.WithLabelValues(class).Inc()
}

// RecordTransition counts a presence change and updates the presence gauge
func (m *PipelineMetrics) RecordTransition(class string, detected bool) {
	if m == nil {
		return
	}
	kind, present := "missing", 0.0
	if detected {
		kind, present = "detected", 1.0
	}
	m.Transitions.WithLabelValues(class, kind).Inc()
	m.EquipmentPresent.WithLabelValues(class).Set(present)
}

// ResetPresence clears the presence gauge for every class
func (m *PipelineMetrics) ResetPresence(classes []string) {
	if m == nil {
		return
	}
	for _, c := range classes {
		m.EquipmentPresent.WithLabelValues(c).Set(0)
	}
}

// RecordAlert counts an alert log entry
func (m *PipelineMetrics) RecordAlert(level string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(level).Inc()
}

// RecordModelLoad records a load attempt and the resulting loaded state
func (m *PipelineMetrics) RecordModelLoad(backend string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ModelLoadTotal.WithLabelValues(backend, StatusError).Inc()
		m.ModelLoadedGauge.Set(0)
		return
	}
	m.ModelLoadTotal.WithLabelValues(backend, StatusSuccess).Inc()
	m.ModelLoadedGauge.Set(1)
}

// SetWorkerRunning reflects the worker state
func (m *PipelineMetrics) SetWorkerRunning(running bool) {
	if m == nil {
		return
	}
	m.WorkerRunning.Set(boolToFloat(running))
}

// SetCameraRunning reflects the camera state
func (m *PipelineMetrics) SetCameraRunning(running bool) {
	if m == nil {
		return
	}
	m.CameraRunning.Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
