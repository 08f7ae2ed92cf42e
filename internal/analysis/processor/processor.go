package processor

import (
	"fmt"
	"time"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// AlertSink receives transition alerts; *alertlog.Log implements it
type AlertSink interface {
	AppendEntry(level alertlog.Level, kind alertlog.Kind, class, message string) alertlog.Entry
}

// DetectedMessage is the alert text for a class that appeared
func DetectedMessage(class string) string {
	return fmt.Sprintf("%s detected.", class)
}

// MissingMessage is the alert text for a class that disappeared
func MissingMessage(class string) string {
	return fmt.Sprintf("%s missing!", class)
}

// Processor applies filtered snapshots to the Tracker and appends one alert
// per transition. Calls to Process must not overlap; the worker goroutine and
// the one-shot image path are serialized by the caller.
type Processor struct {
	tracker *Tracker
	alerts  AlertSink
	metrics *metrics.PipelineMetrics
	logger  logger.Logger
}

// New creates a processor. metrics may be nil.
func New(registry detection.ClassRegistry, alerts AlertSink, m *metrics.PipelineMetrics) *Processor {
	return &Processor{
		tracker: NewTracker(registry),
		alerts:  alerts,
		metrics: m,
		logger:  GetLogger(),
	}
}

// Process updates presence state from one snapshot and emits its alerts
func (p *Processor) Process(snapshot []detection.Detection, at time.Time) []Transition {
	for _, d := range snapshot {
		p.metrics.IncrementDetectionCounter(d.ClassName)
	}

	transitions := p.tracker.Update(snapshot, at)
	for _, tr := range transitions {
		p.emit(tr)
	}

	if len(transitions) > 0 {
		p.logger.Debug("presence changed",
			logger.Int("transitions", len(transitions)),
			logger.Int("detections", len(snapshot)))
	}
	return transitions
}

func (p *Processor) emit(tr Transition) {
	p.metrics.RecordTransition(tr.Class, tr.Kind == TransitionDetected)

	switch tr.Kind {
	case TransitionDetected:
		p.alerts.AppendEntry(alertlog.LevelInfo, alertlog.KindDetected, tr.Class, DetectedMessage(tr.Class))
	case TransitionMissing:
		p.alerts.AppendEntry(alertlog.LevelWarning, alertlog.KindMissing, tr.Class, MissingMessage(tr.Class))
	}
}

// State returns a copy of the presence state
func (p *Processor) State() map[string]EquipmentState {
	return p.tracker.Snapshot()
}

// Reset marks every class absent without emitting alerts
func (p *Processor) Reset() {
	p.tracker.Reset()
	p.metrics.ResetPresence(p.tracker.Classes())
}

// Tracker returns the underlying tracker
func (p *Processor) Tracker() *Tracker {
	return p.tracker
}
