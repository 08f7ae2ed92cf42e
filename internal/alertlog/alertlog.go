// Package alertlog is the in-memory, append-only alert sink. Entries are
// immutable once appended and are delivered to subscribers in append order.
package alertlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stationsafe/scanner-go/internal/events"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// Level is the alert severity
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel accepts INFO, WARNING (or WARN) and ERROR in any case
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown alert level %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Kind tells subscribers what produced an entry
type Kind string

const (
	KindLifecycle Kind = "lifecycle"
	KindDetected  Kind = "detected"
	KindMissing   Kind = "missing"
)

// Entry is a single alert. Seq increases by one per append and never repeats
// within a Log.
type Entry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Kind      Kind      `json:"kind"`
	Class     string    `json:"class,omitempty"`
	Message   string    `json:"message"`
}

// String renders the entry the way operators read it in the console
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05"), e.Level, e.Message)
}

// DefaultMaxEntries is the in-memory retention cap
const DefaultMaxEntries = 1000

// Log is the alert log. Append never blocks on subscribers.
type Log struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
	seq        uint64

	broker     *events.Broker[Entry]
	brokerOpts []events.Option
	now        func() time.Time
	logger     logger.Logger
}

// Option configures a Log
type Option func(*Log)

// WithMaxEntries caps retained entries; oldest are evicted first
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithLogger sets the logger used for mirroring entries and broker messages
func WithLogger(log logger.Logger) Option {
	return func(l *Log) {
		l.logger = log
	}
}

// WithDelivery passes options to the subscriber broker, such as queue size and drop handler
func WithDelivery(opts ...events.Option) Option {
	return func(l *Log) {
		l.brokerOpts = append(l.brokerOpts, opts...)
	}
}

// New creates an alert log
func New(opts ...Option) *Log {
	l := &Log{
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = GetLogger()
	}

	brokerOpts := append([]events.Option{events.WithLogger(l.logger)}, l.brokerOpts...)
	l.broker = events.NewBroker[Entry]("alerts", brokerOpts...)
	return l
}

// Append records a lifecycle alert and returns the stored entry
func (l *Log) Append(level Level, message string) Entry {
	return l.AppendEntry(level, KindLifecycle, "", message)
}

// Appendf is Append with formatting
func (l *Log) Appendf(level Level, format string, args ...any) Entry {
	return l.Append(level, fmt.Sprintf(format, args...))
}

// AppendEntry records an alert with an explicit kind and class
func (l *Log) AppendEntry(level Level, kind Kind, class, message string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e := Entry{
		ID:        uuid.NewString(),
		Seq:       l.seq,
		Timestamp: l.now(),
		Level:     level,
		Kind:      kind,
		Class:     class,
		Message:   message,
	}

	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.maxEntries; over > 0 {
		// copy so the evicted prefix can be collected
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}

	// publish under the lock so subscribers observe append order
	l.broker.TryPublish(e)

	l.mirror(e)
	return e
}

func (l *Log) mirror(e Entry) {
	fields := []logger.Field{
		logger.Uint64("seq", e.Seq),
		logger.String("kind", string(e.Kind)),
	}
	if e.Class != "" {
		fields = append(fields, logger.String("class", e.Class))
	}

	switch e.Level {
	case LevelError:
		l.logger.Error(e.Message, fields...)
	case LevelWarning:
		l.logger.Warn(e.Message, fields...)
	default:
		l.logger.Info(e.Message, fields...)
	}
}

// Entries returns retained entries with Seq greater than since, oldest first
func (l *Log) Entries(since uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// entries are sorted by Seq; find the first one after since
	start := len(l.entries)
	for i, e := range l.entries {
		if e.Seq > since {
			start = i
			break
		}
	}
	out := make([]Entry, 0, len(l.entries)-start)
	return append(out, l.entries[start:]...)
}

// Latest returns the newest entry, if any
func (l *Log) Latest() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastSeq returns the sequence number of the most recent append, or 0
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Subscribe delivers every later entry to fn on its own goroutine.
// The returned function unsubscribes and waits for queued entries to be delivered.
func (l *Log) Subscribe(name string, fn func(Entry)) (func(), error) {
	return l.broker.Subscribe(name, fn)
}

// SubscribeWithBuffer is Subscribe with a delivery queue of size entries.
// Persistence subscribers use it to ride out bursts; a full queue drops entries.
func (l *Log) SubscribeWithBuffer(name string, size int, fn func(Entry)) (func(), error) {
	return l.broker.SubscribeWithBuffer(name, size, fn)
}

// Subscribers returns the names of active subscribers
func (l *Log) Subscribers() []string {
	return l.broker.Consumers()
}

// Stats returns delivery counters
func (l *Log) Stats() events.Stats {
	return l.broker.Stats()
}

// Close stops delivery, waiting up to timeout for queued entries.
// Append keeps working after Close; entries are only retained in memory.
func (l *Log) Close(timeout time.Duration) error {
	return l.broker.Shutdown(timeout)
}
