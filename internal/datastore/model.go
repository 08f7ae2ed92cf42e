// model.go: persisted alert records
package datastore

import (
	"time"

	"github.com/stationsafe/scanner-go/internal/alertlog"
)

// Alert is a persisted alert log entry. Seq is only unique within one run of
// the scanner, so the row key is the entry ID.
type Alert struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Seq       uint64    `gorm:"index:idx_alerts_seq"`
	Timestamp time.Time `gorm:"index:idx_alerts_timestamp"`
	Level     string    `gorm:"type:varchar(10);index:idx_alerts_level"`
	Kind      string    `gorm:"type:varchar(20)"`
	Class     string    `gorm:"type:varchar(100);index:idx_alerts_class"`
	Message   string
	Station   string `gorm:"type:varchar(100)"`
}

// TableName keeps the table name stable regardless of naming strategy
func (Alert) TableName() string { return "alerts" }

// FromEntry converts an alert log entry into a record
func FromEntry(e alertlog.Entry, station string) Alert {
	return Alert{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Level:     e.Level.String(),
		Kind:      string(e.Kind),
		Class:     e.Class,
		Message:   e.Message,
		Station:   station,
	}
}

// Entry converts the record back to an alert log entry. Unknown levels map
// to INFO.
func (a Alert) Entry() alertlog.Entry {
	level, err := alertlog.ParseLevel(a.Level)
	if err != nil {
		level = alertlog.LevelInfo
	}
	return alertlog.Entry{
		ID:        a.ID,
		Seq:       a.Seq,
		Timestamp: a.Timestamp,
		Level:     level,
		Kind:      alertlog.Kind(a.Kind),
		Class:     a.Class,
		Message:   a.Message,
	}
}
