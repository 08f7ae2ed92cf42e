// interfaces.go: alert persistence shared by the SQLite and MySQL stores
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/observability/metrics"
)

// DefaultSlowQueryThreshold is the duration after which a query is logged as slow
const DefaultSlowQueryThreshold = 200 * time.Millisecond

const alertsTable = "alerts"

// Interface abstracts the underlying database implementation
type Interface interface {
	Open() error
	Save(alert *Alert) error
	Recent(limit int) ([]Alert, error)
	Query(filter AlertFilter) ([]Alert, error)
	Count() (int64, error)
	Prune(olderThan time.Time) (int64, error)
	Close() error
	SetMetrics(recorder metrics.Recorder)
}

// AlertFilter selects persisted alerts. Zero fields do not filter.
type AlertFilter struct {
	Class  string
	Level  string
	Since  time.Time
	Limit  int
	Offset int
}

// DataStore implements the queries on top of a GORM connection. The
// driver specific types only differ in how the connection is opened.
type DataStore struct {
	DB       *gorm.DB
	Station  string
	metrics  metrics.Recorder
	logger   logger.Logger
	settings *conf.Settings
}

// New returns the store selected by settings, or nil when persistence is disabled
func New(settings *conf.Settings) Interface {
	ds := DataStore{
		Station:  settings.Main.Name,
		metrics:  metrics.NewNoOpRecorder(),
		logger:   GetLogger(),
		settings: settings,
	}
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: ds}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: ds}
	default:
		return nil
	}
}

// SetMetrics sets the metrics recorder
func (ds *DataStore) SetMetrics(recorder metrics.Recorder) {
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	ds.metrics = recorder
}

func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(ds.logger, DefaultSlowQueryThreshold),
	}
}

// migrate creates or updates the alerts table
func (ds *DataStore) migrate(dbType string) error {
	start := time.Now()
	op := metrics.OpMigrate + ":" + alertsTable
	if err := ds.DB.AutoMigrate(&Alert{}); err != nil {
		ds.metrics.RecordError(op, string(errors.CategoryDatabase))
		return dbError(err, "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	ds.metrics.RecordOperation(op, metrics.StatusSuccess)
	ds.metrics.RecordDuration(op, time.Since(start).Seconds())
	ds.logger.Debug("schema migrated", logger.String("db_type", dbType))
	return nil
}

func (ds *DataStore) checkOpen(operation string) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Context("operation", operation).
			Build()
	}
	return nil
}

func dbError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("table", alertsTable)
}

// Save stores one alert. Saving the same entry twice is a no-op.
func (ds *DataStore) Save(alert *Alert) error {
	if err := ds.checkOpen("save_alert"); err != nil {
		return err
	}

	op := metrics.OpAlertSave + ":" + alertsTable
	start := time.Now()
	result := ds.DB.Where(Alert{ID: alert.ID}).FirstOrCreate(alert)
	if result.Error != nil {
		ds.metrics.RecordError(op, string(errors.CategoryDatabase))
		return dbError(result.Error, "save_alert").
			Context("alert_seq", alert.Seq).
			Build()
	}
	ds.metrics.RecordOperation(op, metrics.StatusSuccess)
	ds.metrics.RecordDuration(op, time.Since(start).Seconds())
	return nil
}

// Recent returns up to limit alerts, newest first
func (ds *DataStore) Recent(limit int) ([]Alert, error) {
	return ds.Query(AlertFilter{Limit: limit})
}

// Query returns alerts matching filter, newest first
func (ds *DataStore) Query(filter AlertFilter) ([]Alert, error) {
	if err := ds.checkOpen("query_alerts"); err != nil {
		return nil, err
	}

	op := metrics.OpAlertRecent + ":" + alertsTable
	start := time.Now()

	q := ds.DB.Model(&Alert{})
	if filter.Class != "" {
		q = q.Where("class = ?", filter.Class)
	}
	if filter.Level != "" {
		q = q.Where("level = ?", filter.Level)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	alerts := []Alert{}
	if err := q.Order("timestamp DESC").Order("seq DESC").Find(&alerts).Error; err != nil {
		ds.metrics.RecordError(op, string(errors.CategoryDatabase))
		return nil, dbError(err, "query_alerts").Build()
	}
	ds.metrics.RecordOperation(op, metrics.StatusSuccess)
	ds.metrics.RecordDuration(op, time.Since(start).Seconds())
	return alerts, nil
}

// Count returns the number of stored alerts
func (ds *DataStore) Count() (int64, error) {
	if err := ds.checkOpen("count_alerts"); err != nil {
		return 0, err
	}
	var n int64
	if err := ds.DB.Model(&Alert{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_alerts").Build()
	}
	if dm, ok := ds.metrics.(*metrics.DatastoreMetrics); ok {
		dm.UpdateTableRowCount(alertsTable, n)
	}
	return n, nil
}

// Prune deletes alerts older than the cutoff and returns how many were removed
func (ds *DataStore) Prune(olderThan time.Time) (int64, error) {
	if err := ds.checkOpen("prune_alerts"); err != nil {
		return 0, err
	}

	op := metrics.OpAlertPrune + ":" + alertsTable
	start := time.Now()
	result := ds.DB.Where("timestamp < ?", olderThan).Delete(&Alert{})
	if result.Error != nil {
		ds.metrics.RecordError(op, string(errors.CategoryDatabase))
		return 0, dbError(result.Error, "prune_alerts").
			Context("cutoff", olderThan.Format(time.RFC3339)).
			Build()
	}
	ds.metrics.RecordOperation(op, metrics.StatusSuccess)
	ds.metrics.RecordDuration(op, time.Since(start).Seconds())

	if result.RowsAffected > 0 {
		ds.logger.Info("pruned old alerts",
			logger.Int64("deleted", result.RowsAffected),
			logger.Time("cutoff", olderThan))
	}
	return result.RowsAffected, nil
}

// Close closes the underlying connection
func (ds *DataStore) Close() error {
	if err := ds.checkOpen("close"); err != nil {
		return err
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close").Build()
	}
	ds.logger.Debug("database connection closed")
	return nil
}

// Consumer returns an alert log subscriber that persists every entry.
// Failures are logged; the alert log is never blocked by the database.
func Consumer(store Interface, station string) func(alertlog.Entry) {
	log := GetLogger()
	return func(e alertlog.Entry) {
		rec := FromEntry(e, station)
		if err := store.Save(&rec); err != nil {
			log.Warn("failed to persist alert",
				logger.Uint64("seq", e.Seq),
				logger.Error(err))
		}
	}
}
