package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	path string
}

// NewSQLiteStore creates a SQLite store for path. ":memory:" keeps the
// database in memory for the life of the connection.
func NewSQLiteStore(path, station string) *SQLiteStore {
	s := &SQLiteStore{
		DataStore: DataStore{Station: station, logger: GetLogger()},
		path:      path,
	}
	s.SetMetrics(nil)
	return s
}

func (store *SQLiteStore) dbPath() string {
	if store.path != "" {
		return store.path
	}
	if store.settings != nil {
		return store.settings.Output.SQLite.Path
	}
	return ""
}

// Open opens the database file, creating its directory, and migrates the schema
func (store *SQLiteStore) Open() error {
	path := store.dbPath()
	if path == "" {
		return errors.Newf("sqlite path is empty").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.New(err).
					Component("datastore").
					Category(errors.CategoryFileIO).
					Context("operation", "create_db_dir").
					Context("path", dir).
					Build()
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), store.gormConfig())
	if err != nil {
		return dbError(err, "open").
			Context("db_type", "sqlite").
			Build()
	}

	if path == ":memory:" {
		// every pooled connection would get its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	store.DB = db
	store.logger.Info("sqlite database opened", logger.String("path", path))
	return store.migrate("sqlite")
}
