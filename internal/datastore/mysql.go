package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
}

// mysqlDSN builds the driver DSN. Timestamps are stored and read in UTC.
func mysqlDSN(s conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		s.Username, s.Password, s.Host, s.Port, s.Database)
}

// Open connects to the server and migrates the schema
func (store *MySQLStore) Open() error {
	cfg := store.settings.Output.MySQL

	db, err := gorm.Open(mysql.Open(mysqlDSN(cfg)), store.gormConfig())
	if err != nil {
		store.logger.Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return dbError(err, "open").
			Context("db_type", "mysql").
			Context("host", cfg.Host).
			Build()
	}

	store.DB = db
	store.logger.Info("mysql database opened",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database))
	return store.migrate("mysql")
}
