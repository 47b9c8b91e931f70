package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/logger"
)

// performAutoMigration creates or updates the history table.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	start := time.Now()
	log := GetLogger().With(logger.String("db_type", dbType))

	if err := db.AutoMigrate(&PredictionRecord{}); err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component(componentName).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}

	if debug {
		log.Debug("database connection initialized",
			logger.String("connection", connectionInfo),
			logger.Duration("migration_duration", time.Since(start)))
	}
	return nil
}
