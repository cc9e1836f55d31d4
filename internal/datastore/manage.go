package datastore

import (
	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// models lists every table owned by the datastore, parents first.
var models = []any{
	&Patient{},
	&DetectionHistory{},
	&DetectionEntry{},
	&EntryProbability{},
	&EnrichmentQuota{},
}

// performAutoMigration brings the schema up to date.
func performAutoMigration(db *gorm.DB, debug bool, dbType string) error {
	if err := db.AutoMigrate(models...); err != nil {
		return dbError(err, "auto_migrate", "db_type", dbType)
	}
	if debug {
		GetLogger().Debug("schema migrated",
			logger.String("db_type", dbType),
			logger.Int("tables", len(models)))
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return dbError(errors.NewStd("database connection is not initialized"), "close")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
