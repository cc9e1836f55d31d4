package datastore

import (
	"time"

	"github.com/chestguard/chestguard/internal/logger"
)

// DefaultSlowQueryThreshold is the duration after which a query is logged as slow.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

func createGormLogger() *logger.GormLogger {
	return logger.NewGormLogger(GetLogger().Module("gorm"), DefaultSlowQueryThreshold)
}
