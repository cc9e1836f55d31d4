package enrichment

import (
	"github.com/chestguard/chestguard/internal/logger"
)

// GetLogger returns the enrichment module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("enrichment")
}
