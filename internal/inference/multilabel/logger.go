package multilabel

import (
	"github.com/chestguard/chestguard/internal/logger"
)

// GetLogger returns the multilabel module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("inference").Module("multilabel")
}
