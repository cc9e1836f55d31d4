package binary

import (
	"github.com/chestguard/chestguard/internal/logger"
)

// GetLogger returns the binary scorer module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("inference").Module("binary")
}
