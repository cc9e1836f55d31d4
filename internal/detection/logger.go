package detection

import (
	"sync"

	"github.com/chestguard/chestguard/internal/logger"
)

var (
	pipelineLogger logger.Logger
	loggerOnce     sync.Once
)

// GetLogger returns the detection module logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pipelineLogger = logger.Global().Module("detection")
	})
	return pipelineLogger
}
