package metrics

import "github.com/chestguard/chestguard/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
