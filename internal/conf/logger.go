// Package conf provides configuration management for ChestGuard.
package conf

import "github.com/chestguard/chestguard/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is fetched from the global logger on each call because the central
// logger is installed after package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
