// Package api provides the HTTP server for ChestGuard. The JSON endpoints
// live in the v2 subpackage; this package owns the listener, the middleware
// stack and the routes that sit outside /api/v2.
package api

import (
	"fmt"
	"time"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("http")
}

// Default constants for the HTTP server. Detections wait on the scorer
// and on enrichment, so writes get far more room than reads.
const (
	DefaultListen            = ":8080"
	DefaultBodyLimit         = "20M"
	DefaultReadTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 180 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string   // address to bind, e.g. ":8080"
	BodyLimit      string   // maximum request body, e.g. "20M"
	MaxConnections int      // concurrent connection cap, 0 disables
	AllowedOrigins []string // CORS allowed origins

	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:            DefaultListen,
		BodyLimit:         DefaultBodyLimit,
		AllowedOrigins:    []string{"*"},
		ReadTimeout:       DefaultReadTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	if settings.WebServer.BodyLimit != "" {
		cfg.BodyLimit = settings.WebServer.BodyLimit
	}
	cfg.MaxConnections = settings.WebServer.MaxConnections
	cfg.Debug = settings.WebServer.Debug || settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return configError("listen address is required")
	case c.MaxConnections < 0:
		return configError("max connections must not be negative")
	case c.ReadTimeout <= 0, c.WriteTimeout <= 0:
		return configError("read and write timeouts must be positive")
	}
	return nil
}

func configError(msg string) error {
	return errors.Newf("invalid server configuration: %s", msg).
		Component("http").
		Category(errors.CategoryConfiguration).
		Build()
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	limit := "unlimited"
	if c.MaxConnections > 0 {
		limit = fmt.Sprint(c.MaxConnections)
	}
	return fmt.Sprintf("Server Config: listen=%s, body_limit=%s, max_connections=%s, debug=%v",
		c.Listen, c.BodyLimit, limit, c.Debug)
}
