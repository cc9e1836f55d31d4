// Package telemetry provides privacy-compliant error tracking through Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

var sentryInitialized atomic.Bool

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initializes Sentry when telemetry is enabled and installs the
// error reporter so enhanced errors are captured as they are built.
func InitSentry(settings *conf.Settings) error {
	if !settings.Telemetry.Enabled {
		getLogger().Debug("sentry telemetry is disabled")
		return nil
	}
	if settings.Telemetry.DSN == "" {
		return errors.Newf("telemetry is enabled but no sentry DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return initSentry(settings, nil)
}

// initSentry takes an optional transport for tests.
func initSentry(settings *conf.Settings, transport sentry.Transport) error {
	environment := settings.Telemetry.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Telemetry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          fmt.Sprintf("chestguard@%s", settings.Version),
		BeforeSend:       beforeSend,
		Transport:        transport,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("node", settings.Main.Name)
		scope.SetTag("os", platform.OS)
		scope.SetTag("arch", platform.Architecture)
		scope.SetContext("platform", map[string]any{
			"num_cpu":    platform.NumCPU,
			"go_version": platform.GoVersion,
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	getLogger().Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", settings.Version))
	return nil
}

// beforeSend strips host identifying data and scrubs messages.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	return event
}

// CaptureError reports a plain error. Enhanced errors are reported when
// built and are not sent twice.
func CaptureError(err error, component string) {
	if err == nil || !sentryInitialized.Load() {
		return
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.IsReported() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = errors.ScrubMessage(err.Error())
		sentry.CaptureEvent(event)
	})
}

// Flush waits for buffered events. It is a no-op when Sentry is not running.
func Flush(timeout time.Duration) {
	if !sentryInitialized.Load() {
		return
	}
	if !sentry.Flush(timeout) {
		getLogger().Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
}

// Enabled reports whether Sentry was initialized.
func Enabled() bool {
	return sentryInitialized.Load()
}

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
