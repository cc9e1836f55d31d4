package logger

import (
	"fmt"
	"io"

	echo_log "github.com/labstack/gommon/log"
)

// EchoLogger adapts a Logger to echo.Logger so framework messages end up in
// the same sinks as the application's own logs.
//
//	e := echo.New()
//	e.Logger = logger.NewEchoLogger(logger.Global().Module("echo"))
type EchoLogger struct {
	logger Logger
}

// NewEchoLogger wraps l. A nil logger falls back to a console logger.
func NewEchoLogger(l Logger) *EchoLogger {
	if l == nil {
		l = NewConsoleLogger("echo", LogLevelInfo)
	}
	return &EchoLogger{logger: l}
}

func (a *EchoLogger) Output() io.Writer { return io.Discard }
func (a *EchoLogger) SetOutput(_ io.Writer) {}
func (a *EchoLogger) Prefix() string { return "" }
func (a *EchoLogger) SetPrefix(_ string) {}
func (a *EchoLogger) Level() echo_log.Lvl { return echo_log.INFO }
func (a *EchoLogger) SetLevel(_ echo_log.Lvl) {}
func (a *EchoLogger) SetHeader(_ string) {}
func (a *EchoLogger) Print(i ...any) { a.logger.Info(fmt.Sprint(i...)) }
func (a *EchoLogger) Printf(f string, args ...any) { a.logger.Info(fmt.Sprintf(f, args...)) }
func (a *EchoLogger) Printj(j echo_log.JSON) { a.logger.Info("echo", Any("data", j)) }
func (a *EchoLogger) Debug(i ...any) { a.logger.Debug(fmt.Sprint(i...)) }
func (a *EchoLogger) Debugf(f string, args ...any) { a.logger.Debug(fmt.Sprintf(f, args...)) }
func (a *EchoLogger) Debugj(j echo_log.JSON) { a.logger.Debug("echo", Any("data", j)) }
func (a *EchoLogger) Info(i ...any) { a.logger.Info(fmt.Sprint(i...)) }
func (a *EchoLogger) Infof(f string, args ...any) { a.logger.Info(fmt.Sprintf(f, args...)) }
func (a *EchoLogger) Infoj(j echo_log.JSON) { a.logger.Info("echo", Any("data", j)) }
func (a *EchoLogger) Warn(i ...any) { a.logger.Warn(fmt.Sprint(i...)) }
func (a *EchoLogger) Warnf(f string, args ...any) { a.logger.Warn(fmt.Sprintf(f, args...)) }
func (a *EchoLogger) Warnj(j echo_log.JSON) { a.logger.Warn("echo", Any("data", j)) }
func (a *EchoLogger) Error(i ...any) { a.logger.Error(fmt.Sprint(i...)) }
func (a *EchoLogger) Errorf(f string, args ...any) { a.logger.Error(fmt.Sprintf(f, args...)) }
func (a *EchoLogger) Errorj(j echo_log.JSON) { a.logger.Error("echo", Any("data", j)) }

// Fatal logs and panics; echo's recover middleware turns this into a 500.
func (a *EchoLogger) Fatal(i ...any) {
	msg := fmt.Sprint(i...)
	a.logger.Error(msg)
	panic("echo fatal: " + msg)
}

func (a *EchoLogger) Fatalf(f string, args ...any) { a.Fatal(fmt.Sprintf(f, args...)) }

func (a *EchoLogger) Fatalj(j echo_log.JSON) { a.Fatal(fmt.Sprint(j)) }

func (a *EchoLogger) Panic(i ...any) {
	msg := fmt.Sprint(i...)
	a.logger.Error(msg)
	panic(msg)
}

func (a *EchoLogger) Panicf(f string, args ...any) { a.Panic(fmt.Sprintf(f, args...)) }

func (a *EchoLogger) Panicj(j echo_log.JSON) { a.Panic(fmt.Sprint(j)) }
