package analysis

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chestguard/chestguard/internal/api"
	v2 "github.com/chestguard/chestguard/internal/api/v2"
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/observability"
	"github.com/chestguard/chestguard/internal/telemetry"
)

// Startup bounds for background work kicked off by Serve.
const (
	warmupTimeout      = 2 * time.Minute
	mqttConnectTimeout = 15 * time.Second
	telemetryFlush     = 2 * time.Second
)

// Serve runs the API server until SIGINT or SIGTERM.
func Serve(settings *conf.Settings) error {
	quitChan := make(chan struct{})
	monitorSignals(quitChan)
	return ServeUntil(settings, quitChan)
}

// ServeUntil runs the API server until quitChan is closed.
func ServeUntil(settings *conf.Settings, quitChan chan struct{}, opts ...Option) error {
	log := GetLogger()

	if err := telemetry.InitSentry(settings); err != nil {
		return err
	}
	defer telemetry.Flush(telemetryFlush)

	services, err := Build(settings, opts...)
	if err != nil {
		telemetry.CaptureError(err, "analysis")
		return err
	}
	defer services.Close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Go(func() {
		warmCtx, warmCancel := context.WithTimeout(ctx, warmupTimeout)
		defer warmCancel()
		services.Warmup(warmCtx)
	})

	if services.Publisher != nil {
		wg.Go(func() { connectPublisher(ctx, services) })
	}

	startTelemetryEndpoint(&wg, settings, services.Metrics, quitChan)

	server, err := api.New(settings,
		api.WithDataStore(services.DataStore),
		api.WithDetector(services.Pipeline),
		api.WithMetrics(services.Metrics),
		api.WithAPIOptions(
			v2.WithModelStatus(services.Router),
			v2.WithEnrichment(services.Enrichment),
		),
	)
	if err != nil {
		cancel()
		wg.Wait()
		return err
	}
	if err := server.Start(); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	<-quitChan
	log.Info("shutting down")
	cancel()

	shutdownErr := server.Shutdown(context.Background())
	wg.Wait()
	if shutdownErr != nil {
		return shutdownErr
	}
	log.Info("shutdown complete")
	return nil
}

// connectPublisher opens the broker connection early so the first
// detection does not pay for it. Failures are retried on publish.
func connectPublisher(ctx context.Context, s *Services) {
	connCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := s.Publisher.Connect(connCtx); err != nil {
		GetLogger().Warn("mqtt broker not reachable at startup", logger.Error(err))
	}
}

func startTelemetryEndpoint(wg *sync.WaitGroup, settings *conf.Settings, metrics *observability.Metrics, quitChan chan struct{}) {
	if metrics == nil || settings.Metrics.Listen == "" {
		return
	}
	endpoint, err := observability.NewEndpoint(settings, metrics)
	if err != nil {
		GetLogger().Warn("metrics endpoint disabled", logger.Error(err))
		return
	}
	endpoint.Start(wg, quitChan)
}

// monitorSignals closes quitChan on the first SIGINT or SIGTERM.
func monitorSignals(quitChan chan struct{}) {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		signal.Stop(sigChan)

		GetLogger().Info("received signal, shutting down", logger.String("signal", sig.String()))
		close(quitChan)
	}()
}
