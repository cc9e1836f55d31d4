package observability

import (
	"context"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
	metricspkg "github.com/chestguard/chestguard/internal/observability/metrics"
)

// Endpoint serves /metrics on its own listener.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	debug         bool
	metrics       *Metrics
}

// NewEndpoint returns an endpoint for settings.Metrics.Listen. It fails when
// metrics are disabled or no separate listener is configured; in that case
// the API server exposes /metrics itself.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, endpointError("metrics not enabled in settings")
	}
	if settings.Metrics.Listen == "" {
		return nil, endpointError("metrics listen address is empty")
	}

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		debug:         settings.Debug,
		metrics:       metrics,
	}, nil
}

// Handler builds the endpoint mux.
func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	if e.debug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Start runs the HTTP server until quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	go e.gracefulShutdown(quitChan)
}

func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}

func endpointError(msg string) error {
	return errors.Newf("%s", msg).
		Component("observability").
		Category(errors.CategoryConfiguration).
		Build()
}
