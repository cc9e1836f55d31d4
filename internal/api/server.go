package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	mw "github.com/chestguard/chestguard/internal/api/middleware"
	v2 "github.com/chestguard/chestguard/internal/api/v2"
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/observability"
)

// MediaPrefix is where the local storage backend's images are served.
const MediaPrefix = "/media"

// Server is the HTTP server. It owns the echo instance, the listener and
// the v2 controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	dataStore datastore.Interface
	detector  v2.Detector
	metrics   *observability.Metrics
	apiOpts   []v2.Option

	apiController *v2.Controller

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore sets the datastore for the server.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.dataStore = ds }
}

// WithDetector sets the detection pipeline behind POST /detections.
func WithDetector(d v2.Detector) ServerOption {
	return func(s *Server) { s.detector = d }
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAPIOptions passes options through to the v2 controller.
func WithAPIOptions(opts ...v2.Option) ServerOption {
	return func(s *Server) { s.apiOpts = append(s.apiOpts, opts...) }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		settings: settings,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Logger = logger.NewEchoLogger(s.log)
	s.echo.HTTPErrorHandler = s.errorHandler

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.ReadHeaderTimeout = config.ReadHeaderTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	s.log.Info("HTTP server initialized",
		logger.String("listen", config.Listen),
		logger.String("body_limit", config.BodyLimit),
		logger.Int("max_connections", config.MaxConnections),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	if s.metrics != nil {
		s.echo.Use(mw.NewHTTPMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, mw.SkipPaths("/health", "/metrics")))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.liveness)

	if s.settings.Storage.Type == conf.StorageLocal && s.settings.Storage.Local.Path != "" {
		s.echo.Static(MediaPrefix, s.settings.Storage.Local.Path)
	}

	// A dedicated metrics listener takes precedence.
	if s.metrics != nil && s.settings.Metrics.Enabled && s.settings.Metrics.Listen == "" {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	apiController, err := v2.New(s.echo, s.dataStore, s.settings, s.detector, s.apiOpts...)
	if err != nil {
		return err
	}
	s.apiController = apiController

	s.log.Debug("routes initialized", logger.Int("count", len(s.echo.Routes())))
	return nil
}

// liveness answers as long as the process serves HTTP. Readiness with
// dependency checks is /api/v2/health.
func (s *Server) liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.settings.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// errorHandler renders errors that escape handlers, such as unknown routes
// and oversized bodies, in the same shape as the v2 error responses.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	} else {
		code = v2.StatusFor(err)
		if code < http.StatusInternalServerError {
			message = err.Error()
		}
	}

	resp := v2.NewErrorResponse(nil, message, code)
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		resp.CorrelationID = id
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("unhandled request error",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, resp)
	}
	if writeErr != nil {
		s.log.Warn("failed to write error response", logger.Error(writeErr))
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; serve errors are reported by Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}

	s.mu.Lock()
	s.listener = ln
	s.serveErr = make(chan error, 1)
	s.mu.Unlock()

	s.echo.Listener = ln
	s.echo.Server.Handler = s.echo
	go func() {
		err := s.echo.Server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()

	s.log.Info("HTTP server started", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.apiController != nil {
		s.apiController.Shutdown()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component("http").
			Category(errors.CategorySystem).
			Context("operation", "shutdown").
			Build()
	}

	s.mu.Lock()
	serveErr := s.serveErr
	s.mu.Unlock()
	if serveErr != nil {
		if err := <-serveErr; err != nil {
			return err
		}
	}

	s.log.Info("HTTP server shutdown complete")
	return nil
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
