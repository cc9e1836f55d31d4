// Package api implements the JSON API served under /api/v2.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/enrichment"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/logger"
)

// Detector runs the detection pipeline.
type Detector interface {
	Detect(ctx context.Context, req detection.Request) (*detection.Outcome, error)
}

// observerRegistrar is implemented by *detection.Pipeline.
type observerRegistrar interface {
	AddObserver(o detection.Observer)
}

// ModelStatus reports inference readiness.
type ModelStatus interface {
	Status(ctx context.Context) []inference.Status
}

// EnrichmentStatus reports the enrichment limiter.
type EnrichmentStatus interface {
	Enabled() bool
	Status(ctx context.Context) (enrichment.Status, error)
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	detector   Detector
	models     ModelStatus
	enrichment EnrichmentStatus
	results    *ResultsCache
	uploadDir  string
	startTime  time.Time
	log        logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithModelStatus sets the source of model readiness for /health.
func WithModelStatus(m ModelStatus) Option {
	return func(c *Controller) { c.models = m }
}

// WithEnrichment sets the enrichment service for /enrichment/status.
func WithEnrichment(e EnrichmentStatus) Option {
	return func(c *Controller) { c.enrichment = e }
}

// WithUploadDir sets where multipart uploads are staged. Defaults to the
// system temp directory.
func WithUploadDir(dir string) Option {
	return func(c *Controller) { c.uploadDir = dir }
}

// WithResultsCache replaces the default results cache.
func WithResultsCache(rc *ResultsCache) Option {
	return func(c *Controller) { c.results = rc }
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings, detector Detector, opts ...Option) (*Controller, error) {
	if ds == nil || detector == nil {
		return nil, errors.Newf("api controller requires a datastore and a detector").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Controller{
		Echo:      e,
		DS:        ds,
		Settings:  settings,
		detector:  detector,
		startTime: time.Now(),
		log:       GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.results == nil {
		c.results = NewResultsCache(DefaultResultsTTL)
	}

	// Appends made by anyone holding the pipeline invalidate cached histories.
	if reg, ok := detector.(observerRegistrar); ok {
		reg.AddObserver(c.results)
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(middleware.Recover())
	c.initRoutes()

	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.POST("/detections/:mr_no", c.CreateDetection)
	c.Group.GET("/detections/:mr_no", c.GetDetections)

	// Legacy paths
	c.Group.POST("/sendImage/:MR_no", c.CreateDetection)
	c.Group.GET("/getDetectedResults/:MR_no", c.GetDetections)

	c.Group.POST("/patients", c.CreatePatient)
	c.Group.GET("/patients", c.ListPatients)
	c.Group.GET("/patients/:mr_no", c.GetPatient)

	c.Group.GET("/enrichment/status", c.GetEnrichmentStatus)
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/system/info", c.GetSystemInfo)
	c.Group.GET("/system/resources", c.GetResourceInfo)
}

// Results exposes the results cache.
func (c *Controller) Results() *ResultsCache {
	return c.results
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	c.results.Flush()
	c.log.Debug("api controller shut down")
}

// Response is the success envelope.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func respond(ctx echo.Context, code int, data any, message string) error {
	return ctx.JSON(code, Response{
		StatusCode: code,
		Data:       data,
		Message:    message,
		Success:    code < http.StatusBadRequest,
	})
}

// ErrorResponse is the error body. StatusCode and Success mirror the
// success envelope so clients can branch on either shape.
type ErrorResponse struct {
	StatusCode    int    `json:"statusCode"`
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		StatusCode:    code,
		Success:       false,
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID returns 8 random alphanumerics.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsUpload(err), errors.IsPrediction(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message. Validation and not-found
// messages are safe to echo; everything else is generic.
func messageFor(err error, code int) string {
	switch {
	case code == http.StatusBadRequest, code == http.StatusNotFound, code == http.StatusConflict:
		return err.Error()
	case errors.IsUpload(err):
		return "Failed to store the X-ray image"
	case errors.IsPrediction(err):
		return "Prediction failed"
	default:
		return "Internal server error"
	}
}

// HandleError writes the error response for err.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	code := StatusFor(err)
	resp := NewErrorResponse(err, messageFor(err, code), code)
	if id := ctx.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		resp.CorrelationID = id
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
		logger.Error(err),
	}
	log := c.log.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("api error", fields...)
	} else {
		log.Info("api request rejected", fields...)
	}

	// Server-side and upstream failures do not leak internals.
	if code >= http.StatusInternalServerError {
		resp.Error = resp.Message
	}
	return ctx.JSON(code, resp)
}

// GetLogger returns the api module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}
