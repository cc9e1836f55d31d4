// Package binary scores X-rays with the remote binary scoring service.
package binary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/httpclient"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/logger"
)

// ModelTag identifies predictions from this strategy.
const ModelTag = "binary"

const (
	DefaultBaseURL       = "http://127.0.0.1:5000"
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 2 * time.Second

	stagePattern = "chestguard-stage-*"
)

// Response is the scoring service's /predict payload. Confidences are
// percentages.
type Response struct {
	NormalConfidence       float64 `json:"normal_confidence"`
	PneumoniaConfidence    float64 `json:"pneumonia_confidence"`
	TuberculosisConfidence float64 `json:"tuberculosis_confidence"`
	PneumoniaDetected      bool    `json:"pneumonia_detected"`
	TBDetected             bool    `json:"tb_detected"`
	FinalDiagnosis         string  `json:"final_diagnosis"`
	Recommendation         string  `json:"recommendation"`
}

// Client implements inference.Predictor against the scoring service.
type Client struct {
	baseURL       string
	http          *httpclient.Client
	timeout       time.Duration
	healthTimeout time.Duration
	maxRetries    int
	retryDelay    time.Duration
	limiter       *rate.Limiter
	tempDir       string
	log           logger.Logger
}

// New builds a client from settings. A zero rate limit disables pacing.
func New(settings *conf.BinarySettings, client *httpclient.Client) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(settings.BaseURL, "/"),
		http:          client,
		timeout:       settings.Timeout,
		healthTimeout: settings.HealthTimeout,
		maxRetries:    settings.MaxRetries,
		retryDelay:    settings.RetryDelay,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		log:           GetLogger(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = httpclient.New(nil)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = DefaultHealthTimeout
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if settings.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(settings.RateLimit), 1)
	}
	return c
}

// Predict checks the service health, stages the image as a local file and
// posts it to /predict.
func (c *Client) Predict(ctx context.Context, src inference.Source) (*inference.Prediction, error) {
	if err := c.Health(ctx); err != nil {
		return nil, errors.PredictionError(err, ModelTag)
	}

	path, cleanup, err := c.stage(ctx, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	resp, err := c.predictWithRetry(ctx, path)
	if err != nil {
		return nil, errors.PredictionError(err, ModelTag)
	}

	pred := Normalize(resp)
	c.log.Debug("binary prediction completed",
		logger.String("top", pred.Top.ClassName),
		logger.Float64("probability", pred.Top.Probability),
		logger.String("final_diagnosis", resp.FinalDiagnosis))
	return pred, nil
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	resp, err := c.http.Get(ctx, c.baseURL+"/health")
	if err != nil {
		return fmt.Errorf("scoring service is not responding: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // drained below
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scoring service health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Status reports whether the scoring service answers its health check.
func (c *Client) Status(ctx context.Context) inference.Status {
	err := c.Health(ctx)
	details := map[string]any{"baseURL": c.baseURL}
	if err != nil {
		details["error"] = err.Error()
	}
	return inference.Status{Mode: inference.ModeBinary, Ready: err == nil, Details: details}
}

// stage returns a local file for src. A URL is downloaded into a temp file
// named with the extension sniffed from its leading bytes; the returned
// cleanup removes it.
func (c *Client) stage(ctx context.Context, src inference.Source) (string, func(), error) {
	noop := func() {}
	if src.Path != "" {
		info, err := os.Stat(src.Path)
		if err != nil {
			return "", noop, errors.New(fmt.Errorf("image file not found: %w", err)).
				Category(errors.CategoryFileIO).
				Context("path", src.Path).
				Build()
		}
		if info.Size() == 0 {
			return "", noop, errors.Newf("image file is empty").
				Category(errors.CategoryImageDecode).
				Context("path", src.Path).
				Build()
		}
		return src.Path, noop, nil
	}

	data, err := inference.ReadSource(ctx, c.http, src)
	if err != nil {
		return "", noop, err
	}

	ext, _, known := inference.SniffImage(data)
	if !known {
		c.log.Warn("could not detect image type, staging as jpeg",
			logger.Int("size", len(data)))
	}

	f, err := os.CreateTemp(c.tempDir, stagePattern+ext)
	if err != nil {
		return "", noop, errors.New(err).Component("binary").Category(errors.CategoryFileIO).Build()
	}
	cleanup := func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			c.log.Warn("failed to remove staged image", logger.String("path", f.Name()), logger.Error(rmErr))
		}
	}
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", noop, errors.New(fmt.Errorf("failed to stage image: %w", err)).
			Category(errors.CategoryFileIO).
			Build()
	}
	return f.Name(), cleanup, nil
}

// permanentError marks a response that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (c *Client) predictWithRetry(ctx context.Context, path string) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.predictOnce(ctx, path)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.log.Warn("predict attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", c.maxRetries),
			logger.Error(err))

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("prediction failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) predictOnce(ctx context.Context, path string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // G304: staged upload path
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to open image: %w", err)}
	}
	defer f.Close() //nolint:errcheck // read-only

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.PostMultipart(ctx, c.baseURL+"/predict", httpclient.FilePart{
		Field:       "file",
		FileName:    filepath.Base(path),
		ContentType: "image/jpeg",
		Content:     f,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if !retryableStatus(resp.StatusCode) {
			return nil, &permanentError{err}
		}
		return nil, err
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	return &out, nil
}

// retryableStatus reports whether a non-200 status may succeed on retry.
// Client errors are final except request timeout and rate limiting.
func retryableStatus(code int) bool {
	if code >= 400 && code < 500 {
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	return true
}

// Normalize converts percentages to probabilities and picks the top label.
// When the service flags both diseases the top label is Both with the
// larger of the two probabilities.
func Normalize(r *Response) *inference.Prediction {
	normal := inference.Clamp(r.NormalConfidence / 100)
	pneumonia := inference.Clamp(r.PneumoniaConfidence / 100)
	tb := inference.Clamp(r.TuberculosisConfidence / 100)

	pred := inference.NewPrediction(inference.ModeBinary, ModelTag, map[string]float64{
		inference.ClassNormal:       normal,
		inference.ClassPneumonia:    pneumonia,
		inference.ClassTuberculosis: tb,
	})
	if r.PneumoniaDetected && r.TBDetected {
		pred.SetTop(inference.ClassBoth, max(pneumonia, tb))
	}
	pred.Binary = &inference.BinaryDetails{
		PneumoniaDetected: r.PneumoniaDetected,
		TBDetected:        r.TBDetected,
		FinalDiagnosis:    r.FinalDiagnosis,
		Recommendation:    r.Recommendation,
	}
	return pred
}
