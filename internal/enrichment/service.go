// Package enrichment adds a generative radiological reading to abnormal
// detections. Every failure degrades to a placeholder result; nothing here
// fails a detection.
package enrichment

import (
	"context"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/httpclient"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/logger"
)

// Service runs the limiter, the analyzer and the parser.
type Service struct {
	limiter  *Limiter
	analyzer Analyzer
	http     *httpclient.Client
	clock    Clock
	log      logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the clock used for result timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithHTTPClient sets the client used to fetch images by URL.
func WithHTTPClient(client *httpclient.Client) Option {
	return func(s *Service) { s.http = client }
}

// NewService returns a service. A nil analyzer disables enrichment and
// every call returns a disabled fallback.
func NewService(limiter *Limiter, analyzer Analyzer, opts ...Option) *Service {
	s := &Service{
		limiter:  limiter,
		analyzer: analyzer,
		clock:    time.Now,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewLimiter(nil, s.clock, 0, 0, nil)
	}
	if s.http == nil {
		s.http = httpclient.New(nil)
	}
	return s
}

// NewFromSettings wires the limiter store and the Gemini analyzer from
// settings. db is required for the database store.
func NewFromSettings(settings *conf.EnrichmentSettings, db *gorm.DB, client *httpclient.Client) (*Service, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, errors.New(err).
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Context("timezone", settings.Timezone).
			Build()
	}

	var store CounterStore
	switch settings.Store {
	case conf.EnrichmentStoreDatabase:
		if db == nil {
			return nil, errors.Newf("enrichment database store requires an enabled database").
				Component("enrichment").
				Category(errors.CategoryConfiguration).
				Build()
		}
		store = NewDatabaseStore(db)
	default:
		store = NewMemoryStore()
	}
	limiter := NewLimiter(store, time.Now, settings.MinInterval, settings.DailyLimit, loc)

	var analyzer Analyzer
	if settings.Enabled {
		g, err := NewGeminiAnalyzer(settings)
		if err != nil {
			GetLogger().Warn("enrichment enabled without an API key, results will use fallbacks",
				logger.Error(err))
		} else {
			analyzer = g
		}
	}
	return NewService(limiter, analyzer, WithHTTPClient(client)), nil
}

// Enabled reports whether an analyzer is configured.
func (s *Service) Enabled() bool { return s.analyzer != nil }

// Status reports the limiter state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	return s.limiter.Status(ctx)
}

// Enrich analyzes the image at src for condition. The image is read from
// the local path when it exists and fetched from the URL otherwise. Quota is
// reserved before the remote call, so a failed call still counts.
func (s *Service) Enrich(ctx context.Context, src inference.Source, condition fusion.Result) Result {
	if s.analyzer == nil {
		return s.degrade(condition, ReasonDisabled, nil)
	}

	res, err := s.limiter.Reserve(ctx)
	if err != nil {
		return s.degrade(condition, ReasonError, err)
	}
	if !res.Allowed {
		s.log.Info("enrichment skipped by limiter",
			logger.String("reason", res.Reason),
			logger.Duration("retry_after", res.RetryAfter),
			logger.Int("daily_calls", res.DailyCalls))
		return s.degrade(condition, ReasonRateLimited, nil)
	}

	image, err := inference.ReadSource(ctx, s.http, localFirst(src))
	if err != nil {
		return s.degrade(condition, ReasonError, err)
	}
	_, mime, _ := inference.SniffImage(image)

	s.log.Debug("requesting enrichment",
		logger.String("condition", string(condition)),
		logger.Int("daily_calls", res.DailyCalls),
		logger.Int("max_daily_calls", s.limiter.MaxDailyCalls()))

	text, err := s.analyzer.Analyze(ctx, Request{Image: image, MIMEType: mime, Condition: condition})
	if err != nil {
		if IsRateLimited(err) {
			return s.degrade(condition, ReasonRateLimited, err)
		}
		return s.degrade(condition, ReasonError, err)
	}
	if strings.TrimSpace(text) == "" {
		return s.degrade(condition, ReasonUnparseable, nil)
	}

	result := NewResult(text, condition, s.analyzer.Model(), s.clock())
	s.log.Info("enrichment completed",
		logger.String("condition", string(condition)),
		logger.String("provenance", result.Kind.String()))
	return result
}

func (s *Service) degrade(condition fusion.Result, reason Reason, cause error) Result {
	d := Degraded{Condition: condition, Reason: reason, Cause: cause}
	s.log.Warn("enrichment degraded to fallback", d.Fields()...)
	return NewFallback(condition, reason, cause, s.clock())
}

func localFirst(src inference.Source) inference.Source {
	if src.Path != "" {
		if _, err := os.Stat(src.Path); err == nil {
			return inference.Source{Path: src.Path}
		}
	}
	return inference.Source{URL: src.URL}
}
