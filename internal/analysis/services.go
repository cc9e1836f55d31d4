// Package analysis assembles the ChestGuard services from settings and runs
// them, either as the long-lived API server or for one-off CLI detections.
package analysis

import (
	"context"
	"io"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/enrichment"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/httpclient"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/inference/binary"
	"github.com/chestguard/chestguard/internal/inference/multilabel"
	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/mqtt"
	"github.com/chestguard/chestguard/internal/notification"
	"github.com/chestguard/chestguard/internal/observability"
	"github.com/chestguard/chestguard/internal/observability/metrics"
	"github.com/chestguard/chestguard/internal/storage"
)

// Services holds everything a detection needs.
type Services struct {
	Settings   *conf.Settings
	Metrics    *observability.Metrics // nil when metrics are disabled
	DataStore  datastore.Interface
	Store      storage.ObjectStore
	Router     *inference.Router
	Enrichment *enrichment.Service
	Pipeline   *detection.Pipeline
	Publisher  *mqtt.Publisher // nil when MQTT is disabled
	Multilabel *multilabel.Predictor

	closers []io.Closer
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	http       *httpclient.Client
	mqttClient mqtt.Client
}

// WithHTTPClient replaces the outbound HTTP client used by the scorer, the
// multilabel URL reader and enrichment.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(o *buildOptions) { o.http = c }
}

// WithMQTTClient replaces the broker client built from settings.
func WithMQTTClient(c mqtt.Client) Option {
	return func(o *buildOptions) { o.mqttClient = c }
}

// Build opens the datastore and wires the pipeline with its side channels.
// The returned Services must be closed.
func Build(settings *conf.Settings, opts ...Option) (_ *Services, err error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		o.http = httpclient.New(nil)
	}

	s := &Services{Settings: settings}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if settings.Metrics.Enabled {
		if s.Metrics, err = observability.NewMetrics(); err != nil {
			return nil, errors.New(err).
				Component("analysis").
				Category(errors.CategoryConfiguration).
				Context("operation", "init_metrics").
				Build()
		}
	}

	if s.Metrics != nil {
		o.http.Instrument(s.Metrics.HTTP)
	}

	if err = s.openDataStore(); err != nil {
		return nil, err
	}
	if err = s.openObjectStore(); err != nil {
		return nil, err
	}
	if err = s.buildRouter(o.http); err != nil {
		return nil, err
	}

	if s.Enrichment, err = enrichment.NewFromSettings(&settings.Enrichment, s.DataStore.Gorm(), o.http); err != nil {
		return nil, err
	}

	deps := &detection.Dependencies{
		Store:      s.Store,
		Router:     s.Router,
		Records:    s.DataStore,
		Thresholds: fusion.FromSettings(&settings.Fusion),
		Enricher:   s.Enrichment,
		Node:       settings.Main.Name,
	}
	if s.Metrics != nil {
		deps.Metrics = s.Metrics.Detection
	}
	if s.Pipeline, err = detection.New(deps); err != nil {
		return nil, err
	}

	if err = s.attachObservers(o.mqttClient); err != nil {
		return nil, err
	}

	GetLogger().Info("services ready",
		logger.String("database", dbType(settings)),
		logger.String("storage", s.Store.Name()),
		logger.Int("models", len(s.Router.Modes())),
		logger.Bool("enrichment", s.Enrichment.Enabled()),
		logger.Bool("mqtt", s.Publisher != nil),
		logger.Bool("metrics", s.Metrics != nil))
	return s, nil
}

func (s *Services) openDataStore() error {
	ds, err := OpenDataStore(s.Settings)
	if err != nil {
		return err
	}
	s.DataStore = ds
	s.closers = append(s.closers, ds)
	return nil
}

// OpenDataStore opens the configured database. The caller closes it.
func OpenDataStore(settings *conf.Settings) (datastore.Interface, error) {
	ds := datastore.New(settings)
	if ds == nil {
		return nil, errors.Newf("no database is enabled, enable output.sqlite or output.mysql").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := ds.Open(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *Services) openObjectStore() error {
	store, err := storage.New(&s.Settings.Storage)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, store)
	if s.Metrics != nil {
		store = storage.Instrument(store, s.Metrics.Detection)
	}
	s.Store = store
	return nil
}

func (s *Services) buildRouter(client *httpclient.Client) error {
	s.Router = inference.NewRouter()

	if s.Settings.Multilabel.Enabled {
		p, err := multilabel.New(&s.Settings.Multilabel, client)
		if err != nil {
			return err
		}
		s.Multilabel = p
		s.closers = append(s.closers, p)
		s.Router.Register(inference.ModeMultilabel, p)
	}
	if s.Settings.Binary.Enabled {
		s.Router.Register(inference.ModeBinary, binary.New(&s.Settings.Binary, client))
	}

	if len(s.Router.Modes()) == 0 {
		return errors.Newf("no prediction model is enabled, enable multilabel or binary").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func (s *Services) attachObservers(mqttClient mqtt.Client) error {
	log := GetLogger()

	if s.Settings.MQTT.Enabled {
		if mqttClient == nil {
			var m *metrics.MQTTMetrics
			if s.Metrics != nil {
				m = s.Metrics.MQTT
			}
			c, err := mqtt.NewClient(&s.Settings.MQTT, m)
			if err != nil {
				return err
			}
			mqttClient = c
		}
		s.Publisher = mqtt.NewPublisher(mqttClient, s.Settings.MQTT.Topic)
		s.Pipeline.AddObserver(s.Publisher)
		log.Info("mqtt publisher attached", logger.String("topic", s.Publisher.BaseTopic()))
	}

	provider, err := notification.NewFromSettings(&s.Settings.Notification)
	if err != nil {
		return err
	}
	if provider != nil {
		var notifier *notification.Notifier
		if s.Metrics != nil {
			notifier = notification.NewNotifier(s.Metrics.Notification, provider)
		} else {
			notifier = notification.NewNotifier(nil, provider)
		}
		s.Pipeline.AddObserver(notifier)
		log.Info("notifications attached", logger.Int("urls", len(s.Settings.Notification.URLs)))
	}
	return nil
}

// Warmup loads the multilabel model ahead of the first request.
func (s *Services) Warmup(ctx context.Context) {
	if s.Multilabel == nil {
		return
	}
	if err := s.Multilabel.Warmup(ctx); err != nil {
		GetLogger().Warn("multilabel warmup failed, the model loads on first use", logger.Error(err))
	}
}

// Close releases every resource in reverse order of acquisition.
func (s *Services) Close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			GetLogger().Warn("failed to release resource", logger.Error(err))
		}
	}
	s.closers = nil
}

func dbType(settings *conf.Settings) string {
	switch {
	case settings.Output.SQLite.Enabled:
		return "sqlite"
	case settings.Output.MySQL.Enabled:
		return "mysql"
	default:
		return "none"
	}
}
