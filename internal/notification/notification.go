// Package notification sends alerts for abnormal detections through
// shoutrrr services.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// Priority of a notification.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Notification is one alert.
type Notification struct {
	Title    string
	Message  string
	Priority Priority
}

// Provider defines a push delivery backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	GetName() string
	Send(ctx context.Context, n *Notification) error
	IsEnabled() bool
}

// DeliveryRecorder receives delivery outcomes. metrics.NotificationMetrics
// satisfies it.
type DeliveryRecorder interface {
	RecordDelivery(service string, err error, duration time.Duration)
	RecordSuppressed(reason string)
}

// Suppression reasons.
const (
	SuppressedNormal   = "normal_result"
	SuppressedDisabled = "disabled"
)

const (
	defaultTitleTemplate   = `ChestGuard: {{.ResultLabel}} detected`
	defaultMessageTemplate = `Patient {{.MRNo}}: {{.ResultLabel}} ({{.ConfidencePercent}}% confidence, {{.Mode}} model).
Radiological analysis: {{.Enrichment}}.
Image: {{.ImageURL}}
Detected at {{.DetectionTime}}{{if .Node}} on {{.Node}}{{end}}.`
)

// TemplateData is the value passed to the title and message templates.
type TemplateData struct {
	MRNo              string
	Mode              string
	Result            string
	ResultLabel       string
	ConfidencePercent string
	ImageURL          string
	Enrichment        string
	DetectionTime     string
	Node              string
}

// NewTemplateData builds template data from a detection event.
func NewTemplateData(ev *detection.Event) *TemplateData {
	enrichment := ev.Enrichment
	if enrichment == "" {
		enrichment = "not performed"
	}
	return &TemplateData{
		MRNo:              ev.MRNo,
		Mode:              ev.Mode.String(),
		Result:            string(ev.Result),
		ResultLabel:       resultLabel(string(ev.Result)),
		ConfidencePercent: fmt.Sprintf("%.1f", ev.Confidence*100),
		ImageURL:          ev.ImageURL,
		Enrichment:        enrichment,
		DetectionTime:     ev.Timestamp.Format(time.RFC3339),
		Node:              ev.Node,
	}
}

func resultLabel(result string) string {
	switch result {
	case "pneumonia":
		return "Pneumonia"
	case "tuberculosis":
		return "Tuberculosis"
	case "both":
		return "Pneumonia and tuberculosis"
	default:
		return result
	}
}

// Notifier is the detection side channel that alerts on abnormal results.
type Notifier struct {
	providers []Provider
	title     *template.Template
	message   *template.Template
	recorder  DeliveryRecorder
	log       logger.Logger
}

// NewNotifier returns a notifier over providers. rec may be nil.
func NewNotifier(rec DeliveryRecorder, providers ...Provider) *Notifier {
	return &Notifier{
		providers: providers,
		title:     template.Must(template.New("title").Parse(defaultTitleTemplate)),
		message:   template.Must(template.New("message").Parse(defaultMessageTemplate)),
		recorder:  rec,
		log:       GetLogger(),
	}
}

// Name implements detection.Observer.
func (n *Notifier) Name() string { return "notification" }

// Observe alerts every enabled provider when ev is abnormal. All providers
// are tried; their errors are joined.
func (n *Notifier) Observe(ctx context.Context, ev *detection.Event) error {
	if !ev.Abnormal {
		n.suppressed(SuppressedNormal)
		return nil
	}

	msg, err := n.Render(ev)
	if err != nil {
		return err
	}

	var errs []error
	sent := 0
	for _, p := range n.providers {
		if !p.IsEnabled() {
			continue
		}
		start := time.Now()
		err := p.Send(ctx, msg)
		if n.recorder != nil {
			n.recorder.RecordDelivery(p.GetName(), err, time.Since(start))
		}
		if err != nil {
			errs = append(errs, errors.New(err).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("provider", p.GetName()).
				Build())
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) == 0 {
		n.suppressed(SuppressedDisabled)
	}
	if len(errs) == 0 {
		n.log.Debug("alert sent",
			logger.String("mr_no", ev.MRNo),
			logger.String("result", string(ev.Result)),
			logger.Int("providers", sent))
	}
	return errors.Join(errs...)
}

// Render applies the templates to ev.
func (n *Notifier) Render(ev *detection.Event) (*Notification, error) {
	data := NewTemplateData(ev)
	var title, body bytes.Buffer
	if err := n.title.Execute(&title, data); err != nil {
		return nil, fmt.Errorf("render notification title: %w", err)
	}
	if err := n.message.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render notification message: %w", err)
	}
	priority := PriorityMedium
	if ev.Result == "both" {
		priority = PriorityHigh
	}
	return &Notification{Title: title.String(), Message: body.String(), Priority: priority}, nil
}

func (n *Notifier) suppressed(reason string) {
	if n.recorder != nil {
		n.recorder.RecordSuppressed(reason)
	}
}
