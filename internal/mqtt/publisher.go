package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/errors"
)

// EventPayload is the JSON document published for every stored detection.
type EventPayload struct {
	MRNo             string             `json:"mrNo"`
	Mode             string             `json:"mode"`
	Result           string             `json:"result"`
	Confidence       float64            `json:"confidence"`
	Abnormal         bool               `json:"abnormal"`
	Probabilities    map[string]float64 `json:"probabilities"`
	ImageURL         string             `json:"imageUrl"`
	Enrichment       string             `json:"enrichment,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
	Timestamp        string             `json:"timestamp"`
	Node             string             `json:"node,omitempty"`
}

// NewEventPayload flattens a detection event.
func NewEventPayload(ev *detection.Event) *EventPayload {
	p := &EventPayload{
		MRNo:             ev.MRNo,
		Mode:             ev.Mode.String(),
		Result:           string(ev.Result),
		Confidence:       ev.Confidence,
		Abnormal:         ev.Abnormal,
		Probabilities:    make(map[string]float64, len(ev.Probabilities)),
		ImageURL:         ev.ImageURL,
		Enrichment:       ev.Enrichment,
		ProcessingTimeMs: ev.ProcessingTime.Milliseconds(),
		Timestamp:        ev.Timestamp.UTC().Format(time.RFC3339),
		Node:             ev.Node,
	}
	for _, cp := range ev.Probabilities {
		p.Probabilities[cp.ClassName] = cp.Probability
	}
	return p
}

// Publisher is the detection side channel that publishes events.
type Publisher struct {
	client Client
	topic  string
}

// NewPublisher publishes to <topic>/<result>.
func NewPublisher(c Client, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{client: c, topic: topic}
}

// Name implements detection.Observer.
func (p *Publisher) Name() string { return "mqtt" }

// Connect opens the broker connection unless it is already up.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	return p.client.Connect(ctx)
}

// Observe publishes ev, connecting first when the client is down.
func (p *Publisher) Observe(ctx context.Context, ev *detection.Event) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(NewEventPayload(ev))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal_event").
			Build()
	}
	return p.client.Publish(ctx, p.Topic(ev), payload)
}

// BaseTopic returns the topic prefix.
func (p *Publisher) BaseTopic() string { return p.topic }

// Topic returns the topic ev is published to.
func (p *Publisher) Topic(ev *detection.Event) string {
	return p.topic + "/" + string(ev.Result)
}

// Close disconnects the client.
func (p *Publisher) Close() {
	p.client.Disconnect()
}
