package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sony/gobreaker/v2"

	"github.com/tenpo-pos/core/internal/platform/config"
)

// ErrPublisherOpen is returned when the circuit breaker is open and the
// publish attempt was short-circuited without reaching the broker.
var ErrPublisherOpen = errors.New("pubsub: publisher circuit open")

// Event is the published envelope: the document payload plus the injected
// event identity fields consumers deduplicate and dispatch on.
type Event struct {
	EventID   string
	EventType string
	Payload   any
}

// Publisher delivers events to named topics behind a circuit breaker. The
// breaker opens after consecutive broker failures and probes half-open after
// the configured cooldown.
type Publisher struct {
	client  *pubsub.Client
	breaker *gobreaker.CircuitBreaker[string]

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher constructs a Publisher bound to the given Pub/Sub client.
func NewPublisher(client *pubsub.Client, cfg config.BreakerConfig) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub: client is required")
	}

	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "broker-publish",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Publisher{
		client:  client,
		breaker: breaker,
		topics:  make(map[string]*pubsub.Topic),
	}, nil
}

// Publish serialises the event envelope and publishes it to the topic,
// returning the broker message ID. When the breaker is open the call fails
// fast with ErrPublisherOpen.
func (p *Publisher) Publish(ctx context.Context, topicName string, event Event) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("pubsub: publisher not initialised")
	}
	name := strings.TrimSpace(topicName)
	if name == "" {
		return "", errors.New("pubsub: topic name is required")
	}

	data, err := MarshalEnvelope(event)
	if err != nil {
		return "", fmt.Errorf("pubsub: marshal event: %w", err)
	}

	attrs := map[string]string{"event_id": event.EventID}
	if eventType := strings.TrimSpace(event.EventType); eventType != "" {
		attrs["event_type"] = eventType
	}

	messageID, err := p.breaker.Execute(func() (string, error) {
		result := p.topic(name).Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: attrs,
		})
		return result.Get(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrPublisherOpen
		}
		return "", fmt.Errorf("pubsub: publish %s: %w", name, err)
	}
	return messageID, nil
}

// Stop flushes and stops all topic publishers.
func (p *Publisher) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, topic := range p.topics {
		topic.Stop()
	}
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[name]; ok {
		return topic
	}
	topic := p.client.Topic(name)
	p.topics[name] = topic
	return topic
}

// MarshalEnvelope renders the payload as a JSON object with the top-level
// event_id and event_type fields injected. Datetimes inside the payload are
// expected to already be ISO-8601 strings.
func MarshalEnvelope(event Event) ([]byte, error) {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}

	envelope := make(map[string]any)
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("payload must serialise to a JSON object: %w", err)
	}
	envelope["event_id"] = event.EventID
	if eventType := strings.TrimSpace(event.EventType); eventType != "" {
		envelope["event_type"] = eventType
	}
	return json.Marshal(envelope)
}
