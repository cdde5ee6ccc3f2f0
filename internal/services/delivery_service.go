package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/pubsub"
	"github.com/tenpo-pos/core/internal/repositories"
)

// Logger receives structured service events. Wire it to
// observability.EventLogger in production.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

// EventPublisher publishes an event envelope to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event pubsub.Event) (string, error)
}

// TrackInput describes one fact event to track and publish.
type TrackInput struct {
	Topic         string
	EventType     string
	Payload       any
	TenantID      string
	TransactionNo *int64
}

// DeliveryTracker provides at-least-once delivery bookkeeping: every
// published fact gets a tracking row, consumers ACK back, and a periodic
// sweep republishes whatever has not been fully delivered yet.
//
// Stage writes the pending tracking row only, so callers can place it inside
// the same atomic unit as the fact it describes; Publish runs after that unit
// commits. Track is the one-shot form for callers without such a unit.
type DeliveryTracker interface {
	Stage(ctx context.Context, input TrackInput) (domain.DeliveryStatus, error)
	Publish(ctx context.Context, staged domain.DeliveryStatus)
	Track(ctx context.Context, input TrackInput) (string, error)
	Ack(ctx context.Context, eventID, service string, received bool, message string) (domain.DeliveryStatus, error)
	Status(ctx context.Context, eventID string) (domain.DeliveryStatus, error)
	Sweep(ctx context.Context) (int, error)
	Interval() time.Duration
}

// DeliveryTrackerDeps bundles collaborators for NewDeliveryTracker.
type DeliveryTrackerDeps struct {
	Statuses  repositories.DeliveryStatusRepository
	Publisher EventPublisher
	// TopicServices maps each topic to the consumer services whose ACKs
	// complete delivery of events on that topic.
	TopicServices map[string][]string
	// CheckInterval is both the sweep cadence and the minimum row age the
	// sweep considers. FailedPeriod is the age past which a swept row is
	// marked failed (it is still republished). Period bounds the lookback.
	CheckInterval time.Duration
	FailedPeriod  time.Duration
	Period        time.Duration
	SweepLimit    int
	Clock         func() time.Time
	Logger        Logger
}

type deliveryTracker struct {
	statuses     repositories.DeliveryStatusRepository
	publisher    EventPublisher
	topics       map[string][]string
	interval     time.Duration
	failedPeriod time.Duration
	period       time.Duration
	sweepLimit   int
	clock        func() time.Time
	log          Logger
}

// NewDeliveryTracker constructs the delivery tracking service.
func NewDeliveryTracker(deps DeliveryTrackerDeps) (DeliveryTracker, error) {
	if deps.Statuses == nil {
		return nil, errors.New("delivery tracker: status repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("delivery tracker: publisher is required")
	}
	if len(deps.TopicServices) == 0 {
		return nil, errors.New("delivery tracker: topic service map is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger
	}
	interval := deps.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	failedPeriod := deps.FailedPeriod
	if failedPeriod <= interval {
		failedPeriod = interval + 10*time.Minute
	}
	period := deps.Period
	if period <= failedPeriod {
		period = 24 * time.Hour
	}
	limit := deps.SweepLimit
	if limit <= 0 {
		limit = 100
	}

	return &deliveryTracker{
		statuses:     deps.Statuses,
		publisher:    deps.Publisher,
		topics:       deps.TopicServices,
		interval:     interval,
		failedPeriod: failedPeriod,
		period:       period,
		sweepLimit:   limit,
		clock:        clock,
		log:          log,
	}, nil
}

// Stage writes the pending tracking row for the event without publishing it.
// Run inside an atomic unit, the row commits or rolls back with the fact it
// tracks.
func (s *deliveryTracker) Stage(ctx context.Context, input TrackInput) (domain.DeliveryStatus, error) {
	topic := strings.TrimSpace(input.Topic)
	if topic == "" {
		return domain.DeliveryStatus{}, errors.New("delivery tracker: topic is required")
	}
	consumers, ok := s.topics[topic]
	if !ok || len(consumers) == 0 {
		return domain.DeliveryStatus{}, fmt.Errorf("delivery tracker: no consumers configured for topic %s", topic)
	}

	eventID := uuid.NewString()
	event := pubsub.Event{EventID: eventID, EventType: input.EventType, Payload: input.Payload}
	payload, err := pubsub.MarshalEnvelope(event)
	if err != nil {
		return domain.DeliveryStatus{}, fmt.Errorf("delivery tracker: encode payload: %w", err)
	}

	now := s.clock().UTC()
	services := make([]domain.ServiceDelivery, 0, len(consumers))
	for _, name := range consumers {
		services = append(services, domain.ServiceDelivery{
			Name:      name,
			Status:    domain.DeliveryServicePending,
			UpdatedAt: now,
		})
	}

	status := domain.DeliveryStatus{
		EventID:       eventID,
		Topic:         topic,
		EventType:     input.EventType,
		Payload:       string(payload),
		Services:      services,
		OverallStatus: domain.DeliveryPending,
		CreatedAt:     now,
		TenantID:      input.TenantID,
		TransactionNo: input.TransactionNo,
	}
	if err := s.statuses.Create(ctx, status); err != nil {
		return domain.DeliveryStatus{}, fmt.Errorf("delivery tracker: create status: %w", err)
	}
	return status, nil
}

// Publish sends a staged event. The fact it describes is already committed,
// so a failed publish marks the row failed (retryable, the sweep picks it up)
// instead of surfacing to the caller.
func (s *deliveryTracker) Publish(ctx context.Context, staged domain.DeliveryStatus) {
	var payload any
	if err := json.Unmarshal([]byte(staged.Payload), &payload); err != nil {
		s.log(ctx, "delivery.publish_decode_failed", map[string]any{
			"event_id": staged.EventID,
			"error":    err.Error(),
		})
		return
	}
	event := pubsub.Event{EventID: staged.EventID, EventType: staged.EventType, Payload: payload}

	overall := domain.DeliveryPublished
	if _, err := s.publisher.Publish(ctx, staged.Topic, event); err != nil {
		overall = domain.DeliveryFailed
		s.log(ctx, "delivery.publish_failed", map[string]any{
			"event_id": staged.EventID,
			"topic":    staged.Topic,
			"error":    err.Error(),
		})
	}
	if err := s.statuses.SetOverall(ctx, staged.EventID, overall); err != nil {
		s.log(ctx, "delivery.set_overall_failed", map[string]any{
			"event_id": staged.EventID,
			"overall":  string(overall),
			"error":    err.Error(),
		})
	}
}

// Track stages the tracking row and publishes the event in one call.
func (s *deliveryTracker) Track(ctx context.Context, input TrackInput) (string, error) {
	staged, err := s.Stage(ctx, input)
	if err != nil {
		return "", err
	}
	s.Publish(ctx, staged)
	return staged.EventID, nil
}

// Ack records one consumer's receipt (or failure) and returns the updated row.
func (s *deliveryTracker) Ack(ctx context.Context, eventID, service string, received bool, message string) (domain.DeliveryStatus, error) {
	state := domain.DeliveryServiceReceived
	if !received {
		state = domain.DeliveryServiceFailed
	}
	status, err := s.statuses.UpdateService(ctx, eventID, service, state, message, s.clock())
	if err != nil {
		return domain.DeliveryStatus{}, err
	}
	s.log(ctx, "delivery.ack", map[string]any{
		"event_id": eventID,
		"service":  service,
		"received": received,
		"overall":  string(status.OverallStatus),
	})
	return status, nil
}

// Status returns the tracking row for one event.
func (s *deliveryTracker) Status(ctx context.Context, eventID string) (domain.DeliveryStatus, error) {
	return s.statuses.Get(ctx, eventID)
}

// Interval is the cadence the sweep should run at.
func (s *deliveryTracker) Interval() time.Duration {
	return s.interval
}

// Sweep republishes events still awaiting delivery. Rows older than the
// failed period are marked failed first but republished anyway; the mark
// records that delivery is overdue, not that retries stop. Republish keeps
// the original event ID so consumers dedupe.
func (s *deliveryTracker) Sweep(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	rows, err := s.statuses.ListUndelivered(ctx, now, repositories.SweepWindow{
		MinAge: s.interval,
		MaxAge: s.period,
		Limit:  s.sweepLimit,
	})
	if err != nil {
		return 0, err
	}

	republished := 0
	for _, row := range rows {
		overdue := now.Sub(row.CreatedAt) > s.failedPeriod
		if overdue && row.OverallStatus != domain.DeliveryFailed {
			if err := s.statuses.SetOverall(ctx, row.EventID, domain.DeliveryFailed); err != nil {
				s.log(ctx, "delivery.set_overall_failed", map[string]any{
					"event_id": row.EventID,
					"error":    err.Error(),
				})
			}
			s.log(ctx, "delivery.overdue", map[string]any{
				"event_id":   row.EventID,
				"topic":      row.Topic,
				"created_at": row.CreatedAt.Format(time.RFC3339),
			})
		}

		var payload any
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			s.log(ctx, "delivery.sweep_decode_failed", map[string]any{
				"event_id": row.EventID,
				"error":    err.Error(),
			})
			continue
		}

		event := pubsub.Event{EventID: row.EventID, EventType: row.EventType, Payload: payload}
		if _, err := s.publisher.Publish(ctx, row.Topic, event); err != nil {
			s.log(ctx, "delivery.sweep_publish_failed", map[string]any{
				"event_id": row.EventID,
				"topic":    row.Topic,
				"error":    err.Error(),
			})
			if errors.Is(err, pubsub.ErrPublisherOpen) {
				break
			}
			continue
		}
		republished++

		if !overdue && (row.OverallStatus == domain.DeliveryPending || row.OverallStatus == domain.DeliveryFailed) {
			if err := s.statuses.SetOverall(ctx, row.EventID, domain.DeliveryPublished); err != nil {
				s.log(ctx, "delivery.set_overall_failed", map[string]any{
					"event_id": row.EventID,
					"error":    err.Error(),
				})
			}
		}
	}

	if len(rows) > 0 {
		s.log(ctx, "delivery.sweep", map[string]any{
			"checked":     len(rows),
			"republished": republished,
		})
	}
	return republished, nil
}

// RunSweeper runs the tracker's sweep on its interval until the context ends.
func RunSweeper(ctx context.Context, tracker DeliveryTracker, log Logger) {
	if tracker == nil {
		return
	}
	if log == nil {
		log = nopLogger
	}

	ticker := time.NewTicker(tracker.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := tracker.Sweep(ctx); err != nil {
				log(ctx, "delivery.sweep_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
