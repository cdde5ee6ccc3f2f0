package services

import (
	"context"
	"testing"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
)

func newTestTracker(t *testing.T, statuses *memDeliveries, pub *stubPublisher, clock func() time.Time) DeliveryTracker {
	t.Helper()
	tracker, err := NewDeliveryTracker(DeliveryTrackerDeps{
		Statuses:  statuses,
		Publisher: pub,
		TopicServices: map[string][]string{
			"tranlog": {domain.ServiceReport, domain.ServiceStock},
		},
		CheckInterval: time.Minute,
		FailedPeriod:  10 * time.Minute,
		Period:        time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("NewDeliveryTracker: %v", err)
	}
	return tracker
}

func TestTrackCreatesRowAndPublishes(t *testing.T) {
	ctx := context.Background()
	statuses := newMemDeliveries()
	pub := &stubPublisher{}
	tracker := newTestTracker(t, statuses, pub, fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))

	eventID, err := tracker.Track(ctx, TrackInput{
		Topic:     "tranlog",
		EventType: string(domain.TypeNormalSales),
		Payload:   map[string]any{"transaction_no": 1},
		TenantID:  "tenant1",
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if eventID == "" {
		t.Fatal("Track returned empty event id")
	}

	status, err := tracker.Status(ctx, eventID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OverallStatus != domain.DeliveryPublished {
		t.Fatalf("overall = %s, want published", status.OverallStatus)
	}
	if len(status.Services) != 2 {
		t.Fatalf("services = %d, want one per consumer", len(status.Services))
	}
	for _, svc := range status.Services {
		if svc.Status != domain.DeliveryServicePending {
			t.Fatalf("service %s = %s, want pending", svc.Name, svc.Status)
		}
	}
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}
	if pub.published[0].event.EventID != eventID {
		t.Fatalf("published event id = %s, want %s", pub.published[0].event.EventID, eventID)
	}
}

func TestTrackPublishFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	statuses := newMemDeliveries()
	pub := &stubPublisher{fail: true}
	tracker := newTestTracker(t, statuses, pub, fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))

	// The committed fact outlives a broker outage: Track still succeeds and
	// the row is left for the sweep.
	eventID, err := tracker.Track(ctx, TrackInput{
		Topic:   "tranlog",
		Payload: map[string]any{"transaction_no": 1},
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	status, err := tracker.Status(ctx, eventID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OverallStatus != domain.DeliveryFailed {
		t.Fatalf("overall = %s, want failed", status.OverallStatus)
	}
}

func TestTrackUnknownTopic(t *testing.T) {
	tracker := newTestTracker(t, newMemDeliveries(), &stubPublisher{}, nil)
	if _, err := tracker.Track(context.Background(), TrackInput{Topic: "nowhere", Payload: map[string]any{}}); err == nil {
		t.Fatal("Track accepted a topic with no consumers")
	}
}

func TestAckProgressesOverallStatus(t *testing.T) {
	ctx := context.Background()
	statuses := newMemDeliveries()
	tracker := newTestTracker(t, statuses, &stubPublisher{}, fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))

	eventID, err := tracker.Track(ctx, TrackInput{Topic: "tranlog", Payload: map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	status, err := tracker.Ack(ctx, eventID, domain.ServiceReport, true, "")
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if status.OverallStatus != domain.DeliveryPartiallyDelivered {
		t.Fatalf("overall after first ack = %s, want partially delivered", status.OverallStatus)
	}

	status, err = tracker.Ack(ctx, eventID, domain.ServiceStock, true, "")
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if status.OverallStatus != domain.DeliveryDelivered {
		t.Fatalf("overall after all acks = %s, want delivered", status.OverallStatus)
	}
}

func TestSweepRepublishesWithSameEventID(t *testing.T) {
	ctx := context.Background()
	statuses := newMemDeliveries()
	pub := &stubPublisher{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clockAt := now
	tracker := newTestTracker(t, statuses, pub, func() time.Time { return clockAt })

	eventID, err := tracker.Track(ctx, TrackInput{Topic: "tranlog", Payload: map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	// Old enough for the sweep window but not yet overdue.
	clockAt = now.Add(2 * time.Minute)
	republished, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if republished != 1 {
		t.Fatalf("republished = %d, want 1", republished)
	}
	if pub.count() != 2 {
		t.Fatalf("published = %d, want initial publish plus one republish", pub.count())
	}
	if got := pub.published[1].event.EventID; got != eventID {
		t.Fatalf("republished event id = %s, want original %s", got, eventID)
	}

	status, err := tracker.Status(ctx, eventID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OverallStatus != domain.DeliveryPublished {
		t.Fatalf("overall = %s, want published", status.OverallStatus)
	}
}

func TestSweepOverdueMarksFailedButStillRepublishes(t *testing.T) {
	ctx := context.Background()
	statuses := newMemDeliveries()
	pub := &stubPublisher{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clockAt := now
	tracker := newTestTracker(t, statuses, pub, func() time.Time { return clockAt })

	eventID, err := tracker.Track(ctx, TrackInput{Topic: "tranlog", Payload: map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	// Past the failed period: the mark records delivery is overdue, retries
	// keep going.
	clockAt = now.Add(15 * time.Minute)
	republished, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if republished != 1 {
		t.Fatalf("republished = %d, want 1", republished)
	}

	status, err := tracker.Status(ctx, eventID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OverallStatus != domain.DeliveryFailed {
		t.Fatalf("overall = %s, want failed", status.OverallStatus)
	}
}

func TestSweepSkipsDeliveredRows(t *testing.T) {
	ctx := context.Background()
	statuses := newMemDeliveries()
	pub := &stubPublisher{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clockAt := now
	tracker := newTestTracker(t, statuses, pub, func() time.Time { return clockAt })

	eventID, err := tracker.Track(ctx, TrackInput{Topic: "tranlog", Payload: map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if _, err := tracker.Ack(ctx, eventID, domain.ServiceReport, true, ""); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := tracker.Ack(ctx, eventID, domain.ServiceStock, true, ""); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	clockAt = now.Add(2 * time.Minute)
	republished, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if republished != 0 {
		t.Fatalf("republished = %d, want 0 for a delivered row", republished)
	}
	if pub.count() != 1 {
		t.Fatalf("published = %d, want the initial publish only", pub.count())
	}
}
