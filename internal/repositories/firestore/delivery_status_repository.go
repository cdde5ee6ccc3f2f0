package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

// Delivery tracking collections, one per producer service.
const (
	TranlogDeliveryCollection     = "status_tranlog_delivery"
	TerminalLogDeliveryCollection = "status_terminallog_delivery"
)

// DeliveryStatusRepository tracks published events across consumer services.
// Service-level updates run inside a transaction so concurrent ACKs from
// different consumers never lose each other's state.
type DeliveryStatusRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[domain.DeliveryStatus]
}

// NewDeliveryStatusRepository constructs a Firestore-backed delivery status
// repository over the given collection; each producer service owns one.
func NewDeliveryStatusRepository(provider *pfirestore.Provider, collection string) (*DeliveryStatusRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery status repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("delivery status repository requires a collection name")
	}
	return &DeliveryStatusRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[domain.DeliveryStatus](provider, collection),
	}, nil
}

// Create writes the tracking row in its pending state, before publish.
func (r *DeliveryStatusRepository) Create(ctx context.Context, status domain.DeliveryStatus) error {
	if r == nil || r.base == nil {
		return errors.New("delivery status repository not initialised")
	}
	if strings.TrimSpace(status.EventID) == "" {
		return errors.New("delivery status repository: event id is required")
	}
	_, err := r.base.Create(ctx, status.EventID, status)
	return err
}

// Get fetches the tracking row for one event.
func (r *DeliveryStatusRepository) Get(ctx context.Context, eventID string) (domain.DeliveryStatus, error) {
	if r == nil || r.base == nil {
		return domain.DeliveryStatus{}, errors.New("delivery status repository not initialised")
	}
	doc, err := r.base.Get(ctx, eventID)
	if err != nil {
		return domain.DeliveryStatus{}, err
	}
	return doc.Data, nil
}

// SetOverall records the publish outcome (published or failed) on the row.
func (r *DeliveryStatusRepository) SetOverall(ctx context.Context, eventID string, state domain.DeliveryState) error {
	if r == nil || r.base == nil {
		return errors.New("delivery status repository not initialised")
	}
	_, err := r.base.Update(ctx, eventID, []firestore.Update{
		{Path: "overallStatus", Value: string(state)},
	})
	return err
}

// UpdateService records one consumer's ACK or failure and recomputes the
// overall state, returning the updated row.
func (r *DeliveryStatusRepository) UpdateService(ctx context.Context, eventID, service string, state domain.DeliveryServiceState, message string, at time.Time) (domain.DeliveryStatus, error) {
	if r == nil || r.provider == nil {
		return domain.DeliveryStatus{}, errors.New("delivery status repository not initialised")
	}
	name := strings.TrimSpace(service)
	if name == "" {
		return domain.DeliveryStatus{}, errors.New("delivery status repository: service name is required")
	}

	ref, err := r.base.DocumentRef(ctx, eventID)
	if err != nil {
		return domain.DeliveryStatus{}, err
	}

	var updated domain.DeliveryStatus
	err = r.provider.RunSession(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var status domain.DeliveryStatus
		if err := snapshot.DataTo(&status); err != nil {
			return err
		}

		found := false
		for i := range status.Services {
			if status.Services[i].Name == name {
				status.Services[i].Status = state
				status.Services[i].Message = message
				status.Services[i].UpdatedAt = at.UTC()
				found = true
				break
			}
		}
		if !found {
			return pfirestore.NotFoundError("delivery_status.update", errors.New("service not tracked for event"))
		}

		status.OverallStatus = status.Overall()
		updated = status
		return tx.Set(ref, status)
	})
	if err != nil {
		return domain.DeliveryStatus{}, err
	}
	return updated, nil
}

// ListUndelivered returns rows still awaiting full delivery within the sweep
// window: created at least MinAge ago but no more than MaxAge ago.
func (r *DeliveryStatusRepository) ListUndelivered(ctx context.Context, now time.Time, window repositories.SweepWindow) ([]domain.DeliveryStatus, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("delivery status repository not initialised")
	}

	newest := now.Add(-window.MinAge)
	oldest := now.Add(-window.MaxAge)
	limit := window.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("overallStatus", "in", []string{
				string(domain.DeliveryPending),
				string(domain.DeliveryPublished),
				string(domain.DeliveryPartiallyDelivered),
				string(domain.DeliveryFailed),
			}).
			Where("createdAt", ">=", oldest).
			Where("createdAt", "<=", newest).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	rows := make([]domain.DeliveryStatus, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, doc.Data)
	}
	return rows, nil
}
