package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

const openCloseCollection = "log_open_close"

// OpenCloseLogRepository persists terminal open/close records.
type OpenCloseLogRepository struct {
	base *pfirestore.BaseRepository[domain.OpenCloseLog]
}

// NewOpenCloseLogRepository constructs a Firestore-backed open/close repository.
func NewOpenCloseLogRepository(provider *pfirestore.Provider) (*OpenCloseLogRepository, error) {
	if provider == nil {
		return nil, errors.New("open close log repository requires firestore provider")
	}
	return &OpenCloseLogRepository{
		base: pfirestore.NewBaseRepository[domain.OpenCloseLog](provider, openCloseCollection),
	}, nil
}

// Create appends one open or close record. The key includes the operation so
// a session carries at most one of each.
func (r *OpenCloseLogRepository) Create(ctx context.Context, log domain.OpenCloseLog) error {
	if r == nil || r.base == nil {
		return errors.New("open close log repository not initialised")
	}
	id := fmt.Sprintf("%s-%s-%d-%s-%d-%s",
		log.TenantID, log.StoreCode, log.TerminalNo, log.BusinessDate, log.OpenCounter, log.Operation)
	_, err := r.base.Create(ctx, id, log)
	return err
}

// FindClose fetches the session's close record.
func (r *OpenCloseLogRepository) FindClose(ctx context.Context, key repositories.SessionKey) (domain.OpenCloseLog, error) {
	if r == nil || r.base == nil {
		return domain.OpenCloseLog{}, errors.New("open close log repository not initialised")
	}
	id := fmt.Sprintf("%s-%s-%d-%s-%d-%s",
		key.TenantID, key.StoreCode, key.TerminalNo, key.BusinessDate, key.OpenCounter, domain.OperationClose)
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.OpenCloseLog{}, err
	}
	return doc.Data, nil
}

// ListSessions returns the distinct sessions with open/close records on the
// business date.
func (r *OpenCloseLogRepository) ListSessions(ctx context.Context, tenantID, storeCode, businessDate string) ([]repositories.SessionKey, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("open close log repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).
			Where("storeCode", "==", storeCode).
			Where("businessDate", "==", businessDate)
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[repositories.SessionKey]struct{}, len(docs))
	keys := make([]repositories.SessionKey, 0, len(docs))
	for _, doc := range docs {
		key := repositories.SessionKey{
			TenantID:     doc.Data.TenantID,
			StoreCode:    doc.Data.StoreCode,
			TerminalNo:   doc.Data.TerminalNo,
			BusinessDate: doc.Data.BusinessDate,
			OpenCounter:  doc.Data.OpenCounter,
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// ListForSession returns the session's open/close records in order.
func (r *OpenCloseLogRepository) ListForSession(ctx context.Context, key repositories.SessionKey) ([]domain.OpenCloseLog, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("open close log repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return sessionQuery(q, key).OrderBy("generateDateTime", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	logs := make([]domain.OpenCloseLog, 0, len(docs))
	for _, doc := range docs {
		logs = append(logs, doc.Data)
	}
	return logs, nil
}
