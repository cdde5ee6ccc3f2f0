package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

const tranlogCollection = "log_tran"

// TranLogRepository persists the immutable transaction log. The repository
// offers Create and reads only; corrections happen through compensating
// transactions, never updates.
type TranLogRepository struct {
	base *pfirestore.BaseRepository[domain.TranLog]
}

// NewTranLogRepository constructs a Firestore-backed transaction log repository.
func NewTranLogRepository(provider *pfirestore.Provider) (*TranLogRepository, error) {
	if provider == nil {
		return nil, errors.New("tranlog repository requires firestore provider")
	}
	return &TranLogRepository{
		base: pfirestore.NewBaseRepository[domain.TranLog](provider, tranlogCollection),
	}, nil
}

// Create appends the transaction log entry, failing on a duplicate key.
func (r *TranLogRepository) Create(ctx context.Context, log domain.TranLog) error {
	if r == nil || r.base == nil {
		return errors.New("tranlog repository not initialised")
	}
	_, err := r.base.Create(ctx, log.ID(), log)
	return err
}

// Get fetches one transaction by its domain key.
func (r *TranLogRepository) Get(ctx context.Context, tenantID, storeCode string, terminalNo int, transactionNo int64) (domain.TranLog, error) {
	if r == nil || r.base == nil {
		return domain.TranLog{}, errors.New("tranlog repository not initialised")
	}
	doc, err := r.base.Get(ctx, domain.TranLogID(tenantID, storeCode, terminalNo, transactionNo))
	if err != nil {
		return domain.TranLog{}, err
	}
	return doc.Data, nil
}

// List pages through transactions matching the filter.
func (r *TranLogRepository) List(ctx context.Context, filter repositories.TranLogFilter, page repositories.Page) ([]domain.TranLog, int64, error) {
	if r == nil || r.base == nil {
		return nil, 0, errors.New("tranlog repository not initialised")
	}

	build := func(q firestore.Query) firestore.Query {
		return tranlogFilterQuery(q, filter)
	}
	total, err := r.base.Count(ctx, build)
	if err != nil {
		return nil, 0, err
	}

	if len(page.Sort) == 0 {
		page.Sort = []string{"transactionNo"}
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyPage(tranlogFilterQuery(q, filter), page)
	})
	if err != nil {
		return nil, 0, err
	}

	logs := make([]domain.TranLog, 0, len(docs))
	for _, doc := range docs {
		logs = append(logs, doc.Data)
	}
	return logs, total, nil
}

// SessionTally counts the session's transactions and reports the highest
// transaction number, feeding the reconciliation gate.
func (r *TranLogRepository) SessionTally(ctx context.Context, key repositories.SessionKey) (repositories.SessionTally, error) {
	if r == nil || r.base == nil {
		return repositories.SessionTally{}, errors.New("tranlog repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return sessionQuery(q, key)
	})
	if err != nil {
		return repositories.SessionTally{}, err
	}

	tally := repositories.SessionTally{Count: int64(len(docs))}
	for _, doc := range docs {
		if doc.Data.TransactionNo > tally.LastNo {
			tally.LastNo = doc.Data.TransactionNo
		}
	}
	return tally, nil
}

// ListSessions returns the distinct sessions that recorded transactions on the
// business date, for the store-wide reconciliation gate.
func (r *TranLogRepository) ListSessions(ctx context.Context, tenantID, storeCode, businessDate string) ([]repositories.SessionKey, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("tranlog repository not initialised")
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

func tranlogFilterQuery(q firestore.Query, filter repositories.TranLogFilter) firestore.Query {
	q = q.Where("tenantId", "==", filter.TenantID)
	if filter.StoreCode != "" {
		q = q.Where("storeCode", "==", filter.StoreCode)
	}
	if filter.TerminalNo != nil {
		q = q.Where("terminalNo", "==", *filter.TerminalNo)
	}
	if filter.BusinessDate != "" {
		if filter.BusinessDateTo != "" {
			q = q.Where("businessDate", ">=", filter.BusinessDate).
				Where("businessDate", "<=", filter.BusinessDateTo)
		} else {
			q = q.Where("businessDate", "==", filter.BusinessDate)
		}
	}
	if filter.OpenCounter != nil {
		q = q.Where("openCounter", "==", *filter.OpenCounter)
	}
	if len(filter.TransactionType) == 1 {
		q = q.Where("transactionType", "==", string(filter.TransactionType[0]))
	} else if len(filter.TransactionType) > 1 {
		types := make([]string, 0, len(filter.TransactionType))
		for _, t := range filter.TransactionType {
			types = append(types, string(t))
		}
		q = q.Where("transactionType", "in", types)
	}
	return q
}
