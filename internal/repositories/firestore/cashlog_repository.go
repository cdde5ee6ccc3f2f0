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

const cashLogCollection = "log_cash_in_out"

// CashLogRepository persists cash drawer movement records.
type CashLogRepository struct {
	base *pfirestore.BaseRepository[domain.CashInOutLog]
}

// NewCashLogRepository constructs a Firestore-backed cash log repository.
func NewCashLogRepository(provider *pfirestore.Provider) (*CashLogRepository, error) {
	if provider == nil {
		return nil, errors.New("cash log repository requires firestore provider")
	}
	return &CashLogRepository{
		base: pfirestore.NewBaseRepository[domain.CashInOutLog](provider, cashLogCollection),
	}, nil
}

// Create appends one cash movement record.
func (r *CashLogRepository) Create(ctx context.Context, log domain.CashInOutLog) error {
	if r == nil || r.base == nil {
		return errors.New("cash log repository not initialised")
	}
	id := fmt.Sprintf("%s-%s-%d-%s", log.TenantID, log.StoreCode, log.TerminalNo, log.GenerateDateTime)
	_, err := r.base.Create(ctx, id, log)
	return err
}

// ListForSession returns the session's cash movements in generation order.
func (r *CashLogRepository) ListForSession(ctx context.Context, key repositories.SessionKey) ([]domain.CashInOutLog, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("cash log repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return sessionQuery(q, key).OrderBy("generateDateTime", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	logs := make([]domain.CashInOutLog, 0, len(docs))
	for _, doc := range docs {
		logs = append(logs, doc.Data)
	}
	return logs, nil
}

// SessionTally counts the session's cash movements and reports the latest
// generation time, feeding the reconciliation gate.
func (r *CashLogRepository) SessionTally(ctx context.Context, key repositories.SessionKey) (repositories.SessionTally, error) {
	logs, err := r.ListForSession(ctx, key)
	if err != nil {
		return repositories.SessionTally{}, err
	}
	tally := repositories.SessionTally{Count: int64(len(logs))}
	if len(logs) > 0 {
		tally.LastDateTime = logs[len(logs)-1].GenerateDateTime
	}
	return tally, nil
}
