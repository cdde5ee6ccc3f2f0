package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
)

const transactionStatusCollection = "status_transaction"

// TransactionStatusRepository tracks void/refund flags per transaction,
// keeping the transaction log itself immutable.
type TransactionStatusRepository struct {
	base *pfirestore.BaseRepository[domain.TransactionStatus]
}

// NewTransactionStatusRepository constructs a Firestore-backed status repository.
func NewTransactionStatusRepository(provider *pfirestore.Provider) (*TransactionStatusRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction status repository requires firestore provider")
	}
	return &TransactionStatusRepository{
		base: pfirestore.NewBaseRepository[domain.TransactionStatus](provider, transactionStatusCollection),
	}, nil
}

// Ensure writes the initial status row alongside a committed transaction.
// An existing row is left untouched.
func (r *TransactionStatusRepository) Ensure(ctx context.Context, status domain.TransactionStatus) error {
	if r == nil || r.base == nil {
		return errors.New("transaction status repository not initialised")
	}
	id := domain.TranLogID(status.TenantID, status.StoreCode, status.TerminalNo, status.TransactionNo)
	_, err := r.base.Create(ctx, id, status)
	if err != nil && isConflict(err) {
		return nil
	}
	return err
}

// Get fetches the status row for one transaction.
func (r *TransactionStatusRepository) Get(ctx context.Context, tenantID, storeCode string, terminalNo int, transactionNo int64) (domain.TransactionStatus, error) {
	if r == nil || r.base == nil {
		return domain.TransactionStatus{}, errors.New("transaction status repository not initialised")
	}
	doc, err := r.base.Get(ctx, domain.TranLogID(tenantID, storeCode, terminalNo, transactionNo))
	if err != nil {
		return domain.TransactionStatus{}, err
	}
	return doc.Data, nil
}

// MarkVoided flags the referenced transaction as voided.
func (r *TransactionStatusRepository) MarkVoided(ctx context.Context, ref domain.TranReference, voidTransactionNo int64, at time.Time) error {
	return r.update(ctx, ref, []firestore.Update{
		{Path: "isVoided", Value: true},
		{Path: "voidTransactionNo", Value: voidTransactionNo},
		{Path: "updatedAt", Value: at.UTC()},
	})
}

// MarkRefunded flags the referenced transaction as refunded.
func (r *TransactionStatusRepository) MarkRefunded(ctx context.Context, ref domain.TranReference, returnTransactionNo int64, at time.Time) error {
	return r.update(ctx, ref, []firestore.Update{
		{Path: "isRefunded", Value: true},
		{Path: "returnTransactionNo", Value: returnTransactionNo},
		{Path: "updatedAt", Value: at.UTC()},
	})
}

// ResetRefund clears the refund flag after a return is voided, making the
// original sale returnable again.
func (r *TransactionStatusRepository) ResetRefund(ctx context.Context, ref domain.TranReference, at time.Time) error {
	return r.update(ctx, ref, []firestore.Update{
		{Path: "isRefunded", Value: false},
		{Path: "returnTransactionNo", Value: firestore.Delete},
		{Path: "updatedAt", Value: at.UTC()},
	})
}

func (r *TransactionStatusRepository) update(ctx context.Context, ref domain.TranReference, updates []firestore.Update) error {
	if r == nil || r.base == nil {
		return errors.New("transaction status repository not initialised")
	}
	id := domain.TranLogID(ref.TenantID, ref.StoreCode, ref.TerminalNo, ref.TransactionNo)
	_, err := r.base.Update(ctx, id, updates)
	return err
}

func isConflict(err error) bool {
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) {
		return fsErr.IsConflict()
	}
	return false
}
