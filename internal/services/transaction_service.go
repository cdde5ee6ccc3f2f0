package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/repositories"
)

// TransactionService reads the committed transaction log and performs the
// compensating operations, void and return, which write new transactions
// rather than mutating the originals.
type TransactionService interface {
	List(ctx context.Context, filter repositories.TranLogFilter, page repositories.Page) ([]domain.TranLog, int64, error)
	Get(ctx context.Context, ref domain.TranReference) (domain.TranLog, domain.TransactionStatus, error)
	Void(ctx context.Context, terminal domain.Terminal, ref domain.TranReference, payments []PaymentRequest) (domain.TranLog, error)
	Return(ctx context.Context, terminal domain.Terminal, ref domain.TranReference, payments []PaymentRequest) (domain.TranLog, error)
	PostJournal(ctx context.Context, terminal domain.Terminal, entry JournalEntryRequest) (domain.TranLog, error)
}

// TransactionServiceDeps bundles collaborators for NewTransactionService.
type TransactionServiceDeps struct {
	Sessions     repositories.Sessions
	TranLogs     repositories.TranLogRepository
	Statuses     repositories.TransactionStatusRepository
	Terminals    repositories.TerminalRepository
	Masters      repositories.MasterRepository
	Counters     repositories.CounterRepository
	Tracker      DeliveryTracker
	Receipts     *ReceiptRegistry
	TranlogTopic string
	Clock        func() time.Time
	Logger       Logger
}

type transactionService struct {
	tranlogs  repositories.TranLogRepository
	statuses  repositories.TransactionStatusRepository
	terminals repositories.TerminalRepository
	masters   repositories.MasterRepository
	finaliser *finaliser
	clock     func() time.Time
	log       Logger
}

// NewTransactionService constructs the transaction service.
func NewTransactionService(deps TransactionServiceDeps) (TransactionService, error) {
	switch {
	case deps.TranLogs == nil:
		return nil, errors.New("transaction service: tranlog repository is required")
	case deps.Statuses == nil:
		return nil, errors.New("transaction service: status repository is required")
	case deps.Terminals == nil:
		return nil, errors.New("transaction service: terminal repository is required")
	case deps.Masters == nil:
		return nil, errors.New("transaction service: master repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger
	}

	fin, err := newFinaliser(deps.Sessions, deps.Counters, deps.TranLogs, deps.Statuses, deps.Tracker, deps.Receipts, deps.TranlogTopic, clock, log)
	if err != nil {
		return nil, err
	}

	return &transactionService{
		tranlogs:  deps.TranLogs,
		statuses:  deps.Statuses,
		terminals: deps.Terminals,
		masters:   deps.Masters,
		finaliser: fin,
		clock:     clock,
		log:       log,
	}, nil
}

// List pages through transactions matching the filter.
func (s *transactionService) List(ctx context.Context, filter repositories.TranLogFilter, page repositories.Page) ([]domain.TranLog, int64, error) {
	logs, total, err := s.tranlogs.List(ctx, filter, page)
	if err != nil {
		return nil, 0, apperrors.FromRepository("list transactions", err)
	}
	return logs, total, nil
}

// Get returns one transaction with its mutable status.
func (s *transactionService) Get(ctx context.Context, ref domain.TranReference) (domain.TranLog, domain.TransactionStatus, error) {
	tran, err := s.tranlogs.Get(ctx, ref.TenantID, ref.StoreCode, ref.TerminalNo, ref.TransactionNo)
	if err != nil {
		return domain.TranLog{}, domain.TransactionStatus{}, apperrors.FromRepository("load transaction", err)
	}
	status, err := s.statuses.Get(ctx, ref.TenantID, ref.StoreCode, ref.TerminalNo, ref.TransactionNo)
	if err != nil {
		return domain.TranLog{}, domain.TransactionStatus{}, apperrors.FromRepository("load transaction status", err)
	}
	return tran, status, nil
}

// Void reverses a transaction with an exactly matching payment list. Sales
// void to VoidSales, returns to VoidReturn; voiding a VoidReturn's original
// return resets the refunded flag on the underlying sale.
func (s *transactionService) Void(ctx context.Context, terminal domain.Terminal, ref domain.TranReference, payments []PaymentRequest) (domain.TranLog, error) {
	original, status, err := s.Get(ctx, ref)
	if err != nil {
		return domain.TranLog{}, err
	}
	if status.IsVoided {
		return domain.TranLog{}, apperrors.New(apperrors.KindAlreadyVoided, "transaction is already voided")
	}
	if status.IsRefunded && original.TransactionType == domain.TypeNormalSales {
		return domain.TranLog{}, apperrors.New(apperrors.KindAlreadyRefunded, "transaction has been refunded; void the return instead")
	}

	var voidType domain.TransactionType
	switch original.TransactionType {
	case domain.TypeNormalSales:
		voidType = domain.TypeVoidSales
	case domain.TypeReturnSales:
		voidType = domain.TypeVoidReturn
	default:
		return domain.TranLog{}, apperrors.Newf(apperrors.KindInvalidOperation, "transaction type %s cannot be voided", original.TransactionType)
	}

	if err := paymentsMatchOriginal(original.Payments, payments); err != nil {
		return domain.TranLog{}, err
	}

	committed, err := s.compensate(ctx, terminal, original, voidType, payments)
	if err != nil {
		return domain.TranLog{}, err
	}

	now := s.clock()
	if err := s.statuses.MarkVoided(ctx, ref, committed.TransactionNo, now); err != nil {
		return domain.TranLog{}, apperrors.FromRepository("mark voided", err)
	}
	if voidType == domain.TypeVoidReturn && original.Origin != nil {
		if err := s.statuses.ResetRefund(ctx, *original.Origin, now); err != nil {
			return domain.TranLog{}, apperrors.FromRepository("reset refund status", err)
		}
	}
	return committed, nil
}

// Return refunds a NormalSales transaction. The payment mix may differ from
// the original, but the total must match.
func (s *transactionService) Return(ctx context.Context, terminal domain.Terminal, ref domain.TranReference, payments []PaymentRequest) (domain.TranLog, error) {
	original, status, err := s.Get(ctx, ref)
	if err != nil {
		return domain.TranLog{}, err
	}
	if original.TransactionType != domain.TypeNormalSales {
		return domain.TranLog{}, apperrors.Newf(apperrors.KindInvalidOperation, "transaction type %s cannot be returned", original.TransactionType)
	}
	if status.IsVoided {
		return domain.TranLog{}, apperrors.New(apperrors.KindAlreadyVoided, "transaction is voided")
	}
	if status.IsRefunded {
		return domain.TranLog{}, apperrors.New(apperrors.KindAlreadyRefunded, "transaction is already refunded")
	}

	var total int64
	for _, p := range payments {
		total += p.Amount
	}
	if total != original.Sales.TotalAmountWithTax {
		return domain.TranLog{}, apperrors.Newf(apperrors.KindValidation,
			"refund total %d must equal original total %d", total, original.Sales.TotalAmountWithTax)
	}

	committed, err := s.compensate(ctx, terminal, original, domain.TypeReturnSales, payments)
	if err != nil {
		return domain.TranLog{}, err
	}

	if err := s.statuses.MarkRefunded(ctx, ref, committed.TransactionNo, s.clock()); err != nil {
		return domain.TranLog{}, apperrors.FromRepository("mark refunded", err)
	}
	return committed, nil
}

// PostJournal records a generated report as a journal-only transaction. The
// entry carries no sales figures of its own; the rendered report becomes the
// journal text.
func (s *transactionService) PostJournal(ctx context.Context, terminal domain.Terminal, entry JournalEntryRequest) (domain.TranLog, error) {
	if entry.TransactionType != domain.TypeFlashReport && entry.TransactionType != domain.TypeDailyReport {
		return domain.TranLog{}, apperrors.Newf(apperrors.KindValidation, "transaction type %s cannot be journalled", entry.TransactionType)
	}

	current, err := s.terminals.Get(ctx, terminal.TenantID, terminal.StoreCode, terminal.TerminalNo)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("load terminal", err)
	}
	settings, err := s.masters.GetSettings(ctx, current.TenantID, current.StoreCode)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("load settings", err)
	}

	journal, err := json.MarshalIndent(entry.Report, "", "  ")
	if err != nil {
		return domain.TranLog{}, apperrors.Wrap(apperrors.KindSystem, "encode report journal", err)
	}

	tran := domain.TranLog{
		TransactionType: entry.TransactionType,
		JournalText:     string(journal),
	}
	return s.finaliser.commit(ctx, current, settings, tran)
}

// compensate writes the new transaction that reverses the original, on the
// acting terminal's session.
func (s *transactionService) compensate(ctx context.Context, terminal domain.Terminal, original domain.TranLog, newType domain.TransactionType, payments []PaymentRequest) (domain.TranLog, error) {
	current, err := s.terminals.Get(ctx, terminal.TenantID, terminal.StoreCode, terminal.TerminalNo)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("load terminal", err)
	}
	if current.Status != domain.TerminalOpened {
		return domain.TranLog{}, apperrors.New(apperrors.KindTerminalStatus, "terminal is not opened")
	}

	settings, err := s.masters.GetSettings(ctx, current.TenantID, current.StoreCode)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("load settings", err)
	}
	masters, err := s.masters.ListPayments(ctx, current.TenantID)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("load payment master", err)
	}

	rows := make([]domain.Payment, 0, len(payments))
	for i, request := range payments {
		master, ok := findPaymentMaster(masters, request.PaymentCode)
		if !ok {
			return domain.TranLog{}, apperrors.Newf(apperrors.KindNotFound, "unknown payment code %q", request.PaymentCode)
		}
		rows = append(rows, domain.Payment{
			PaymentNo:   i + 1,
			PaymentCode: master.PaymentCode,
			Description: master.Description,
			Amount:      request.Amount,
			Detail:      request.Detail,
		})
	}

	origin := domain.TranReference{
		TenantID:      original.TenantID,
		StoreCode:     original.StoreCode,
		TerminalNo:    original.TerminalNo,
		TransactionNo: original.TransactionNo,
	}
	sales := original.Sales
	sales.ChangeAmount = 0
	sales.IsStampDutyApplied = false
	sales.StampDutyAmount = 0

	tran := domain.TranLog{
		TransactionType:   newType,
		User:              original.User,
		Origin:            &origin,
		LineItems:         original.LineItems,
		SubtotalDiscounts: original.SubtotalDiscounts,
		Payments:          rows,
		Taxes:             original.Taxes,
		Sales:             sales,
	}
	return s.finaliser.commit(ctx, current, settings, tran)
}

// paymentsMatchOriginal enforces the void contract: every supplied code must
// exist in the original and per-code sums must match exactly.
func paymentsMatchOriginal(original []domain.Payment, supplied []PaymentRequest) error {
	originalSums := make(map[string]int64, len(original))
	for _, p := range original {
		originalSums[p.PaymentCode] += p.Amount
	}

	suppliedSums := make(map[string]int64, len(supplied))
	for _, p := range supplied {
		if _, ok := originalSums[p.PaymentCode]; !ok {
			return apperrors.Newf(apperrors.KindValidation, "payment code %q not present in original transaction", p.PaymentCode)
		}
		suppliedSums[p.PaymentCode] += p.Amount
	}

	for code, sum := range originalSums {
		if suppliedSums[code] != sum {
			return apperrors.Newf(apperrors.KindValidation,
				"payment amounts for %q must match the original (%d)", code, sum)
		}
	}
	return nil
}
