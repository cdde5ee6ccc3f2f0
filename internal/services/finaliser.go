package services

import (
	"context"
	"errors"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/repositories"
)

// finaliser turns a prepared transaction into a committed tranlog: it
// allocates the per-terminal numbers, stamps generation time and receipt
// decorations, writes the immutable log plus its status row, and hands the
// event to the delivery tracker.
type finaliser struct {
	sessions repositories.Sessions
	counters repositories.CounterRepository
	tranlogs repositories.TranLogRepository
	statuses repositories.TransactionStatusRepository
	tracker  DeliveryTracker
	receipts *ReceiptRegistry
	topic    string
	clock    func() time.Time
	log      Logger
}

func newFinaliser(
	sessions repositories.Sessions,
	counters repositories.CounterRepository,
	tranlogs repositories.TranLogRepository,
	statuses repositories.TransactionStatusRepository,
	tracker DeliveryTracker,
	receipts *ReceiptRegistry,
	topic string,
	clock func() time.Time,
	log Logger,
) (*finaliser, error) {
	switch {
	case sessions == nil:
		return nil, errors.New("finaliser: sessions runner is required")
	case counters == nil:
		return nil, errors.New("finaliser: counter repository is required")
	case tranlogs == nil:
		return nil, errors.New("finaliser: tranlog repository is required")
	case statuses == nil:
		return nil, errors.New("finaliser: status repository is required")
	case tracker == nil:
		return nil, errors.New("finaliser: delivery tracker is required")
	case receipts == nil:
		return nil, errors.New("finaliser: receipt registry is required")
	case topic == "":
		return nil, errors.New("finaliser: topic is required")
	}
	return &finaliser{
		sessions: sessions,
		counters: counters,
		tranlogs: tranlogs,
		statuses: statuses,
		tracker:  tracker,
		receipts: receipts,
		topic:    topic,
		clock:    clock,
		log:      log,
	}, nil
}

// commit completes the tranlog and persists it. The caller supplies the
// transaction with lines, payments, taxes and sales already settled; commit
// owns numbering, stamp duty, receipt decoration, persistence and tracking.
func (f *finaliser) commit(ctx context.Context, terminal domain.Terminal, settings map[string]string, tran domain.TranLog) (domain.TranLog, error) {
	terminalID := terminal.ID()

	transactionNo, err := f.counters.Next(ctx, terminalID, domain.CounterTransaction, nil)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("allocate transaction number", err)
	}
	receiptBounds := repositories.NumberRange{
		Start: settingInt64(settings, SettingReceiptNoStart, defaultReceiptNoStart),
		End:   settingInt64(settings, SettingReceiptNoEnd, defaultReceiptNoEnd),
	}
	receiptNo, err := f.counters.Next(ctx, terminalID, domain.CounterReceipt, &receiptBounds)
	if err != nil {
		return domain.TranLog{}, apperrors.FromRepository("allocate receipt number", err)
	}

	now := f.clock()
	tran.TenantID = terminal.TenantID
	tran.StoreCode = terminal.StoreCode
	tran.TerminalNo = terminal.TerminalNo
	tran.TransactionNo = transactionNo
	tran.ReceiptNo = receiptNo
	tran.BusinessDate = terminal.BusinessDate
	tran.OpenCounter = terminal.OpenCounter
	tran.BusinessCounter = terminal.BusinessCounter
	tran.GenerateDateTime = now.Format(domain.DateTimeLayout)
	if terminal.Staff != nil {
		tran.Staff = *terminal.Staff
	}

	f.applyStampDuty(ctx, &tran, settings)

	tran.AdditionalInfo = domain.TranAdditionalInfo{
		InvoiceRegistrationNumber: settingString(settings, SettingInvoiceRegNumber, ""),
		ReceiptHeaders:            parseReceiptLines(ctx, f.log, SettingReceiptHeaders, settings[SettingReceiptHeaders]),
		ReceiptFooters:            parseReceiptLines(ctx, f.log, SettingReceiptFooters, settings[SettingReceiptFooters]),
		StampDutyAmount:           tran.Sales.StampDutyAmount,
	}
	// Journal postings arrive pre-rendered; everything else gets the
	// configured receipt layout.
	if tran.ReceiptText == "" && tran.JournalText == "" {
		tran.ReceiptText, tran.JournalText = f.receipts.Build("standard", tran)
	}

	// The log, its status row and the delivery row commit as one atomic
	// unit. Without that, a crash between writes leaves a committed sale
	// the sweep can never republish (no tracking row to find). Counter
	// allocation stays outside: an aborted commit burns the numbers
	// rather than risk reissuing them.
	var staged domain.DeliveryStatus
	err = f.sessions.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		staged, err = f.tracker.Stage(ctx, TrackInput{
			Topic:         f.topic,
			EventType:     string(tran.TransactionType),
			Payload:       tran,
			TenantID:      tran.TenantID,
			TransactionNo: &tran.TransactionNo,
		})
		if err != nil {
			return err
		}
		if err := f.tranlogs.Create(ctx, tran); err != nil {
			return apperrors.FromRepository("write transaction log", err)
		}
		if err := f.statuses.Ensure(ctx, domain.TransactionStatus{
			TenantID:      tran.TenantID,
			StoreCode:     tran.StoreCode,
			TerminalNo:    tran.TerminalNo,
			TransactionNo: tran.TransactionNo,
			UpdatedAt:     now.UTC(),
		}); err != nil {
			return apperrors.FromRepository("write transaction status", err)
		}
		return nil
	})
	if err != nil {
		return domain.TranLog{}, commitError("commit transaction log", err)
	}

	f.tracker.Publish(ctx, staged)

	f.log(ctx, "transaction.committed", map[string]any{
		"tenant_id":        tran.TenantID,
		"store_code":       tran.StoreCode,
		"terminal_no":      tran.TerminalNo,
		"transaction_no":   tran.TransactionNo,
		"receipt_no":       tran.ReceiptNo,
		"transaction_type": string(tran.TransactionType),
		"total":            tran.Sales.TotalAmountWithTax,
	})
	return tran, nil
}

// commitError maps an atomic-unit failure onto the typed error surface.
// Errors already typed inside the unit pass through unchanged.
func commitError(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.FromRepository(op, err)
}

// applyStampDuty sets the duty fields on sales-type transactions when both
// the cash portion and the tax-exclusive total reach a configured threshold.
func (f *finaliser) applyStampDuty(ctx context.Context, tran *domain.TranLog, settings map[string]string) {
	if tran.TransactionType != domain.TypeNormalSales {
		return
	}
	entries := parseStampDutyMaster(ctx, f.log, settings[SettingStampDutyMaster])
	if len(entries) == 0 {
		return
	}

	cashCode := settingString(settings, SettingCashPaymentCode, defaultCashPaymentCode)
	var cashAmount int64
	for _, p := range tran.Payments {
		if p.PaymentCode == cashCode {
			cashAmount += p.Amount
		}
	}

	var totalTax int64
	for _, tax := range tran.Taxes {
		totalTax += tax.TaxAmount
	}
	totalWithoutTax := tran.Sales.TotalAmountWithTax - totalTax

	if duty, ok := stampDutyFor(entries, cashAmount, totalWithoutTax); ok {
		tran.Sales.IsStampDutyApplied = true
		tran.Sales.StampDutyAmount = duty
	}
}
