package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
)

type tranFixture struct {
	service  TransactionService
	tranlogs *memTranLogs
	statuses *memStatuses
	counters *memCounters
	tracker  *stubTracker
	terminal domain.Terminal
}

// seedSale is the committed original transaction the tests compensate: a cash
// sale of 220 including 20 external tax, numbered 5.
func seedSale() domain.TranLog {
	return domain.TranLog{
		TenantID:        "tenant1",
		StoreCode:       "store1",
		TerminalNo:      1,
		TransactionNo:   5,
		TransactionType: domain.TypeNormalSales,
		BusinessDate:    "20250601",
		OpenCounter:     1,
		LineItems: []domain.LineItem{
			{LineNo: 1, ItemCode: "A001", UnitPrice: 100, Quantity: 2, TaxCode: "10", Amount: 200},
		},
		Payments: []domain.Payment{
			{PaymentNo: 1, PaymentCode: "01", Description: "Cash", Amount: 220},
		},
		Taxes: []domain.Tax{
			{TaxNo: 1, TaxCode: "10", TaxType: domain.TaxExternal, TaxAmount: 20, TargetAmount: 200},
		},
		Sales: domain.SalesSummary{
			TotalAmount:        200,
			TaxAmount:          20,
			TotalAmountWithTax: 220,
			TotalQuantity:      2,
		},
	}
}

func newTranFixture(t *testing.T, seeds ...domain.TranLog) *tranFixture {
	t.Helper()

	staff := domain.StaffRef{ID: "s01", Name: "Aoki"}
	terminal := domain.Terminal{
		TenantID:        "tenant1",
		StoreCode:       "store1",
		TerminalNo:      1,
		Status:          domain.TerminalOpened,
		BusinessDate:    "20250601",
		OpenCounter:     1,
		BusinessCounter: 1,
		Staff:           &staff,
	}

	tranlogs := newMemTranLogs(seeds...)
	var statusSeeds []domain.TransactionStatus
	for _, seed := range seeds {
		statusSeeds = append(statusSeeds, domain.TransactionStatus{
			TenantID:      seed.TenantID,
			StoreCode:     seed.StoreCode,
			TerminalNo:    seed.TerminalNo,
			TransactionNo: seed.TransactionNo,
		})
	}
	statuses := newMemStatuses(statusSeeds...)
	counters := newMemCounters()
	tracker := &stubTracker{}

	service, err := NewTransactionService(TransactionServiceDeps{
		Sessions:  &memSessions{},
		TranLogs:  tranlogs,
		Statuses:  statuses,
		Terminals: newMemTerminals(terminal),
		Masters: &memMasters{
			payments: []domain.PaymentMaster{
				{PaymentCode: "01", Description: "Cash", CanChange: true},
				{PaymentCode: "02", Description: "Credit"},
			},
			settings: map[string]string{},
		},
		Counters:     counters,
		Tracker:      tracker,
		Receipts:     NewReceiptRegistry(),
		TranlogTopic: "tranlog",
		Clock:        fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewTransactionService: %v", err)
	}

	return &tranFixture{
		service:  service,
		tranlogs: tranlogs,
		statuses: statuses,
		counters: counters,
		tracker:  tracker,
		terminal: terminal,
	}
}

func saleRef() domain.TranReference {
	return domain.TranReference{TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1, TransactionNo: 5}
}

func TestVoidNormalSales(t *testing.T) {
	ctx := context.Background()
	f := newTranFixture(t, seedSale())

	void, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if void.TransactionType != domain.TypeVoidSales {
		t.Fatalf("type = %s, want void sales", void.TransactionType)
	}
	if void.TransactionNo == 5 {
		t.Fatal("void reused the original transaction number")
	}
	if void.Origin == nil || void.Origin.TransactionNo != 5 {
		t.Fatalf("origin = %+v, want reference to transaction 5", void.Origin)
	}
	if void.Sales.TotalAmountWithTax != 220 {
		t.Fatalf("void total = %d, want mirror of original", void.Sales.TotalAmountWithTax)
	}

	status, err := f.statuses.Get(ctx, "tenant1", "store1", 1, 5)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.IsVoided || status.VoidTransactionNo != void.TransactionNo {
		t.Fatalf("status = %+v, want voided by %d", status, void.TransactionNo)
	}
	if len(f.tracker.events()) != 1 {
		t.Fatalf("tracked = %d, want the compensating transaction's event", len(f.tracker.events()))
	}
}

func TestVoidGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("payment mismatch", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		_, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 200}})
		if !apperrors.Is(err, apperrors.KindValidation) {
			t.Fatalf("Void error = %v, want validation", err)
		}
	})

	t.Run("payment code not in original", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		_, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "02", Amount: 220}})
		if !apperrors.Is(err, apperrors.KindValidation) {
			t.Fatalf("Void error = %v, want validation", err)
		}
	})

	t.Run("already voided", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		if _, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}}); err != nil {
			t.Fatalf("first Void: %v", err)
		}
		_, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
		if !apperrors.Is(err, apperrors.KindAlreadyVoided) {
			t.Fatalf("second Void error = %v, want already voided", err)
		}
	})

	t.Run("refunded sale must void the return", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		if _, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}}); err != nil {
			t.Fatalf("Return: %v", err)
		}
		_, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
		if !apperrors.Is(err, apperrors.KindAlreadyRefunded) {
			t.Fatalf("Void error = %v, want already refunded", err)
		}
	})
}

func TestVoidReturnResetsRefundOnOriginalSale(t *testing.T) {
	ctx := context.Background()
	f := newTranFixture(t, seedSale())

	ret, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	status, err := f.statuses.Get(ctx, "tenant1", "store1", 1, 5)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.IsRefunded || status.ReturnTransactionNo != ret.TransactionNo {
		t.Fatalf("status after return = %+v", status)
	}

	// Voiding the return reopens the sale for a future return.
	retRef := domain.TranReference{TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1, TransactionNo: ret.TransactionNo}
	void, err := f.service.Void(ctx, f.terminal, retRef, []PaymentRequest{{PaymentCode: "01", Amount: 220}})
	if err != nil {
		t.Fatalf("Void return: %v", err)
	}
	if void.TransactionType != domain.TypeVoidReturn {
		t.Fatalf("type = %s, want void return", void.TransactionType)
	}

	status, err = f.statuses.Get(ctx, "tenant1", "store1", 1, 5)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsRefunded || status.ReturnTransactionNo != 0 {
		t.Fatalf("refund flag not reset: %+v", status)
	}
}

func TestReturnGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("total must match", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		_, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 100}})
		if !apperrors.Is(err, apperrors.KindValidation) {
			t.Fatalf("Return error = %v, want validation", err)
		}
	})

	t.Run("split refund tender allowed", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		ret, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{
			{PaymentCode: "01", Amount: 120},
			{PaymentCode: "02", Amount: 100},
		})
		if err != nil {
			t.Fatalf("Return: %v", err)
		}
		if ret.TransactionType != domain.TypeReturnSales || len(ret.Payments) != 2 {
			t.Fatalf("return = %+v", ret)
		}
	})

	t.Run("already refunded", func(t *testing.T) {
		f := newTranFixture(t, seedSale())
		if _, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}}); err != nil {
			t.Fatalf("first Return: %v", err)
		}
		_, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
		if !apperrors.Is(err, apperrors.KindAlreadyRefunded) {
			t.Fatalf("second Return error = %v, want already refunded", err)
		}
	})

	t.Run("only sales can be returned", func(t *testing.T) {
		seed := seedSale()
		seed.TransactionType = domain.TypeReturnSales
		f := newTranFixture(t, seed)
		_, err := f.service.Return(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
		if !apperrors.Is(err, apperrors.KindInvalidOperation) {
			t.Fatalf("Return error = %v, want invalid operation", err)
		}
	})
}

func TestCompensateClearsChangeAndStampDuty(t *testing.T) {
	ctx := context.Background()
	seed := seedSale()
	seed.Sales.ChangeAmount = 80
	seed.Sales.IsStampDutyApplied = true
	seed.Sales.StampDutyAmount = 200
	f := newTranFixture(t, seed)

	void, err := f.service.Void(ctx, f.terminal, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if void.Sales.ChangeAmount != 0 || void.Sales.IsStampDutyApplied || void.Sales.StampDutyAmount != 0 {
		t.Fatalf("compensating sales = %+v, want change and stamp duty cleared", void.Sales)
	}
}

func TestPostJournal(t *testing.T) {
	ctx := context.Background()
	f := newTranFixture(t)

	report := domain.SalesReport{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  "flash",
		ReportType:   "sales",
	}
	tran, err := f.service.PostJournal(ctx, f.terminal, JournalEntryRequest{
		TransactionType: domain.TypeFlashReport,
		Report:          report,
	})
	if err != nil {
		t.Fatalf("PostJournal: %v", err)
	}
	if tran.TransactionType != domain.TypeFlashReport {
		t.Fatalf("type = %s, want flash report", tran.TransactionType)
	}
	// The pre-rendered journal must survive finalisation untouched; no
	// receipt is built for journal entries.
	if !strings.Contains(tran.JournalText, `"business_date": "20250601"`) {
		t.Fatalf("journal text does not carry the report: %s", tran.JournalText)
	}
	if tran.ReceiptText != "" {
		t.Fatalf("receipt text = %q, want empty for journal entries", tran.ReceiptText)
	}

	_, err = f.service.PostJournal(ctx, f.terminal, JournalEntryRequest{TransactionType: domain.TypeNormalSales})
	if !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("PostJournal error = %v, want validation", err)
	}
}

func TestVoidOnClosedTerminal(t *testing.T) {
	ctx := context.Background()
	f := newTranFixture(t, seedSale())

	// compensate reloads the terminal from the repository, so flip it there.
	closed := f.terminal
	closed.Status = domain.TerminalClosed
	terminals := newMemTerminals(closed)
	service, err := NewTransactionService(TransactionServiceDeps{
		Sessions:  &memSessions{},
		TranLogs:  f.tranlogs,
		Statuses:  f.statuses,
		Terminals: terminals,
		Masters: &memMasters{
			payments: []domain.PaymentMaster{{PaymentCode: "01", Description: "Cash"}},
			settings: map[string]string{},
		},
		Counters:     f.counters,
		Tracker:      f.tracker,
		Receipts:     NewReceiptRegistry(),
		TranlogTopic: "tranlog",
	})
	if err != nil {
		t.Fatalf("NewTransactionService: %v", err)
	}

	_, err = service.Void(ctx, closed, saleRef(), []PaymentRequest{{PaymentCode: "01", Amount: 220}})
	if !apperrors.Is(err, apperrors.KindTerminalStatus) {
		t.Fatalf("Void error = %v, want terminal status", err)
	}
}
