package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/repositories"
)

func intPtr(v int) *int { return &v }

type reportFixture struct {
	service   ReportService
	tranlogs  *memTranLogs
	cashLogs  *memCashLogs
	openClose *memOpenCloseLogs
	reports   *memReports
	journal   *stubJournalPoster
}

func newReportFixture(t *testing.T, logs ...domain.TranLog) *reportFixture {
	t.Helper()
	f := &reportFixture{
		tranlogs:  newMemTranLogs(logs...),
		cashLogs:  newMemCashLogs(),
		openClose: newMemOpenCloseLogs(),
		reports:   newMemReports(),
		journal:   &stubJournalPoster{},
	}
	service, err := NewReportService(ReportServiceDeps{
		TranLogs:      f.tranlogs,
		CashLogs:      f.cashLogs,
		OpenCloseLogs: f.openClose,
		Masters:       &memMasters{},
		Reports:       f.reports,
		Journal:       f.journal,
		Clock:         fixedClock(time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewReportService: %v", err)
	}
	f.service = service
	return f
}

// reportSale is a committed internal-tax sale: 1100 gross with 100 of tax
// inside the price, paid in cash.
func reportSale(no int64) domain.TranLog {
	return domain.TranLog{
		TenantID:        "tenant1",
		StoreCode:       "store1",
		TerminalNo:      1,
		TransactionNo:   no,
		TransactionType: domain.TypeNormalSales,
		BusinessDate:    "20250601",
		OpenCounter:     1,
		LineItems: []domain.LineItem{
			{LineNo: 1, ItemCode: "A001", Quantity: 1},
		},
		Taxes: []domain.Tax{
			{TaxNo: 1, TaxCode: "20", TaxType: domain.TaxInternal, TaxName: "Internal 10%", TaxAmount: 100, TargetAmount: 1100},
		},
		Payments: []domain.Payment{
			{PaymentNo: 1, PaymentCode: "01", Description: "Cash", Amount: 1100},
		},
		Sales: domain.SalesSummary{TotalAmount: 1100, TotalAmountWithTax: 1100, TotalQuantity: 1},
	}
}

func TestFlashSalesReport(t *testing.T) {
	f := newReportFixture(t, reportSale(1))

	report, err := f.service.Generate(context.Background(), ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  ScopeFlash,
		ReportType:   "sales",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.TransactionCount != 1 {
		t.Fatalf("transaction count = %d, want 1", report.TransactionCount)
	}
	// Internal tax is carved out of the price for net sales.
	if report.SalesNet != 1000 {
		t.Fatalf("sales net = %d, want 1000", report.SalesNet)
	}
	if report.SalesGross != 1100 {
		t.Fatalf("sales gross = %d, want 1100", report.SalesGross)
	}
	if len(report.Taxes) != 1 || report.Taxes[0].TaxAmount != 100 || report.Taxes[0].TargetAmount != 1100 {
		t.Fatalf("taxes = %+v", report.Taxes)
	}
	if len(report.Payments) != 1 || report.Payments[0].Amount != 1100 || report.Payments[0].Count != 1 {
		t.Fatalf("payments = %+v", report.Payments)
	}
	if report.Cash != nil {
		t.Fatal("store-scoped report carries a cash section")
	}
	if len(f.reports.saved) != 1 {
		t.Fatalf("saved reports = %d, want 1", len(f.reports.saved))
	}
	if len(f.journal.posted) != 0 {
		t.Fatal("backoffice report was posted to the journal")
	}
}

func TestReportDuplicatedRowsCountedOnce(t *testing.T) {
	// A projection upstream can multiply the tax and payment arrays into a
	// Cartesian product. The reducer must collapse them back to the unique
	// rows before summing.
	tran := reportSale(1)
	tran.Sales.TotalAmount = 2000
	taxes := []domain.Tax{
		{TaxNo: 1, TaxCode: "10", TaxType: domain.TaxExternal, TaxName: "External 10%", TaxAmount: 80, TargetAmount: 800},
		{TaxNo: 2, TaxCode: "20", TaxType: domain.TaxInternal, TaxName: "Internal 10%", TaxAmount: 100, TargetAmount: 1100},
	}
	payments := []domain.Payment{
		{PaymentNo: 1, PaymentCode: "01", Description: "Cash", Amount: 1000},
		{PaymentNo: 2, PaymentCode: "02", Description: "Credit", Amount: 1080},
	}
	tran.Taxes = append(append([]domain.Tax{}, taxes...), taxes...)
	tran.Payments = append(append([]domain.Payment{}, payments...), payments...)

	f := newReportFixture(t, tran)
	report, err := f.service.Generate(context.Background(), ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  ScopeFlash,
		ReportType:   "sales",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.SalesNet != 2000-180 {
		t.Fatalf("sales net = %d, want each tax subtracted once", report.SalesNet)
	}
	if len(report.Taxes) != 2 {
		t.Fatalf("tax buckets = %d, want 2", len(report.Taxes))
	}
	for _, tax := range report.Taxes {
		want := int64(80)
		if tax.TaxCode == "20" {
			want = 100
		}
		if tax.TaxAmount != want {
			t.Fatalf("tax %s amount = %d, want %d", tax.TaxCode, tax.TaxAmount, want)
		}
	}
	if len(report.Payments) != 2 {
		t.Fatalf("payment buckets = %d, want 2", len(report.Payments))
	}
	for _, p := range report.Payments {
		if p.Count != 1 {
			t.Fatalf("payment %s counted %d times, want 1", p.PaymentCode, p.Count)
		}
	}
}

func TestReportVoidCancelsSale(t *testing.T) {
	sale := reportSale(1)
	void := reportSale(2)
	void.TransactionType = domain.TypeVoidSales

	f := newReportFixture(t, sale, void)
	report, err := f.service.Generate(context.Background(), ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  ScopeFlash,
		ReportType:   "sales",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.TransactionCount != 2 {
		t.Fatalf("transaction count = %d, want 2", report.TransactionCount)
	}
	if report.SalesNet != 0 || report.SalesGross != 0 {
		t.Fatalf("net/gross = %d/%d, want the void to cancel the sale", report.SalesNet, report.SalesGross)
	}
	if len(report.Taxes) != 1 || report.Taxes[0].TaxAmount != 0 {
		t.Fatalf("taxes = %+v, want zeroed bucket", report.Taxes)
	}
	if len(report.Payments) != 1 || report.Payments[0].Amount != 0 || report.Payments[0].Count != 0 {
		t.Fatalf("payments = %+v, want zeroed bucket", report.Payments)
	}
}

func TestPaymentReportProjectsTenderOnly(t *testing.T) {
	tran := reportSale(1)
	tran.LineItems[0].Discounts = []domain.Discount{
		{DiscountType: domain.DiscountAmount, DiscountValue: 100, DiscountAmount: 100},
	}

	f := newReportFixture(t, tran)
	report, err := f.service.Generate(context.Background(), ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  ScopeFlash,
		ReportType:   "payment",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.Taxes != nil {
		t.Fatalf("taxes = %+v, want none on a payment report", report.Taxes)
	}
	if report.DiscountForLineItems != (domain.ReportAmount{}) {
		t.Fatalf("line discounts = %+v, want zeroed", report.DiscountForLineItems)
	}
	if len(report.Payments) != 1 || report.Payments[0].Amount != 1100 {
		t.Fatalf("payments = %+v", report.Payments)
	}
}

func TestItemAndCategoryReports(t *testing.T) {
	sale := reportSale(1)
	sale.LineItems = []domain.LineItem{
		{LineNo: 1, ItemCode: "A001", CategoryCode: "10", Description: "Coffee", Quantity: 2, Amount: 200},
		{LineNo: 2, ItemCode: "A002", CategoryCode: "10", Description: "Tea", Quantity: 1, Amount: 150},
		{LineNo: 3, ItemCode: "B001", CategoryCode: "20", Description: "Mug", Quantity: 1, Amount: 800, IsCancelled: true},
	}
	ret := reportSale(2)
	ret.TransactionType = domain.TypeReturnSales
	ret.LineItems = []domain.LineItem{
		{LineNo: 1, ItemCode: "A001", CategoryCode: "10", Description: "Coffee", Quantity: 1, Amount: 100},
	}

	f := newReportFixture(t, sale, ret)
	query := ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  ScopeFlash,
		ReportType:   "item",
	}

	report, err := f.service.Generate(context.Background(), query)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Taxes != nil || report.Payments != nil {
		t.Fatal("item report carries tax or payment buckets")
	}
	if len(report.Items) != 2 {
		t.Fatalf("item buckets = %+v, want cancelled line excluded", report.Items)
	}
	// The return nets against the sale of the same item.
	if report.Items[0].ItemCode != "A001" || report.Items[0].Quantity != 1 || report.Items[0].Amount != 100 {
		t.Fatalf("item bucket = %+v", report.Items[0])
	}
	if report.Items[1].ItemCode != "A002" || report.Items[1].Quantity != 1 {
		t.Fatalf("item bucket = %+v", report.Items[1])
	}

	query.ReportType = "category"
	report, err = f.service.Generate(context.Background(), query)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(report.Items) != 1 {
		t.Fatalf("category buckets = %+v, want lines merged by category", report.Items)
	}
	if report.Items[0].CategoryCode != "10" || report.Items[0].Amount != 250 || report.Items[0].Quantity != 2 {
		t.Fatalf("category bucket = %+v", report.Items[0])
	}
}

func TestGenerateValidation(t *testing.T) {
	f := newReportFixture(t)
	tests := []struct {
		name  string
		query ReportQuery
	}{
		{"unknown scope", ReportQuery{BusinessDate: "20250601", ReportScope: "hourly", ReportType: "sales"}},
		{"missing business date", ReportQuery{ReportScope: ScopeFlash, ReportType: "sales"}},
		{"unknown report type", ReportQuery{BusinessDate: "20250601", ReportScope: ScopeFlash, ReportType: "category"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Generate(context.Background(), tt.query)
			if !apperrors.Is(err, apperrors.KindValidation) {
				t.Fatalf("Generate error = %v, want validation", err)
			}
		})
	}
}

func dailyQuery() ReportQuery {
	return ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		TerminalNo:   intPtr(1),
		BusinessDate: "20250601",
		OpenCounter:  intPtr(1),
		ReportScope:  ScopeDaily,
		ReportType:   "sales",
	}
}

func sessionInfo(f *reportFixture, t *testing.T) domain.DailyInfo {
	t.Helper()
	info, err := f.reports.GetDailyInfo(context.Background(), repositories.SessionKey{
		TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
		BusinessDate: "20250601", OpenCounter: 1,
	})
	if err != nil {
		t.Fatalf("GetDailyInfo: %v", err)
	}
	return info
}

func TestDailyReportGate(t *testing.T) {
	ctx := context.Background()

	t.Run("missing close log fails the gate", func(t *testing.T) {
		f := newReportFixture(t, reportSale(1))
		_, err := f.service.Generate(ctx, dailyQuery())
		if !apperrors.Is(err, apperrors.KindTerminalNotClosed) {
			t.Fatalf("Generate error = %v, want terminal not closed", err)
		}
		info := sessionInfo(f, t)
		if info.Verified || info.Message != "close log not found" {
			t.Fatalf("daily info = %+v", info)
		}
	})

	t.Run("tally mismatch fails the gate", func(t *testing.T) {
		f := newReportFixture(t, reportSale(1))
		f.openClose.rows = append(f.openClose.rows, domain.OpenCloseLog{
			TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
			BusinessDate: "20250601", OpenCounter: 1,
			Operation:            domain.OperationClose,
			CartTransactionCount: 2, CartTransactionLastNo: 2,
		})
		_, err := f.service.Generate(ctx, dailyQuery())
		if !apperrors.Is(err, apperrors.KindTerminalNotClosed) {
			t.Fatalf("Generate error = %v, want terminal not closed", err)
		}
		if info := sessionInfo(f, t); !strings.Contains(info.Message, "transaction count mismatch") {
			t.Fatalf("daily info message = %q", info.Message)
		}
	})

	t.Run("matching tallies pass and record the verdict", func(t *testing.T) {
		f := newReportFixture(t, reportSale(1))
		f.openClose.rows = append(f.openClose.rows, domain.OpenCloseLog{
			TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
			BusinessDate: "20250601", OpenCounter: 1,
			Operation:            domain.OperationClose,
			CartTransactionCount: 1, CartTransactionLastNo: 1,
			PhysicalAmount: int64Ptr(1100),
		})
		report, err := f.service.Generate(ctx, dailyQuery())
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		info := sessionInfo(f, t)
		if !info.Verified || info.Message != "verified" {
			t.Fatalf("daily info = %+v", info)
		}
		if report.Cash == nil || report.Cash.Difference != 0 {
			t.Fatalf("cash = %+v, want drawer matching the cash tender", report.Cash)
		}
	})

	t.Run("verified session short-circuits", func(t *testing.T) {
		f := newReportFixture(t, reportSale(1))
		// Already reconciled once: no close log lookup needed this time.
		if err := f.reports.SaveDailyInfo(ctx, domain.DailyInfo{
			TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
			BusinessDate: "20250601", OpenCounter: 1, Verified: true,
		}); err != nil {
			t.Fatalf("SaveDailyInfo: %v", err)
		}
		if _, err := f.service.Generate(ctx, dailyQuery()); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	})

	t.Run("date range skips the gate", func(t *testing.T) {
		f := newReportFixture(t, reportSale(1))
		query := dailyQuery()
		query.TerminalNo = nil
		query.OpenCounter = nil
		query.BusinessDateTo = "20250607"
		if _, err := f.service.Generate(ctx, query); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	})

	t.Run("store scope gates every session on the date", func(t *testing.T) {
		f := newReportFixture(t, reportSale(1))
		query := dailyQuery()
		query.TerminalNo = nil
		query.OpenCounter = nil
		_, err := f.service.Generate(ctx, query)
		if !apperrors.Is(err, apperrors.KindTerminalNotClosed) {
			t.Fatalf("Generate error = %v, want terminal not closed", err)
		}
	})

	t.Run("store scope catches sessions on terminals that rolled forward", func(t *testing.T) {
		// The terminal traded on 20250601 without closing, then opened on
		// 20250602. The session must still be gated off what the date
		// recorded, not the terminal's current state.
		f := newReportFixture(t, reportSale(1))
		f.openClose.rows = append(f.openClose.rows, domain.OpenCloseLog{
			TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
			BusinessDate: "20250602", OpenCounter: 1,
			Operation: domain.OperationOpen,
		})
		query := dailyQuery()
		query.TerminalNo = nil
		query.OpenCounter = nil
		_, err := f.service.Generate(ctx, query)
		if !apperrors.Is(err, apperrors.KindTerminalNotClosed) {
			t.Fatalf("Generate error = %v, want terminal not closed", err)
		}
		info := sessionInfo(f, t)
		if info.Verified || info.Message != "close log not found" {
			t.Fatalf("daily info = %+v", info)
		}
	})

	t.Run("terminal scope without open counter gates every session", func(t *testing.T) {
		first := reportSale(1)
		second := reportSale(2)
		second.OpenCounter = 2
		f := newReportFixture(t, first, second)
		// Only the first session closed cleanly.
		f.openClose.rows = append(f.openClose.rows, domain.OpenCloseLog{
			TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
			BusinessDate: "20250601", OpenCounter: 1,
			Operation:            domain.OperationClose,
			CartTransactionCount: 1, CartTransactionLastNo: 1,
		})
		query := dailyQuery()
		query.OpenCounter = nil
		_, err := f.service.Generate(ctx, query)
		if !apperrors.Is(err, apperrors.KindTerminalNotClosed) {
			t.Fatalf("Generate error = %v, want the unclosed second session to fail the gate", err)
		}
	})
}

func TestCashSection(t *testing.T) {
	f := newReportFixture(t, reportSale(1))
	session := domain.CashInOutLog{
		TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
		BusinessDate: "20250601", OpenCounter: 1,
	}
	opening := session
	opening.Amount = 500
	payout := session
	payout.Amount = -200
	f.cashLogs.rows = append(f.cashLogs.rows, opening, payout)
	f.openClose.rows = append(f.openClose.rows, domain.OpenCloseLog{
		TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
		BusinessDate: "20250601", OpenCounter: 1,
		Operation:      domain.OperationClose,
		PhysicalAmount: int64Ptr(1390),
	})

	report, err := f.service.Generate(context.Background(), ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		TerminalNo:   intPtr(1),
		BusinessDate: "20250601",
		OpenCounter:  intPtr(1),
		ReportScope:  ScopeFlash,
		ReportType:   "sales",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cash := report.Cash
	if cash == nil {
		t.Fatal("session-scoped report has no cash section")
	}
	if cash.CashIn != 500 || cash.CashOut != 200 {
		t.Fatalf("cash in/out = %d/%d, want 500/200", cash.CashIn, cash.CashOut)
	}
	if cash.LogicalAmount != 1400 {
		t.Fatalf("logical = %d, want cash tender plus drawer movements", cash.LogicalAmount)
	}
	if cash.PhysicalAmount != 1390 || cash.Difference != -10 {
		t.Fatalf("physical/difference = %d/%d, want 1390/-10", cash.PhysicalAmount, cash.Difference)
	}
}

func TestTerminalReportPostsJournal(t *testing.T) {
	f := newReportFixture(t, reportSale(1))
	query := ReportQuery{
		TenantID:     "tenant1",
		StoreCode:    "store1",
		BusinessDate: "20250601",
		ReportScope:  ScopeFlash,
		ReportType:   "sales",
		FromTerminal: true,
	}
	if _, err := f.service.Generate(context.Background(), query); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(f.journal.posted) != 1 || f.journal.posted[0].tranType != domain.TypeFlashReport {
		t.Fatalf("posted = %+v, want one flash report entry", f.journal.posted)
	}

	// A journal outage must not block the report itself.
	f.journal.fail = true
	if _, err := f.service.Generate(context.Background(), query); err != nil {
		t.Fatalf("Generate with failing journal: %v", err)
	}
}
