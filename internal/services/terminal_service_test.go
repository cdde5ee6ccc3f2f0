package services

import (
	"context"
	"testing"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
)

type terminalFixture struct {
	service   TerminalService
	sessions  *memSessions
	terminals *memTerminals
	cashLogs  *memCashLogs
	openClose *memOpenCloseLogs
	tranlogs  *memTranLogs
	tracker   *stubTracker
	clockAt   *time.Time
}

func newTerminalFixture(t *testing.T) *terminalFixture {
	t.Helper()

	sessions := &memSessions{}
	terminals := newMemTerminals()
	cashLogs := newMemCashLogs()
	openClose := newMemOpenCloseLogs()
	tranlogs := newMemTranLogs()
	tracker := &stubTracker{}
	clockAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	service, err := NewTerminalService(TerminalServiceDeps{
		Sessions:      sessions,
		Terminals:     terminals,
		CashLogs:      cashLogs,
		OpenCloseLogs: openClose,
		TranLogs:      tranlogs,
		Masters: &memMasters{
			staff: map[string]domain.StaffRef{
				"s01": {ID: "s01", Name: "Aoki"},
			},
		},
		Tracker:        tracker,
		CashlogTopic:   "cashlog",
		OpenCloseTopic: "openclose",
		Clock:          func() time.Time { return clockAt },
	})
	if err != nil {
		t.Fatalf("NewTerminalService: %v", err)
	}

	return &terminalFixture{
		service:   service,
		sessions:  sessions,
		terminals: terminals,
		cashLogs:  cashLogs,
		openClose: openClose,
		tranlogs:  tranlogs,
		tracker:   tracker,
		clockAt:   &clockAt,
	}
}

func (f *terminalFixture) register(t *testing.T) domain.Terminal {
	t.Helper()
	ctx := context.Background()
	terminal, err := f.service.Create(ctx, CreateTerminalInput{
		TenantID:   "tenant1",
		StoreCode:  "store1",
		TerminalNo: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.service.SignIn(ctx, "tenant1", "store1", 1, "s01"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return terminal
}

func TestTerminalCreateIssuesAPIKey(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)

	terminal := f.register(t)
	if terminal.APIKey == "" {
		t.Fatal("no api key issued")
	}
	if terminal.Status != domain.TerminalIdle || terminal.FunctionMode != domain.ModeMainMenu {
		t.Fatalf("terminal = %+v, want idle in main menu", terminal)
	}

	resolved, err := f.service.ResolveAPIKey(ctx, terminal.APIKey)
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if resolved.ID() != terminal.ID() {
		t.Fatalf("resolved %s, want %s", resolved.ID(), terminal.ID())
	}

	if _, err := f.service.Create(ctx, CreateTerminalInput{TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1}); !apperrors.Is(err, apperrors.KindDuplicateKey) {
		t.Fatalf("duplicate create = %v, want duplicate key", err)
	}
}

func TestTerminalOpenSessionCounters(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	f.register(t)

	terminal, err := f.service.Open(ctx, "tenant1", "store1", 1, 500)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if terminal.BusinessDate != "20250601" || terminal.OpenCounter != 1 || terminal.BusinessCounter != 1 {
		t.Fatalf("session = %s/%d/%d, want 20250601/1/1", terminal.BusinessDate, terminal.OpenCounter, terminal.BusinessCounter)
	}
	if terminal.Status != domain.TerminalOpened || terminal.FunctionMode != domain.ModeSales {
		t.Fatalf("terminal = %+v, want opened in sales mode", terminal)
	}
	if terminal.InitialAmount == nil || *terminal.InitialAmount != 500 {
		t.Fatalf("initial amount = %v, want 500", terminal.InitialAmount)
	}

	// Opening writes the drawer's initial amount and the open record, and
	// tracks both events.
	if len(f.cashLogs.rows) != 1 || f.cashLogs.rows[0].Description != "Initial amount" || f.cashLogs.rows[0].Amount != 500 {
		t.Fatalf("cash logs = %+v", f.cashLogs.rows)
	}
	if len(f.openClose.rows) != 1 || f.openClose.rows[0].Operation != domain.OperationOpen {
		t.Fatalf("open close logs = %+v", f.openClose.rows)
	}
	events := f.tracker.events()
	if len(events) != 2 {
		t.Fatalf("tracked = %d, want cash log and open record", len(events))
	}
	if events[0].Topic != "cashlog" || events[1].Topic != "openclose" {
		t.Fatalf("topics = %s,%s", events[0].Topic, events[1].Topic)
	}

	// Same-day reopen bumps the open counter; a new day resets it.
	if _, err := f.service.Close(ctx, "tenant1", "store1", 1, 500); err != nil {
		t.Fatalf("Close: %v", err)
	}
	terminal, err = f.service.Open(ctx, "tenant1", "store1", 1, 500)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if terminal.OpenCounter != 2 || terminal.BusinessCounter != 2 {
		t.Fatalf("counters after same-day reopen = %d/%d, want 2/2", terminal.OpenCounter, terminal.BusinessCounter)
	}

	if _, err := f.service.Close(ctx, "tenant1", "store1", 1, 500); err != nil {
		t.Fatalf("Close: %v", err)
	}
	*f.clockAt = f.clockAt.Add(24 * time.Hour)
	terminal, err = f.service.Open(ctx, "tenant1", "store1", 1, 500)
	if err != nil {
		t.Fatalf("next-day open: %v", err)
	}
	if terminal.BusinessDate != "20250602" || terminal.OpenCounter != 1 || terminal.BusinessCounter != 3 {
		t.Fatalf("next-day session = %s/%d/%d, want 20250602/1/3", terminal.BusinessDate, terminal.OpenCounter, terminal.BusinessCounter)
	}
}

func TestTerminalOpenCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	f.register(t)

	// A delivery row that cannot be written aborts the whole open: the
	// terminal stays idle and no session records are left behind.
	f.tracker.fail = true
	if _, err := f.service.Open(ctx, "tenant1", "store1", 1, 500); err == nil {
		t.Fatal("Open succeeded with the delivery rows unwritable")
	}
	terminal, err := f.service.Get(ctx, "tenant1", "store1", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if terminal.Status != domain.TerminalIdle || terminal.OpenCounter != 0 {
		t.Fatalf("terminal = %+v, want still idle with no session", terminal)
	}
	if len(f.cashLogs.rows) != 0 || len(f.openClose.rows) != 0 {
		t.Fatalf("logs = %d/%d, want none after the aborted open", len(f.cashLogs.rows), len(f.openClose.rows))
	}
	if len(f.tracker.published) != 0 {
		t.Fatal("event published for an aborted open")
	}

	// With the delivery rows writable again the open goes through as one
	// commit, staging both rows inside it and publishing after.
	f.tracker.fail = false
	commitsBefore := f.sessions.count()
	if _, err := f.service.Open(ctx, "tenant1", "store1", 1, 500); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.sessions.count() != commitsBefore+1 {
		t.Fatalf("atomic commits = %d, want %d", f.sessions.count(), commitsBefore+1)
	}
	staged := f.tracker.staged
	if len(staged) != 2 || !staged[0].inSession || !staged[1].inSession {
		t.Fatalf("staged = %+v, want both delivery rows staged inside the commit", staged)
	}
	if len(f.tracker.published) != 2 {
		t.Fatalf("published = %d, want both events after the commit", len(f.tracker.published))
	}
}

func TestTerminalOpenGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("already opened", func(t *testing.T) {
		f := newTerminalFixture(t)
		f.register(t)
		if _, err := f.service.Open(ctx, "tenant1", "store1", 1, 0); err != nil {
			t.Fatalf("Open: %v", err)
		}
		_, err := f.service.Open(ctx, "tenant1", "store1", 1, 0)
		if !apperrors.Is(err, apperrors.KindTerminalOpened) {
			t.Fatalf("Open error = %v, want terminal opened", err)
		}
	})

	t.Run("not signed in", func(t *testing.T) {
		f := newTerminalFixture(t)
		f.register(t)
		if _, err := f.service.SignOut(ctx, "tenant1", "store1", 1); err != nil {
			t.Fatalf("SignOut: %v", err)
		}
		_, err := f.service.Open(ctx, "tenant1", "store1", 1, 0)
		if !apperrors.Is(err, apperrors.KindTerminalNotSignedIn) {
			t.Fatalf("Open error = %v, want not signed in", err)
		}
	})

	t.Run("negative initial amount", func(t *testing.T) {
		f := newTerminalFixture(t)
		f.register(t)
		_, err := f.service.Open(ctx, "tenant1", "store1", 1, -1)
		if !apperrors.Is(err, apperrors.KindValidation) {
			t.Fatalf("Open error = %v, want validation", err)
		}
	})
}

func TestTerminalCloseEmbedsSessionTallies(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	f.register(t)

	if _, err := f.service.Open(ctx, "tenant1", "store1", 1, 500); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Simulate two committed transactions and a drawer movement in the
	// session before closing.
	for _, no := range []int64{1, 2} {
		err := f.tranlogs.Create(ctx, domain.TranLog{
			TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1,
			TransactionNo: no, BusinessDate: "20250601", OpenCounter: 1,
			GenerateDateTime: f.clockAt.Format(domain.DateTimeLayout),
		})
		if err != nil {
			t.Fatalf("seed tranlog: %v", err)
		}
	}
	if _, err := f.service.CashInOut(ctx, "tenant1", "store1", 1, -200, "bank deposit"); err != nil {
		t.Fatalf("CashInOut: %v", err)
	}

	terminal, err := f.service.Close(ctx, "tenant1", "store1", 1, 300)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if terminal.Status != domain.TerminalClosed {
		t.Fatalf("status = %s, want closed", terminal.Status)
	}
	if terminal.PhysicalAmount == nil || *terminal.PhysicalAmount != 300 {
		t.Fatalf("physical amount = %v, want 300", terminal.PhysicalAmount)
	}

	var closeLog domain.OpenCloseLog
	found := false
	for _, row := range f.openClose.rows {
		if row.Operation == domain.OperationClose {
			closeLog = row
			found = true
		}
	}
	if !found {
		t.Fatal("no close log written")
	}
	if closeLog.CartTransactionCount != 2 || closeLog.CartTransactionLastNo != 2 {
		t.Fatalf("tran tally = %d/%d, want 2/2", closeLog.CartTransactionCount, closeLog.CartTransactionLastNo)
	}
	// Initial amount entry plus the explicit movement.
	if closeLog.CashInOutCount != 2 {
		t.Fatalf("cash tally = %d, want 2", closeLog.CashInOutCount)
	}
	if closeLog.TerminalInfo == nil || closeLog.TerminalInfo.Status != domain.TerminalClosed {
		t.Fatalf("terminal info = %+v", closeLog.TerminalInfo)
	}
}

func TestTerminalCloseRequiresOpened(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	f.register(t)

	_, err := f.service.Close(ctx, "tenant1", "store1", 1, 0)
	if !apperrors.Is(err, apperrors.KindTerminalClosed) {
		t.Fatalf("Close error = %v, want terminal closed", err)
	}
}

func TestTerminalCashInOutGuards(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	f.register(t)

	if _, err := f.service.CashInOut(ctx, "tenant1", "store1", 1, 100, "float"); !apperrors.Is(err, apperrors.KindTerminalStatus) {
		t.Fatalf("CashInOut on idle terminal = %v, want terminal status", err)
	}

	if _, err := f.service.Open(ctx, "tenant1", "store1", 1, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.service.CashInOut(ctx, "tenant1", "store1", 1, 0, "noop"); !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("zero amount = %v, want validation", err)
	}

	log, err := f.service.CashInOut(ctx, "tenant1", "store1", 1, -300, "bank deposit")
	if err != nil {
		t.Fatalf("CashInOut: %v", err)
	}
	if log.Amount != -300 || log.Staff.ID != "s01" {
		t.Fatalf("cash log = %+v", log)
	}
}

func TestTerminalDeleteRequiresClosed(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	f.register(t)

	if _, err := f.service.Open(ctx, "tenant1", "store1", 1, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.service.Delete(ctx, "tenant1", "store1", 1); !apperrors.Is(err, apperrors.KindTerminalStatus) {
		t.Fatalf("Delete on opened terminal = %v, want terminal status", err)
	}

	if _, err := f.service.Close(ctx, "tenant1", "store1", 1, 0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.service.Delete(ctx, "tenant1", "store1", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.service.Get(ctx, "tenant1", "store1", 1); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("Get after delete = %v, want not found", err)
	}
}

func TestTerminalSignInUnknownStaff(t *testing.T) {
	ctx := context.Background()
	f := newTerminalFixture(t)
	if _, err := f.service.Create(ctx, CreateTerminalInput{TenantID: "tenant1", StoreCode: "store1", TerminalNo: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := f.service.SignIn(ctx, "tenant1", "store1", 1, "ghost")
	if !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("SignIn error = %v, want not found", err)
	}
}
