package services

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/repositories"
)

// CreateTerminalInput describes a terminal registration request.
type CreateTerminalInput struct {
	TenantID    string
	StoreCode   string
	TerminalNo  int
	Description string
}

// TerminalService owns the terminal registry and the open/close/cash drawer
// lifecycle. Open, close and cash movements each commit their fact log and
// hand the event to the delivery tracker.
type TerminalService interface {
	Create(ctx context.Context, input CreateTerminalInput) (domain.Terminal, error)
	Get(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error)
	List(ctx context.Context, tenantID string, page repositories.Page) ([]domain.Terminal, int64, error)
	Delete(ctx context.Context, tenantID, storeCode string, terminalNo int) error
	UpdateDescription(ctx context.Context, tenantID, storeCode string, terminalNo int, description string) (domain.Terminal, error)
	UpdateFunctionMode(ctx context.Context, tenantID, storeCode string, terminalNo int, mode domain.FunctionMode) (domain.Terminal, error)
	SignIn(ctx context.Context, tenantID, storeCode string, terminalNo int, staffID string) (domain.Terminal, error)
	SignOut(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error)
	Open(ctx context.Context, tenantID, storeCode string, terminalNo int, initialAmount int64) (domain.Terminal, error)
	Close(ctx context.Context, tenantID, storeCode string, terminalNo int, physicalAmount int64) (domain.Terminal, error)
	CashInOut(ctx context.Context, tenantID, storeCode string, terminalNo int, amount int64, description string) (domain.CashInOutLog, error)
	ResolveAPIKey(ctx context.Context, apiKey string) (domain.Terminal, error)
}

// TerminalServiceDeps bundles collaborators for NewTerminalService.
type TerminalServiceDeps struct {
	Sessions       repositories.Sessions
	Terminals      repositories.TerminalRepository
	CashLogs       repositories.CashLogRepository
	OpenCloseLogs  repositories.OpenCloseLogRepository
	TranLogs       repositories.TranLogRepository
	Masters        repositories.MasterRepository
	Tracker        DeliveryTracker
	CashlogTopic   string
	OpenCloseTopic string
	Clock          func() time.Time
	Logger         Logger
}

type terminalService struct {
	sessions       repositories.Sessions
	terminals      repositories.TerminalRepository
	cashLogs       repositories.CashLogRepository
	openCloseLogs  repositories.OpenCloseLogRepository
	tranLogs       repositories.TranLogRepository
	masters        repositories.MasterRepository
	tracker        DeliveryTracker
	cashlogTopic   string
	openCloseTopic string
	clock          func() time.Time
	log            Logger
}

// NewTerminalService constructs the terminal service.
func NewTerminalService(deps TerminalServiceDeps) (TerminalService, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("terminal service: sessions runner is required")
	case deps.Terminals == nil:
		return nil, errors.New("terminal service: terminal repository is required")
	case deps.CashLogs == nil:
		return nil, errors.New("terminal service: cash log repository is required")
	case deps.OpenCloseLogs == nil:
		return nil, errors.New("terminal service: open close log repository is required")
	case deps.TranLogs == nil:
		return nil, errors.New("terminal service: tranlog repository is required")
	case deps.Masters == nil:
		return nil, errors.New("terminal service: master repository is required")
	case deps.Tracker == nil:
		return nil, errors.New("terminal service: delivery tracker is required")
	case deps.CashlogTopic == "":
		return nil, errors.New("terminal service: cashlog topic is required")
	case deps.OpenCloseTopic == "":
		return nil, errors.New("terminal service: open close topic is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger
	}

	return &terminalService{
		sessions:       deps.Sessions,
		terminals:      deps.Terminals,
		cashLogs:       deps.CashLogs,
		openCloseLogs:  deps.OpenCloseLogs,
		tranLogs:       deps.TranLogs,
		masters:        deps.Masters,
		tracker:        deps.Tracker,
		cashlogTopic:   deps.CashlogTopic,
		openCloseTopic: deps.OpenCloseTopic,
		clock:          clock,
		log:            log,
	}, nil
}

// Create registers a terminal and issues its API key.
func (s *terminalService) Create(ctx context.Context, input CreateTerminalInput) (domain.Terminal, error) {
	if strings.TrimSpace(input.TenantID) == "" || strings.TrimSpace(input.StoreCode) == "" {
		return domain.Terminal{}, apperrors.New(apperrors.KindValidation, "tenant id and store code are required")
	}
	if input.TerminalNo <= 0 {
		return domain.Terminal{}, apperrors.New(apperrors.KindValidation, "terminal no must be positive")
	}

	now := s.clock().UTC()
	terminal := domain.Terminal{
		TenantID:     input.TenantID,
		StoreCode:    input.StoreCode,
		TerminalNo:   input.TerminalNo,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.TerminalIdle,
		FunctionMode: domain.ModeMainMenu,
		APIKey:       ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.terminals.Create(ctx, terminal); err != nil {
		return domain.Terminal{}, apperrors.FromRepository("create terminal", err)
	}
	s.log(ctx, "terminal.created", map[string]any{"terminal": terminal.ID()})
	return terminal, nil
}

// Get fetches one terminal.
func (s *terminalService) Get(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error) {
	terminal, err := s.terminals.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		return domain.Terminal{}, apperrors.FromRepository("load terminal", err)
	}
	return terminal, nil
}

// List pages through a tenant's terminals.
func (s *terminalService) List(ctx context.Context, tenantID string, page repositories.Page) ([]domain.Terminal, int64, error) {
	terminals, total, err := s.terminals.List(ctx, tenantID, page)
	if err != nil {
		return nil, 0, apperrors.FromRepository("list terminals", err)
	}
	return terminals, total, nil
}

// Delete removes a terminal. An opened terminal must close first.
func (s *terminalService) Delete(ctx context.Context, tenantID, storeCode string, terminalNo int) error {
	terminal, err := s.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		return err
	}
	if terminal.Status == domain.TerminalOpened {
		return apperrors.New(apperrors.KindTerminalStatus, "terminal must be closed before deletion")
	}
	if err := s.terminals.Delete(ctx, tenantID, storeCode, terminalNo); err != nil {
		return apperrors.FromRepository("delete terminal", err)
	}
	return nil
}

// UpdateDescription patches the terminal description.
func (s *terminalService) UpdateDescription(ctx context.Context, tenantID, storeCode string, terminalNo int, description string) (domain.Terminal, error) {
	return s.update(ctx, tenantID, storeCode, terminalNo, func(terminal *domain.Terminal) error {
		terminal.Description = strings.TrimSpace(description)
		return nil
	})
}

// UpdateFunctionMode patches the operator-facing mode.
func (s *terminalService) UpdateFunctionMode(ctx context.Context, tenantID, storeCode string, terminalNo int, mode domain.FunctionMode) (domain.Terminal, error) {
	switch mode {
	case domain.ModeMainMenu, domain.ModeOpenTerminal, domain.ModeSales, domain.ModeReturns,
		domain.ModeVoid, domain.ModeCashInOut, domain.ModeCloseTerminal:
	default:
		return domain.Terminal{}, apperrors.Newf(apperrors.KindValidation, "unknown function mode %q", mode)
	}
	return s.update(ctx, tenantID, storeCode, terminalNo, func(terminal *domain.Terminal) error {
		terminal.FunctionMode = mode
		return nil
	})
}

// SignIn binds a staff member to the terminal after validating against the
// staff master.
func (s *terminalService) SignIn(ctx context.Context, tenantID, storeCode string, terminalNo int, staffID string) (domain.Terminal, error) {
	if strings.TrimSpace(staffID) == "" {
		return domain.Terminal{}, apperrors.New(apperrors.KindValidation, "staff id is required")
	}
	staff, err := s.masters.GetStaff(ctx, tenantID, staffID)
	if err != nil {
		return domain.Terminal{}, apperrors.FromRepository("load staff master", err)
	}
	return s.update(ctx, tenantID, storeCode, terminalNo, func(terminal *domain.Terminal) error {
		terminal.Staff = &staff
		return nil
	})
}

// SignOut releases the signed-in staff member.
func (s *terminalService) SignOut(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error) {
	return s.update(ctx, tenantID, storeCode, terminalNo, func(terminal *domain.Terminal) error {
		terminal.Staff = nil
		return nil
	})
}

// Open starts a business session: counters roll, the opening cash amount is
// logged, and both the cash log and the opening record are published.
func (s *terminalService) Open(ctx context.Context, tenantID, storeCode string, terminalNo int, initialAmount int64) (domain.Terminal, error) {
	terminal, err := s.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		return domain.Terminal{}, err
	}
	if terminal.Status == domain.TerminalOpened {
		return domain.Terminal{}, apperrors.New(apperrors.KindTerminalOpened, "terminal is already opened")
	}
	if terminal.Staff == nil {
		return domain.Terminal{}, apperrors.New(apperrors.KindTerminalNotSignedIn, "terminal is not signed in")
	}
	if initialAmount < 0 {
		return domain.Terminal{}, apperrors.New(apperrors.KindValidation, "initial amount must not be negative")
	}

	now := s.clock()
	today := now.Format(domain.BusinessDateLayout)
	terminal.BusinessCounter++
	if terminal.BusinessDate == today {
		terminal.OpenCounter++
	} else {
		terminal.BusinessDate = today
		terminal.OpenCounter = 1
	}
	terminal.Status = domain.TerminalOpened
	terminal.InitialAmount = &initialAmount
	terminal.PhysicalAmount = nil
	terminal.FunctionMode = domain.ModeSales
	terminal.UpdatedAt = now.UTC()

	cashLog := domain.CashInOutLog{
		TenantID:         terminal.TenantID,
		StoreCode:        terminal.StoreCode,
		TerminalNo:       terminal.TerminalNo,
		BusinessDate:     terminal.BusinessDate,
		OpenCounter:      terminal.OpenCounter,
		BusinessCounter:  terminal.BusinessCounter,
		GenerateDateTime: now.Format(domain.DateTimeLayout),
		Amount:           initialAmount,
		Description:      "Initial amount",
		Staff:            *terminal.Staff,
	}
	openLog := s.newOpenCloseLog(terminal, domain.OperationOpen, now)
	openLog.InitialAmount = &initialAmount

	// The terminal roll, its logs and their delivery rows commit together;
	// a partial open would leave a session the reconciliation gate cannot
	// account for.
	var stagedCash, stagedOpen domain.DeliveryStatus
	err = s.sessions.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		stagedCash, err = s.tracker.Stage(ctx, TrackInput{
			Topic:     s.cashlogTopic,
			EventType: domain.EventTypeCashInOut,
			Payload:   cashLog,
			TenantID:  terminal.TenantID,
		})
		if err != nil {
			return err
		}
		stagedOpen, err = s.tracker.Stage(ctx, TrackInput{
			Topic:     s.openCloseTopic,
			EventType: domain.EventTypeOpen,
			Payload:   openLog,
			TenantID:  terminal.TenantID,
		})
		if err != nil {
			return err
		}
		if err := s.terminals.Update(ctx, terminal); err != nil {
			return apperrors.FromRepository("update terminal", err)
		}
		if err := s.cashLogs.Create(ctx, cashLog); err != nil {
			return apperrors.FromRepository("write cash log", err)
		}
		if err := s.openCloseLogs.Create(ctx, openLog); err != nil {
			return apperrors.FromRepository("write open log", err)
		}
		return nil
	})
	if err != nil {
		return domain.Terminal{}, commitError("open terminal", err)
	}

	s.tracker.Publish(ctx, stagedCash)
	s.tracker.Publish(ctx, stagedOpen)

	s.log(ctx, "terminal.opened", map[string]any{
		"terminal":      terminal.ID(),
		"business_date": terminal.BusinessDate,
		"open_counter":  terminal.OpenCounter,
	})
	return terminal, nil
}

// Close ends the session, embedding the repository tallies the
// reconciliation gate later verifies.
func (s *terminalService) Close(ctx context.Context, tenantID, storeCode string, terminalNo int, physicalAmount int64) (domain.Terminal, error) {
	terminal, err := s.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		return domain.Terminal{}, err
	}
	if terminal.Status != domain.TerminalOpened {
		return domain.Terminal{}, apperrors.New(apperrors.KindTerminalClosed, "terminal is not opened")
	}

	now := s.clock()
	key := repositories.SessionKey{
		TenantID:     terminal.TenantID,
		StoreCode:    terminal.StoreCode,
		TerminalNo:   terminal.TerminalNo,
		BusinessDate: terminal.BusinessDate,
		OpenCounter:  terminal.OpenCounter,
	}
	tranTally, err := s.tranLogs.SessionTally(ctx, key)
	if err != nil {
		return domain.Terminal{}, apperrors.FromRepository("tally transactions", err)
	}
	cashTally, err := s.cashLogs.SessionTally(ctx, key)
	if err != nil {
		return domain.Terminal{}, apperrors.FromRepository("tally cash logs", err)
	}

	terminal.Status = domain.TerminalClosed
	terminal.PhysicalAmount = &physicalAmount
	terminal.FunctionMode = domain.ModeMainMenu
	terminal.UpdatedAt = now.UTC()

	closeLog := s.newOpenCloseLog(terminal, domain.OperationClose, now)
	closeLog.InitialAmount = terminal.InitialAmount
	closeLog.PhysicalAmount = &physicalAmount
	closeLog.CartTransactionCount = tranTally.Count
	closeLog.CartTransactionLastNo = tranTally.LastNo
	closeLog.CashInOutCount = cashTally.Count
	closeLog.CashInOutLastDateTime = cashTally.LastDateTime
	closeLog.TerminalInfo = &terminal

	var stagedClose domain.DeliveryStatus
	err = s.sessions.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		stagedClose, err = s.tracker.Stage(ctx, TrackInput{
			Topic:     s.openCloseTopic,
			EventType: domain.EventTypeClose,
			Payload:   closeLog,
			TenantID:  terminal.TenantID,
		})
		if err != nil {
			return err
		}
		if err := s.terminals.Update(ctx, terminal); err != nil {
			return apperrors.FromRepository("update terminal", err)
		}
		if err := s.openCloseLogs.Create(ctx, closeLog); err != nil {
			return apperrors.FromRepository("write close log", err)
		}
		return nil
	})
	if err != nil {
		return domain.Terminal{}, commitError("close terminal", err)
	}

	s.tracker.Publish(ctx, stagedClose)

	s.log(ctx, "terminal.closed", map[string]any{
		"terminal":          terminal.ID(),
		"business_date":     terminal.BusinessDate,
		"open_counter":      terminal.OpenCounter,
		"transaction_count": tranTally.Count,
		"cash_in_out_count": cashTally.Count,
	})
	return terminal, nil
}

// CashInOut records a signed drawer movement (positive in, negative out).
func (s *terminalService) CashInOut(ctx context.Context, tenantID, storeCode string, terminalNo int, amount int64, description string) (domain.CashInOutLog, error) {
	terminal, err := s.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		return domain.CashInOutLog{}, err
	}
	if terminal.Status != domain.TerminalOpened {
		return domain.CashInOutLog{}, apperrors.New(apperrors.KindTerminalStatus, "terminal is not opened")
	}
	if terminal.Staff == nil {
		return domain.CashInOutLog{}, apperrors.New(apperrors.KindTerminalNotSignedIn, "terminal is not signed in")
	}
	if amount == 0 {
		return domain.CashInOutLog{}, apperrors.New(apperrors.KindValidation, "amount must not be zero")
	}

	now := s.clock()
	cashLog := domain.CashInOutLog{
		TenantID:         terminal.TenantID,
		StoreCode:        terminal.StoreCode,
		TerminalNo:       terminal.TerminalNo,
		BusinessDate:     terminal.BusinessDate,
		OpenCounter:      terminal.OpenCounter,
		BusinessCounter:  terminal.BusinessCounter,
		GenerateDateTime: now.Format(domain.DateTimeLayout),
		Amount:           amount,
		Description:      strings.TrimSpace(description),
		Staff:            *terminal.Staff,
	}
	var staged domain.DeliveryStatus
	err = s.sessions.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		staged, err = s.tracker.Stage(ctx, TrackInput{
			Topic:     s.cashlogTopic,
			EventType: domain.EventTypeCashInOut,
			Payload:   cashLog,
			TenantID:  terminal.TenantID,
		})
		if err != nil {
			return err
		}
		if err := s.cashLogs.Create(ctx, cashLog); err != nil {
			return apperrors.FromRepository("write cash log", err)
		}
		return nil
	})
	if err != nil {
		return domain.CashInOutLog{}, commitError("record cash movement", err)
	}

	s.tracker.Publish(ctx, staged)
	return cashLog, nil
}

// ResolveAPIKey resolves a terminal API key for the auth middleware.
func (s *terminalService) ResolveAPIKey(ctx context.Context, apiKey string) (domain.Terminal, error) {
	terminal, err := s.terminals.FindByAPIKey(ctx, apiKey)
	if err != nil {
		return domain.Terminal{}, apperrors.FromRepository("resolve api key", err)
	}
	return terminal, nil
}

func (s *terminalService) update(ctx context.Context, tenantID, storeCode string, terminalNo int, apply func(*domain.Terminal) error) (domain.Terminal, error) {
	terminal, err := s.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		return domain.Terminal{}, err
	}
	if err := apply(&terminal); err != nil {
		return domain.Terminal{}, err
	}
	terminal.UpdatedAt = s.clock().UTC()
	if err := s.terminals.Update(ctx, terminal); err != nil {
		return domain.Terminal{}, apperrors.FromRepository("update terminal", err)
	}
	return terminal, nil
}

func (s *terminalService) newOpenCloseLog(terminal domain.Terminal, operation string, now time.Time) domain.OpenCloseLog {
	return domain.OpenCloseLog{
		TenantID:         terminal.TenantID,
		StoreCode:        terminal.StoreCode,
		TerminalNo:       terminal.TerminalNo,
		BusinessDate:     terminal.BusinessDate,
		OpenCounter:      terminal.OpenCounter,
		BusinessCounter:  terminal.BusinessCounter,
		Operation:        operation,
		GenerateDateTime: now.Format(domain.DateTimeLayout),
		Staff:            staffOrEmpty(terminal.Staff),
	}
}

func staffOrEmpty(staff *domain.StaffRef) domain.StaffRef {
	if staff == nil {
		return domain.StaffRef{}
	}
	return *staff
}
