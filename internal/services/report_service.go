package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/repositories"
)

// Report scopes. Flash reports are interim and bypass the reconciliation
// gate; daily reports settle a session and require it.
const (
	ScopeFlash = "flash"
	ScopeDaily = "daily"
)

// ReportQuery selects the transactions a report aggregates.
type ReportQuery struct {
	TenantID       string
	StoreCode      string
	TerminalNo     *int
	BusinessDate   string
	BusinessDateTo string
	OpenCounter    *int
	ReportScope    string
	ReportType     string
	// FromTerminal marks API-key-driven requests; their reports are posted
	// to the journal as FlashReport/DailyReport entries.
	FromTerminal bool
}

// ReportPlugin turns a filtered tranlog set into one report document. Plugins
// are registered per report type; the sales plugin carries the full staged
// reduction and the others project from it.
type ReportPlugin interface {
	ReportType() string
	Build(query ReportQuery, logs []domain.TranLog) domain.SalesReport
}

// JournalPoster hands a generated report to the journal as a transaction.
type JournalPoster interface {
	PostReport(ctx context.Context, report domain.SalesReport, tranType domain.TransactionType) error
}

// ReportService generates flash and daily reports.
type ReportService interface {
	Generate(ctx context.Context, query ReportQuery) (domain.SalesReport, error)
}

// ReportServiceDeps bundles collaborators for NewReportService.
type ReportServiceDeps struct {
	TranLogs      repositories.TranLogRepository
	CashLogs      repositories.CashLogRepository
	OpenCloseLogs repositories.OpenCloseLogRepository
	Masters       repositories.MasterRepository
	Reports       repositories.ReportRepository
	Journal       JournalPoster
	Clock         func() time.Time
	Logger        Logger
}

type reportService struct {
	tranlogs      repositories.TranLogRepository
	cashlogs      repositories.CashLogRepository
	openCloseLogs repositories.OpenCloseLogRepository
	masters       repositories.MasterRepository
	reports       repositories.ReportRepository
	journal       JournalPoster
	plugins       map[string]ReportPlugin
	clock         func() time.Time
	log           Logger
}

// NewReportService constructs the report service with the built-in plugins
// registered.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	switch {
	case deps.TranLogs == nil:
		return nil, errors.New("report service: tranlog repository is required")
	case deps.CashLogs == nil:
		return nil, errors.New("report service: cash log repository is required")
	case deps.OpenCloseLogs == nil:
		return nil, errors.New("report service: open close log repository is required")
	case deps.Masters == nil:
		return nil, errors.New("report service: master repository is required")
	case deps.Reports == nil:
		return nil, errors.New("report service: report repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger
	}

	s := &reportService{
		tranlogs:      deps.TranLogs,
		cashlogs:      deps.CashLogs,
		openCloseLogs: deps.OpenCloseLogs,
		masters:       deps.Masters,
		reports:       deps.Reports,
		journal:       deps.Journal,
		plugins:       map[string]ReportPlugin{},
		clock:         clock,
		log:           log,
	}
	s.RegisterPlugin(salesReportPlugin{})
	s.RegisterPlugin(paymentReportPlugin{})
	s.RegisterPlugin(itemReportPlugin{})
	s.RegisterPlugin(categoryReportPlugin{})
	return s, nil
}

// RegisterPlugin binds a plugin to its report type.
func (s *reportService) RegisterPlugin(plugin ReportPlugin) {
	if plugin != nil {
		s.plugins[plugin.ReportType()] = plugin
	}
}

// Generate runs the gate (daily scope only), aggregates, persists the report
// and posts it to the journal for terminal-initiated requests.
func (s *reportService) Generate(ctx context.Context, query ReportQuery) (domain.SalesReport, error) {
	if query.ReportScope != ScopeFlash && query.ReportScope != ScopeDaily {
		return domain.SalesReport{}, apperrors.Newf(apperrors.KindValidation, "unknown report scope %q", query.ReportScope)
	}
	if strings.TrimSpace(query.BusinessDate) == "" {
		return domain.SalesReport{}, apperrors.New(apperrors.KindValidation, "business date is required")
	}
	plugin, ok := s.plugins[query.ReportType]
	if !ok {
		return domain.SalesReport{}, apperrors.Newf(apperrors.KindValidation, "unknown report type %q", query.ReportType)
	}

	if query.ReportScope == ScopeDaily && query.BusinessDateTo == "" {
		if err := s.runGate(ctx, query); err != nil {
			return domain.SalesReport{}, err
		}
	}

	logs, err := s.collectTranLogs(ctx, query)
	if err != nil {
		return domain.SalesReport{}, err
	}

	report := plugin.Build(query, logs)
	report.GenerateDateTime = s.clock().Format(domain.DateTimeLayout)

	if query.TerminalNo != nil && query.OpenCounter != nil {
		cash, err := s.cashSection(ctx, query, report)
		if err != nil {
			return domain.SalesReport{}, err
		}
		report.Cash = cash
	}

	if err := s.reports.SaveReport(ctx, report); err != nil {
		return domain.SalesReport{}, apperrors.FromRepository("save report", err)
	}

	if query.FromTerminal && s.journal != nil {
		tranType := domain.TypeFlashReport
		if query.ReportScope == ScopeDaily {
			tranType = domain.TypeDailyReport
		}
		if err := s.journal.PostReport(ctx, report, tranType); err != nil {
			s.log(ctx, "report.journal_post_failed", map[string]any{
				"report_type": query.ReportType,
				"scope":       query.ReportScope,
				"error":       err.Error(),
			})
		}
	}

	s.log(ctx, "report.generated", map[string]any{
		"tenant_id":     query.TenantID,
		"store_code":    query.StoreCode,
		"business_date": query.BusinessDate,
		"scope":         query.ReportScope,
		"type":          query.ReportType,
	})
	return report, nil
}

// runGate verifies every session covered by the query has closed cleanly.
// A fully keyed query checks that one session; otherwise the sessions are
// derived from what the date actually recorded, so a terminal whose current
// state has rolled to a later date cannot slip its earlier sessions past the
// gate.
func (s *reportService) runGate(ctx context.Context, query ReportQuery) error {
	if query.TerminalNo != nil && query.OpenCounter != nil {
		return s.verifySession(ctx, repositories.SessionKey{
			TenantID:     query.TenantID,
			StoreCode:    query.StoreCode,
			TerminalNo:   *query.TerminalNo,
			BusinessDate: query.BusinessDate,
			OpenCounter:  *query.OpenCounter,
		})
	}

	keys, err := s.sessionsForDate(ctx, query.TenantID, query.StoreCode, query.BusinessDate)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if query.TerminalNo != nil && key.TerminalNo != *query.TerminalNo {
			continue
		}
		if err := s.verifySession(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// sessionsForDate unions the sessions evidenced by open/close records and by
// transactions on the business date. Either source alone can miss a session:
// a crashed terminal may have traded without closing, and an opened-and-idle
// terminal leaves no transactions.
func (s *reportService) sessionsForDate(ctx context.Context, tenantID, storeCode, businessDate string) ([]repositories.SessionKey, error) {
	fromLogs, err := s.openCloseLogs.ListSessions(ctx, tenantID, storeCode, businessDate)
	if err != nil {
		return nil, apperrors.FromRepository("list open close sessions", err)
	}
	fromTrans, err := s.tranlogs.ListSessions(ctx, tenantID, storeCode, businessDate)
	if err != nil {
		return nil, apperrors.FromRepository("list transaction sessions", err)
	}

	seen := make(map[repositories.SessionKey]struct{}, len(fromLogs)+len(fromTrans))
	keys := make([]repositories.SessionKey, 0, len(fromLogs)+len(fromTrans))
	for _, key := range append(fromLogs, fromTrans...) {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TerminalNo != keys[j].TerminalNo {
			return keys[i].TerminalNo < keys[j].TerminalNo
		}
		return keys[i].OpenCounter < keys[j].OpenCounter
	})
	return keys, nil
}

// verifySession is the reconciliation gate for one session key: the close
// log must exist and its embedded tallies must match the repositories. The
// verdict is recorded as DailyInfo; once verified the check short-circuits.
func (s *reportService) verifySession(ctx context.Context, key repositories.SessionKey) error {
	info, err := s.reports.GetDailyInfo(ctx, key)
	switch {
	case err == nil && info.Verified:
		return nil
	case err != nil && !isRepoNotFound(err):
		return apperrors.FromRepository("load daily info", err)
	}

	closeLog, err := s.openCloseLogs.FindClose(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			return s.failGate(ctx, key, "close log not found")
		}
		return apperrors.FromRepository("load close log", err)
	}

	tranTally, err := s.tranlogs.SessionTally(ctx, key)
	if err != nil {
		return apperrors.FromRepository("tally transactions", err)
	}
	cashTally, err := s.cashlogs.SessionTally(ctx, key)
	if err != nil {
		return apperrors.FromRepository("tally cash logs", err)
	}

	switch {
	case closeLog.CartTransactionCount != tranTally.Count:
		return s.failGate(ctx, key, fmt.Sprintf("transaction count mismatch: close=%d current=%d", closeLog.CartTransactionCount, tranTally.Count))
	case closeLog.CartTransactionLastNo != tranTally.LastNo:
		return s.failGate(ctx, key, fmt.Sprintf("transaction last no mismatch: close=%d current=%d", closeLog.CartTransactionLastNo, tranTally.LastNo))
	case closeLog.CashInOutCount != cashTally.Count:
		return s.failGate(ctx, key, fmt.Sprintf("cash log count mismatch: close=%d current=%d", closeLog.CashInOutCount, cashTally.Count))
	case closeLog.CashInOutLastDateTime != cashTally.LastDateTime:
		return s.failGate(ctx, key, "cash log last datetime mismatch")
	}

	if err := s.reports.SaveDailyInfo(ctx, domain.DailyInfo{
		TenantID:     key.TenantID,
		StoreCode:    key.StoreCode,
		TerminalNo:   key.TerminalNo,
		BusinessDate: key.BusinessDate,
		OpenCounter:  key.OpenCounter,
		Verified:     true,
		Message:      "verified",
		UpdatedAt:    s.clock().UTC(),
	}); err != nil {
		return apperrors.FromRepository("save daily info", err)
	}
	return nil
}

func (s *reportService) failGate(ctx context.Context, key repositories.SessionKey, message string) error {
	if err := s.reports.SaveDailyInfo(ctx, domain.DailyInfo{
		TenantID:     key.TenantID,
		StoreCode:    key.StoreCode,
		TerminalNo:   key.TerminalNo,
		BusinessDate: key.BusinessDate,
		OpenCounter:  key.OpenCounter,
		Verified:     false,
		Message:      message,
		UpdatedAt:    s.clock().UTC(),
	}); err != nil {
		s.log(ctx, "report.daily_info_save_failed", map[string]any{"error": err.Error()})
	}
	return apperrors.Newf(apperrors.KindTerminalNotClosed,
		"session %s-%s-%d %s/%d not reconciled: %s",
		key.TenantID, key.StoreCode, key.TerminalNo, key.BusinessDate, key.OpenCounter, message)
}

// collectTranLogs pages through every transaction matching the query.
func (s *reportService) collectTranLogs(ctx context.Context, query ReportQuery) ([]domain.TranLog, error) {
	filter := repositories.TranLogFilter{
		TenantID:       query.TenantID,
		StoreCode:      query.StoreCode,
		TerminalNo:     query.TerminalNo,
		BusinessDate:   query.BusinessDate,
		BusinessDateTo: query.BusinessDateTo,
		OpenCounter:    query.OpenCounter,
	}

	var logs []domain.TranLog
	for page := 1; ; page++ {
		batch, _, err := s.tranlogs.List(ctx, filter, repositories.Page{Number: page, Limit: 1000})
		if err != nil {
			return nil, apperrors.FromRepository("list transactions", err)
		}
		logs = append(logs, batch...)
		if len(batch) < 1000 {
			return logs, nil
		}
	}
}

// cashSection joins the aggregated cash payments with the drawer logs for a
// session-scoped report.
func (s *reportService) cashSection(ctx context.Context, query ReportQuery, report domain.SalesReport) (*domain.CashSection, error) {
	key := repositories.SessionKey{
		TenantID:     query.TenantID,
		StoreCode:    query.StoreCode,
		TerminalNo:   *query.TerminalNo,
		BusinessDate: query.BusinessDate,
		OpenCounter:  *query.OpenCounter,
	}

	settings, err := s.masters.GetSettings(ctx, query.TenantID, query.StoreCode)
	if err != nil {
		return nil, apperrors.FromRepository("load settings", err)
	}
	cashCode := settingString(settings, SettingCashPaymentCode, defaultCashPaymentCode)

	var cashPayments int64
	for _, p := range report.Payments {
		if p.PaymentCode == cashCode {
			cashPayments += p.Amount
		}
	}

	cashLogs, err := s.cashlogs.ListForSession(ctx, key)
	if err != nil {
		return nil, apperrors.FromRepository("list cash logs", err)
	}
	section := domain.CashSection{}
	var drawer int64
	for _, cl := range cashLogs {
		drawer += cl.Amount
		if cl.Amount >= 0 {
			section.CashIn += cl.Amount
		} else {
			section.CashOut += -cl.Amount
		}
	}
	section.LogicalAmount = cashPayments + drawer

	closeLog, err := s.openCloseLogs.FindClose(ctx, key)
	switch {
	case err == nil && closeLog.PhysicalAmount != nil:
		section.PhysicalAmount = *closeLog.PhysicalAmount
	case err != nil && !isRepoNotFound(err):
		return nil, apperrors.FromRepository("load close log", err)
	}
	section.Difference = section.PhysicalAmount - section.LogicalAmount
	return &section, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
