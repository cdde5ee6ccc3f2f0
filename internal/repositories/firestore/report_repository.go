package firestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

const (
	reportCollection    = "reports"
	dailyInfoCollection = "info_daily"
)

// ReportRepository persists derived reports and per-session reconciliation
// verdicts.
type ReportRepository struct {
	reports   *pfirestore.BaseRepository[domain.SalesReport]
	dailyInfo *pfirestore.BaseRepository[domain.DailyInfo]
}

// NewReportRepository constructs a Firestore-backed report repository.
func NewReportRepository(provider *pfirestore.Provider) (*ReportRepository, error) {
	if provider == nil {
		return nil, errors.New("report repository requires firestore provider")
	}
	return &ReportRepository{
		reports:   pfirestore.NewBaseRepository[domain.SalesReport](provider, reportCollection),
		dailyInfo: pfirestore.NewBaseRepository[domain.DailyInfo](provider, dailyInfoCollection),
	}, nil
}

// SaveReport upserts the report document. Regenerating a report for the same
// scope overwrites the previous run.
func (r *ReportRepository) SaveReport(ctx context.Context, report domain.SalesReport) error {
	if r == nil || r.reports == nil {
		return errors.New("report repository not initialised")
	}

	terminal := "all"
	if report.TerminalNo != nil {
		terminal = fmt.Sprintf("%d", *report.TerminalNo)
	}
	counter := "all"
	if report.OpenCounter != nil {
		counter = fmt.Sprintf("%d", *report.OpenCounter)
	}
	id := fmt.Sprintf("%s-%s-%s-%s-%s-%s-%s",
		report.TenantID, report.StoreCode, terminal, report.BusinessDate, counter, report.ReportScope, report.ReportType)
	_, err := r.reports.Set(ctx, id, report)
	return err
}

// SaveDailyInfo upserts the session's reconciliation verdict.
func (r *ReportRepository) SaveDailyInfo(ctx context.Context, info domain.DailyInfo) error {
	if r == nil || r.dailyInfo == nil {
		return errors.New("report repository not initialised")
	}
	_, err := r.dailyInfo.Set(ctx, dailyInfoID(repositories.SessionKey{
		TenantID:     info.TenantID,
		StoreCode:    info.StoreCode,
		TerminalNo:   info.TerminalNo,
		BusinessDate: info.BusinessDate,
		OpenCounter:  info.OpenCounter,
	}), info)
	return err
}

// GetDailyInfo fetches the session's reconciliation verdict.
func (r *ReportRepository) GetDailyInfo(ctx context.Context, key repositories.SessionKey) (domain.DailyInfo, error) {
	if r == nil || r.dailyInfo == nil {
		return domain.DailyInfo{}, errors.New("report repository not initialised")
	}
	doc, err := r.dailyInfo.Get(ctx, dailyInfoID(key))
	if err != nil {
		return domain.DailyInfo{}, err
	}
	return doc.Data, nil
}

func dailyInfoID(key repositories.SessionKey) string {
	return fmt.Sprintf("%s-%s-%d-%s-%d",
		key.TenantID, key.StoreCode, key.TerminalNo, key.BusinessDate, key.OpenCounter)
}
