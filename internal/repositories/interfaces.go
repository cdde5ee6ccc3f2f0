package repositories

import (
	"context"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
)

// RepositoryError wraps low-level persistence failures with the
// categorisation services map onto API error kinds.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Page describes offset pagination for list endpoints. Sort entries are
// "field" or "field:desc".
type Page struct {
	Number int
	Limit  int
	Sort   []string
}

// SessionKey identifies one terminal business session: everything recorded
// between an open and its matching close.
type SessionKey struct {
	TenantID     string
	StoreCode    string
	TerminalNo   int
	BusinessDate string
	OpenCounter  int
}

// NumberRange bounds a wrapping counter. When Next would exceed End the
// counter restarts at Start.
type NumberRange struct {
	Start int64
	End   int64
}

// Sessions runs fn atomically: every repository write made through fn's
// context commits together or not at all. Reads inside fn must precede its
// writes.
type Sessions interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// TerminalRepository persists the terminal registry.
type TerminalRepository interface {
	Create(ctx context.Context, terminal domain.Terminal) error
	Get(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error)
	Update(ctx context.Context, terminal domain.Terminal) error
	Delete(ctx context.Context, tenantID, storeCode string, terminalNo int) error
	List(ctx context.Context, tenantID string, page Page) ([]domain.Terminal, int64, error)
	FindByAPIKey(ctx context.Context, apiKey string) (domain.Terminal, error)
}

// CounterRepository issues per-terminal monotonic sequence numbers. Next is
// atomic under concurrent callers; when bounds are given the sequence wraps.
type CounterRepository interface {
	Next(ctx context.Context, terminalID string, counter domain.CounterType, bounds *NumberRange) (int64, error)
	Current(ctx context.Context, terminalID string, counter domain.CounterType) (int64, error)
}

// CartRepository persists active carts keyed by cart ID.
type CartRepository interface {
	Create(ctx context.Context, cart domain.Cart) error
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

// TranLogFilter narrows transaction log queries.
type TranLogFilter struct {
	TenantID        string
	StoreCode       string
	TerminalNo      *int
	BusinessDate    string
	BusinessDateTo  string
	OpenCounter     *int
	TransactionType []domain.TransactionType
}

// SessionTally summarises a session's records for the reconciliation gate.
type SessionTally struct {
	Count        int64
	LastNo       int64
	LastDateTime string
}

// TranLogRepository persists the immutable transaction log. Create fails on
// an existing document; updates are not offered.
type TranLogRepository interface {
	Create(ctx context.Context, log domain.TranLog) error
	Get(ctx context.Context, tenantID, storeCode string, terminalNo int, transactionNo int64) (domain.TranLog, error)
	List(ctx context.Context, filter TranLogFilter, page Page) ([]domain.TranLog, int64, error)
	SessionTally(ctx context.Context, key SessionKey) (SessionTally, error)
	ListSessions(ctx context.Context, tenantID, storeCode, businessDate string) ([]SessionKey, error)
}

// TransactionStatusRepository tracks the mutable void/refund flags kept apart
// from the immutable log.
type TransactionStatusRepository interface {
	Ensure(ctx context.Context, status domain.TransactionStatus) error
	Get(ctx context.Context, tenantID, storeCode string, terminalNo int, transactionNo int64) (domain.TransactionStatus, error)
	MarkVoided(ctx context.Context, ref domain.TranReference, voidTransactionNo int64, at time.Time) error
	MarkRefunded(ctx context.Context, ref domain.TranReference, returnTransactionNo int64, at time.Time) error
	ResetRefund(ctx context.Context, ref domain.TranReference, at time.Time) error
}

// CashLogRepository persists cash drawer movements.
type CashLogRepository interface {
	Create(ctx context.Context, log domain.CashInOutLog) error
	ListForSession(ctx context.Context, key SessionKey) ([]domain.CashInOutLog, error)
	SessionTally(ctx context.Context, key SessionKey) (SessionTally, error)
}

// OpenCloseLogRepository persists terminal open/close records.
type OpenCloseLogRepository interface {
	Create(ctx context.Context, log domain.OpenCloseLog) error
	FindClose(ctx context.Context, key SessionKey) (domain.OpenCloseLog, error)
	ListForSession(ctx context.Context, key SessionKey) ([]domain.OpenCloseLog, error)
	ListSessions(ctx context.Context, tenantID, storeCode, businessDate string) ([]SessionKey, error)
}

// SweepWindow bounds the republish sweep: rows older than MinAge whose state
// still needs redelivery, within MaxAge, capped at Limit.
type SweepWindow struct {
	MinAge time.Duration
	MaxAge time.Duration
	Limit  int
}

// DeliveryStatusRepository tracks published events across their consumer
// services.
type DeliveryStatusRepository interface {
	Create(ctx context.Context, status domain.DeliveryStatus) error
	Get(ctx context.Context, eventID string) (domain.DeliveryStatus, error)
	SetOverall(ctx context.Context, eventID string, state domain.DeliveryState) error
	UpdateService(ctx context.Context, eventID, service string, state domain.DeliveryServiceState, message string, at time.Time) (domain.DeliveryStatus, error)
	ListUndelivered(ctx context.Context, now time.Time, window SweepWindow) ([]domain.DeliveryStatus, error)
}

// StockUpdateFilter narrows stock movement history queries.
type StockUpdateFilter struct {
	TenantID  string
	StoreCode string
	ItemCode  string
	Since     time.Time
	Until     time.Time
}

// StockRepository persists per-item inventory, its append-only movement
// history, and point-in-time snapshots. Apply is transactional and idempotent
// on the update's event ID.
type StockRepository interface {
	Get(ctx context.Context, tenantID, storeCode, itemCode string) (domain.Stock, error)
	List(ctx context.Context, tenantID, storeCode string, page Page) ([]domain.Stock, int64, error)
	SetThresholds(ctx context.Context, stock domain.Stock) (domain.Stock, error)
	Apply(ctx context.Context, update domain.StockUpdate) (domain.Stock, bool, error)
	ListUpdates(ctx context.Context, filter StockUpdateFilter, page Page) ([]domain.StockUpdate, int64, error)
	CreateSnapshot(ctx context.Context, snapshot domain.StockSnapshot) error
	ListSnapshots(ctx context.Context, tenantID, storeCode string, page Page) ([]domain.StockSnapshot, int64, error)
	DeleteSnapshotsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error)
}

// MasterRepository reads the tenant-scoped master data the cart service
// freezes into carts.
type MasterRepository interface {
	GetItem(ctx context.Context, tenantID, storeCode, itemCode string) (domain.ItemMaster, error)
	ListTaxes(ctx context.Context, tenantID string) ([]domain.TaxMaster, error)
	ListPayments(ctx context.Context, tenantID string) ([]domain.PaymentMaster, error)
	GetSettings(ctx context.Context, tenantID, storeCode string) (map[string]string, error)
	GetStaff(ctx context.Context, tenantID, staffID string) (domain.StaffRef, error)
}

// ReportRepository persists derived reports and reconciliation verdicts.
type ReportRepository interface {
	SaveReport(ctx context.Context, report domain.SalesReport) error
	SaveDailyInfo(ctx context.Context, info domain.DailyInfo) error
	GetDailyInfo(ctx context.Context, key SessionKey) (domain.DailyInfo, error)
}
