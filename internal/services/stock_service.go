package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/repositories"
)

// Snapshot retention bounds in days.
const (
	DefaultSnapshotRetentionDays = 30
	MinSnapshotRetentionDays     = 1
	MaxSnapshotRetentionDays     = 365
)

// TranLogEvent is a consumed transaction event: the envelope identity plus
// the flattened transaction document.
type TranLogEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	domain.TranLog
}

// AckNotifier reports consumption status back to the producing service.
type AckNotifier interface {
	Ack(ctx context.Context, tran domain.TranLog, eventID string, status domain.DeliveryServiceState) error
}

// AlertNotifier pushes threshold alerts to subscribers. Delivery is
// fire-and-forget; implementations must not block the consumer.
type AlertNotifier interface {
	Notify(ctx context.Context, alert domain.StockAlert)
}

// AmendStockInput is a manual inventory movement.
type AmendStockInput struct {
	TenantID   string
	StoreCode  string
	ItemCode   string
	Quantity   int64
	UpdateType domain.StockUpdateType
	OperatorID string
	Note       string
}

// StockService consumes transaction events into inventory and owns the
// manual movement, threshold and snapshot operations.
type StockService interface {
	ApplyTransaction(ctx context.Context, event TranLogEvent) error
	Amend(ctx context.Context, input AmendStockInput) (domain.Stock, error)
	SetThresholds(ctx context.Context, stock domain.Stock) (domain.Stock, error)
	Get(ctx context.Context, tenantID, storeCode, itemCode string) (domain.Stock, error)
	List(ctx context.Context, tenantID, storeCode string, page repositories.Page) ([]domain.Stock, int64, error)
	ListUpdates(ctx context.Context, filter repositories.StockUpdateFilter, page repositories.Page) ([]domain.StockUpdate, int64, error)
	CreateSnapshot(ctx context.Context, tenantID, storeCode, createdBy string) (domain.StockSnapshot, error)
	ListSnapshots(ctx context.Context, tenantID, storeCode string, page repositories.Page) ([]domain.StockSnapshot, int64, error)
	PruneSnapshots(ctx context.Context, tenantID string, retentionDays int) (int, error)
}

// StockServiceDeps bundles collaborators for NewStockService.
type StockServiceDeps struct {
	Stocks repositories.StockRepository
	Acks   AckNotifier
	Alerts AlertNotifier
	Clock  func() time.Time
	Logger Logger
}

type stockService struct {
	stocks repositories.StockRepository
	acks   AckNotifier
	alerts AlertNotifier
	clock  func() time.Time
	log    Logger
}

// NewStockService constructs the stock service.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stocks == nil {
		return nil, errors.New("stock service: stock repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger
	}
	return &stockService{
		stocks: deps.Stocks,
		acks:   deps.Acks,
		alerts: deps.Alerts,
		clock:  clock,
		log:    log,
	}, nil
}

// ApplyTransaction applies one transaction event to inventory. Replays are
// absorbed by the per-event dedup inside the repository's Apply, and the
// producer is ACKed `received` either way.
func (s *stockService) ApplyTransaction(ctx context.Context, event TranLogEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return apperrors.New(apperrors.KindValidation, "event id is required")
	}

	updateType, moves := domain.StockUpdateTypeFor(event.TransactionType)
	if moves {
		factor := event.TransactionType.Factor()
		now := s.clock().UTC()
		for _, line := range event.LineItems {
			if line.IsCancelled {
				continue
			}
			// A sale takes stock out, so the movement is the negated
			// transaction factor.
			update := domain.StockUpdate{
				EventID:        event.EventID,
				TenantID:       event.TenantID,
				StoreCode:      event.StoreCode,
				ItemCode:       line.ItemCode,
				QuantityChange: -factor * line.Quantity,
				UpdateType:     updateType,
				ReferenceID:    event.TranLog.ID(),
				OperatorID:     event.Staff.ID,
				Timestamp:      now,
			}
			stock, applied, err := s.stocks.Apply(ctx, update)
			if err != nil {
				return apperrors.FromRepository("apply stock update", err)
			}
			if applied {
				s.evaluateAlerts(ctx, stock)
			} else {
				s.log(ctx, "stock.duplicate_event", map[string]any{
					"event_id":  event.EventID,
					"item_code": line.ItemCode,
				})
			}
		}
	}

	s.ack(ctx, event.TranLog, event.EventID)
	return nil
}

// Amend records a manual inventory movement.
func (s *stockService) Amend(ctx context.Context, input AmendStockInput) (domain.Stock, error) {
	switch input.UpdateType {
	case domain.StockUpdateManualIn, domain.StockUpdateManualOut,
		domain.StockUpdateAdjustment, domain.StockUpdatePurchase:
	default:
		return domain.Stock{}, apperrors.Newf(apperrors.KindValidation, "unknown update type %q", input.UpdateType)
	}
	if input.Quantity == 0 && input.UpdateType != domain.StockUpdateAdjustment {
		return domain.Stock{}, apperrors.New(apperrors.KindValidation, "quantity must not be zero")
	}

	quantity := input.Quantity
	if input.UpdateType == domain.StockUpdateManualOut && quantity > 0 {
		quantity = -quantity
	}

	stock, _, err := s.stocks.Apply(ctx, domain.StockUpdate{
		EventID:        uuid.NewString(),
		TenantID:       input.TenantID,
		StoreCode:      input.StoreCode,
		ItemCode:       input.ItemCode,
		QuantityChange: quantity,
		UpdateType:     input.UpdateType,
		OperatorID:     input.OperatorID,
		Note:           input.Note,
		Timestamp:      s.clock().UTC(),
	})
	if err != nil {
		return domain.Stock{}, apperrors.FromRepository("apply stock update", err)
	}
	s.evaluateAlerts(ctx, stock)
	return stock, nil
}

// SetThresholds updates the alert thresholds for one item.
func (s *stockService) SetThresholds(ctx context.Context, stock domain.Stock) (domain.Stock, error) {
	updated, err := s.stocks.SetThresholds(ctx, stock)
	if err != nil {
		return domain.Stock{}, apperrors.FromRepository("set stock thresholds", err)
	}
	return updated, nil
}

func (s *stockService) Get(ctx context.Context, tenantID, storeCode, itemCode string) (domain.Stock, error) {
	stock, err := s.stocks.Get(ctx, tenantID, storeCode, itemCode)
	if err != nil {
		return domain.Stock{}, apperrors.FromRepository("load stock", err)
	}
	return stock, nil
}

func (s *stockService) List(ctx context.Context, tenantID, storeCode string, page repositories.Page) ([]domain.Stock, int64, error) {
	stocks, total, err := s.stocks.List(ctx, tenantID, storeCode, page)
	if err != nil {
		return nil, 0, apperrors.FromRepository("list stocks", err)
	}
	return stocks, total, nil
}

func (s *stockService) ListUpdates(ctx context.Context, filter repositories.StockUpdateFilter, page repositories.Page) ([]domain.StockUpdate, int64, error) {
	updates, total, err := s.stocks.ListUpdates(ctx, filter, page)
	if err != nil {
		return nil, 0, apperrors.FromRepository("list stock updates", err)
	}
	return updates, total, nil
}

// CreateSnapshot copies the store's current stock rows into a snapshot
// document.
func (s *stockService) CreateSnapshot(ctx context.Context, tenantID, storeCode, createdBy string) (domain.StockSnapshot, error) {
	now := s.clock()
	snapshot := domain.StockSnapshot{
		SnapshotID:       uuid.NewString(),
		TenantID:         tenantID,
		StoreCode:        storeCode,
		GenerateDateTime: now.Format(domain.DateTimeLayout),
		CreatedBy:        createdBy,
	}

	for page := 1; ; page++ {
		stocks, _, err := s.stocks.List(ctx, tenantID, storeCode, repositories.Page{Number: page, Limit: 1000})
		if err != nil {
			return domain.StockSnapshot{}, apperrors.FromRepository("list stocks", err)
		}
		for _, stock := range stocks {
			snapshot.Items = append(snapshot.Items, domain.SnapshotItem{
				ItemCode: stock.ItemCode,
				Quantity: stock.CurrentQuantity,
			})
		}
		if len(stocks) < 1000 {
			break
		}
	}

	if err := s.stocks.CreateSnapshot(ctx, snapshot); err != nil {
		return domain.StockSnapshot{}, apperrors.FromRepository("create snapshot", err)
	}
	s.log(ctx, "stock.snapshot_created", map[string]any{
		"tenant_id":  tenantID,
		"store_code": storeCode,
		"items":      len(snapshot.Items),
	})
	return snapshot, nil
}

func (s *stockService) ListSnapshots(ctx context.Context, tenantID, storeCode string, page repositories.Page) ([]domain.StockSnapshot, int64, error) {
	snapshots, total, err := s.stocks.ListSnapshots(ctx, tenantID, storeCode, page)
	if err != nil {
		return nil, 0, apperrors.FromRepository("list snapshots", err)
	}
	return snapshots, total, nil
}

// PruneSnapshots deletes snapshots older than the retention window. Zero
// selects the default; out-of-range values are clamped.
func (s *stockService) PruneSnapshots(ctx context.Context, tenantID string, retentionDays int) (int, error) {
	switch {
	case retentionDays == 0:
		retentionDays = DefaultSnapshotRetentionDays
	case retentionDays < MinSnapshotRetentionDays:
		retentionDays = MinSnapshotRetentionDays
	case retentionDays > MaxSnapshotRetentionDays:
		retentionDays = MaxSnapshotRetentionDays
	}

	cutoff := s.clock().AddDate(0, 0, -retentionDays)
	deleted, err := s.stocks.DeleteSnapshotsBefore(ctx, tenantID, cutoff)
	if err != nil {
		return 0, apperrors.FromRepository("prune snapshots", err)
	}
	if deleted > 0 {
		s.log(ctx, "stock.snapshots_pruned", map[string]any{
			"tenant_id": tenantID,
			"deleted":   deleted,
			"cutoff":    cutoff.Format(domain.DateTimeLayout),
		})
	}
	return deleted, nil
}

func (s *stockService) ack(ctx context.Context, tran domain.TranLog, eventID string) {
	if s.acks == nil {
		return
	}
	// An ACK that never lands only means a redelivery, which the dedup
	// absorbs.
	if err := s.acks.Ack(ctx, tran, eventID, domain.DeliveryServiceReceived); err != nil {
		s.log(ctx, "stock.ack_failed", map[string]any{
			"event_id": eventID,
			"error":    err.Error(),
		})
	}
}

func (s *stockService) evaluateAlerts(ctx context.Context, stock domain.Stock) {
	if s.alerts == nil {
		return
	}
	if stock.MinimumQuantity != nil && stock.CurrentQuantity <= *stock.MinimumQuantity {
		s.alerts.Notify(ctx, domain.StockAlert{
			AlertType:       domain.AlertMinimumStock,
			TenantID:        stock.TenantID,
			StoreCode:       stock.StoreCode,
			ItemCode:        stock.ItemCode,
			CurrentQuantity: stock.CurrentQuantity,
			Threshold:       *stock.MinimumQuantity,
		})
	}
	if stock.ReorderPoint != nil && stock.CurrentQuantity <= *stock.ReorderPoint {
		s.alerts.Notify(ctx, domain.StockAlert{
			AlertType:       domain.AlertReorderPoint,
			TenantID:        stock.TenantID,
			StoreCode:       stock.StoreCode,
			ItemCode:        stock.ItemCode,
			CurrentQuantity: stock.CurrentQuantity,
			Threshold:       *stock.ReorderPoint,
		})
	}
}

// LogAlertNotifier writes alerts to the structured log. It stands in for a
// push channel to store devices.
type LogAlertNotifier struct {
	Log Logger
}

func (n LogAlertNotifier) Notify(ctx context.Context, alert domain.StockAlert) {
	log := n.Log
	if log == nil {
		log = nopLogger
	}
	log(ctx, "stock.alert", map[string]any{
		"alert_type": alert.AlertType,
		"tenant_id":  alert.TenantID,
		"store_code": alert.StoreCode,
		"item_code":  alert.ItemCode,
		"current":    alert.CurrentQuantity,
		"threshold":  alert.Threshold,
	})
}
