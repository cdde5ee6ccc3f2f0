package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

const (
	stockCollection         = "stocks"
	stockUpdateCollection   = "log_stock_update"
	stockSnapshotCollection = "stock_snapshots"
)

// StockRepository persists per-item inventory plus its movement history and
// snapshots. Movements are keyed by event ID, which is what makes replayed
// broker deliveries no-ops.
type StockRepository struct {
	provider  *pfirestore.Provider
	stocks    *pfirestore.BaseRepository[domain.Stock]
	updates   *pfirestore.BaseRepository[domain.StockUpdate]
	snapshots *pfirestore.BaseRepository[domain.StockSnapshot]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:  provider,
		stocks:    pfirestore.NewBaseRepository[domain.Stock](provider, stockCollection),
		updates:   pfirestore.NewBaseRepository[domain.StockUpdate](provider, stockUpdateCollection),
		snapshots: pfirestore.NewBaseRepository[domain.StockSnapshot](provider, stockSnapshotCollection),
	}, nil
}

// Get fetches one stock row.
func (r *StockRepository) Get(ctx context.Context, tenantID, storeCode, itemCode string) (domain.Stock, error) {
	if r == nil || r.stocks == nil {
		return domain.Stock{}, errors.New("stock repository not initialised")
	}
	doc, err := r.stocks.Get(ctx, domain.StockID(tenantID, storeCode, itemCode))
	if err != nil {
		return domain.Stock{}, err
	}
	return doc.Data, nil
}

// List pages through a store's stock rows ordered by item code.
func (r *StockRepository) List(ctx context.Context, tenantID, storeCode string, page repositories.Page) ([]domain.Stock, int64, error) {
	if r == nil || r.stocks == nil {
		return nil, 0, errors.New("stock repository not initialised")
	}

	build := func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).Where("storeCode", "==", storeCode)
	}
	total, err := r.stocks.Count(ctx, build)
	if err != nil {
		return nil, 0, err
	}

	if len(page.Sort) == 0 {
		page.Sort = []string{"itemCode"}
	}
	docs, err := r.stocks.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyPage(build(q), page)
	})
	if err != nil {
		return nil, 0, err
	}

	stocks := make([]domain.Stock, 0, len(docs))
	for _, doc := range docs {
		stocks = append(stocks, doc.Data)
	}
	return stocks, total, nil
}

// SetThresholds upserts the row's alerting thresholds, preserving the current
// quantity of an existing row.
func (r *StockRepository) SetThresholds(ctx context.Context, stock domain.Stock) (domain.Stock, error) {
	if r == nil || r.provider == nil {
		return domain.Stock{}, errors.New("stock repository not initialised")
	}
	ref, err := r.stocks.DocumentRef(ctx, domain.StockID(stock.TenantID, stock.StoreCode, stock.ItemCode))
	if err != nil {
		return domain.Stock{}, err
	}

	var saved domain.Stock
	err = r.provider.RunSession(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current := stock
		snapshot, err := tx.Get(ref)
		if err == nil {
			var existing domain.Stock
			if err := snapshot.DataTo(&existing); err != nil {
				return err
			}
			current.CurrentQuantity = existing.CurrentQuantity
		} else if !isNotFound(err) {
			return err
		}
		saved = current
		return tx.Set(ref, current)
	})
	if err != nil {
		return domain.Stock{}, err
	}
	return saved, nil
}

// Apply records one inventory movement and adjusts the stock row in a single
// transaction. A movement whose event ID was already recorded is skipped and
// the current row returned with applied=false.
func (r *StockRepository) Apply(ctx context.Context, update domain.StockUpdate) (domain.Stock, bool, error) {
	if r == nil || r.provider == nil {
		return domain.Stock{}, false, errors.New("stock repository not initialised")
	}
	if strings.TrimSpace(update.EventID) == "" {
		return domain.Stock{}, false, errors.New("stock repository: event id is required")
	}

	stockRef, err := r.stocks.DocumentRef(ctx, domain.StockID(update.TenantID, update.StoreCode, update.ItemCode))
	if err != nil {
		return domain.Stock{}, false, err
	}
	updateID := update.EventID + "-" + update.ItemCode
	updateRef, err := r.updates.DocumentRef(ctx, updateID)
	if err != nil {
		return domain.Stock{}, false, err
	}

	var (
		result  domain.Stock
		applied bool
	)
	err = r.provider.RunSession(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false

		if _, err := tx.Get(updateRef); err == nil {
			snapshot, err := tx.Get(stockRef)
			if err != nil {
				if isNotFound(err) {
					result = domain.Stock{}
					return nil
				}
				return err
			}
			return snapshot.DataTo(&result)
		} else if !isNotFound(err) {
			return err
		}

		stock := domain.Stock{
			TenantID:  update.TenantID,
			StoreCode: update.StoreCode,
			ItemCode:  update.ItemCode,
		}
		snapshot, err := tx.Get(stockRef)
		if err == nil {
			if err := snapshot.DataTo(&stock); err != nil {
				return err
			}
		} else if !isNotFound(err) {
			return err
		}

		update.PreviousQuantity = stock.CurrentQuantity
		update.NewQuantity = stock.CurrentQuantity + update.QuantityChange
		stock.CurrentQuantity = update.NewQuantity
		stock.LastUpdateTime = update.Timestamp.UTC()

		if err := tx.Set(updateRef, update); err != nil {
			return err
		}
		if err := tx.Set(stockRef, stock); err != nil {
			return err
		}
		result = stock
		applied = true
		return nil
	})
	if err != nil {
		return domain.Stock{}, false, err
	}
	return result, applied, nil
}

// ListUpdates pages through the movement history newest first.
func (r *StockRepository) ListUpdates(ctx context.Context, filter repositories.StockUpdateFilter, page repositories.Page) ([]domain.StockUpdate, int64, error) {
	if r == nil || r.updates == nil {
		return nil, 0, errors.New("stock repository not initialised")
	}

	build := func(q firestore.Query) firestore.Query {
		q = q.Where("tenantId", "==", filter.TenantID)
		if filter.StoreCode != "" {
			q = q.Where("storeCode", "==", filter.StoreCode)
		}
		if filter.ItemCode != "" {
			q = q.Where("itemCode", "==", filter.ItemCode)
		}
		if !filter.Since.IsZero() {
			q = q.Where("timestamp", ">=", filter.Since)
		}
		if !filter.Until.IsZero() {
			q = q.Where("timestamp", "<=", filter.Until)
		}
		return q
	}
	total, err := r.updates.Count(ctx, build)
	if err != nil {
		return nil, 0, err
	}

	if len(page.Sort) == 0 {
		page.Sort = []string{"timestamp:desc"}
	}
	docs, err := r.updates.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyPage(build(q), page)
	})
	if err != nil {
		return nil, 0, err
	}

	updates := make([]domain.StockUpdate, 0, len(docs))
	for _, doc := range docs {
		updates = append(updates, doc.Data)
	}
	return updates, total, nil
}

// CreateSnapshot stores a point-in-time stock snapshot.
func (r *StockRepository) CreateSnapshot(ctx context.Context, snapshot domain.StockSnapshot) error {
	if r == nil || r.snapshots == nil {
		return errors.New("stock repository not initialised")
	}
	if strings.TrimSpace(snapshot.SnapshotID) == "" {
		return errors.New("stock repository: snapshot id is required")
	}
	_, err := r.snapshots.Create(ctx, snapshot.SnapshotID, snapshot)
	return err
}

// ListSnapshots pages through a store's snapshots newest first.
func (r *StockRepository) ListSnapshots(ctx context.Context, tenantID, storeCode string, page repositories.Page) ([]domain.StockSnapshot, int64, error) {
	if r == nil || r.snapshots == nil {
		return nil, 0, errors.New("stock repository not initialised")
	}

	build := func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).Where("storeCode", "==", storeCode)
	}
	total, err := r.snapshots.Count(ctx, build)
	if err != nil {
		return nil, 0, err
	}

	if len(page.Sort) == 0 {
		page.Sort = []string{"generateDateTime:desc"}
	}
	docs, err := r.snapshots.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyPage(build(q), page)
	})
	if err != nil {
		return nil, 0, err
	}

	snapshots := make([]domain.StockSnapshot, 0, len(docs))
	for _, doc := range docs {
		snapshots = append(snapshots, doc.Data)
	}
	return snapshots, total, nil
}

// DeleteSnapshotsBefore prunes snapshots generated before the cutoff and
// reports how many were removed. Generate times carry the writer's zone
// offset, so the comparison happens on parsed instants rather than on the
// stored strings.
func (r *StockRepository) DeleteSnapshotsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	if r == nil || r.snapshots == nil {
		return 0, errors.New("stock repository not initialised")
	}

	docs, err := r.snapshots.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID)
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, doc := range docs {
		if !snapshotExpired(doc.Data.GenerateDateTime, cutoff) {
			continue
		}
		if err := r.snapshots.Delete(ctx, doc.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// snapshotExpired reports whether the generate time is a valid timestamp
// strictly before the cutoff. An unparseable value is kept for inspection
// rather than silently pruned.
func snapshotExpired(generateDateTime string, cutoff time.Time) bool {
	at, err := time.Parse(domain.DateTimeLayout, generateDateTime)
	if err != nil {
		return false
	}
	return at.Before(cutoff)
}
