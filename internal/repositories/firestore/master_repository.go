package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
)

const (
	itemMasterCollection    = "master_items"
	taxMasterCollection     = "master_taxes"
	paymentMasterCollection = "master_payments"
	settingsCollection      = "master_settings"
	staffMasterCollection   = "master_staff"
)

type settingsDocument struct {
	TenantID  string            `firestore:"tenantId"`
	StoreCode string            `firestore:"storeCode"`
	Values    map[string]string `firestore:"values"`
}

type staffDocument struct {
	TenantID string `firestore:"tenantId"`
	StaffID  string `firestore:"staffId"`
	Name     string `firestore:"name"`
	PIN      string `firestore:"pin"`
}

type itemMasterDocument struct {
	TenantID  string `firestore:"tenantId"`
	StoreCode string `firestore:"storeCode"`
	domain.ItemMaster
}

type taxMasterDocument struct {
	TenantID string `firestore:"tenantId"`
	domain.TaxMaster
}

type paymentMasterDocument struct {
	TenantID string `firestore:"tenantId"`
	domain.PaymentMaster
}

// MasterRepository reads tenant-scoped master data. Masters are maintained by
// back-office tooling; the core services only ever read them.
type MasterRepository struct {
	items    *pfirestore.BaseRepository[itemMasterDocument]
	taxes    *pfirestore.BaseRepository[taxMasterDocument]
	payments *pfirestore.BaseRepository[paymentMasterDocument]
	settings *pfirestore.BaseRepository[settingsDocument]
	staff    *pfirestore.BaseRepository[staffDocument]
}

// NewMasterRepository constructs a Firestore-backed master data repository.
func NewMasterRepository(provider *pfirestore.Provider) (*MasterRepository, error) {
	if provider == nil {
		return nil, errors.New("master repository requires firestore provider")
	}
	return &MasterRepository{
		items:    pfirestore.NewBaseRepository[itemMasterDocument](provider, itemMasterCollection),
		taxes:    pfirestore.NewBaseRepository[taxMasterDocument](provider, taxMasterCollection),
		payments: pfirestore.NewBaseRepository[paymentMasterDocument](provider, paymentMasterCollection),
		settings: pfirestore.NewBaseRepository[settingsDocument](provider, settingsCollection),
		staff:    pfirestore.NewBaseRepository[staffDocument](provider, staffMasterCollection),
	}, nil
}

// GetItem fetches one item master row, preferring a store-level override over
// the tenant-wide row.
func (r *MasterRepository) GetItem(ctx context.Context, tenantID, storeCode, itemCode string) (domain.ItemMaster, error) {
	if r == nil || r.items == nil {
		return domain.ItemMaster{}, errors.New("master repository not initialised")
	}

	doc, err := r.items.Get(ctx, fmt.Sprintf("%s-%s-%s", tenantID, storeCode, itemCode))
	if err == nil {
		return doc.Data.ItemMaster, nil
	}
	if !isNotFound(err) {
		return domain.ItemMaster{}, err
	}

	doc, err = r.items.Get(ctx, fmt.Sprintf("%s-%s", tenantID, itemCode))
	if err != nil {
		return domain.ItemMaster{}, err
	}
	return doc.Data.ItemMaster, nil
}

// ListTaxes returns every tax master row for the tenant.
func (r *MasterRepository) ListTaxes(ctx context.Context, tenantID string) ([]domain.TaxMaster, error) {
	if r == nil || r.taxes == nil {
		return nil, errors.New("master repository not initialised")
	}
	docs, err := r.taxes.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).OrderBy("taxCode", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	taxes := make([]domain.TaxMaster, 0, len(docs))
	for _, doc := range docs {
		taxes = append(taxes, doc.Data.TaxMaster)
	}
	return taxes, nil
}

// ListPayments returns every payment master row for the tenant.
func (r *MasterRepository) ListPayments(ctx context.Context, tenantID string) ([]domain.PaymentMaster, error) {
	if r == nil || r.payments == nil {
		return nil, errors.New("master repository not initialised")
	}
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).OrderBy("paymentCode", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	payments := make([]domain.PaymentMaster, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.PaymentMaster)
	}
	return payments, nil
}

// GetSettings fetches the store's settings map, falling back to the
// tenant-wide document. A tenant with no settings yields an empty map.
func (r *MasterRepository) GetSettings(ctx context.Context, tenantID, storeCode string) (map[string]string, error) {
	if r == nil || r.settings == nil {
		return nil, errors.New("master repository not initialised")
	}

	doc, err := r.settings.Get(ctx, fmt.Sprintf("%s-%s", tenantID, storeCode))
	if err == nil {
		return doc.Data.Values, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	doc, err = r.settings.Get(ctx, tenantID)
	if err != nil {
		if isNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return doc.Data.Values, nil
}

// GetStaff fetches one staff master row.
func (r *MasterRepository) GetStaff(ctx context.Context, tenantID, staffID string) (domain.StaffRef, error) {
	if r == nil || r.staff == nil {
		return domain.StaffRef{}, errors.New("master repository not initialised")
	}
	doc, err := r.staff.Get(ctx, fmt.Sprintf("%s-%s", tenantID, staffID))
	if err != nil {
		return domain.StaffRef{}, err
	}
	return domain.StaffRef{ID: doc.Data.StaffID, Name: doc.Data.Name}, nil
}
