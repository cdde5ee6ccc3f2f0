package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
)

const cartCollection = "cache_carts"

// CartRepository persists active carts. Carts carry their frozen master
// snapshot, so the whole document is written on every mutation.
type CartRepository struct {
	base *pfirestore.BaseRepository[domain.Cart]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[domain.Cart](provider, cartCollection),
	}, nil
}

// Create writes a new cart, failing when the ID is already taken.
func (r *CartRepository) Create(ctx context.Context, cart domain.Cart) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	if strings.TrimSpace(cart.CartID) == "" {
		return errors.New("cart repository: cart id is required")
	}
	_, err := r.base.Create(ctx, cart.CartID, cart)
	return err
}

// Get fetches a cart by ID.
func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	doc, err := r.base.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data, nil
}

// Save overwrites the cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	if strings.TrimSpace(cart.CartID) == "" {
		return errors.New("cart repository: cart id is required")
	}
	_, err := r.base.Set(ctx, cart.CartID, cart)
	return err
}

// Delete removes the cart document.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	return r.base.Delete(ctx, cartID)
}
