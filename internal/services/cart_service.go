package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/cache"
	"github.com/tenpo-pos/core/internal/repositories"
)

// AddItemInput describes one item entry request.
type AddItemInput struct {
	ItemCode  string `json:"item_code"`
	Quantity  int64  `json:"quantity"`
	UnitPrice *int64 `json:"unit_price,omitempty"`
}

// DiscountInput describes a requested discount at line or cart level.
type DiscountInput struct {
	DiscountType   domain.DiscountType `json:"discount_type"`
	DiscountValue  float64             `json:"discount_value"`
	DiscountDetail string              `json:"discount_detail,omitempty"`
	DiscountReason string              `json:"discount_reason,omitempty"`
}

// CartService drives the cart lifecycle from creation through billing. Every
// mutation is gated by the cart FSM; pricing reruns after any change that
// affects totals.
type CartService interface {
	Create(ctx context.Context, terminal domain.Terminal, transactionType domain.TransactionType, user domain.StaffRef) (domain.Cart, error)
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	Cancel(ctx context.Context, cartID string) (domain.Cart, error)
	AddItems(ctx context.Context, cartID string, items []AddItemInput) (domain.Cart, error)
	CancelLineItem(ctx context.Context, cartID string, lineNo int) (domain.Cart, error)
	UpdateQuantity(ctx context.Context, cartID string, lineNo int, quantity int64) (domain.Cart, error)
	UpdateUnitPrice(ctx context.Context, cartID string, lineNo int, unitPrice int64) (domain.Cart, error)
	AddLineDiscount(ctx context.Context, cartID string, lineNo int, discount DiscountInput) (domain.Cart, error)
	AddCartDiscount(ctx context.Context, cartID string, discount DiscountInput) (domain.Cart, error)
	Subtotal(ctx context.Context, cartID string) (domain.Cart, error)
	AddPayments(ctx context.Context, cartID string, payments []PaymentRequest) (domain.Cart, error)
	RemovePayment(ctx context.Context, cartID string, paymentNo int) (domain.Cart, error)
	ResumeItemEntry(ctx context.Context, cartID string) (domain.Cart, error)
	Bill(ctx context.Context, cartID string) (domain.TranLog, error)
}

// CartServiceDeps bundles collaborators for NewCartService.
type CartServiceDeps struct {
	Sessions  repositories.Sessions
	Carts     repositories.CartRepository
	Terminals repositories.TerminalRepository
	Masters   repositories.MasterRepository
	Counters  repositories.CounterRepository
	TranLogs  repositories.TranLogRepository
	Statuses  repositories.TransactionStatusRepository
	Tracker   DeliveryTracker
	Receipts  *ReceiptRegistry
	Payments  *PaymentRegistry
	// TerminalCache shields the hot terminal lookup on every cart call.
	TerminalCache *cache.TTL[domain.Terminal]
	TranlogTopic  string
	Clock         func() time.Time
	Logger        Logger
}

type cartService struct {
	carts         repositories.CartRepository
	terminals     repositories.TerminalRepository
	masters       repositories.MasterRepository
	payments      *PaymentRegistry
	finaliser     *finaliser
	terminalCache *cache.TTL[domain.Terminal]
	clock         func() time.Time
	log           Logger
}

// NewCartService constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("cart service: cart repository is required")
	case deps.Terminals == nil:
		return nil, errors.New("cart service: terminal repository is required")
	case deps.Masters == nil:
		return nil, errors.New("cart service: master repository is required")
	case deps.Payments == nil:
		return nil, errors.New("cart service: payment registry is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = nopLogger
	}

	fin, err := newFinaliser(deps.Sessions, deps.Counters, deps.TranLogs, deps.Statuses, deps.Tracker, deps.Receipts, deps.TranlogTopic, clock, log)
	if err != nil {
		return nil, err
	}

	return &cartService{
		carts:         deps.Carts,
		terminals:     deps.Terminals,
		masters:       deps.Masters,
		payments:      deps.Payments,
		finaliser:     fin,
		terminalCache: deps.TerminalCache,
		clock:         clock,
		log:           log,
	}, nil
}

// Create opens a new cart for the terminal after verifying it is opened and
// signed in, freezing the tenant's settings, tax and payment masters into it.
func (s *cartService) Create(ctx context.Context, terminal domain.Terminal, transactionType domain.TransactionType, user domain.StaffRef) (domain.Cart, error) {
	current, err := s.terminal(ctx, terminal.TenantID, terminal.StoreCode, terminal.TerminalNo)
	if err != nil {
		return domain.Cart{}, err
	}
	if current.Status != domain.TerminalOpened {
		return domain.Cart{}, apperrors.New(apperrors.KindTerminalStatus, "terminal is not opened")
	}
	if current.Staff == nil {
		return domain.Cart{}, apperrors.New(apperrors.KindTerminalNotSignedIn, "terminal is not signed in")
	}

	switch transactionType {
	case domain.TypeNormalSales, domain.TypeReturnSales:
	case "":
		transactionType = domain.TypeNormalSales
	default:
		return domain.Cart{}, apperrors.Newf(apperrors.KindValidation, "transaction type %q cannot start a cart", transactionType)
	}
	if user.ID == "" {
		user = *current.Staff
	}

	status, err := domain.NextStatus(domain.CartInitial, domain.EventCreateCart)
	if err != nil {
		return domain.Cart{}, apperrors.Wrap(apperrors.KindInvalidOperation, "create cart", err)
	}

	settings, err := s.masters.GetSettings(ctx, current.TenantID, current.StoreCode)
	if err != nil {
		return domain.Cart{}, apperrors.FromRepository("load settings", err)
	}
	taxes, err := s.masters.ListTaxes(ctx, current.TenantID)
	if err != nil {
		return domain.Cart{}, apperrors.FromRepository("load tax master", err)
	}
	paymentMasters, err := s.masters.ListPayments(ctx, current.TenantID)
	if err != nil {
		return domain.Cart{}, apperrors.FromRepository("load payment master", err)
	}

	now := s.clock().UTC()
	cart := domain.Cart{
		CartID:          uuid.NewString(),
		TenantID:        current.TenantID,
		StoreCode:       current.StoreCode,
		TerminalNo:      current.TerminalNo,
		Status:          status,
		TransactionType: transactionType,
		User:            user,
		Masters: domain.CartMasters{
			Items:    map[string]domain.ItemMaster{},
			Taxes:    taxes,
			Payments: paymentMasters,
			Settings: settings,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.carts.Create(ctx, cart); err != nil {
		return domain.Cart{}, apperrors.FromRepository("create cart", err)
	}
	s.log(ctx, "cart.created", map[string]any{"cart_id": cart.CartID, "terminal": current.ID()})
	return cart, nil
}

// Get returns the cart without mutating it. A completed or cancelled cart is
// no longer readable; its record lives in the transaction log.
func (s *cartService) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	if _, err := domain.NextStatus(cart.Status, domain.EventGetCart); err != nil {
		return domain.Cart{}, apperrors.Wrap(apperrors.KindInvalidOperation, "get cart", err)
	}
	return cart, nil
}

// Cancel abandons the cart.
func (s *cartService) Cancel(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventCancelCart, func(cart *domain.Cart) error {
		cart.Sales.IsCancelled = true
		return nil
	})
}

// AddItems appends entry lines, snapshotting each item's master row into the
// cart the first time the item appears.
func (s *cartService) AddItems(ctx context.Context, cartID string, items []AddItemInput) (domain.Cart, error) {
	if len(items) == 0 {
		return domain.Cart{}, apperrors.New(apperrors.KindValidation, "at least one item is required")
	}
	return s.mutate(ctx, cartID, domain.EventAddItem, func(cart *domain.Cart) error {
		for _, input := range items {
			code := strings.TrimSpace(input.ItemCode)
			if code == "" {
				return apperrors.New(apperrors.KindValidation, "item code is required")
			}
			if input.Quantity <= 0 {
				return apperrors.New(apperrors.KindValidation, "quantity must be positive")
			}

			master, ok := cart.Masters.Items[code]
			if !ok {
				loaded, err := s.masters.GetItem(ctx, cart.TenantID, cart.StoreCode, code)
				if err != nil {
					return apperrors.FromRepository("load item master", err)
				}
				cart.Masters.Items[code] = loaded
				master = loaded
			}

			line := domain.LineItem{
				LineNo:               len(cart.LineItems) + 1,
				ItemCode:             master.ItemCode,
				CategoryCode:         master.CategoryCode,
				Description:          master.Description,
				UnitPrice:            master.UnitPrice,
				Quantity:             input.Quantity,
				TaxCode:              master.TaxCode,
				IsDiscountRestricted: master.IsDiscountRestricted,
			}
			if input.UnitPrice != nil && *input.UnitPrice != master.UnitPrice {
				original := master.UnitPrice
				line.UnitPrice = *input.UnitPrice
				line.UnitPriceOriginal = &original
				line.IsUnitPriceChanged = true
			}
			cart.LineItems = append(cart.LineItems, line)
		}
		return nil
	})
}

// CancelLineItem marks one line cancelled.
func (s *cartService) CancelLineItem(ctx context.Context, cartID string, lineNo int) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventCancelLineItem, func(cart *domain.Cart) error {
		line, err := findLine(cart, lineNo)
		if err != nil {
			return err
		}
		line.IsCancelled = true
		return nil
	})
}

// UpdateQuantity changes a line's quantity.
func (s *cartService) UpdateQuantity(ctx context.Context, cartID string, lineNo int, quantity int64) (domain.Cart, error) {
	if quantity <= 0 {
		return domain.Cart{}, apperrors.New(apperrors.KindValidation, "quantity must be positive")
	}
	return s.mutate(ctx, cartID, domain.EventUpdateLineItem, func(cart *domain.Cart) error {
		line, err := findLine(cart, lineNo)
		if err != nil {
			return err
		}
		line.Quantity = quantity
		return nil
	})
}

// UpdateUnitPrice overrides a line's unit price, remembering the original.
func (s *cartService) UpdateUnitPrice(ctx context.Context, cartID string, lineNo int, unitPrice int64) (domain.Cart, error) {
	if unitPrice < 0 {
		return domain.Cart{}, apperrors.New(apperrors.KindValidation, "unit price must not be negative")
	}
	return s.mutate(ctx, cartID, domain.EventUpdateLineItem, func(cart *domain.Cart) error {
		line, err := findLine(cart, lineNo)
		if err != nil {
			return err
		}
		if line.UnitPriceOriginal == nil {
			original := line.UnitPrice
			line.UnitPriceOriginal = &original
		}
		line.UnitPrice = unitPrice
		line.IsUnitPriceChanged = true
		return nil
	})
}

// AddLineDiscount applies a discount to one line.
func (s *cartService) AddLineDiscount(ctx context.Context, cartID string, lineNo int, discount DiscountInput) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventApplyDiscount, func(cart *domain.Cart) error {
		line, err := findLine(cart, lineNo)
		if err != nil {
			return err
		}
		if line.IsDiscountRestricted {
			return apperrors.Newf(apperrors.KindValidation, "item %s does not permit discounts", line.ItemCode)
		}
		line.Discounts = append(line.Discounts, domain.Discount{
			DiscountType:   discount.DiscountType,
			DiscountValue:  discount.DiscountValue,
			DiscountDetail: discount.DiscountDetail,
			DiscountReason: discount.DiscountReason,
		})
		return nil
	})
}

// AddCartDiscount applies a subtotal-level discount.
func (s *cartService) AddCartDiscount(ctx context.Context, cartID string, discount DiscountInput) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventApplyDiscount, func(cart *domain.Cart) error {
		cart.SubtotalDiscounts = append(cart.SubtotalDiscounts, domain.Discount{
			DiscountType:   discount.DiscountType,
			DiscountValue:  discount.DiscountValue,
			DiscountDetail: discount.DiscountDetail,
			DiscountReason: discount.DiscountReason,
		})
		return nil
	})
}

// Subtotal settles totals and moves the cart into payment.
func (s *cartService) Subtotal(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventSubtotal, func(cart *domain.Cart) error {
		if activeLineCount(cart) == 0 {
			return apperrors.New(apperrors.KindValidation, "cart has no active lines")
		}
		return nil
	})
}

// AddPayments applies the payment list sequentially; the first failure aborts
// without persisting any of the list.
func (s *cartService) AddPayments(ctx context.Context, cartID string, payments []PaymentRequest) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventAddPayment, func(cart *domain.Cart) error {
		return s.payments.Apply(cart, payments)
	})
}

// RemovePayment withdraws one tendered payment while the cart is still
// paying, restoring the balance it covered and renumbering the rest.
func (s *cartService) RemovePayment(ctx context.Context, cartID string, paymentNo int) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventRemovePayment, func(cart *domain.Cart) error {
		idx := -1
		for i, p := range cart.Payments {
			if p.PaymentNo == paymentNo {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperrors.Newf(apperrors.KindNotFound, "payment %d not found", paymentNo)
		}
		removed := cart.Payments[idx]
		if removed.DepositAmount != nil {
			cart.Sales.ChangeAmount -= *removed.DepositAmount - removed.Amount
		}
		cart.Payments = append(cart.Payments[:idx], cart.Payments[idx+1:]...)
		for i := range cart.Payments {
			cart.Payments[i].PaymentNo = i + 1
		}
		return nil
	})
}

// ResumeItemEntry returns a Paying cart to item entry, clearing payments.
func (s *cartService) ResumeItemEntry(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, domain.EventResumeEntry, func(cart *domain.Cart) error {
		cart.Payments = nil
		cart.Sales.ChangeAmount = 0
		return nil
	})
}

// Bill finalises the cart: the balance must be settled, the terminal still
// opened. On success the cart is Completed and the committed tranlog
// returned.
func (s *cartService) Bill(ctx context.Context, cartID string) (domain.TranLog, error) {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return domain.TranLog{}, err
	}
	next, err := domain.NextStatus(cart.Status, domain.EventBill)
	if err != nil {
		return domain.TranLog{}, apperrors.Wrap(apperrors.KindInvalidOperation, "bill", err)
	}
	if cart.BalanceAmount > 0 {
		return domain.TranLog{}, apperrors.Newf(apperrors.KindBalanceGreaterZero, "balance %d remains", cart.BalanceAmount)
	}
	if cart.BalanceAmount < 0 {
		return domain.TranLog{}, apperrors.Newf(apperrors.KindBalanceMinus, "balance %d is negative", cart.BalanceAmount)
	}

	terminal, err := s.terminal(ctx, cart.TenantID, cart.StoreCode, cart.TerminalNo)
	if err != nil {
		return domain.TranLog{}, err
	}
	if terminal.Status != domain.TerminalOpened {
		return domain.TranLog{}, apperrors.New(apperrors.KindTerminalStatus, "terminal is not opened")
	}

	tran := domain.TranLog{
		TransactionType:   cart.TransactionType,
		User:              cart.User,
		LineItems:         cart.LineItems,
		SubtotalDiscounts: cart.SubtotalDiscounts,
		Payments:          cart.Payments,
		Taxes:             cart.Taxes,
		Sales:             cart.Sales,
	}
	committed, err := s.finaliser.commit(ctx, terminal, cart.Masters.Settings, tran)
	if err != nil {
		return domain.TranLog{}, err
	}

	cart.Status = next
	cart.Sales = committed.Sales
	cart.UpdatedAt = s.clock().UTC()
	if err := s.carts.Save(ctx, cart); err != nil {
		// The transaction is committed; a stale cart row only blocks
		// reuse of this cart id.
		s.log(ctx, "cart.save_failed", map[string]any{"cart_id": cart.CartID, "error": err.Error()})
	}
	return committed, nil
}

func (s *cartService) load(ctx context.Context, cartID string) (domain.Cart, error) {
	if strings.TrimSpace(cartID) == "" {
		return domain.Cart{}, apperrors.New(apperrors.KindValidation, "cart id is required")
	}
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, apperrors.FromRepository("load cart", err)
	}
	return cart, nil
}

// mutate runs one FSM-gated mutation: check the event, apply, reprice, then
// persist with the transition applied.
func (s *cartService) mutate(ctx context.Context, cartID string, event domain.CartEvent, apply func(*domain.Cart) error) (domain.Cart, error) {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	next, err := domain.NextStatus(cart.Status, event)
	if err != nil {
		return domain.Cart{}, apperrors.Wrap(apperrors.KindInvalidOperation, string(event), err)
	}
	if err := apply(&cart); err != nil {
		return domain.Cart{}, err
	}
	if err := Reprice(&cart, roundingModeFromSettings(cart.Masters.Settings)); err != nil {
		return domain.Cart{}, err
	}

	cart.Status = next
	cart.UpdatedAt = s.clock().UTC()
	if err := s.carts.Save(ctx, cart); err != nil {
		return domain.Cart{}, apperrors.FromRepository("save cart", err)
	}
	return cart, nil
}

func (s *cartService) terminal(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error) {
	key := domain.TerminalID(tenantID, storeCode, terminalNo)
	terminal, err := s.terminalCache.Get(ctx, key, func(ctx context.Context, _ string) (domain.Terminal, error) {
		return s.terminals.Get(ctx, tenantID, storeCode, terminalNo)
	})
	if err != nil {
		return domain.Terminal{}, apperrors.FromRepository("load terminal", err)
	}
	return terminal, nil
}

func findLine(cart *domain.Cart, lineNo int) (*domain.LineItem, error) {
	for i := range cart.LineItems {
		if cart.LineItems[i].LineNo == lineNo {
			if cart.LineItems[i].IsCancelled {
				return nil, apperrors.Newf(apperrors.KindInvalidOperation, "line %d is cancelled", lineNo)
			}
			return &cart.LineItems[i], nil
		}
	}
	return nil, apperrors.Newf(apperrors.KindNotFound, "line %d not found", lineNo)
}

func activeLineCount(cart *domain.Cart) int {
	count := 0
	for _, line := range cart.LineItems {
		if !line.IsCancelled {
			count++
		}
	}
	return count
}
