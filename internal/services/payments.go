package services

import (
	"strings"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
)

// PaymentRequest is one tender in an incoming payment list.
type PaymentRequest struct {
	PaymentCode string `json:"payment_code"`
	Amount      int64  `json:"amount"`
	Detail      string `json:"detail,omitempty"`
}

// PaymentHandler applies one tender against the cart's running balance,
// appending a Payment row. Handlers are registered per payment code family
// and vary by the master's capability flags.
type PaymentHandler interface {
	Pay(cart *domain.Cart, master domain.PaymentMaster, request PaymentRequest) error
}

// PaymentRegistry maps payment codes to handlers. Codes without an explicit
// registration fall back to the capability-driven default handler.
type PaymentRegistry struct {
	handlers map[string]PaymentHandler
	fallback PaymentHandler
}

// NewPaymentRegistry builds the registry with the standard handlers: cash
// (change-giving) and the generic exact-tender handler for everything else.
func NewPaymentRegistry() *PaymentRegistry {
	return &PaymentRegistry{
		handlers: map[string]PaymentHandler{},
		fallback: capabilityHandler{},
	}
}

// Register binds a handler to a payment code, replacing any previous binding.
func (r *PaymentRegistry) Register(paymentCode string, handler PaymentHandler) {
	if r == nil || handler == nil {
		return
	}
	code := strings.TrimSpace(paymentCode)
	if code == "" {
		return
	}
	r.handlers[code] = handler
}

// Apply runs the payment list sequentially against the cart. The first
// failure aborts the whole list; the caller must not persist the cart on
// error.
func (r *PaymentRegistry) Apply(cart *domain.Cart, payments []PaymentRequest) error {
	if r == nil {
		return apperrors.New(apperrors.KindUnexpected, "payment registry not initialised")
	}
	if len(payments) == 0 {
		return apperrors.New(apperrors.KindValidation, "at least one payment is required")
	}

	for _, request := range payments {
		master, ok := findPaymentMaster(cart.Masters.Payments, request.PaymentCode)
		if !ok {
			return apperrors.Newf(apperrors.KindNotFound, "unknown payment code %q", request.PaymentCode)
		}

		handler := r.fallback
		if h, ok := r.handlers[master.PaymentCode]; ok {
			handler = h
		}
		if err := handler.Pay(cart, master, request); err != nil {
			return err
		}
	}
	return nil
}

// capabilityHandler is the default strategy: behaviour derives entirely from
// the payment master's flags.
//
// A change-giving method (cash) accepts any deposit at or above zero balance,
// credits only the open balance, and accrues the difference as change. A
// deposit-over method without change rejects overdeposit with DepositOver;
// everything else rejects overdraw with BalanceMinus.
type capabilityHandler struct{}

func (capabilityHandler) Pay(cart *domain.Cart, master domain.PaymentMaster, request PaymentRequest) error {
	if request.Amount <= 0 {
		return apperrors.New(apperrors.KindValidation, "payment amount must be positive")
	}
	if cart.BalanceAmount <= 0 {
		return apperrors.New(apperrors.KindBalanceZero, "balance is already settled")
	}

	payment := domain.Payment{
		PaymentNo:   len(cart.Payments) + 1,
		PaymentCode: master.PaymentCode,
		Description: master.Description,
		Detail:      request.Detail,
	}

	switch {
	case master.CanChange:
		deposit := request.Amount
		credited := deposit
		if credited > cart.BalanceAmount {
			credited = cart.BalanceAmount
		}
		payment.Amount = credited
		payment.DepositAmount = &deposit
		cart.Sales.ChangeAmount += deposit - credited
	case request.Amount > cart.BalanceAmount:
		if master.CanDepositOver {
			return apperrors.Newf(apperrors.KindDepositOver,
				"deposit %d exceeds balance %d and %s cannot give change", request.Amount, cart.BalanceAmount, master.PaymentCode)
		}
		return apperrors.Newf(apperrors.KindBalanceMinus,
			"payment %d would overdraw balance %d on %s", request.Amount, cart.BalanceAmount, master.PaymentCode)
	default:
		payment.Amount = request.Amount
	}

	cart.Payments = append(cart.Payments, payment)
	cart.BalanceAmount -= payment.Amount
	return nil
}

func findPaymentMaster(payments []domain.PaymentMaster, code string) (domain.PaymentMaster, bool) {
	trimmed := strings.TrimSpace(code)
	for _, p := range payments {
		if p.PaymentCode == trimmed {
			return p, true
		}
	}
	return domain.PaymentMaster{}, false
}
