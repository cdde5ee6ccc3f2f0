package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/auth"
	"github.com/tenpo-pos/core/internal/platform/httpx"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
	"github.com/tenpo-pos/core/internal/repositories"
	"github.com/tenpo-pos/core/internal/services"
)

// CartHandlers exposes the cart lifecycle and the committed transaction
// endpoints.
type CartHandlers struct {
	carts        services.CartService
	transactions services.TransactionService
	tracker      services.DeliveryTracker
	verifier     *auth.TokenVerifier
	minter       *auth.ServiceTokenMinter
	resolver     auth.TerminalResolver
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(
	carts services.CartService,
	transactions services.TransactionService,
	tracker services.DeliveryTracker,
	verifier *auth.TokenVerifier,
	minter *auth.ServiceTokenMinter,
	resolver auth.TerminalResolver,
) *CartHandlers {
	return &CartHandlers{
		carts:        carts,
		transactions: transactions,
		tracker:      tracker,
		verifier:     verifier,
		minter:       minter,
		resolver:     resolver,
	}
}

// Routes wires the cart and transaction endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	apiKey := auth.RequireAPIKey(h.resolver)
	either := auth.RequireBearerOrAPIKey(h.verifier, h.resolver)
	service := auth.RequireServiceToken(h.minter)

	r.Route("/carts", func(r chi.Router) {
		r.Use(apiKey)
		r.Post("/", h.create)
		r.Route("/{cartID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/cancel", h.cancel)
			r.Post("/lineItems", h.addItems)
			r.Post("/subtotal", h.subtotal)
			r.Post("/discounts", h.addCartDiscount)
			r.Post("/payments", h.addPayments)
			r.Delete("/payments/{paymentNo}", h.removePayment)
			r.Post("/bill", h.bill)
			r.Post("/resume-item-entry", h.resumeItemEntry)
			r.Route("/lineItems/{lineNo}", func(r chi.Router) {
				r.Post("/cancel", h.cancelLineItem)
				r.Post("/discounts", h.addLineDiscount)
				r.Patch("/unitPrice", h.updateUnitPrice)
				r.Patch("/quantity", h.updateQuantity)
			})
		})
	})

	r.Route("/tenants/{tenantID}/stores/{storeCode}/terminals/{terminalNo}/transactions", func(r chi.Router) {
		r.With(either).Get("/", h.listTransactions)
		r.Route("/{tranNo}", func(r chi.Router) {
			r.With(either).Get("/", h.getTransaction)
			r.With(apiKey).Post("/void", h.voidTransaction)
			r.With(apiKey).Post("/return", h.returnTransaction)
			r.With(service).Post("/delivery-status", h.deliveryStatus)
		})
	})

	r.With(service).Post("/tenants/{tenantID}/stores/{storeCode}/terminals/{terminalNo}/journals", h.postJournal)
}

type createCartRequest struct {
	TransactionType domain.TransactionType `json:"transaction_type,omitempty"`
}

func (h *CartHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	terminal, err := terminalPrincipal(r)
	if err != nil {
		httpx.WriteError(ctx, w, "cart.create", err)
		return
	}
	var req createCartRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "cart.create", err)
		return
	}
	principal, _ := requestctx.PrincipalFrom(ctx)
	cart, err := h.carts.Create(ctx, terminal, req.TransactionType, domain.StaffRef{ID: principal.StaffID})
	if err != nil {
		httpx.WriteError(ctx, w, "cart.create", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, "cart.create", map[string]string{"cart_id": cart.CartID})
}

func (h *CartHandlers) get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "cart.get", func(cartID string) (domain.Cart, error) {
		return h.carts.Get(r.Context(), cartID)
	})
}

func (h *CartHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "cart.cancel", func(cartID string) (domain.Cart, error) {
		return h.carts.Cancel(r.Context(), cartID)
	})
}

func (h *CartHandlers) addItems(w http.ResponseWriter, r *http.Request) {
	var items []services.AddItemInput
	if err := decodeJSON(r, &items); err != nil {
		httpx.WriteError(r.Context(), w, "cart.add_items", err)
		return
	}
	h.respond(w, r, "cart.add_items", func(cartID string) (domain.Cart, error) {
		return h.carts.AddItems(r.Context(), cartID, items)
	})
}

func (h *CartHandlers) subtotal(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "cart.subtotal", func(cartID string) (domain.Cart, error) {
		return h.carts.Subtotal(r.Context(), cartID)
	})
}

func (h *CartHandlers) addCartDiscount(w http.ResponseWriter, r *http.Request) {
	var discount services.DiscountInput
	if err := decodeJSON(r, &discount); err != nil {
		httpx.WriteError(r.Context(), w, "cart.add_discount", err)
		return
	}
	h.respond(w, r, "cart.add_discount", func(cartID string) (domain.Cart, error) {
		return h.carts.AddCartDiscount(r.Context(), cartID, discount)
	})
}

func (h *CartHandlers) addPayments(w http.ResponseWriter, r *http.Request) {
	var payments []services.PaymentRequest
	if err := decodeJSON(r, &payments); err != nil {
		httpx.WriteError(r.Context(), w, "cart.add_payments", err)
		return
	}
	h.respond(w, r, "cart.add_payments", func(cartID string) (domain.Cart, error) {
		return h.carts.AddPayments(r.Context(), cartID, payments)
	})
}

func (h *CartHandlers) removePayment(w http.ResponseWriter, r *http.Request) {
	paymentNo, err := urlInt(r, "paymentNo")
	if err != nil {
		httpx.WriteError(r.Context(), w, "cart.remove_payment", err)
		return
	}
	h.respond(w, r, "cart.remove_payment", func(cartID string) (domain.Cart, error) {
		return h.carts.RemovePayment(r.Context(), cartID, paymentNo)
	})
}

func (h *CartHandlers) bill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tran, err := h.carts.Bill(ctx, chi.URLParam(r, "cartID"))
	if err != nil {
		httpx.WriteError(ctx, w, "cart.bill", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "cart.bill", tran)
}

func (h *CartHandlers) resumeItemEntry(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "cart.resume_item_entry", func(cartID string) (domain.Cart, error) {
		return h.carts.ResumeItemEntry(r.Context(), cartID)
	})
}

func (h *CartHandlers) cancelLineItem(w http.ResponseWriter, r *http.Request) {
	lineNo, err := urlInt(r, "lineNo")
	if err != nil {
		httpx.WriteError(r.Context(), w, "cart.cancel_line_item", err)
		return
	}
	h.respond(w, r, "cart.cancel_line_item", func(cartID string) (domain.Cart, error) {
		return h.carts.CancelLineItem(r.Context(), cartID, lineNo)
	})
}

func (h *CartHandlers) addLineDiscount(w http.ResponseWriter, r *http.Request) {
	lineNo, err := urlInt(r, "lineNo")
	if err != nil {
		httpx.WriteError(r.Context(), w, "cart.add_line_discount", err)
		return
	}
	var discount services.DiscountInput
	if err := decodeJSON(r, &discount); err != nil {
		httpx.WriteError(r.Context(), w, "cart.add_line_discount", err)
		return
	}
	h.respond(w, r, "cart.add_line_discount", func(cartID string) (domain.Cart, error) {
		return h.carts.AddLineDiscount(r.Context(), cartID, lineNo, discount)
	})
}

type updateUnitPriceRequest struct {
	UnitPrice int64 `json:"unit_price"`
}

func (h *CartHandlers) updateUnitPrice(w http.ResponseWriter, r *http.Request) {
	lineNo, err := urlInt(r, "lineNo")
	if err != nil {
		httpx.WriteError(r.Context(), w, "cart.update_unit_price", err)
		return
	}
	var req updateUnitPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(r.Context(), w, "cart.update_unit_price", err)
		return
	}
	h.respond(w, r, "cart.update_unit_price", func(cartID string) (domain.Cart, error) {
		return h.carts.UpdateUnitPrice(r.Context(), cartID, lineNo, req.UnitPrice)
	})
}

type updateQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	lineNo, err := urlInt(r, "lineNo")
	if err != nil {
		httpx.WriteError(r.Context(), w, "cart.update_quantity", err)
		return
	}
	var req updateQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(r.Context(), w, "cart.update_quantity", err)
		return
	}
	h.respond(w, r, "cart.update_quantity", func(cartID string) (domain.Cart, error) {
		return h.carts.UpdateQuantity(r.Context(), cartID, lineNo, req.Quantity)
	})
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, operation string, call func(cartID string) (domain.Cart, error)) {
	ctx := r.Context()
	cart, err := call(chi.URLParam(r, "cartID"))
	if err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, operation, cart)
}

func (h *CartHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := transactionFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, "transaction.list", err)
		return
	}
	page := queryPage(r)
	logs, total, err := h.transactions.List(ctx, filter, page)
	if err != nil {
		httpx.WriteError(ctx, w, "transaction.list", err)
		return
	}
	httpx.WriteList(w, "transaction.list", logs, httpx.Metadata{
		Total: total,
		Page:  page.Number,
		Limit: page.Limit,
	})
}

func (h *CartHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := transactionRef(r)
	if err != nil {
		httpx.WriteError(ctx, w, "transaction.get", err)
		return
	}
	tran, status, err := h.transactions.Get(ctx, ref)
	if err != nil {
		httpx.WriteError(ctx, w, "transaction.get", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "transaction.get", map[string]any{
		"transaction": tran,
		"status":      status,
	})
}

func (h *CartHandlers) voidTransaction(w http.ResponseWriter, r *http.Request) {
	h.compensate(w, r, "transaction.void", h.transactions.Void)
}

func (h *CartHandlers) returnTransaction(w http.ResponseWriter, r *http.Request) {
	h.compensate(w, r, "transaction.return", h.transactions.Return)
}

func (h *CartHandlers) compensate(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	call func(ctx context.Context, terminal domain.Terminal, ref domain.TranReference, payments []services.PaymentRequest) (domain.TranLog, error),
) {
	ctx := r.Context()
	terminal, err := terminalPrincipal(r)
	if err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	ref, err := transactionRef(r)
	if err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	var payments []services.PaymentRequest
	if err := decodeJSON(r, &payments); err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	tran, err := call(ctx, terminal, ref, payments)
	if err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, operation, tran)
}

func (h *CartHandlers) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req services.DeliveryAckRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "transaction.delivery_status", err)
		return
	}
	received := req.Status == domain.DeliveryServiceReceived
	status, err := h.tracker.Ack(ctx, req.EventID, req.Service, received, req.Message)
	if err != nil {
		httpx.WriteError(ctx, w, "transaction.delivery_status", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "transaction.delivery_status", status)
}

func (h *CartHandlers) postJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var entry services.JournalEntryRequest
	if err := decodeJSON(r, &entry); err != nil {
		httpx.WriteError(ctx, w, "journal.post", err)
		return
	}
	terminalNo, err := urlInt(r, "terminalNo")
	if err != nil {
		httpx.WriteError(ctx, w, "journal.post", err)
		return
	}
	terminal := domain.Terminal{
		TenantID:   chi.URLParam(r, "tenantID"),
		StoreCode:  chi.URLParam(r, "storeCode"),
		TerminalNo: terminalNo,
	}
	tran, err := h.transactions.PostJournal(ctx, terminal, entry)
	if err != nil {
		httpx.WriteError(ctx, w, "journal.post", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, "journal.post", tran)
}

func transactionRef(r *http.Request) (domain.TranReference, error) {
	terminalNo, err := urlInt(r, "terminalNo")
	if err != nil {
		return domain.TranReference{}, err
	}
	tranNo, err := urlInt64(r, "tranNo")
	if err != nil {
		return domain.TranReference{}, err
	}
	return domain.TranReference{
		TenantID:      chi.URLParam(r, "tenantID"),
		StoreCode:     chi.URLParam(r, "storeCode"),
		TerminalNo:    terminalNo,
		TransactionNo: tranNo,
	}, nil
}

func transactionFilter(r *http.Request) (repositories.TranLogFilter, error) {
	terminalNo, err := urlInt(r, "terminalNo")
	if err != nil {
		return repositories.TranLogFilter{}, err
	}
	filter := repositories.TranLogFilter{
		TenantID:       chi.URLParam(r, "tenantID"),
		StoreCode:      chi.URLParam(r, "storeCode"),
		TerminalNo:     &terminalNo,
		BusinessDate:   r.URL.Query().Get("business_date"),
		BusinessDateTo: r.URL.Query().Get("business_date_to"),
	}
	if raw := r.URL.Query().Get("open_counter"); raw != "" {
		value, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return repositories.TranLogFilter{}, apperrors.Newf(apperrors.KindValidation, "invalid open_counter %q", raw)
		}
		filter.OpenCounter = &value
	}
	if types, ok := r.URL.Query()["transaction_type"]; ok {
		for _, t := range types {
			filter.TransactionType = append(filter.TransactionType, domain.TransactionType(t))
		}
	}
	return filter, nil
}
