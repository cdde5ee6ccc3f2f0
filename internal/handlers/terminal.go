package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/auth"
	"github.com/tenpo-pos/core/internal/platform/httpx"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
	"github.com/tenpo-pos/core/internal/services"
)

// TerminalHandlers exposes the terminal registry and lifecycle endpoints.
type TerminalHandlers struct {
	terminals services.TerminalService
	tracker   services.DeliveryTracker
	verifier  *auth.TokenVerifier
	minter    *auth.ServiceTokenMinter
	resolver  auth.TerminalResolver
}

// NewTerminalHandlers constructs the terminal handlers.
func NewTerminalHandlers(
	terminals services.TerminalService,
	tracker services.DeliveryTracker,
	verifier *auth.TokenVerifier,
	minter *auth.ServiceTokenMinter,
	resolver auth.TerminalResolver,
) *TerminalHandlers {
	return &TerminalHandlers{
		terminals: terminals,
		tracker:   tracker,
		verifier:  verifier,
		minter:    minter,
		resolver:  resolver,
	}
}

// Routes wires the /terminals endpoints onto the provided router.
func (h *TerminalHandlers) Routes(r chi.Router) {
	bearer := auth.RequireBearer(h.verifier)
	apiKey := auth.RequireAPIKey(h.resolver)
	either := auth.RequireBearerOrAPIKey(h.verifier, h.resolver)
	service := auth.RequireServiceToken(h.minter)

	r.Route("/terminals", func(r chi.Router) {
		r.With(bearer).Post("/", h.create)
		r.With(bearer).Get("/", h.list)

		r.Route("/{terminalID}", func(r chi.Router) {
			r.With(either).Get("/", h.get)
			r.With(bearer).Delete("/", h.delete)
			r.With(either).Patch("/description", h.patchDescription)
			r.With(either).Patch("/function_mode", h.patchFunctionMode)

			r.Group(func(r chi.Router) {
				r.Use(apiKey)
				r.Post("/sign-in", h.signIn)
				r.Post("/sign-out", h.signOut)
				r.Post("/open", h.open)
				r.Post("/close", h.close)
				r.Post("/cash-in", h.cashIn)
				r.Post("/cash-out", h.cashOut)
			})

			r.With(service).Post("/delivery-status", h.deliveryStatus)
		})
	})
}

type createTerminalRequest struct {
	StoreCode   string `json:"store_code"`
	TerminalNo  int    `json:"terminal_no"`
	Description string `json:"description,omitempty"`
}

func (h *TerminalHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.create", err)
		return
	}
	terminal, err := h.terminals.Create(ctx, services.CreateTerminalInput{
		TenantID:    requestctx.TenantID(ctx),
		StoreCode:   req.StoreCode,
		TerminalNo:  req.TerminalNo,
		Description: req.Description,
	})
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.create", err)
		return
	}
	// The API key is returned exactly once, on registration.
	httpx.WriteSuccess(w, http.StatusCreated, "terminal.create", map[string]any{
		"terminal": terminal,
		"api_key":  terminal.APIKey,
	})
}

func (h *TerminalHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := queryPage(r)
	terminals, total, err := h.terminals.List(ctx, requestctx.TenantID(ctx), page)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.list", err)
		return
	}
	httpx.WriteList(w, "terminal.list", terminals, httpx.Metadata{
		Total: total,
		Page:  page.Number,
		Limit: page.Limit,
	})
}

func (h *TerminalHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.get", err)
		return
	}
	terminal, err := h.terminals.Get(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.get", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.get", terminal)
}

func (h *TerminalHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.delete", err)
		return
	}
	if err := h.terminals.Delete(ctx, tenantID, storeCode, terminalNo); err != nil {
		httpx.WriteError(ctx, w, "terminal.delete", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.delete", nil)
}

type patchDescriptionRequest struct {
	Description string `json:"description"`
}

func (h *TerminalHandlers) patchDescription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.patch_description", err)
		return
	}
	var req patchDescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.patch_description", err)
		return
	}
	terminal, err := h.terminals.UpdateDescription(ctx, tenantID, storeCode, terminalNo, req.Description)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.patch_description", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.patch_description", terminal)
}

type patchFunctionModeRequest struct {
	FunctionMode domain.FunctionMode `json:"function_mode"`
}

func (h *TerminalHandlers) patchFunctionMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.patch_function_mode", err)
		return
	}
	var req patchFunctionModeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.patch_function_mode", err)
		return
	}
	terminal, err := h.terminals.UpdateFunctionMode(ctx, tenantID, storeCode, terminalNo, req.FunctionMode)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.patch_function_mode", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.patch_function_mode", terminal)
}

type signInRequest struct {
	StaffID string `json:"staff_id"`
}

func (h *TerminalHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.sign_in", err)
		return
	}
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.sign_in", err)
		return
	}
	terminal, err := h.terminals.SignIn(ctx, tenantID, storeCode, terminalNo, req.StaffID)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.sign_in", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.sign_in", terminal)
}

func (h *TerminalHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.sign_out", err)
		return
	}
	terminal, err := h.terminals.SignOut(ctx, tenantID, storeCode, terminalNo)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.sign_out", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.sign_out", terminal)
}

type openRequest struct {
	InitialAmount int64 `json:"initial_amount"`
}

func (h *TerminalHandlers) open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.open", err)
		return
	}
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.open", err)
		return
	}
	terminal, err := h.terminals.Open(ctx, tenantID, storeCode, terminalNo, req.InitialAmount)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.open", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.open", terminal)
}

type closeRequest struct {
	PhysicalAmount int64 `json:"physical_amount"`
}

func (h *TerminalHandlers) close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.close", err)
		return
	}
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.close", err)
		return
	}
	terminal, err := h.terminals.Close(ctx, tenantID, storeCode, terminalNo, req.PhysicalAmount)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.close", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.close", terminal)
}

type cashInOutRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (h *TerminalHandlers) cashIn(w http.ResponseWriter, r *http.Request) {
	h.cashInOut(w, r, "terminal.cash_in", false)
}

func (h *TerminalHandlers) cashOut(w http.ResponseWriter, r *http.Request) {
	h.cashInOut(w, r, "terminal.cash_out", true)
}

func (h *TerminalHandlers) cashInOut(w http.ResponseWriter, r *http.Request, operation string, out bool) {
	ctx := r.Context()
	tenantID, storeCode, terminalNo, err := h.resolveTarget(r)
	if err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	var req cashInOutRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, operation, apperrors.New(apperrors.KindValidation, "amount must be positive"))
		return
	}
	amount := req.Amount
	if out {
		amount = -amount
	}
	cashLog, err := h.terminals.CashInOut(ctx, tenantID, storeCode, terminalNo, amount, req.Description)
	if err != nil {
		httpx.WriteError(ctx, w, operation, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, operation, cashLog)
}

func (h *TerminalHandlers) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req services.DeliveryAckRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "terminal.delivery_status", err)
		return
	}
	received := req.Status == domain.DeliveryServiceReceived
	status, err := h.tracker.Ack(ctx, req.EventID, req.Service, received, req.Message)
	if err != nil {
		httpx.WriteError(ctx, w, "terminal.delivery_status", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "terminal.delivery_status", status)
}

// resolveTarget parses the path identifier and checks it against the caller's
// scope. Terminals may only address themselves; operators only their tenant.
func (h *TerminalHandlers) resolveTarget(r *http.Request) (string, string, int, error) {
	tenantID, storeCode, terminalNo, err := parseTerminalID(chi.URLParam(r, "terminalID"))
	if err != nil {
		return "", "", 0, err
	}
	principal, ok := requestctx.PrincipalFrom(r.Context())
	if !ok {
		return "", "", 0, apperrors.New(apperrors.KindTerminalNotSignedIn, "authentication required")
	}
	switch principal.Kind {
	case requestctx.PrincipalTenant:
		if principal.TenantID != tenantID {
			return "", "", 0, apperrors.New(apperrors.KindNotFound, "terminal not found")
		}
	case requestctx.PrincipalTerminal:
		if principal.TenantID != tenantID || principal.StoreCode != storeCode || principal.TerminalNo != terminalNo {
			return "", "", 0, apperrors.New(apperrors.KindNotFound, "terminal not found")
		}
	}
	return tenantID, storeCode, terminalNo, nil
}
