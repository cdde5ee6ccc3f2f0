package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/auth"
	"github.com/tenpo-pos/core/internal/platform/httpx"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
	"github.com/tenpo-pos/core/internal/repositories"
	"github.com/tenpo-pos/core/internal/services"
)

// StockHandlers exposes the inventory endpoints and the transaction event
// push subscription.
type StockHandlers struct {
	stocks   services.StockService
	verifier *auth.TokenVerifier
}

// NewStockHandlers constructs the stock handlers.
func NewStockHandlers(stocks services.StockService, verifier *auth.TokenVerifier) *StockHandlers {
	return &StockHandlers{stocks: stocks, verifier: verifier}
}

// Routes wires the stock endpoints onto the provided router.
func (h *StockHandlers) Routes(r chi.Router) {
	bearer := auth.RequireBearer(h.verifier)

	// Broker push endpoint; a failed response triggers redelivery, which the
	// event dedup absorbs.
	r.Post("/tranlog", h.consumeTranLog)

	r.Route("/tenants/{tenantID}/stores/{storeCode}/stocks", func(r chi.Router) {
		r.Use(bearer)
		r.Get("/", h.list)
		r.Get("/updates", h.listUpdates)
		r.Post("/snapshots", h.createSnapshot)
		r.Get("/snapshots", h.listSnapshots)
		r.Delete("/snapshots", h.pruneSnapshots)
		r.Route("/{itemCode}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/thresholds", h.setThresholds)
			r.Post("/amend", h.amend)
		})
	})
}

// pushEnvelope is the broker's push delivery wrapper.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (h *StockHandlers) consumeTranLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := pushPayload(r)
	if err != nil {
		httpx.WriteError(ctx, w, "stock.consume", err)
		return
	}
	var event services.TranLogEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		httpx.WriteError(ctx, w, "stock.consume",
			apperrors.Newf(apperrors.KindValidation, "invalid event payload: %v", err))
		return
	}
	if err := h.stocks.ApplyTransaction(ctx, event); err != nil {
		httpx.WriteError(ctx, w, "stock.consume", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "stock.consume", map[string]string{"event_id": event.EventID})
}

func (h *StockHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := queryPage(r)
	stocks, total, err := h.stocks.List(ctx, chi.URLParam(r, "tenantID"), chi.URLParam(r, "storeCode"), page)
	if err != nil {
		httpx.WriteError(ctx, w, "stock.list", err)
		return
	}
	httpx.WriteList(w, "stock.list", stocks, httpx.Metadata{
		Total: total,
		Page:  page.Number,
		Limit: page.Limit,
	})
}

func (h *StockHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stock, err := h.stocks.Get(ctx, chi.URLParam(r, "tenantID"), chi.URLParam(r, "storeCode"), chi.URLParam(r, "itemCode"))
	if err != nil {
		httpx.WriteError(ctx, w, "stock.get", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "stock.get", stock)
}

type thresholdsRequest struct {
	MinimumQuantity *int64 `json:"minimum_quantity,omitempty"`
	ReorderPoint    *int64 `json:"reorder_point,omitempty"`
	ReorderQuantity *int64 `json:"reorder_quantity,omitempty"`
}

func (h *StockHandlers) setThresholds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req thresholdsRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "stock.set_thresholds", err)
		return
	}
	stock, err := h.stocks.SetThresholds(ctx, domain.Stock{
		TenantID:        chi.URLParam(r, "tenantID"),
		StoreCode:       chi.URLParam(r, "storeCode"),
		ItemCode:        chi.URLParam(r, "itemCode"),
		MinimumQuantity: req.MinimumQuantity,
		ReorderPoint:    req.ReorderPoint,
		ReorderQuantity: req.ReorderQuantity,
	})
	if err != nil {
		httpx.WriteError(ctx, w, "stock.set_thresholds", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "stock.set_thresholds", stock)
}

type amendRequest struct {
	Quantity   int64                  `json:"quantity"`
	UpdateType domain.StockUpdateType `json:"update_type"`
	Note       string                 `json:"note,omitempty"`
}

func (h *StockHandlers) amend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req amendRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, "stock.amend", err)
		return
	}
	principal, _ := requestctx.PrincipalFrom(ctx)
	stock, err := h.stocks.Amend(ctx, services.AmendStockInput{
		TenantID:   chi.URLParam(r, "tenantID"),
		StoreCode:  chi.URLParam(r, "storeCode"),
		ItemCode:   chi.URLParam(r, "itemCode"),
		Quantity:   req.Quantity,
		UpdateType: req.UpdateType,
		OperatorID: principal.StaffID,
		Note:       req.Note,
	})
	if err != nil {
		httpx.WriteError(ctx, w, "stock.amend", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "stock.amend", stock)
}

func (h *StockHandlers) listUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := queryPage(r)
	filter := repositories.StockUpdateFilter{
		TenantID:  chi.URLParam(r, "tenantID"),
		StoreCode: chi.URLParam(r, "storeCode"),
		ItemCode:  r.URL.Query().Get("item_code"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, "stock.list_updates",
				apperrors.Newf(apperrors.KindValidation, "invalid since %q", raw))
			return
		}
		filter.Since = since
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, "stock.list_updates",
				apperrors.Newf(apperrors.KindValidation, "invalid until %q", raw))
			return
		}
		filter.Until = until
	}
	updates, total, err := h.stocks.ListUpdates(ctx, filter, page)
	if err != nil {
		httpx.WriteError(ctx, w, "stock.list_updates", err)
		return
	}
	httpx.WriteList(w, "stock.list_updates", updates, httpx.Metadata{
		Total: total,
		Page:  page.Number,
		Limit: page.Limit,
	})
}

func (h *StockHandlers) createSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := requestctx.PrincipalFrom(ctx)
	snapshot, err := h.stocks.CreateSnapshot(ctx, chi.URLParam(r, "tenantID"), chi.URLParam(r, "storeCode"), principal.StaffID)
	if err != nil {
		httpx.WriteError(ctx, w, "stock.create_snapshot", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, "stock.create_snapshot", snapshot)
}

func (h *StockHandlers) listSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := queryPage(r)
	snapshots, total, err := h.stocks.ListSnapshots(ctx, chi.URLParam(r, "tenantID"), chi.URLParam(r, "storeCode"), page)
	if err != nil {
		httpx.WriteError(ctx, w, "stock.list_snapshots", err)
		return
	}
	httpx.WriteList(w, "stock.list_snapshots", snapshots, httpx.Metadata{
		Total: total,
		Page:  page.Number,
		Limit: page.Limit,
	})
}

func (h *StockHandlers) pruneSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	retentionDays := 0
	if raw := r.URL.Query().Get("retention_days"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, "stock.prune_snapshots",
				apperrors.Newf(apperrors.KindValidation, "invalid retention_days %q", raw))
			return
		}
		retentionDays = value
	}
	deleted, err := h.stocks.PruneSnapshots(ctx, chi.URLParam(r, "tenantID"), retentionDays)
	if err != nil {
		httpx.WriteError(ctx, w, "stock.prune_snapshots", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "stock.prune_snapshots", map[string]int{"deleted": deleted})
}
