package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/auth"
	"github.com/tenpo-pos/core/internal/platform/httpx"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
	"github.com/tenpo-pos/core/internal/services"
)

// ReportHandlers exposes the flash and daily report endpoints.
type ReportHandlers struct {
	reports  services.ReportService
	verifier *auth.TokenVerifier
	resolver auth.TerminalResolver
}

// NewReportHandlers constructs the report handlers.
func NewReportHandlers(reports services.ReportService, verifier *auth.TokenVerifier, resolver auth.TerminalResolver) *ReportHandlers {
	return &ReportHandlers{
		reports:  reports,
		verifier: verifier,
		resolver: resolver,
	}
}

// Routes wires the report endpoints onto the provided router.
func (h *ReportHandlers) Routes(r chi.Router) {
	either := auth.RequireBearerOrAPIKey(h.verifier, h.resolver)
	r.With(either).Get("/tenants/{tenantID}/stores/{storeCode}/reports", h.storeReport)
	r.With(either).Get("/tenants/{tenantID}/stores/{storeCode}/terminals/{terminalNo}/reports", h.terminalReport)
}

func (h *ReportHandlers) storeReport(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, false)
}

func (h *ReportHandlers) terminalReport(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, true)
}

func (h *ReportHandlers) generate(w http.ResponseWriter, r *http.Request, terminalScoped bool) {
	ctx := r.Context()
	query, err := reportQuery(r, terminalScoped)
	if err != nil {
		httpx.WriteError(ctx, w, "report.generate", err)
		return
	}
	report, err := h.reports.Generate(ctx, query)
	if err != nil {
		httpx.WriteError(ctx, w, "report.generate", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "report.generate", report)
}

func reportQuery(r *http.Request, terminalScoped bool) (services.ReportQuery, error) {
	values := r.URL.Query()
	query := services.ReportQuery{
		TenantID:       chi.URLParam(r, "tenantID"),
		StoreCode:      chi.URLParam(r, "storeCode"),
		BusinessDate:   values.Get("business_date"),
		BusinessDateTo: values.Get("business_date_to"),
		ReportScope:    values.Get("report_scope"),
		ReportType:     values.Get("report_type"),
	}
	if query.ReportType == "" {
		query.ReportType = "sales"
	}

	if terminalScoped {
		terminalNo, err := urlInt(r, "terminalNo")
		if err != nil {
			return services.ReportQuery{}, err
		}
		query.TerminalNo = &terminalNo
	}
	if raw := values.Get("open_counter"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return services.ReportQuery{}, apperrors.Newf(apperrors.KindValidation, "invalid open_counter %q", raw)
		}
		query.OpenCounter = &value
	}

	if principal, ok := requestctx.PrincipalFrom(r.Context()); ok {
		query.FromTerminal = principal.Kind == requestctx.PrincipalTerminal
	}
	return query, nil
}
