package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
	"github.com/tenpo-pos/core/internal/repositories"
)

const maxBodySize = 256 * 1024

// decodeJSON reads a size-capped JSON body into dst, rejecting unknown
// fields.
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodySize)
	defer io.Copy(io.Discard, body)

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.New(apperrors.KindValidation, "request body too large")
		}
		return apperrors.Newf(apperrors.KindValidation, "invalid request body: %v", err)
	}
	return nil
}

// parseTerminalID splits a "{tenant}-{store}-{no}" path identifier.
func parseTerminalID(id string) (tenantID, storeCode string, terminalNo int, err error) {
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return "", "", 0, apperrors.Newf(apperrors.KindValidation, "invalid terminal id %q", id)
	}
	no, convErr := strconv.Atoi(parts[len(parts)-1])
	if convErr != nil || no <= 0 {
		return "", "", 0, apperrors.Newf(apperrors.KindValidation, "invalid terminal id %q", id)
	}
	tenantID = parts[0]
	storeCode = strings.Join(parts[1:len(parts)-1], "-")
	return tenantID, storeCode, no, nil
}

// urlInt reads an integer URL parameter.
func urlInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Newf(apperrors.KindValidation, "invalid %s %q", name, raw)
	}
	return value, nil
}

// urlInt64 reads a 64-bit integer URL parameter.
func urlInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Newf(apperrors.KindValidation, "invalid %s %q", name, raw)
	}
	return value, nil
}

// queryPage builds pagination from ?page=&limit=&sort= parameters.
func queryPage(r *http.Request) repositories.Page {
	page := repositories.Page{}
	if raw := r.URL.Query().Get("page"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			page.Number = value
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			page.Limit = value
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("sort")); raw != "" {
		page.Sort = strings.Split(raw, ",")
	}
	return page
}

// terminalPrincipal extracts the API-key terminal identity from context.
func terminalPrincipal(r *http.Request) (domain.Terminal, error) {
	principal, ok := requestctx.PrincipalFrom(r.Context())
	if !ok || principal.Kind != requestctx.PrincipalTerminal {
		return domain.Terminal{}, apperrors.New(apperrors.KindTerminalNotSignedIn, "terminal api key required")
	}
	return domain.Terminal{
		TenantID:   principal.TenantID,
		StoreCode:  principal.StoreCode,
		TerminalNo: principal.TerminalNo,
	}, nil
}
