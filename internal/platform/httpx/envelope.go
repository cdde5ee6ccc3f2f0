package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
)

// Envelope is the uniform response body returned by every core endpoint.
type Envelope struct {
	Success   bool                 `json:"success"`
	Code      string               `json:"code"`
	Message   string               `json:"message"`
	Data      any                  `json:"data,omitempty"`
	Metadata  *Metadata            `json:"metadata,omitempty"`
	UserError *apperrors.UserError `json:"user_error,omitempty"`
	Operation string               `json:"operation"`
}

// Metadata carries pagination details for list responses.
type Metadata struct {
	Total  int64  `json:"total"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Sort   string `json:"sort,omitempty"`
	Filter any    `json:"filter,omitempty"`
}

// WriteSuccess writes a success envelope with the provided payload.
func WriteSuccess(w http.ResponseWriter, status int, operation string, data any) {
	writeEnvelope(w, status, Envelope{
		Success:   true,
		Code:      "success",
		Message:   "success",
		Data:      data,
		Operation: operation,
	})
}

// WriteList writes a success envelope including pagination metadata.
func WriteList(w http.ResponseWriter, operation string, data any, meta Metadata) {
	writeEnvelope(w, http.StatusOK, Envelope{
		Success:   true,
		Code:      "success",
		Message:   "success",
		Data:      data,
		Metadata:  &meta,
		Operation: operation,
	})
}

// WriteError translates the error chain into the failure envelope. Typed
// application errors keep their kind, status, and user error; anything else is
// reported as UNEXPECTED_ERROR without leaking internals, with the detail
// logged through the request logger instead.
func WriteError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.StatusOf(err)

	message := "unexpected error"
	var userError *apperrors.UserError
	if appErr, ok := asAppError(err); ok {
		message = sanitize(appErr.Message, 512)
		userError = appErr.UserError
	} else {
		requestctx.Logger(ctx).Error("request failed with untyped error",
			zap.String("operation", operation),
			zap.Error(err),
		)
	}

	writeEnvelope(w, status, Envelope{
		Success:   false,
		Code:      string(kind),
		Message:   message,
		UserError: userError,
		Operation: operation,
	})
}

func asAppError(err error) (*apperrors.Error, bool) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func writeEnvelope(w http.ResponseWriter, status int, envelope Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
