package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var envelope Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestWriteSuccess(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteSuccess(rec, http.StatusCreated, "cart_create", map[string]string{"cart_id": "c1"})

	require.Equal(t, http.StatusCreated, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.True(t, envelope.Success)
	require.Equal(t, "success", envelope.Code)
	require.Equal(t, "cart_create", envelope.Operation)
	require.NotNil(t, envelope.Data)
}

func TestWriteList(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteList(rec, "stock_list", []string{"A001"}, Metadata{Total: 12, Page: 2, Limit: 10})

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.True(t, envelope.Success)
	require.NotNil(t, envelope.Metadata)
	require.Equal(t, int64(12), envelope.Metadata.Total)
	require.Equal(t, 2, envelope.Metadata.Page)
}

func TestWriteErrorTypedFailure(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	err := apperrors.New(apperrors.KindBalanceMinus, "balance is negative").
		WithUser("E0021", "お預かり金額が不足しています")
	WriteError(context.Background(), rec, "cart_bill", err)

	require.Equal(t, http.StatusNotAcceptable, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.False(t, envelope.Success)
	require.Equal(t, string(apperrors.KindBalanceMinus), envelope.Code)
	require.Equal(t, "balance is negative", envelope.Message)
	require.NotNil(t, envelope.UserError)
	require.Equal(t, "E0021", envelope.UserError.Code)
}

func TestWriteErrorHidesUntypedDetails(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, "cart_bill", errors.New("pq: connection refused at 10.0.0.5"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.Equal(t, string(apperrors.KindUnexpected), envelope.Code)
	require.Equal(t, "unexpected error", envelope.Message)
	require.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestWriteErrorLogsUntypedError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	ctx := requestctx.WithLogger(context.Background(), zap.New(core))

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, "cart_bill", errors.New("pq: connection refused at 10.0.0.5"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "request failed with untyped error", entry.Message)
	fields := entry.ContextMap()
	require.Equal(t, "cart_bill", fields["operation"])
	require.Contains(t, fields["error"], "connection refused")
}

func TestWriteErrorDoesNotLogTypedError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	ctx := requestctx.WithLogger(context.Background(), zap.New(core))

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, "cart_bill", apperrors.New(apperrors.KindValidation, "quantity must be positive"))

	require.Equal(t, 0, logs.Len())
}

func TestWriteErrorSanitisesMessage(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, "cart_bill",
		apperrors.New(apperrors.KindValidation, "line one\nline two\r\n  padded  "))

	envelope := decodeEnvelope(t, rec)
	require.NotContains(t, envelope.Message, "\n")
	require.NotContains(t, envelope.Message, "\r")
	require.Equal(t, "line one line two    padded", envelope.Message)
}
