package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/httpx"
	"github.com/tenpo-pos/core/internal/services"
)

// ConsumerHandlers exposes the report service's broker push endpoints.
type ConsumerHandlers struct {
	consumer services.ReportConsumer
}

// NewConsumerHandlers constructs the consumer handlers.
func NewConsumerHandlers(consumer services.ReportConsumer) *ConsumerHandlers {
	return &ConsumerHandlers{consumer: consumer}
}

// Routes wires the push endpoints onto the provided router.
func (h *ConsumerHandlers) Routes(r chi.Router) {
	r.Post("/tranlog", h.consumeTranLog)
	r.Post("/cashlog", h.consumeTerminalLog)
	r.Post("/openclose", h.consumeTerminalLog)
}

func (h *ConsumerHandlers) consumeTranLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := pushPayload(r)
	if err != nil {
		httpx.WriteError(ctx, w, "report.consume", err)
		return
	}
	var event services.TranLogEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		httpx.WriteError(ctx, w, "report.consume",
			apperrors.Newf(apperrors.KindValidation, "invalid event payload: %v", err))
		return
	}
	if err := h.consumer.ConsumeTransaction(ctx, event); err != nil {
		httpx.WriteError(ctx, w, "report.consume", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "report.consume", map[string]string{"event_id": event.EventID})
}

func (h *ConsumerHandlers) consumeTerminalLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := pushPayload(r)
	if err != nil {
		httpx.WriteError(ctx, w, "report.consume", err)
		return
	}
	var event services.TerminalLogEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		httpx.WriteError(ctx, w, "report.consume",
			apperrors.Newf(apperrors.KindValidation, "invalid event payload: %v", err))
		return
	}
	if err := h.consumer.ConsumeTerminalLog(ctx, event); err != nil {
		httpx.WriteError(ctx, w, "report.consume", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "report.consume", map[string]string{"event_id": event.EventID})
}

// pushPayload unwraps a broker push delivery down to the event bytes.
func pushPayload(r *http.Request) ([]byte, error) {
	var envelope pushEnvelope
	if err := decodeJSON(r, &envelope); err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "message data is not base64")
	}
	return payload, nil
}
