package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/auth"
)

// TerminalLogEvent carries the identity of a cash or open/close log event.
// The full log document rides along in the payload but the consumer only
// needs the addressing fields to acknowledge it.
type TerminalLogEvent struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	TenantID   string `json:"tenant_id"`
	StoreCode  string `json:"store_code"`
	TerminalNo int    `json:"terminal_no"`
}

// TerminalAckNotifier acknowledges a terminal-originated event (cash in/out,
// open, close) back to the terminal service.
type TerminalAckNotifier interface {
	Ack(ctx context.Context, tenantID, storeCode string, terminalNo int, eventID string, status domain.DeliveryServiceState) error
}

// ReportConsumer receives pushed transaction and terminal log events on
// behalf of the report service. Aggregation reads the shared log store
// directly, so consumption amounts to acknowledging receipt; the ACK is what
// closes the delivery loop on the producer side.
type ReportConsumer interface {
	ConsumeTransaction(ctx context.Context, event TranLogEvent) error
	ConsumeTerminalLog(ctx context.Context, event TerminalLogEvent) error
}

type reportConsumer struct {
	tranAcks     AckNotifier
	terminalAcks TerminalAckNotifier
	log          Logger
}

// NewReportConsumer constructs the report-side event consumer.
func NewReportConsumer(tranAcks AckNotifier, terminalAcks TerminalAckNotifier, log Logger) (ReportConsumer, error) {
	switch {
	case tranAcks == nil:
		return nil, errors.New("report consumer: transaction ack notifier is required")
	case terminalAcks == nil:
		return nil, errors.New("report consumer: terminal ack notifier is required")
	}
	if log == nil {
		log = nopLogger
	}
	return &reportConsumer{tranAcks: tranAcks, terminalAcks: terminalAcks, log: log}, nil
}

func (c *reportConsumer) ConsumeTransaction(ctx context.Context, event TranLogEvent) error {
	if event.EventID == "" {
		return apperrors.New(apperrors.KindValidation, "event_id is required")
	}
	if err := c.tranAcks.Ack(ctx, event.TranLog, event.EventID, domain.DeliveryServiceReceived); err != nil {
		// A lost ACK only delays the producer's sweep; the redelivery is
		// harmless because the logs are already durable.
		c.log(ctx, "report.ack_failed", map[string]any{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
	return nil
}

func (c *reportConsumer) ConsumeTerminalLog(ctx context.Context, event TerminalLogEvent) error {
	if event.EventID == "" {
		return apperrors.New(apperrors.KindValidation, "event_id is required")
	}
	err := c.terminalAcks.Ack(ctx, event.TenantID, event.StoreCode, event.TerminalNo, event.EventID, domain.DeliveryServiceReceived)
	if err != nil {
		c.log(ctx, "report.ack_failed", map[string]any{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
	return nil
}

// httpTerminalAckNotifier posts terminal log ACKs to the terminal service's
// delivery-status endpoint with a service token.
type httpTerminalAckNotifier struct {
	baseURL string
	client  *http.Client
	minter  *auth.ServiceTokenMinter
	service string
}

// NewTerminalAckNotifier builds the HTTP ACK notifier for terminal events.
func NewTerminalAckNotifier(baseURL string, client *http.Client, minter *auth.ServiceTokenMinter, service string) (TerminalAckNotifier, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("terminal ack notifier: base url is required")
	}
	if minter == nil {
		return nil, errors.New("terminal ack notifier: token minter is required")
	}
	if strings.TrimSpace(service) == "" {
		return nil, errors.New("terminal ack notifier: service name is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpTerminalAckNotifier{
		baseURL: trimmed,
		client:  client,
		minter:  minter,
		service: service,
	}, nil
}

func (n *httpTerminalAckNotifier) Ack(ctx context.Context, tenantID, storeCode string, terminalNo int, eventID string, status domain.DeliveryServiceState) error {
	body, err := json.Marshal(DeliveryAckRequest{
		EventID: eventID,
		Service: n.service,
		Status:  status,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "encode delivery ack", err)
	}

	url := fmt.Sprintf("%s/terminals/%s-%s-%d/delivery-status", n.baseURL, tenantID, storeCode, terminalNo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "build delivery ack request", err)
	}

	token, err := n.minter.Mint(n.service)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "mint service token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindExternalService, "post delivery ack", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Newf(apperrors.KindExternalService, "delivery ack endpoint returned %d", resp.StatusCode)
	}
	return nil
}
