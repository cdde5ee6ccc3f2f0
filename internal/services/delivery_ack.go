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

// DeliveryAckRequest is the wire form of a consumer ACK callback.
type DeliveryAckRequest struct {
	EventID string                      `json:"event_id"`
	Service string                      `json:"service"`
	Status  domain.DeliveryServiceState `json:"status"`
	Message string                      `json:"message,omitempty"`
}

// httpAckNotifier posts consumption ACKs to the producing service's
// delivery-status endpoint with a service token.
type httpAckNotifier struct {
	baseURL string
	client  *http.Client
	minter  *auth.ServiceTokenMinter
	service string
}

// NewAckNotifier builds the HTTP ACK notifier. service names the consumer
// acknowledging, e.g. "stock".
func NewAckNotifier(baseURL string, client *http.Client, minter *auth.ServiceTokenMinter, service string) (AckNotifier, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("ack notifier: base url is required")
	}
	if minter == nil {
		return nil, errors.New("ack notifier: token minter is required")
	}
	if strings.TrimSpace(service) == "" {
		return nil, errors.New("ack notifier: service name is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpAckNotifier{
		baseURL: trimmed,
		client:  client,
		minter:  minter,
		service: service,
	}, nil
}

func (n *httpAckNotifier) Ack(ctx context.Context, tran domain.TranLog, eventID string, status domain.DeliveryServiceState) error {
	body, err := json.Marshal(DeliveryAckRequest{
		EventID: eventID,
		Service: n.service,
		Status:  status,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "encode delivery ack", err)
	}

	url := fmt.Sprintf("%s/tenants/%s/stores/%s/terminals/%d/transactions/%d/delivery-status",
		n.baseURL, tran.TenantID, tran.StoreCode, tran.TerminalNo, tran.TransactionNo)
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
