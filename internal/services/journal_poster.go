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

// JournalEntryRequest is the wire form of a report posted to the journal.
type JournalEntryRequest struct {
	TransactionType domain.TransactionType `json:"transaction_type"`
	Report          domain.SalesReport     `json:"report"`
}

// httpJournalPoster posts terminal-initiated reports to the cart service's
// journal endpoint with a freshly minted service token.
type httpJournalPoster struct {
	baseURL string
	client  *http.Client
	minter  *auth.ServiceTokenMinter
	service string
}

// NewJournalPoster builds the HTTP journal poster.
func NewJournalPoster(baseURL string, client *http.Client, minter *auth.ServiceTokenMinter) (JournalPoster, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("journal poster: base url is required")
	}
	if minter == nil {
		return nil, errors.New("journal poster: token minter is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpJournalPoster{
		baseURL: trimmed,
		client:  client,
		minter:  minter,
		service: domain.ServiceReport,
	}, nil
}

func (p *httpJournalPoster) PostReport(ctx context.Context, report domain.SalesReport, tranType domain.TransactionType) error {
	if report.TerminalNo == nil {
		return apperrors.New(apperrors.KindValidation, "journal posting requires a terminal-scoped report")
	}

	body, err := json.Marshal(JournalEntryRequest{TransactionType: tranType, Report: report})
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "encode journal entry", err)
	}

	url := fmt.Sprintf("%s/tenants/%s/stores/%s/terminals/%d/journals",
		p.baseURL, report.TenantID, report.StoreCode, *report.TerminalNo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "build journal request", err)
	}

	token, err := p.minter.Mint(p.service)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystem, "mint service token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindExternalService, "post journal entry", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Newf(apperrors.KindExternalService, "journal endpoint returned %d", resp.StatusCode)
	}
	return nil
}
