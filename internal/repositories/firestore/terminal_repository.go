package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

const terminalCollection = "info_terminals"

// TerminalRepository persists the terminal registry in Firestore.
type TerminalRepository struct {
	base *pfirestore.BaseRepository[domain.Terminal]
}

// NewTerminalRepository constructs a Firestore-backed terminal repository.
func NewTerminalRepository(provider *pfirestore.Provider) (*TerminalRepository, error) {
	if provider == nil {
		return nil, errors.New("terminal repository requires firestore provider")
	}
	return &TerminalRepository{
		base: pfirestore.NewBaseRepository[domain.Terminal](provider, terminalCollection),
	}, nil
}

// Create registers a terminal, failing when the derived ID already exists.
func (r *TerminalRepository) Create(ctx context.Context, terminal domain.Terminal) error {
	if r == nil || r.base == nil {
		return errors.New("terminal repository not initialised")
	}
	_, err := r.base.Create(ctx, terminal.ID(), terminal)
	return err
}

// Get fetches one terminal by its domain key.
func (r *TerminalRepository) Get(ctx context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error) {
	if r == nil || r.base == nil {
		return domain.Terminal{}, errors.New("terminal repository not initialised")
	}
	doc, err := r.base.Get(ctx, domain.TerminalID(tenantID, storeCode, terminalNo))
	if err != nil {
		return domain.Terminal{}, err
	}
	return doc.Data, nil
}

// Update overwrites the terminal document.
func (r *TerminalRepository) Update(ctx context.Context, terminal domain.Terminal) error {
	if r == nil || r.base == nil {
		return errors.New("terminal repository not initialised")
	}
	_, err := r.base.Set(ctx, terminal.ID(), terminal)
	return err
}

// Delete removes the terminal document.
func (r *TerminalRepository) Delete(ctx context.Context, tenantID, storeCode string, terminalNo int) error {
	if r == nil || r.base == nil {
		return errors.New("terminal repository not initialised")
	}
	return r.base.Delete(ctx, domain.TerminalID(tenantID, storeCode, terminalNo))
}

// List pages through the tenant's terminals ordered by store and number.
func (r *TerminalRepository) List(ctx context.Context, tenantID string, page repositories.Page) ([]domain.Terminal, int64, error) {
	if r == nil || r.base == nil {
		return nil, 0, errors.New("terminal repository not initialised")
	}

	total, err := r.base.Count(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID)
	})
	if err != nil {
		return nil, 0, err
	}

	if len(page.Sort) == 0 {
		page.Sort = []string{"storeCode", "terminalNo"}
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyPage(q.Where("tenantId", "==", tenantID), page)
	})
	if err != nil {
		return nil, 0, err
	}

	terminals := make([]domain.Terminal, 0, len(docs))
	for _, doc := range docs {
		terminals = append(terminals, doc.Data)
	}
	return terminals, total, nil
}

// FindByAPIKey resolves the terminal owning the given API key.
func (r *TerminalRepository) FindByAPIKey(ctx context.Context, apiKey string) (domain.Terminal, error) {
	if r == nil || r.base == nil {
		return domain.Terminal{}, errors.New("terminal repository not initialised")
	}
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return domain.Terminal{}, pfirestore.NotFoundError("info_terminals.find", errors.New("api key is empty"))
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("apiKey", "==", key).Limit(1)
	})
	if err != nil {
		return domain.Terminal{}, err
	}
	if len(docs) == 0 {
		return domain.Terminal{}, pfirestore.NotFoundError("info_terminals.find", fmt.Errorf("no terminal for api key"))
	}
	return docs[0].Data, nil
}
