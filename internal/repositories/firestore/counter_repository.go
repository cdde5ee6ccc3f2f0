package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/domain"
	pfirestore "github.com/tenpo-pos/core/internal/platform/firestore"
	"github.com/tenpo-pos/core/internal/repositories"
)

const counterCollection = "counter_terminal"

type counterDocument struct {
	TerminalID string    `firestore:"terminalId"`
	Counter    string    `firestore:"counter"`
	Value      int64     `firestore:"value"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// CounterRepository issues per-terminal sequence numbers with a transactional
// read-increment-write, so concurrent callers never observe the same value.
type CounterRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[counterDocument](provider, counterCollection),
	}, nil
}

// Next atomically increments and returns the counter value. A missing counter
// starts at the range start (or 1 without bounds); a value past the range end
// wraps back to the start.
func (r *CounterRepository) Next(ctx context.Context, terminalID string, counter domain.CounterType, bounds *repositories.NumberRange) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	docID, err := counterDocID(terminalID, counter)
	if err != nil {
		return 0, err
	}
	if bounds != nil && bounds.End <= bounds.Start {
		return 0, fmt.Errorf("counter repository: invalid range [%d, %d]", bounds.Start, bounds.End)
	}

	ref, err := r.base.DocumentRef(ctx, docID)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunSession(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := counterDocument{
			TerminalID: terminalID,
			Counter:    string(counter),
		}

		snapshot, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snapshot.DataTo(&doc); err != nil {
				return err
			}
			doc.Value++
		case isNotFound(err):
			doc.Value = 1
			if bounds != nil {
				doc.Value = bounds.Start
			}
		default:
			return err
		}

		if bounds != nil && (doc.Value > bounds.End || doc.Value < bounds.Start) {
			doc.Value = bounds.Start
		}
		doc.UpdatedAt = time.Now().UTC()
		next = doc.Value
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Current returns the last issued value without incrementing. A counter that
// has never issued returns zero.
func (r *CounterRepository) Current(ctx context.Context, terminalID string, counter domain.CounterType) (int64, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("counter repository not initialised")
	}
	docID, err := counterDocID(terminalID, counter)
	if err != nil {
		return 0, err
	}

	doc, err := r.base.Get(ctx, docID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Data.Value, nil
}

func counterDocID(terminalID string, counter domain.CounterType) (string, error) {
	id := strings.TrimSpace(terminalID)
	if id == "" {
		return "", errors.New("counter repository: terminal id is required")
	}
	if counter == "" {
		return "", errors.New("counter repository: counter type is required")
	}
	return fmt.Sprintf("%s-%s", id, counter), nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if wrapped := pfirestore.WrapError("", err); errors.As(wrapped, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
