package firestore

import (
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/tenpo-pos/core/internal/repositories"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// applyPage layers sort, offset and limit onto a query. Sort entries use the
// "field" or "field:desc" form.
func applyPage(query firestore.Query, page repositories.Page) firestore.Query {
	for _, sort := range page.Sort {
		field, direction := splitSort(sort)
		if field == "" {
			continue
		}
		query = query.OrderBy(field, direction)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page.Number > 1 {
		query = query.Offset((page.Number - 1) * limit)
	}
	return query.Limit(limit)
}

func splitSort(sort string) (string, firestore.Direction) {
	parts := strings.SplitN(strings.TrimSpace(sort), ":", 2)
	field := strings.TrimSpace(parts[0])
	direction := firestore.Asc
	if len(parts) == 2 && strings.EqualFold(strings.TrimSpace(parts[1]), "desc") {
		direction = firestore.Desc
	}
	return field, direction
}

// sessionQuery narrows a query to one terminal business session.
func sessionQuery(query firestore.Query, key repositories.SessionKey) firestore.Query {
	return query.
		Where("tenantId", "==", key.TenantID).
		Where("storeCode", "==", key.StoreCode).
		Where("terminalNo", "==", key.TerminalNo).
		Where("businessDate", "==", key.BusinessDate).
		Where("openCounter", "==", key.OpenCounter)
}
