package repository

import (
	"context"

	"docvault/internal/model"
)

// AuditRepository is the append-only ledger of attributable actions.
// There is deliberately no update or delete operation.
type AuditRepository interface {
	// Append writes one audit entry and returns the stored row.
	Append(ctx context.Context, entry *model.AuditEntry) (*model.AuditEntry, error)

	// ListByDocument returns a document's entries in append order.
	ListByDocument(ctx context.Context, documentID string) ([]model.AuditEntry, error)
}
