package repository

import (
	"context"
	"time"

	"docvault/internal/model"
)

// DocumentRepository defines data access for document records using SQL queries only.
// No business logic here — strictly persistence operations.
type DocumentRepository interface {
	// Create inserts a new document record.
	// The caller provides all fields (ID, timestamps, status) up front.
	// Returns the stored document (may include values set by the DB).
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID. Absence is reported as sql.ErrNoRows.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// List returns a paginated list of documents and total rows count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)

	// UpdateStatus performs a compare-and-swap on a document's status: the row
	// is updated only if its current status equals from. It returns true when
	// the swap happened and false when no row matched (missing document or a
	// concurrent transition already moved the status).
	UpdateStatus(ctx context.Context, id string, from, to model.DocumentStatus, updatedAt time.Time) (bool, error)
}
