package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docvault/internal/model"
	"docvault/internal/repository"
)

// AuditPostgres is a PostgreSQL implementation of repository.AuditRepository.
// Rows are written once and never touched again; the schema revokes UPDATE and
// DELETE on the table as a second line of defense.
type AuditPostgres struct {
	db *sql.DB
}

// NewAuditPostgres creates a new AuditPostgres repository.
func NewAuditPostgres(db *sql.DB) *AuditPostgres {
	return &AuditPostgres{db: db}
}

var _ repository.AuditRepository = (*AuditPostgres)(nil)

const auditColumns = `id, document_id, actor_id, action, detail, origin_ip, user_agent, created_at`

// Append inserts one audit entry and returns the stored row.
func (r *AuditPostgres) Append(ctx context.Context, entry *model.AuditEntry) (*model.AuditEntry, error) {
	const q = `
		INSERT INTO audit_entries (id, document_id, actor_id, action, detail, origin_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + auditColumns

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return nil, fmt.Errorf("marshal detail: %w", err)
	}

	row := r.db.QueryRowContext(ctx, q,
		entry.ID,
		entry.DocumentID,
		entry.ActorID,
		entry.Action,
		detail,
		entry.OriginIP,
		entry.UserAgent,
		entry.CreatedAt,
	)
	return scanAuditEntry(row)
}

// ListByDocument returns a document's entries ordered by creation time.
func (r *AuditPostgres) ListByDocument(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	const q = `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE document_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanAuditEntry(row rowScanner) (*model.AuditEntry, error) {
	var (
		e      model.AuditEntry
		detail []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.DocumentID,
		&e.ActorID,
		&e.Action,
		&detail,
		&e.OriginIP,
		&e.UserAgent,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	return &e, nil
}
