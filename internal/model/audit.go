package model

import (
	"fmt"
	"time"
)

// AuditAction is the kind of attributable action recorded in the ledger.
type AuditAction string

const (
	ActionUpload   AuditAction = "upload"
	ActionAccepted AuditAction = "accepted"
	ActionRejected AuditAction = "rejected"
)

// AuditDetail is the structured snapshot stored with each entry. It carries
// enough context to explain a transition without re-reading the document's
// current state, which may have moved on since the entry was written.
type AuditDetail struct {
	PreviousStatus DocumentStatus `json:"previous_status,omitempty"`
	NewStatus      DocumentStatus `json:"new_status,omitempty"`
	FileName       string         `json:"file_name,omitempty"`
	FileSize       int64          `json:"file_size,omitempty"`
	ContentHash    string         `json:"content_hash,omitempty"`
	StorageKey     string         `json:"storage_key,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// AuditEntry is one immutable, timestamped record of an action against a
// document. Entries are append-only: never updated, never deleted.
type AuditEntry struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	ActorID    string      `json:"actor_id"`
	Action     AuditAction `json:"action"`
	Detail     AuditDetail `json:"detail"`
	OriginIP   string      `json:"origin_ip,omitempty"`
	UserAgent  string      `json:"user_agent,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ReplayStatus folds a document's audit entries, in append order, into the
// status they imply. The first entry must be an upload; every later entry must
// describe a transition that is legal from the status reached so far.
func ReplayStatus(entries []AuditEntry) (DocumentStatus, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("empty ledger")
	}
	if entries[0].Action != ActionUpload {
		return "", fmt.Errorf("ledger does not start with an upload entry, got %q", entries[0].Action)
	}
	status := StatusUploaded
	for _, e := range entries[1:] {
		var next DocumentStatus
		switch e.Action {
		case ActionAccepted:
			next = StatusAccepted
		case ActionRejected:
			next = StatusRejected
		default:
			return "", fmt.Errorf("unexpected ledger action %q", e.Action)
		}
		if !status.CanTransitionTo(next) {
			return "", fmt.Errorf("illegal ledger transition %s -> %s", status, next)
		}
		status = next
	}
	return status, nil
}
