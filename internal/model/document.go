package model

import "time"

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	// StatusUploaded is the initial state of every document.
	StatusUploaded DocumentStatus = "uploaded"
	// StatusAccepted is a terminal state reached via the accept action.
	StatusAccepted DocumentStatus = "accepted"
	// StatusRejected is a terminal state reached via the reject action.
	StatusRejected DocumentStatus = "rejected"
)

// Valid reports whether s is a recognized status value.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is defined out of s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransitionTo reports whether the transition s -> next is defined.
// The only legal transitions are uploaded -> accepted and uploaded -> rejected.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	return s == StatusUploaded && next.Terminal()
}

// Document represents a file submitted for review.
// This is a pure domain model with no database-specific dependencies or tags.
// Everything except Status and UpdatedAt is immutable once the record is created;
// Status is mutated only through the transition service, never written directly.
type Document struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	FileName    string            `json:"file_name"`
	FileSize    int64             `json:"file_size"`
	FileType    string            `json:"file_type"`
	ContentHash string            `json:"content_hash"`
	StorageKey  string            `json:"storage_key"`
	Status      DocumentStatus    `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
