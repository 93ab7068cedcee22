package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"docvault/internal/integrity"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
)

var (
	ErrActorRequired         = errors.New("actor identity is required")
	ErrIDRequired            = errors.New("id is required")
	ErrNotFound              = errors.New("document not found")
	ErrEmptyFile             = errors.New("file content is empty")
	ErrFileTooLarge          = errors.New("file exceeds the maximum allowed size")
	ErrFileTypeNotAllowed    = errors.New("file type is not allowed")
	ErrInvalidAction         = errors.New("unrecognized transition action")
	ErrConflictingTransition = errors.New("conflicting transition")
	ErrStorageUpload         = errors.New("storage upload failed")
	ErrRecordCreation        = errors.New("record creation failed")
	ErrTimeout               = errors.New("operation timed out")
)

// Recognized transition actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

const (
	defaultRejectReason = "no reason provided"
	downloadURLExpiry   = 15 * time.Minute
)

// Provenance is optional request-origin context recorded with audit entries
// for forensic reconstruction. It never participates in attribution.
type Provenance struct {
	OriginIP  string
	UserAgent string
}

// Policy bounds what Submit accepts and how long external calls may take.
// An empty AllowedTypes list accepts any file type; a zero OpTimeout leaves
// external calls bounded only by the caller's context.
type Policy struct {
	MaxFileSizeBytes int64
	AllowedTypes     []string
	OpTimeout        time.Duration
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// DocumentService defines the use cases for handling documents. The actor on
// every state-changing operation must be an identity produced by the auth
// gate; identities are never taken from request payloads.
type DocumentService interface {
	// Submit uploads the original bytes to object storage, fingerprints them,
	// creates the document record in the uploaded state and appends an upload
	// audit entry.
	Submit(ctx context.Context, actor *model.Identity, content []byte, fileName, fileType string, metadata map[string]string, prov Provenance) (*model.Document, error)

	// Apply moves a document through the review state machine
	// (uploaded -> accepted | rejected) and appends the matching audit entry.
	// Re-applying the action a document already ended in is a no-op success;
	// any other transition out of a terminal state fails.
	Apply(ctx context.Context, actor *model.Identity, documentID, action, reason string, prov Provenance) (*model.Document, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id string) (*model.Document, error)

	// List returns documents using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*DocumentListResult, error)

	// AuditTrail returns a document's ledger entries in append order.
	AuditTrail(ctx context.Context, documentID string) ([]model.AuditEntry, error)

	// DownloadURL returns a time-limited presigned URL for the stored bytes.
	DownloadURL(ctx context.Context, id string) (string, error)
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store      storage.Storage
	docs       repository.DocumentRepository
	audit      repository.AuditRepository
	policy     Policy
	allowed    map[string]struct{}
	ledgerGaps *prometheus.CounterVec
}

// NewDocumentService constructs a new DocumentService. reg may be nil when no
// metrics registry is wired (tests); ledger-gap warnings are still logged.
func NewDocumentService(store storage.Storage, docs repository.DocumentRepository, audit repository.AuditRepository, policy Policy, reg prometheus.Registerer) DocumentService {
	allowed := make(map[string]struct{}, len(policy.AllowedTypes))
	for _, t := range policy.AllowedTypes {
		allowed[strings.ToLower(t)] = struct{}{}
	}

	gaps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_audit_write_failures_total",
			Help: "Audit entries that could not be appended after their state change was persisted.",
		},
		[]string{"action"},
	)
	if reg != nil {
		reg.MustRegister(gaps)
	}

	return &documentService{
		store:      store,
		docs:       docs,
		audit:      audit,
		policy:     policy,
		allowed:    allowed,
		ledgerGaps: gaps,
	}
}

func (s *documentService) Submit(ctx context.Context, actor *model.Identity, content []byte, fileName, fileType string, metadata map[string]string, prov Provenance) (*model.Document, error) {
	if actor == nil || actor.CustomID == "" {
		return nil, ErrActorRequired
	}
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	if s.policy.MaxFileSizeBytes > 0 && int64(len(content)) > s.policy.MaxFileSizeBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(content), s.policy.MaxFileSizeBytes)
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[strings.ToLower(fileType)]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrFileTypeNotAllowed, fileType)
		}
	}

	now := time.Now().UTC()
	key := deriveStorageKey(actor.CustomID, fileName, now)

	// Fingerprint the original bytes before the store sees them; the hash must
	// never be computed over a transformed or re-encoded copy.
	hash := integrity.Fingerprint(content)

	putCtx, cancel := s.bounded(ctx)
	defer cancel()
	_, err := s.store.Put(putCtx, key, bytes.NewReader(content), storage.PutObjectOptions{
		Size:        int64(len(content)),
		ContentType: fileType,
		Metadata: map[string]string{
			"original-filename": fileName,
		},
	})
	if err != nil {
		return nil, s.infraError(ErrStorageUpload, "storage upload", err)
	}

	doc := &model.Document{
		ID:          uuid.New().String(),
		OwnerID:     actor.CustomID,
		FileName:    fileName,
		FileSize:    int64(len(content)),
		FileType:    fileType,
		ContentHash: hash,
		StorageKey:  key,
		Status:      model.StatusUploaded,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	createCtx, cancelCreate := s.bounded(ctx)
	defer cancelCreate()
	stored, err := s.docs.Create(createCtx, doc)
	if err != nil {
		// Roll back the blob so no unreferenced object lingers. If the rollback
		// also fails, report the orphaned key for manual reconciliation; the
		// external store cannot be rolled back transactionally.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logIntegrity(map[string]any{
				"event":       "orphaned_blob",
				"storage_key": key,
				"actor_id":    actor.CustomID,
				"error":       delErr.Error(),
			})
			return nil, fmt.Errorf("%w: %v; rollback delete failed: %v", ErrRecordCreation, err, delErr)
		}
		return nil, s.infraError(ErrRecordCreation, "record create", err)
	}

	// A failed append here is the one tolerated inconsistency: the document is
	// real and must not be rolled back for a ledger-write failure.
	s.appendAudit(ctx, &model.AuditEntry{
		ID:         uuid.New().String(),
		DocumentID: stored.ID,
		ActorID:    actor.CustomID,
		Action:     model.ActionUpload,
		Detail: model.AuditDetail{
			NewStatus:   model.StatusUploaded,
			FileName:    fileName,
			FileSize:    int64(len(content)),
			ContentHash: hash,
			StorageKey:  key,
		},
		OriginIP:  prov.OriginIP,
		UserAgent: prov.UserAgent,
		CreatedAt: time.Now().UTC(),
	})

	return stored, nil
}

// Apply advances the document state machine. Any verified identity may review:
// restricting transitions to a designated recipient is a policy this core
// deliberately does not impose.
func (s *documentService) Apply(ctx context.Context, actor *model.Identity, documentID, action, reason string, prov Provenance) (*model.Document, error) {
	if actor == nil || actor.CustomID == "" {
		return nil, ErrActorRequired
	}
	if documentID == "" {
		return nil, ErrIDRequired
	}

	var (
		target model.DocumentStatus
		kind   model.AuditAction
	)
	switch action {
	case ActionAccept:
		target, kind = model.StatusAccepted, model.ActionAccepted
		reason = ""
	case ActionReject:
		target, kind = model.StatusRejected, model.ActionRejected
		if reason == "" {
			reason = defaultRejectReason
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	findCtx, cancelFind := s.bounded(ctx)
	defer cancelFind()
	doc, err := s.docs.FindByID(findCtx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Idempotent replay: the requested terminal state was already reached, so
	// nothing is written and no duplicate ledger entry appears.
	if doc.Status == target {
		return doc, nil
	}
	if !doc.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConflictingTransition, doc.Status, target)
	}

	now := time.Now().UTC()
	swapCtx, cancelSwap := s.bounded(ctx)
	defer cancelSwap()
	swapped, err := s.docs.UpdateStatus(swapCtx, doc.ID, doc.Status, target, now)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: status update", ErrTimeout)
		}
		return nil, fmt.Errorf("status update: %w", err)
	}
	if !swapped {
		// Lost the race: a concurrent transition moved the status first.
		readCtx, cancelRead := s.bounded(ctx)
		defer cancelRead()
		current, err := s.docs.FindByID(readCtx, doc.ID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: re-read after lost swap", ErrTimeout)
			}
			return nil, fmt.Errorf("re-read after lost swap: %w", err)
		}
		if current.Status == target {
			return current, nil
		}
		return nil, fmt.Errorf("%w: status is now %s", ErrConflictingTransition, current.Status)
	}

	updated := *doc
	updated.Status = target
	updated.UpdatedAt = now

	// Status write is durable at this point; the append must follow, never
	// precede, and is retried and reported rather than silently dropped.
	s.appendAudit(ctx, &model.AuditEntry{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		ActorID:    actor.CustomID,
		Action:     kind,
		Detail: model.AuditDetail{
			PreviousStatus: doc.Status,
			NewStatus:      target,
			FileName:       doc.FileName,
			ContentHash:    doc.ContentHash,
			Reason:         reason,
		},
		OriginIP:  prov.OriginIP,
		UserAgent: prov.UserAgent,
		CreatedAt: now,
	})

	return &updated, nil
}

// Get returns a document by ID.
func (s *documentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.docs.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

// AuditTrail returns the ledger entries for one document, oldest first.
func (s *documentService) AuditTrail(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	if documentID == "" {
		return nil, ErrIDRequired
	}
	if _, err := s.docs.FindByID(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.audit.ListByDocument(ctx, documentID)
}

// DownloadURL returns a presigned GET URL for the document's stored bytes.
func (s *documentService) DownloadURL(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrIDRequired
	}
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.store.PresignGet(ctx, doc.StorageKey, downloadURLExpiry)
}

// appendAudit writes a ledger entry with one retry. On final failure the gap is
// reported via metric and integrity warning; the already-persisted state change
// is never rolled back for it.
func (s *documentService) appendAudit(ctx context.Context, entry *model.AuditEntry) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		apCtx, cancel := s.bounded(ctx)
		_, err := s.audit.Append(apCtx, entry)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
	}

	s.ledgerGaps.WithLabelValues(string(entry.Action)).Inc()
	s.logIntegrity(map[string]any{
		"event":       "audit_write_failed",
		"document_id": entry.DocumentID,
		"action":      string(entry.Action),
		"actor_id":    entry.ActorID,
		"error":       lastErr.Error(),
	})
}

// bounded derives a context limited by the configured operation timeout.
func (s *documentService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.policy.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.policy.OpTimeout)
	}
	return ctx, func() {}
}

// infraError keeps the failure kind machine-checkable: deadline expiry
// surfaces as ErrTimeout, everything else under the given kind.
func (s *documentService) infraError(kind error, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (s *documentService) logIntegrity(data map[string]any) {
	data["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	data["level"] = "warn"
	data["component"] = "document_service"
	data["msg"] = "integrity_warning"
	if b, err := json.Marshal(data); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// deriveStorageKey builds a fresh, collision-resistant object key from the
// owner, the upload instant and the original name, reduced to a safe
// character set.
func deriveStorageKey(ownerID, fileName string, ts time.Time) string {
	return fmt.Sprintf("documents/%s/%d-%s", sanitizeKeyPart(ownerID), ts.UnixNano(), sanitizeKeyPart(fileName))
}

func sanitizeKeyPart(part string) string {
	clean := unsafeKeyChars.ReplaceAllString(part, "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "file"
	}
	return clean
}
