// Package store is the persistence gateway for case records, tracked-case
// subscriptions and sync-run summaries. Implementations are externally
// transactional per record: callers never hold a lock across a fetch and a
// write, they write once per case after the record is fully computed.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"casewatch/internal/cases/models"
)

var (
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness violation, e.g. a duplicate
	// (requester, identity) subscription.
	ErrConflict = errors.New("already exists")
)

// CaseStore persists canonical case records keyed by identity key. Records
// are never deleted; repeated upstream not-founds only bump the stale count.
type CaseStore interface {
	Get(ctx context.Context, key string) (*models.CaseRecord, error)
	Upsert(ctx context.Context, record *models.CaseRecord) error
	// MarkStale increments the record's stale counter and stamps the sync
	// attempt; used when the source reports the case missing.
	MarkStale(ctx context.Context, key string) error
}

// TrackedCaseStore persists refresh subscriptions.
type TrackedCaseStore interface {
	Create(ctx context.Context, tc *models.TrackedCase) error
	Get(ctx context.Context, id uuid.UUID) (*models.TrackedCase, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]models.TrackedCase, error)
}

// SyncRunStore persists scheduler pass summaries for observability.
type SyncRunStore interface {
	Save(ctx context.Context, run *models.SyncRun) error
	Latest(ctx context.Context) (*models.SyncRun, error)
}
