package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"casewatch/internal/cases/models"
)

// InMemoryCaseStore keeps case records in a map. Suitable for tests and for
// running the daemon without a database.
type InMemoryCaseStore struct {
	mu    sync.RWMutex
	cases map[string]models.CaseRecord
	clock func() time.Time
}

// NewInMemoryCaseStore builds an empty in-memory case store.
func NewInMemoryCaseStore() *InMemoryCaseStore {
	return &InMemoryCaseStore{
		cases: make(map[string]models.CaseRecord),
		clock: time.Now,
	}
}

func (s *InMemoryCaseStore) Get(ctx context.Context, key string) (*models.CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.cases[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *InMemoryCaseStore) Upsert(ctx context.Context, record *models.CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[record.Identity.Key()] = *record
	return nil
}

func (s *InMemoryCaseStore) MarkStale(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cases[key]
	if !ok {
		return ErrNotFound
	}
	record.StaleCount++
	record.LastSyncedAt = s.clock()
	s.cases[key] = record
	return nil
}

// InMemoryTrackedCaseStore keeps subscriptions in a map and enforces the
// one-per-(requester, identity) invariant.
type InMemoryTrackedCaseStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]models.TrackedCase
	byPair  map[string]uuid.UUID
}

// NewInMemoryTrackedCaseStore builds an empty in-memory subscription store.
func NewInMemoryTrackedCaseStore() *InMemoryTrackedCaseStore {
	return &InMemoryTrackedCaseStore{
		byID:   make(map[uuid.UUID]models.TrackedCase),
		byPair: make(map[string]uuid.UUID),
	}
}

func pairKey(requester string, identity models.CaseIdentity) string {
	return requester + "|" + identity.Key()
}

func (s *InMemoryTrackedCaseStore) Create(ctx context.Context, tc *models.TrackedCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := pairKey(tc.Requester, tc.Identity)
	if _, exists := s.byPair[pk]; exists {
		return ErrConflict
	}
	s.byID[tc.ID] = *tc
	s.byPair[pk] = tc.ID
	return nil
}

func (s *InMemoryTrackedCaseStore) Get(ctx context.Context, id uuid.UUID) (*models.TrackedCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tc, nil
}

func (s *InMemoryTrackedCaseStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byPair, pairKey(tc.Requester, tc.Identity))
	return nil
}

func (s *InMemoryTrackedCaseStore) List(ctx context.Context) ([]models.TrackedCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TrackedCase, 0, len(s.byID))
	for _, tc := range s.byID {
		out = append(out, tc)
	}
	return out, nil
}

// InMemorySyncRunStore keeps a bounded history of run summaries.
type InMemorySyncRunStore struct {
	mu   sync.RWMutex
	runs []models.SyncRun
	max  int
}

// NewInMemorySyncRunStore builds a run store retaining the last max runs.
func NewInMemorySyncRunStore(max int) *InMemorySyncRunStore {
	if max <= 0 {
		max = 100
	}
	return &InMemorySyncRunStore{max: max}
}

func (s *InMemorySyncRunStore) Save(ctx context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	if len(s.runs) > s.max {
		s.runs = s.runs[len(s.runs)-s.max:]
	}
	return nil
}

func (s *InMemorySyncRunStore) Latest(ctx context.Context) (*models.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return nil, ErrNotFound
	}
	run := s.runs[len(s.runs)-1]
	return &run, nil
}
