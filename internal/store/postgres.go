package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"casewatch/internal/cases/models"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// Migrate creates the casewatch tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS case_records (
			key             TEXT PRIMARY KEY,
			court_source    TEXT NOT NULL,
			next_hearing_at DATE,
			status          TEXT NOT NULL,
			stale_count     INT NOT NULL DEFAULT 0,
			last_synced_at  TIMESTAMPTZ NOT NULL,
			record          JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS case_records_next_hearing_idx ON case_records (next_hearing_at)`,
		`CREATE TABLE IF NOT EXISTS tracked_cases (
			id         UUID PRIMARY KEY,
			requester  TEXT NOT NULL,
			case_key   TEXT NOT NULL,
			body       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (requester, case_key)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id          UUID PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			summary     JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PostgresCaseStore persists case records, with the canonical document in a
// JSONB column and the scheduler's selection fields broken out for indexing.
type PostgresCaseStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresCaseStore builds a PostgreSQL-backed case store.
func NewPostgresCaseStore(db *sql.DB) *PostgresCaseStore {
	return &PostgresCaseStore{db: db, clock: time.Now}
}

func (s *PostgresCaseStore) Get(ctx context.Context, key string) (*models.CaseRecord, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM case_records WHERE key = $1`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", key, err)
	}
	var record models.CaseRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decode case %s: %w", key, err)
	}
	return &record, nil
}

func (s *PostgresCaseStore) Upsert(ctx context.Context, record *models.CaseRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode case %s: %w", record.Identity.Key(), err)
	}
	var nextHearing *time.Time
	if record.NextHearingDate != nil {
		nextHearing = record.NextHearingDate
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO case_records (key, court_source, next_hearing_at, status, stale_count, last_synced_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			next_hearing_at = EXCLUDED.next_hearing_at,
			status          = EXCLUDED.status,
			stale_count     = EXCLUDED.stale_count,
			last_synced_at  = EXCLUDED.last_synced_at,
			record          = EXCLUDED.record
	`, record.Identity.Key(), record.Identity.Source, nextHearing, record.Status,
		record.StaleCount, record.LastSyncedAt, body)
	if err != nil {
		return fmt.Errorf("upsert case %s: %w", record.Identity.Key(), err)
	}
	return nil
}

func (s *PostgresCaseStore) MarkStale(ctx context.Context, key string) error {
	now := s.clock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE case_records SET
			stale_count    = stale_count + 1,
			last_synced_at = $2,
			record = jsonb_set(
				jsonb_set(record, '{stale_count}', to_jsonb(stale_count + 1)),
				'{last_synced_at}', to_jsonb($2::timestamptz))
		WHERE key = $1
	`, key, now)
	if err != nil {
		return fmt.Errorf("mark stale %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark stale %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresTrackedCaseStore persists subscriptions.
type PostgresTrackedCaseStore struct {
	db *sql.DB
}

// NewPostgresTrackedCaseStore builds a PostgreSQL-backed subscription store.
func NewPostgresTrackedCaseStore(db *sql.DB) *PostgresTrackedCaseStore {
	return &PostgresTrackedCaseStore{db: db}
}

func (s *PostgresTrackedCaseStore) Create(ctx context.Context, tc *models.TrackedCase) error {
	body, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("encode tracked case: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracked_cases (id, requester, case_key, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tc.ID, tc.Requester, tc.Identity.Key(), body, tc.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("create tracked case: %w", err)
	}
	return nil
}

func (s *PostgresTrackedCaseStore) Get(ctx context.Context, id uuid.UUID) (*models.TrackedCase, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM tracked_cases WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked case %s: %w", id, err)
	}
	var tc models.TrackedCase
	if err := json.Unmarshal(body, &tc); err != nil {
		return nil, fmt.Errorf("decode tracked case %s: %w", id, err)
	}
	return &tc, nil
}

func (s *PostgresTrackedCaseStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tracked case %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tracked case %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresTrackedCaseStore) List(ctx context.Context) ([]models.TrackedCase, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM tracked_cases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tracked cases: %w", err)
	}
	defer rows.Close()

	var out []models.TrackedCase
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan tracked case: %w", err)
		}
		var tc models.TrackedCase
		if err := json.Unmarshal(body, &tc); err != nil {
			return nil, fmt.Errorf("decode tracked case: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// PostgresSyncRunStore persists scheduler pass summaries.
type PostgresSyncRunStore struct {
	db *sql.DB
}

// NewPostgresSyncRunStore builds a PostgreSQL-backed run store.
func NewPostgresSyncRunStore(db *sql.DB) *PostgresSyncRunStore {
	return &PostgresSyncRunStore{db: db}
}

func (s *PostgresSyncRunStore) Save(ctx context.Context, run *models.SyncRun) error {
	summary, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode sync run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, duration_ms, summary)
		VALUES ($1, $2, $3, $4)
	`, run.ID, run.StartedAt, run.Duration.Milliseconds(), summary)
	if err != nil {
		return fmt.Errorf("save sync run: %w", err)
	}
	return nil
}

func (s *PostgresSyncRunStore) Latest(ctx context.Context) (*models.SyncRun, error) {
	var summary []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM sync_runs ORDER BY started_at DESC LIMIT 1`).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest sync run: %w", err)
	}
	var run models.SyncRun
	if err := json.Unmarshal(summary, &run); err != nil {
		return nil, fmt.Errorf("decode sync run: %w", err)
	}
	return &run, nil
}
