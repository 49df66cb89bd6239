// Package postgres provides a Postgres-backed history store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchsearch/finch/internal/history"
	"github.com/finchsearch/finch/internal/run"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists run records in the source_runs table.
type Store struct {
	db DB
}

// New connects a pool and returns a Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

const saveQuery = `
	INSERT INTO source_runs (
		id, source_id, status, started_at, completed_at,
		documents_added, documents_updated, documents_removed,
		progress, processed_items, total_items, current_item, error_message, logs
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING;
`

// Save persists a finalized record. The log buffer is stored as JSONB.
func (s *Store) Save(ctx context.Context, rec run.Record) error {
	logs, err := json.Marshal(rec.Logs)
	if err != nil {
		return fmt.Errorf("marshal run logs: %w", err)
	}
	_, err = s.db.Exec(ctx, saveQuery,
		rec.ID, rec.SourceID, rec.Status, rec.StartedAt, rec.CompletedAt,
		rec.DocumentsAdded, rec.DocumentsUpdated, rec.DocumentsRemoved,
		rec.Progress, rec.ProcessedItems, rec.TotalItems,
		rec.CurrentItem, rec.ErrorMessage, logs,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

const listQuery = `
	SELECT id, source_id, status, started_at, completed_at,
		documents_added, documents_updated, documents_removed,
		progress, processed_items, total_items, current_item, error_message, logs
	FROM source_runs
	WHERE source_id = $1
	ORDER BY started_at DESC
	LIMIT $2 OFFSET $3;
`

// List returns a page of records for the source, newest first.
func (s *Store) List(ctx context.Context, sourceID string, limit, offset int) ([]run.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, listQuery, sourceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []run.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return records, nil
}

const latestQuery = `
	SELECT id, source_id, status, started_at, completed_at,
		documents_added, documents_updated, documents_removed,
		progress, processed_items, total_items, current_item, error_message, logs
	FROM source_runs
	WHERE source_id = $1
	ORDER BY started_at DESC
	LIMIT 1;
`

// Latest returns the most recent record for the source.
func (s *Store) Latest(ctx context.Context, sourceID string) (run.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, latestQuery, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return run.Record{}, history.ErrNotFound
		}
		return run.Record{}, err
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (run.Record, error) {
	var (
		rec  run.Record
		logs []byte
	)
	err := row.Scan(
		&rec.ID, &rec.SourceID, &rec.Status, &rec.StartedAt, &rec.CompletedAt,
		&rec.DocumentsAdded, &rec.DocumentsUpdated, &rec.DocumentsRemoved,
		&rec.Progress, &rec.ProcessedItems, &rec.TotalItems,
		&rec.CurrentItem, &rec.ErrorMessage, &logs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return run.Record{}, err
		}
		return run.Record{}, fmt.Errorf("scan run row: %w", err)
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &rec.Logs); err != nil {
			return run.Record{}, fmt.Errorf("unmarshal run logs: %w", err)
		}
	}
	return rec, nil
}
