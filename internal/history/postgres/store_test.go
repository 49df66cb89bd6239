package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchsearch/finch/internal/history"
	"github.com/finchsearch/finch/internal/run"
)

func TestSaveInsertsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	completed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	rec := run.Record{
		ID:             "r1",
		SourceID:       "s1",
		Status:         run.StatusCompleted,
		StartedAt:      completed.Add(-time.Minute),
		CompletedAt:    &completed,
		DocumentsAdded: 3,
		Progress:       100,
		ProcessedItems: 3,
		TotalItems:     3,
		Logs:           []run.LogEntry{{At: completed, Message: "run completed"}},
	}
	logs, err := json.Marshal(rec.Logs)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO source_runs").
		WithArgs(
			rec.ID, rec.SourceID, rec.Status, rec.StartedAt, rec.CompletedAt,
			rec.DocumentsAdded, rec.DocumentsUpdated, rec.DocumentsRemoved,
			rec.Progress, rec.ProcessedItems, rec.TotalItems,
			rec.CurrentItem, rec.ErrorMessage, logs,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewWithDB(mock)
	require.NoError(t, store.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM source_runs").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_id", "status", "started_at", "completed_at",
			"documents_added", "documents_updated", "documents_removed",
			"progress", "processed_items", "total_items",
			"current_item", "error_message", "logs",
		}))

	store := NewWithDB(mock)
	_, err = store.Latest(context.Background(), "missing")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestListScansRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	logs, err := json.Marshal([]run.LogEntry{{At: started, Message: "starting run"}})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "source_id", "status", "started_at", "completed_at",
		"documents_added", "documents_updated", "documents_removed",
		"progress", "processed_items", "total_items",
		"current_item", "error_message", "logs",
	}).AddRow(
		"r2", "s1", run.StatusFailed, started, (*time.Time)(nil),
		0, 0, 0, 100, 1, 2, "", "connect: refused", logs,
	)

	mock.ExpectQuery("SELECT (.+) FROM source_runs").
		WithArgs("s1", 10, 0).
		WillReturnRows(rows)

	store := NewWithDB(mock)
	records, err := store.List(context.Background(), "s1", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, run.StatusFailed, records[0].Status)
	assert.Equal(t, "connect: refused", records[0].ErrorMessage)
	require.Len(t, records[0].Logs, 1)
	assert.Equal(t, "starting run", records[0].Logs[0].Message)
	require.NoError(t, mock.ExpectationsWereMet())
}
