package sqlpull

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/run"
)

const (
	metaQuery = "SELECT count FROM article_meta"
	dataQuery = "SELECT id, title, content, url, updated_at FROM articles"
)

func newMock(t *testing.T) pgxmock.PgxConnIface {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	return mock
}

func newTestConnector(t *testing.T, cfg document.SQLConfig, state connector.StateStore, mock pgxmock.PgxConnIface) *Connector {
	t.Helper()
	c, err := New(Config{
		SourceID: "src-1",
		SQL:      cfg,
		State:    state,
		Connect: func(_ context.Context, _ string) (DB, error) {
			return mock, nil
		},
	})
	require.NoError(t, err)
	return c
}

func runPull(t *testing.T, c *Connector) (run.Record, []run.Event) {
	t.Helper()
	sup := run.NewSupervisor("run-1", "src-1", nil)
	done := make(chan []run.Event, 1)
	go func() {
		var events []run.Event
		for ev := range sup.Events() {
			events = append(events, ev)
		}
		done <- events
	}()
	err := c.Run(context.Background(), sup)
	sup.Finish(err)
	events := <-done
	return sup.Snapshot(), events
}

func docEvents(events []run.Event) []*document.Document {
	var docs []*document.Document
	for _, ev := range events {
		if ev.Kind == run.EventDocument {
			docs = append(docs, ev.Doc)
		}
	}
	return docs
}

func TestFullPullMapsRowsToDocuments(t *testing.T) {
	mock := newMock(t)
	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(metaQuery).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(dataQuery).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "content", "url", "updated_at"}).
			AddRow("a-1", "First", "body of the first article", "https://example.com/a-1", updated).
			AddRow("a-2", "Second", "body of the second article", "https://example.com/a-2", updated.Add(time.Hour)))
	mock.ExpectClose()

	state := connector.NewMemoryStateStore()
	c := newTestConnector(t, document.SQLConfig{
		ConnectionString: "postgres://localhost/test",
		MetadataQuery:    metaQuery,
		DataQuery:        dataQuery,
	}, state, mock)

	record, events := runPull(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	assert.Equal(t, 2, record.ProcessedItems)
	assert.Equal(t, 2, record.TotalItems)

	docs := docEvents(events)
	require.Len(t, docs, 2)
	assert.Equal(t, "a-1", docs[0].ExternalID)
	assert.Equal(t, "First", docs[0].Title)
	assert.Equal(t, "https://example.com/a-1", docs[0].URL)
	assert.Equal(t, document.ContentRow, docs[0].ContentType)
	require.NotNil(t, docs[0].LastModified)
	assert.True(t, docs[0].LastModified.Equal(updated))

	outcome, ok := state.LastOutcome("src-1")
	require.True(t, ok)
	assert.True(t, outcome.OK)
	assert.True(t, outcome.Watermark.Equal(updated.Add(time.Hour)))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementalPullBindsWatermark(t *testing.T) {
	mock := newMock(t)
	watermark := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	state := connector.NewMemoryStateStore()
	state.RecordOutcome("src-1", connector.Outcome{OK: true, Watermark: watermark})

	mock.ExpectQuery(metaQuery).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(dataQuery).
		WithArgs(watermark).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "content", "url", "updated_at"}).
			AddRow("a-3", "Third", "fresh content", "https://example.com/a-3", watermark.Add(time.Hour)))
	mock.ExpectClose()

	c := newTestConnector(t, document.SQLConfig{
		ConnectionString: "postgres://localhost/test",
		MetadataQuery:    metaQuery,
		DataQuery:        dataQuery,
		Incremental:      true,
	}, state, mock)

	record, events := runPull(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	require.Len(t, docEvents(events), 1)

	wm, ok := state.Watermark("src-1")
	require.True(t, ok)
	assert.True(t, wm.Equal(watermark.Add(time.Hour)))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowsMissingRequiredFieldsAreSkipped(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(metaQuery).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(dataQuery).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "content", "url", "updated_at"}).
			AddRow("a-1", "Has Body", "real content", "", time.Time{}).
			AddRow("a-2", "No Body", nil, "", time.Time{}))
	mock.ExpectClose()

	c := newTestConnector(t, document.SQLConfig{
		ConnectionString: "postgres://localhost/test",
		MetadataQuery:    metaQuery,
		DataQuery:        dataQuery,
	}, connector.NewMemoryStateStore(), mock)

	record, events := runPull(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	assert.Equal(t, 2, record.ProcessedItems)
	require.Len(t, docEvents(events), 1)

	var skipped bool
	for _, entry := range record.Logs {
		if run.GuessLevel(entry.Message) == run.LevelWarn {
			skipped = true
		}
	}
	assert.True(t, skipped, "expected a skip log entry")
}

func TestNullTitleFallsBackToID(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(metaQuery).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(dataQuery).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "content", "url", "updated_at"}).
			AddRow("a-7", nil, "body without a headline", "", time.Time{}))
	mock.ExpectClose()

	c := newTestConnector(t, document.SQLConfig{
		ConnectionString: "postgres://localhost/test",
		MetadataQuery:    metaQuery,
		DataQuery:        dataQuery,
	}, connector.NewMemoryStateStore(), mock)

	record, events := runPull(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	docs := docEvents(events)
	require.Len(t, docs, 1)
	assert.Equal(t, "a-7", docs[0].Title)
}

func TestFieldMapRenamesColumns(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(metaQuery).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(dataQuery).
		WillReturnRows(pgxmock.NewRows([]string{"pk", "headline", "body"}).
			AddRow("p-9", "Mapped Headline", "mapped body text"))
	mock.ExpectClose()

	c := newTestConnector(t, document.SQLConfig{
		ConnectionString: "postgres://localhost/test",
		MetadataQuery:    metaQuery,
		DataQuery:        dataQuery,
		FieldMap: map[string]string{
			"id":      "pk",
			"title":   "headline",
			"content": "body",
		},
	}, connector.NewMemoryStateStore(), mock)

	_, events := runPull(t, c)

	docs := docEvents(events)
	require.Len(t, docs, 1)
	assert.Equal(t, "p-9", docs[0].ExternalID)
	assert.Equal(t, "Mapped Headline", docs[0].Title)
	assert.Equal(t, "mapped body text", docs[0].Content)
}

func TestFieldMapRejectsUnknownField(t *testing.T) {
	_, err := New(Config{
		SourceID: "src-1",
		SQL: document.SQLConfig{
			ConnectionString: "postgres://localhost/test",
			MetadataQuery:    metaQuery,
			DataQuery:        dataQuery,
			FieldMap:         map[string]string{"body": "content"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field_map")
}

func TestConnectFailureRecordsOutcome(t *testing.T) {
	state := connector.NewMemoryStateStore()
	c, err := New(Config{
		SourceID: "src-1",
		SQL: document.SQLConfig{
			ConnectionString: "postgres://localhost/test",
			MetadataQuery:    metaQuery,
			DataQuery:        dataQuery,
		},
		State: state,
		Connect: func(_ context.Context, _ string) (DB, error) {
			return nil, errors.New("connection refused")
		},
	})
	require.NoError(t, err)

	record, _ := runPull(t, c)

	assert.Equal(t, run.StatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "connection refused")

	outcome, ok := state.LastOutcome("src-1")
	require.True(t, ok)
	assert.False(t, outcome.OK)
	_, hasWatermark := state.Watermark("src-1")
	assert.False(t, hasWatermark)
}

func TestMetadataQueryFailureFailsRun(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(metaQuery).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectClose()

	state := connector.NewMemoryStateStore()
	c := newTestConnector(t, document.SQLConfig{
		ConnectionString: "postgres://localhost/test",
		MetadataQuery:    metaQuery,
		DataQuery:        dataQuery,
	}, state, mock)

	record, _ := runPull(t, c)

	assert.Equal(t, run.StatusFailed, record.Status)
	outcome, ok := state.LastOutcome("src-1")
	require.True(t, ok)
	assert.False(t, outcome.OK)
}
