// Package sqlpull implements the relational pull connector: a metadata probe
// followed by a row query mapped onto documents, with an optional incremental
// watermark.
package sqlpull

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/run"
)

// DB is the slice of pgx.Conn the connector uses, narrow enough for pgxmock.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Connect opens a database connection for one run.
type Connect func(ctx context.Context, dsn string) (DB, error)

func defaultConnect(ctx context.Context, dsn string) (DB, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return conn, nil
}

// Document fields a row can populate, with their default column names.
const (
	fieldID        = "id"
	fieldTitle     = "title"
	fieldContent   = "content"
	fieldURL       = "url"
	fieldUpdatedAt = "updated_at"
)

// Config carries everything a pull run needs beyond the source definition.
type Config struct {
	SourceID string
	SQL      document.SQLConfig
	State    connector.StateStore
	Logger   *zap.Logger

	// Connect overrides the pgx dial, for tests.
	Connect Connect
}

// Connector pulls rows from a relational source and emits one document per
// row. With Incremental set, rows are filtered by the watermark left behind
// by the last successful run.
type Connector struct {
	sourceID string
	cfg      document.SQLConfig
	state    connector.StateStore
	logger   *zap.Logger
	connect  Connect
	fields   map[string]string
}

// New validates the configuration and resolves the field map defaults.
func New(cfg Config) (*Connector, error) {
	if err := cfg.SQL.Validate(); err != nil {
		return nil, err
	}
	fields := map[string]string{
		fieldID:        fieldID,
		fieldTitle:     fieldTitle,
		fieldContent:   fieldContent,
		fieldURL:       fieldURL,
		fieldUpdatedAt: fieldUpdatedAt,
	}
	for field, column := range cfg.SQL.FieldMap {
		if _, ok := fields[field]; !ok {
			return nil, fmt.Errorf("field_map key %q is not a document field", field)
		}
		fields[field] = column
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connect := cfg.Connect
	if connect == nil {
		connect = defaultConnect
	}
	state := cfg.State
	if state == nil {
		state = connector.NewMemoryStateStore()
	}
	return &Connector{
		sourceID: cfg.SourceID,
		cfg:      cfg.SQL,
		state:    state,
		logger:   logger,
		connect:  connect,
		fields:   fields,
	}, nil
}

// Type reports the connector variant.
func (c *Connector) Type() document.SourceType { return document.SourceSQL }

// Run connects, probes via the metadata query, then streams the data query.
// The sync outcome is recorded before disconnecting regardless of result.
func (c *Connector) Run(ctx context.Context, sup *run.Supervisor) (err error) {
	db, err := c.connect(ctx, c.cfg.ConnectionString)
	if err != nil {
		c.state.RecordOutcome(c.sourceID, connector.Outcome{
			At:      time.Now(),
			Message: err.Error(),
		})
		return err
	}
	var watermark time.Time
	defer func() {
		c.state.RecordOutcome(c.sourceID, connector.Outcome{
			At:        time.Now(),
			OK:        err == nil,
			Message:   outcomeMessage(err),
			Watermark: watermark,
		})
		if cerr := db.Close(ctx); cerr != nil {
			c.logger.Debug("close database", zap.Error(cerr))
		}
	}()

	var total int
	if err = db.QueryRow(ctx, c.cfg.MetadataQuery).Scan(&total); err != nil {
		return fmt.Errorf("metadata query: %w", err)
	}
	sup.Logf("source reports %d rows", total)

	rows, err := c.queryData(ctx, db, sup)
	if err != nil {
		return fmt.Errorf("data query: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]int)
	for i, fd := range rows.FieldDescriptions() {
		columns[fd.Name] = i
	}

	processed := 0
	for rows.Next() {
		if sup.StopRequested() {
			sup.Logf("stopping pull after %d rows", processed)
			return nil
		}
		values, verr := rows.Values()
		if verr != nil {
			return fmt.Errorf("read row: %w", verr)
		}
		processed++
		cursor := fmt.Sprintf("row %d", processed)
		doc, updatedAt, derr := c.rowToDocument(columns, values)
		if derr != nil {
			sup.Logf("skipping row %d: %v", processed, derr)
			metrics.ObserveSkip(string(document.SourceSQL))
		} else {
			cursor = doc.ExternalID
			sup.Document(doc, false)
			if updatedAt.After(watermark) {
				watermark = updatedAt
			}
		}
		sup.Progress(processed, total, cursor)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	sup.Logf("pull finished: %d rows processed", processed)
	return nil
}

// queryData applies the incremental watermark as the single bind parameter
// when one is available.
func (c *Connector) queryData(ctx context.Context, db DB, sup *run.Supervisor) (pgx.Rows, error) {
	if c.cfg.Incremental {
		if wm, ok := c.state.Watermark(c.sourceID); ok {
			sup.Logf("incremental pull since %s", wm.Format(time.RFC3339))
			return db.Query(ctx, c.cfg.DataQuery, wm)
		}
		sup.Logf("no watermark yet; running full pull")
	}
	return db.Query(ctx, c.cfg.DataQuery)
}

// rowToDocument maps one result row through the field map. Rows missing the
// id or content column are rejected.
func (c *Connector) rowToDocument(columns map[string]int, values []any) (*document.Document, time.Time, error) {
	get := func(field string) (any, bool) {
		idx, ok := columns[c.fields[field]]
		if !ok || idx >= len(values) {
			return nil, false
		}
		return values[idx], values[idx] != nil
	}

	idVal, ok := get(fieldID)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("column %q missing or null", c.fields[fieldID])
	}
	id := fmt.Sprintf("%v", idVal)

	contentVal, ok := get(fieldContent)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("column %q missing or null", c.fields[fieldContent])
	}
	content := fmt.Sprintf("%v", contentVal)
	if strings.TrimSpace(content) == "" {
		return nil, time.Time{}, fmt.Errorf("column %q is empty", c.fields[fieldContent])
	}

	doc := &document.Document{
		ExternalID:  id,
		Title:       id,
		Content:     content,
		ContentType: document.ContentRow,
	}
	if titleVal, ok := get(fieldTitle); ok {
		if title := strings.TrimSpace(fmt.Sprintf("%v", titleVal)); title != "" {
			doc.Title = title
		}
	}
	if urlVal, ok := get(fieldURL); ok {
		doc.URL = fmt.Sprintf("%v", urlVal)
	}
	var updatedAt time.Time
	if tsVal, ok := get(fieldUpdatedAt); ok {
		if ts, isTime := tsVal.(time.Time); isTime {
			updatedAt = ts
			doc.LastModified = &ts
		}
	}
	return doc, updatedAt, nil
}

func outcomeMessage(err error) string {
	if err != nil {
		return err.Error()
	}
	return "sync completed"
}
