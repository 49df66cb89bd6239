// Package dispatcher owns run lifecycles: it enforces the one-run-per-source
// rule, consumes each run's event stream, feeds documents to the indexing
// collaborator, persists finished runs, and notifies the sinks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/history"
	"github.com/finchsearch/finch/internal/index"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/notify"
	"github.com/finchsearch/finch/internal/run"
)

// Errors the administrative surface translates into responses.
var (
	ErrAlreadyRunning = errors.New("a run is already active for this source")
	ErrSourceInactive = errors.New("source is not active")
	ErrNotRunning     = errors.New("no active run for this source")
)

// Builder constructs the connector for a source definition.
type Builder func(src document.SourceDefinition) (connector.Connector, error)

// Config wires the dispatcher's collaborators.
type Config struct {
	Build    Builder
	Embedder index.Embedder
	Indexer  index.Indexer
	History  history.Store
	Hub      *notify.Hub
	Logger   *zap.Logger
	Clock    run.Clock
}

type activeRun struct {
	src document.SourceDefinition
	sup *run.Supervisor
}

// Dispatcher coordinates all active runs.
type Dispatcher struct {
	build    Builder
	embedder index.Embedder
	indexer  index.Indexer
	history  history.Store
	hub      *notify.Hub
	logger   *zap.Logger
	clock    run.Clock

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

// New constructs a dispatcher. Build, Embedder, Indexer, and History are
// required; Hub may be nil when no sinks are configured.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Build == nil || cfg.Embedder == nil || cfg.Indexer == nil || cfg.History == nil {
		return nil, errors.New("dispatcher: builder, embedder, indexer, and history are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = run.SystemClock{}
	}
	return &Dispatcher{
		build:    cfg.Build,
		embedder: cfg.Embedder,
		indexer:  cfg.Indexer,
		history:  cfg.History,
		hub:      cfg.Hub,
		logger:   logger,
		clock:    clock,
		active:   make(map[string]*activeRun),
	}, nil
}

// Start launches a run for the source. It fails when the source is inactive,
// the definition is invalid, or a run is already active for it. The returned
// record is the run's initial snapshot.
func (d *Dispatcher) Start(ctx context.Context, src document.SourceDefinition) (run.Record, error) {
	if !src.Active {
		return run.Record{}, fmt.Errorf("source %s: %w", src.ID, ErrSourceInactive)
	}
	conn, err := d.build(src)
	if err != nil {
		return run.Record{}, err
	}

	d.mu.Lock()
	if _, busy := d.active[src.ID]; busy {
		d.mu.Unlock()
		return run.Record{}, fmt.Errorf("source %s: %w", src.ID, ErrAlreadyRunning)
	}
	sup := run.NewSupervisor(uuid.NewString(), src.ID, d.clock)
	d.active[src.ID] = &activeRun{src: src, sup: sup}
	d.mu.Unlock()

	snapshot := sup.Snapshot()
	metrics.IncActiveRuns()
	d.publish(notify.EventRunStarted, src, snapshot)
	d.logger.Info("run started",
		zap.String("run_id", snapshot.ID),
		zap.String("source_id", src.ID),
		zap.String("source_type", string(src.Type)))

	// The run outlives the start request.
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		sup.Finish(conn.Run(runCtx, sup))
	}()
	go func() {
		defer d.wg.Done()
		d.consume(runCtx, src, sup)
	}()
	return snapshot, nil
}

// consume drains the run's event stream until the completion event, applying
// document and removal events to the index.
func (d *Dispatcher) consume(ctx context.Context, src document.SourceDefinition, sup *run.Supervisor) {
	for ev := range sup.Events() {
		switch ev.Kind {
		case run.EventDocument:
			d.indexDocument(ctx, src, sup, ev.Doc)
		case run.EventRemoval:
			if err := d.indexer.Delete(ctx, src.ID, ev.RemovedID); err != nil {
				sup.Notef("removing %s from index failed: %v", ev.RemovedID, err)
				metrics.ObserveSkip(string(src.Type))
				continue
			}
			sup.CountRemoved()
			metrics.ObserveDocument(string(src.Type), "removed")
		case run.EventComplete:
			d.finalize(ctx, src, sup)
		}
	}
}

// indexDocument embeds and upserts one document. Failures are per-item: the
// run continues, the item is logged and counted as skipped.
func (d *Dispatcher) indexDocument(ctx context.Context, src document.SourceDefinition, sup *run.Supervisor, doc *document.Document) {
	if doc == nil {
		return
	}
	vector, err := d.embedder.Embed(ctx, doc.Content)
	if err != nil {
		sup.Notef("embedding %s failed: %v", doc.ExternalID, err)
		metrics.ObserveSkip(string(src.Type))
		return
	}
	created, err := d.indexer.Upsert(ctx, src.ID, *doc, vector)
	if err != nil {
		sup.Notef("indexing %s failed: %v", doc.ExternalID, err)
		metrics.ObserveSkip(string(src.Type))
		return
	}
	sup.CountDocument(created)
	action := "updated"
	if created {
		action = "added"
	}
	metrics.ObserveDocument(string(src.Type), action)
}

// finalize persists the finished record, emits the terminal notification, and
// releases the source for the next run. The snapshot is taken here, not from
// the completion event, so counts applied by this consumer are all included.
func (d *Dispatcher) finalize(ctx context.Context, src document.SourceDefinition, sup *run.Supervisor) {
	final := sup.Snapshot()

	// Release the source before persisting so a caller that sees the saved
	// record can start the next run immediately.
	d.mu.Lock()
	delete(d.active, src.ID)
	d.mu.Unlock()

	if err := d.history.Save(ctx, final); err != nil {
		d.logger.Error("persisting run record failed",
			zap.String("run_id", final.ID),
			zap.String("source_id", src.ID),
			zap.Error(err))
	}

	eventType := notify.EventRunCompleted
	if final.Status == run.StatusFailed {
		eventType = notify.EventRunErrored
	}
	d.publish(eventType, src, final)
	metrics.DecActiveRuns()

	d.logger.Info("run finished",
		zap.String("run_id", final.ID),
		zap.String("source_id", src.ID),
		zap.String("status", string(final.Status)),
		zap.Int("added", final.DocumentsAdded),
		zap.Int("updated", final.DocumentsUpdated),
		zap.Int("removed", final.DocumentsRemoved))
}

// Stop raises the stop flag on the source's active run.
func (d *Dispatcher) Stop(sourceID string) error {
	d.mu.Lock()
	ar, ok := d.active[sourceID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotRunning)
	}
	ar.sup.RequestStop()
	return nil
}

// Status returns the live snapshot for an active run, or the most recent
// historical record otherwise.
func (d *Dispatcher) Status(ctx context.Context, sourceID string) (run.Record, error) {
	d.mu.Lock()
	ar, ok := d.active[sourceID]
	d.mu.Unlock()
	if ok {
		return ar.sup.Snapshot(), nil
	}
	return d.history.Latest(ctx, sourceID)
}

// History lists finished runs for a source, newest first.
func (d *Dispatcher) History(ctx context.Context, sourceID string, limit, offset int) ([]run.Record, error) {
	return d.history.List(ctx, sourceID, limit, offset)
}

// Logs returns the current (or latest) run's log, optionally filtered to
// entries at or above the given severity.
func (d *Dispatcher) Logs(ctx context.Context, sourceID string, level run.Level) ([]run.LogEntry, error) {
	rec, err := d.Status(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if level == "" || level == run.LevelInfo {
		return rec.Logs, nil
	}
	var filtered []run.LogEntry
	for _, entry := range rec.Logs {
		guessed := run.GuessLevel(entry.Message)
		if guessed == run.LevelError || (guessed == run.LevelWarn && level == run.LevelWarn) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// Shutdown stops every active run and waits for their goroutines, bounded by
// the context.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	for _, ar := range d.active {
		ar.sup.RequestStop()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (d *Dispatcher) publish(eventType notify.EventType, src document.SourceDefinition, rec run.Record) {
	if d.hub == nil {
		return
	}
	d.hub.Publish(notify.Event{
		Type:             eventType,
		At:               d.clock.Now(),
		RunID:            rec.ID,
		SourceID:         src.ID,
		SourceName:       src.Name,
		SourceType:       src.Type,
		Status:           rec.Status,
		DocumentsAdded:   rec.DocumentsAdded,
		DocumentsUpdated: rec.DocumentsUpdated,
		DocumentsRemoved: rec.DocumentsRemoved,
		Error:            rec.ErrorMessage,
	})
}
