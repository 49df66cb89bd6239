package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchsearch/finch/internal/connector"
	"github.com/finchsearch/finch/internal/document"
	historymem "github.com/finchsearch/finch/internal/history/memory"
	"github.com/finchsearch/finch/internal/index"
	"github.com/finchsearch/finch/internal/run"
)

// stubConnector drives its run function, letting tests script connector
// behavior without any real source.
type stubConnector struct {
	typ document.SourceType
	fn  func(ctx context.Context, sup *run.Supervisor) error
}

func (s *stubConnector) Type() document.SourceType { return s.typ }
func (s *stubConnector) Run(ctx context.Context, sup *run.Supervisor) error {
	return s.fn(ctx, sup)
}

func activeSource(id string) document.SourceDefinition {
	return document.SourceDefinition{ID: id, Name: "Source " + id, Type: document.SourceFolder, Active: true}
}

func emitDocs(ids ...string) func(ctx context.Context, sup *run.Supervisor) error {
	return func(_ context.Context, sup *run.Supervisor) error {
		for _, id := range ids {
			sup.Document(&document.Document{
				ExternalID: id,
				Title:      id,
				Content:    "content for " + id,
			}, false)
		}
		return nil
	}
}

type testHarness struct {
	d       *Dispatcher
	indexer *index.MemoryIndex
	history *historymem.Store
}

func newHarness(t *testing.T, fn func(ctx context.Context, sup *run.Supervisor) error) *testHarness {
	t.Helper()
	indexer := index.NewMemoryIndex()
	store := historymem.New()
	d, err := New(Config{
		Build: func(src document.SourceDefinition) (connector.Connector, error) {
			return &stubConnector{typ: src.Type, fn: fn}, nil
		},
		Embedder: index.HashEmbedder{Dimensions: 16},
		Indexer:  indexer,
		History:  store,
	})
	require.NoError(t, err)
	return &testHarness{d: d, indexer: indexer, history: store}
}

func waitForRecord(t *testing.T, h *testHarness, sourceID string) run.Record {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		rec, err := h.history.Latest(context.Background(), sourceID)
		if err == nil {
			return rec
		}
		select {
		case <-deadline:
			t.Fatalf("run for source %s never finished", sourceID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	h := newHarness(t, emitDocs("d-1", "d-2"))

	initial, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, initial.Status)
	assert.NotEmpty(t, initial.ID)

	final := waitForRecord(t, h, "s1")
	assert.Equal(t, run.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.DocumentsAdded)
	assert.Equal(t, 0, final.DocumentsUpdated)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, 2, h.indexer.Count("s1"))
}

func TestSecondRunCountsUpdatesNotAdds(t *testing.T) {
	h := newHarness(t, emitDocs("d-1", "d-2", "d-3"))

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)
	first := waitForRecord(t, h, "s1")
	assert.Equal(t, 3, first.DocumentsAdded)

	_, err = h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	var second run.Record
	for {
		runs, lerr := h.d.History(context.Background(), "s1", 10, 0)
		require.NoError(t, lerr)
		if len(runs) == 2 {
			second = runs[0]
			break
		}
		select {
		case <-deadline:
			t.Fatal("second run never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.Equal(t, 0, second.DocumentsAdded)
	assert.Equal(t, 3, second.DocumentsUpdated)
	assert.Equal(t, 3, h.indexer.Count("s1"))
}

func TestSingleRunPerSource(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		<-release
		return nil
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)

	_, err = h.d.Start(context.Background(), activeSource("s1"))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// A different source is unaffected.
	_, err = h.d.Start(context.Background(), activeSource("s2"))
	require.NoError(t, err)

	close(release)
	waitForRecord(t, h, "s1")
	waitForRecord(t, h, "s2")

	// The source is free again once its run finished.
	_, err = h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)
}

func TestInactiveSourceRejected(t *testing.T) {
	h := newHarness(t, emitDocs())
	src := activeSource("s1")
	src.Active = false

	_, err := h.d.Start(context.Background(), src)
	assert.ErrorIs(t, err, ErrSourceInactive)
}

func TestBuilderFailureSurfacesBeforeRunStarts(t *testing.T) {
	store := historymem.New()
	d, err := New(Config{
		Build: func(document.SourceDefinition) (connector.Connector, error) {
			return nil, errors.New("bad configuration")
		},
		Embedder: index.HashEmbedder{Dimensions: 16},
		Indexer:  index.NewMemoryIndex(),
		History:  store,
	})
	require.NoError(t, err)

	_, err = d.Start(context.Background(), activeSource("s1"))
	require.Error(t, err)

	_, err = store.Latest(context.Background(), "s1")
	assert.Error(t, err, "no record should be persisted for a run that never started")
}

func TestStopYieldsStoppedRun(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		close(started)
		for !sup.StopRequested() {
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)
	<-started

	require.NoError(t, h.d.Stop("s1"))
	final := waitForRecord(t, h, "s1")
	assert.Equal(t, run.StatusStopped, final.Status)
}

func TestStopWithoutActiveRun(t *testing.T) {
	h := newHarness(t, emitDocs())
	assert.ErrorIs(t, h.d.Stop("s1"), ErrNotRunning)
}

func TestFailedRunPersistsError(t *testing.T) {
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		sup.Document(&document.Document{ExternalID: "d-1", Content: "partial progress"}, false)
		return errors.New("source exploded")
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)

	final := waitForRecord(t, h, "s1")
	assert.Equal(t, run.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "source exploded")
	assert.Equal(t, 1, final.DocumentsAdded)
}

func TestRemovalEventsDeleteFromIndex(t *testing.T) {
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		sup.Document(&document.Document{ExternalID: "d-1", Content: "to be removed"}, false)
		sup.Removal("d-1")
		return nil
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)

	final := waitForRecord(t, h, "s1")
	assert.Equal(t, 1, final.DocumentsAdded)
	assert.Equal(t, 1, final.DocumentsRemoved)
	assert.Equal(t, 0, h.indexer.Count("s1"))
}

func TestStatusPrefersActiveRun(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		sup.Progress(1, 4, "item-1")
		<-release
		return nil
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		rec, serr := h.d.Status(context.Background(), "s1")
		require.NoError(t, serr)
		if rec.ProcessedItems == 1 {
			assert.Equal(t, run.StatusRunning, rec.Status)
			assert.Equal(t, 25, rec.Progress)
			break
		}
		select {
		case <-deadline:
			t.Fatal("never observed live progress")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	final := waitForRecord(t, h, "s1")

	rec, err := h.d.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, final.ID, rec.ID)
	assert.True(t, rec.Status.Terminal())
}

func TestLogsLevelFilter(t *testing.T) {
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		sup.Logf("processing item one")
		sup.Logf("skipping item two: unreadable")
		sup.Logf("fetch failed for item three")
		return nil
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)
	waitForRecord(t, h, "s1")

	all, err := h.d.Logs(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 4)

	warns, err := h.d.Logs(context.Background(), "s1", run.LevelWarn)
	require.NoError(t, err)
	require.Len(t, warns, 2)
	assert.Contains(t, warns[0].Message, "skipping")

	errs, err := h.d.Logs(context.Background(), "s1", run.LevelError)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "failed")
}

func TestShutdownStopsActiveRuns(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(_ context.Context, sup *run.Supervisor) error {
		close(started)
		for !sup.StopRequested() {
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})

	_, err := h.d.Start(context.Background(), activeSource("s1"))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.d.Shutdown(ctx))

	final := waitForRecord(t, h, "s1")
	assert.Equal(t, run.StatusStopped, final.Status)
}
