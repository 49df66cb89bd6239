package folder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/run"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestConnector(t *testing.T, cfg document.FolderConfig) *Connector {
	t.Helper()
	c, err := New(Config{SourceID: "src-1", Folder: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)
	c.pollInterval = 20 * time.Millisecond
	return c
}

func runScan(t *testing.T, c *Connector) (run.Record, []run.Event) {
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

func docTitles(events []run.Event) []string {
	var titles []string
	for _, ev := range events {
		if ev.Kind == run.EventDocument {
			titles = append(titles, ev.Doc.Title)
		}
	}
	return titles
}

const txtBody = "This text file holds plenty of plain readable content for indexing."

func TestScanFiltersByTypeAndPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", txtBody)
	writeFile(t, dir, "b.pdf", "%PDF-1.4 binary payload")
	writeFile(t, dir, "c.exclude.txt", txtBody)

	c := newTestConnector(t, document.FolderConfig{
		FolderPath:      dir,
		FileTypes:       []string{".txt"},
		ExcludePatterns: []string{"*.exclude.txt"},
	})

	record, events := runScan(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	assert.Equal(t, []string{"a.txt"}, docTitles(events))
}

func TestScanSurvivesUnreadableSubdir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := t.TempDir()
	writeFile(t, dir, "readable.txt", txtBody)
	writeFile(t, dir, filepath.Join("locked", "hidden.txt"), txtBody)
	require.NoError(t, os.Chmod(filepath.Join(dir, "locked"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(dir, "locked"), 0o755) })

	c := newTestConnector(t, document.FolderConfig{
		FolderPath: dir,
		FileTypes:  []string{".txt"},
		Recursive:  true,
	})

	record, events := runScan(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	assert.Equal(t, []string{"readable.txt"}, docTitles(events))
}

func TestScanSkipsEntriesReportedByWalk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "kept.txt", txtBody)

	sel, err := newSelection(dir, []string{".txt"}, nil, true)
	require.NoError(t, err)

	var skipped []string
	files, err := sel.scan(func(path string, _ error) { skipped = append(skipped, path) })
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Empty(t, skipped)

	// A root that vanishes entirely is still fatal.
	missing, err := newSelection(filepath.Join(dir, "gone"), []string{".txt"}, nil, true)
	require.NoError(t, err)
	_, err = missing.scan(func(string, error) {})
	assert.Error(t, err)
}

func TestScanRecursiveToggle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top.txt", txtBody)
	writeFile(t, dir, filepath.Join("nested", "deep.txt"), txtBody)

	flat := newTestConnector(t, document.FolderConfig{
		FolderPath: dir,
		FileTypes:  []string{".txt"},
	})
	_, events := runScan(t, flat)
	assert.Equal(t, []string{"top.txt"}, docTitles(events))

	deep := newTestConnector(t, document.FolderConfig{
		FolderPath: dir,
		FileTypes:  []string{".txt"},
		Recursive:  true,
	})
	_, events = runScan(t, deep)
	assert.ElementsMatch(t, []string{"top.txt", "deep.txt"}, docTitles(events))
}

func TestScanSkipsTinyAndUnextractableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.txt", "   ")
	writeFile(t, dir, "doc.pdf", "%PDF-1.4")
	writeFile(t, dir, "real.txt", txtBody)

	c := newTestConnector(t, document.FolderConfig{
		FolderPath: dir,
		FileTypes:  []string{".txt", ".pdf"},
	})

	record, events := runScan(t, c)

	assert.Equal(t, run.StatusCompleted, record.Status)
	assert.Equal(t, []string{"real.txt"}, docTitles(events))
	assert.Equal(t, 3, record.ProcessedItems)
	assert.Equal(t, 3, record.TotalItems)
}

func TestScanFailsOnMissingFolder(t *testing.T) {
	c := newTestConnector(t, document.FolderConfig{
		FolderPath: filepath.Join(t.TempDir(), "does-not-exist"),
		FileTypes:  []string{".txt"},
	})

	record, _ := runScan(t, c)
	assert.Equal(t, run.StatusFailed, record.Status)
	assert.NotEmpty(t, record.ErrorMessage)
}

func TestMarkdownExtraction(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", "# Release Notes\n\nThe *first* release [ships](https://example.com) with `fast` search.\n")

	c := newTestConnector(t, document.FolderConfig{
		FolderPath: dir,
		FileTypes:  []string{".md"},
	})

	_, events := runScan(t, c)
	var content string
	var contentType document.ContentType
	for _, ev := range events {
		if ev.Kind == run.EventDocument {
			content = ev.Doc.Content
			contentType = ev.Doc.ContentType
		}
	}
	assert.Equal(t, document.ContentMarkdown, contentType)
	assert.Contains(t, content, "Release Notes")
	assert.Contains(t, content, "first release ships with fast search")
	assert.NotContains(t, content, "#")
	assert.NotContains(t, content, "](")
}

func TestExternalIDRoundTrip(t *testing.T) {
	path := "/srv/docs/guide v2.txt"
	id := ExternalID(path)
	assert.NotContains(t, id[len("file-"):], "/")

	back, err := PathFromExternalID(id)
	require.NoError(t, err)
	assert.Equal(t, path, back)

	_, err = PathFromExternalID("web-something")
	assert.Error(t, err)
}

func TestWatchEmitsChangesUntilStopped(t *testing.T) {
	dir := t.TempDir()
	seeded := writeFile(t, dir, "seed.txt", txtBody)

	c := newTestConnector(t, document.FolderConfig{
		FolderPath:      dir,
		FileTypes:       []string{".txt"},
		WatchForChanges: true,
	})

	sup := run.NewSupervisor("run-1", "src-1", nil)
	events := make(chan run.Event, 64)
	go func() {
		for ev := range sup.Events() {
			events <- ev
		}
		close(events)
	}()
	runDone := make(chan error, 1)
	go func() {
		runDone <- c.Run(context.Background(), sup)
	}()

	waitForDoc := func(title string, revisit bool) run.Event {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-events:
				if ev.Kind == run.EventDocument && ev.Doc.Title == title && ev.Revisit == revisit {
					return ev
				}
			case <-deadline:
				t.Fatalf("timed out waiting for document %q (revisit=%t)", title, revisit)
			}
		}
	}

	waitForDoc("seed.txt", false)

	// A brand new file arrives while watching.
	added := writeFile(t, dir, "added.txt", txtBody)
	waitForDoc("added.txt", false)

	// A rewrite of an already indexed file is a revisit.
	require.NoError(t, os.WriteFile(seeded, []byte(txtBody+" updated"), 0o644))
	waitForDoc("seed.txt", true)

	// Deleting an indexed file produces a removal.
	require.NoError(t, os.Remove(added))
	deadline := time.After(5 * time.Second)
	for {
		var ev run.Event
		select {
		case ev = <-events:
		case <-deadline:
			t.Fatal("timed out waiting for removal event")
		}
		if ev.Kind == run.EventRemoval {
			assert.Equal(t, ExternalID(added), ev.RemovedID)
			break
		}
	}

	sup.RequestStop()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not observe the stop request")
	}
	sup.Finish(nil)
	for range events {
	}
	assert.Equal(t, run.StatusStopped, sup.Snapshot().Status)
}
