package folder

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/run"
)

// Config carries everything a folder run needs beyond the source definition.
type Config struct {
	SourceID   string
	Folder     document.FolderConfig
	Extractors Extractors
	Logger     *zap.Logger
}

// Connector scans a directory tree, emitting one document per admitted file,
// then optionally keeps watching the tree for changes until stopped.
type Connector struct {
	sourceID   string
	cfg        document.FolderConfig
	extractors Extractors
	logger     *zap.Logger

	// pollInterval bounds how long the watch loop waits before rechecking
	// the stop flag. Shortened in tests.
	pollInterval time.Duration
}

// New validates the folder configuration.
func New(cfg Config) (*Connector, error) {
	if err := cfg.Folder.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		sourceID:     cfg.SourceID,
		cfg:          cfg.Folder,
		extractors:   cfg.Extractors,
		logger:       logger,
		pollInterval: 200 * time.Millisecond,
	}, nil
}

// Type reports the connector variant.
func (c *Connector) Type() document.SourceType { return document.SourceFolder }

// Run performs the scan pass and, when configured, the watch phase. A folder
// that cannot be resolved fails the run; a single unreadable file does not.
func (c *Connector) Run(ctx context.Context, sup *run.Supervisor) error {
	root, err := ResolvePath(c.cfg.FolderPath)
	if err != nil {
		return err
	}
	sel, err := newSelection(root, c.cfg.FileTypes, c.cfg.ExcludePatterns, c.cfg.Recursive)
	if err != nil {
		return err
	}

	sup.Logf("scanning %s (types=%s recursive=%t)", root, strings.Join(c.cfg.FileTypes, ","), c.cfg.Recursive)
	files, err := sel.scan(func(path string, walkErr error) {
		sup.Logf("skipping %s: %v", path, walkErr)
		metrics.ObserveSkip(string(document.SourceFolder))
	})
	if err != nil {
		return err
	}
	sup.Logf("found %d candidate files", len(files))

	emitted := make(map[string]struct{})
	for i, fd := range files {
		if sup.StopRequested() {
			sup.Logf("stopping scan after %d of %d files", i, len(files))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.emitFile(sup, fd, false) {
			emitted[fd.Path] = struct{}{}
		}
		sup.Progress(i+1, len(files), fd.RelPath)
	}

	if !c.cfg.WatchForChanges || sup.StopRequested() {
		return nil
	}
	return c.watch(ctx, sup, sel, emitted)
}

// emitFile extracts the file and forwards it. Per-file failures are logged
// and skipped. Reports whether a document was emitted.
func (c *Connector) emitFile(sup *run.Supervisor, fd FileDescriptor, revisit bool) bool {
	content, contentType, err := ExtractFile(fd.Path, fd.Ext, c.extractors)
	if err != nil {
		sup.Logf("skipping %s: %v", fd.RelPath, err)
		metrics.ObserveSkip(string(document.SourceFolder))
		return false
	}
	if len(strings.TrimSpace(content)) < minFileContentChars {
		sup.Logf("skipping %s: no extractable text", fd.RelPath)
		metrics.ObserveSkip(string(document.SourceFolder))
		return false
	}
	modTime := fd.ModTime
	doc := &document.Document{
		ExternalID:  ExternalID(fd.Path),
		Title:       filepath.Base(fd.Path),
		Content:     content,
		ContentType: contentType,
		Attributes: map[string]string{
			"path": fd.Path,
			"size": strconv.FormatInt(fd.Size, 10),
		},
	}
	if !modTime.IsZero() {
		doc.LastModified = &modTime
	}
	sup.Document(doc, revisit)
	return true
}
