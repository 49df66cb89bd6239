package folder

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/run"
)

// watch follows filesystem events under the scan root until a stop is
// requested. Failure to establish the watcher degrades to a logged notice
// rather than failing the run, since the scan pass already succeeded.
func (c *Connector) watch(ctx context.Context, sup *run.Supervisor, sel *selection, emitted map[string]struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		sup.Logf("file watching unavailable: %v", err)
		return nil
	}
	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			c.logger.Debug("close watcher", zap.Error(cerr))
		}
	}()

	if err := c.addWatchDirs(watcher, sel); err != nil {
		sup.Logf("file watching unavailable: %v", err)
		return nil
	}
	sup.Logf("watching %s for changes", sel.root)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if sup.StopRequested() {
				sup.Logf("stopping watch on %s", sel.root)
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sup.Logf("watch error: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			c.handleEvent(sup, watcher, sel, emitted, event)
		}
	}
}

func (c *Connector) handleEvent(sup *run.Supervisor, watcher *fsnotify.Watcher, sel *selection, emitted map[string]struct{}, event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if sel.recursive && event.Op.Has(fsnotify.Create) {
				if err := watcher.Add(path); err != nil {
					sup.Logf("cannot watch new directory %s: %v", path, err)
				}
			}
			return
		}
		fd, ok := sel.admit(path)
		if !ok {
			return
		}
		fd.Size = info.Size()
		fd.ModTime = info.ModTime()
		_, revisit := emitted[path]
		if c.emitFile(sup, fd, revisit) {
			emitted[path] = struct{}{}
		}
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		if _, was := emitted[path]; !was {
			return
		}
		delete(emitted, path)
		sup.Logf("file removed: %s", path)
		sup.Removal(ExternalID(path))
	}
}

// addWatchDirs registers the root and, when recursive, every subdirectory.
func (c *Connector) addWatchDirs(watcher *fsnotify.Watcher, sel *selection) error {
	if !sel.recursive {
		return watcher.Add(sel.root)
	}
	return filepath.WalkDir(sel.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
