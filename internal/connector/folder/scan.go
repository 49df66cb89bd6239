package folder

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/finchsearch/finch/internal/pattern"
)

// FileDescriptor identifies one candidate file found during the scan pass.
type FileDescriptor struct {
	Path    string // absolute
	RelPath string // relative to the scan root, slash-separated
	Ext     string // lowercased, with leading dot
	Size    int64
	ModTime time.Time
}

// selection is the compiled filter applied during scanning and watching.
type selection struct {
	root      string
	recursive bool
	exts      map[string]struct{}
	exclude   []pattern.Glob
}

func newSelection(root string, fileTypes, excludePatterns []string, recursive bool) (*selection, error) {
	exclude, err := pattern.CompileAll(excludePatterns)
	if err != nil {
		return nil, err
	}
	exts := make(map[string]struct{}, len(fileTypes))
	for _, ft := range fileTypes {
		exts[strings.ToLower(ft)] = struct{}{}
	}
	return &selection{root: root, recursive: recursive, exts: exts, exclude: exclude}, nil
}

// admit reports whether the absolute path passes the extension allow-list and
// the exclude patterns. Exclude patterns match against both the root-relative
// path and the bare file name.
func (s *selection) admit(path string) (FileDescriptor, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := s.exts[ext]; !ok {
		return FileDescriptor{}, false
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return FileDescriptor{}, false
	}
	rel = filepath.ToSlash(rel)
	if pattern.MatchAny(s.exclude, rel) || pattern.MatchAny(s.exclude, filepath.Base(path)) {
		return FileDescriptor{}, false
	}
	return FileDescriptor{Path: path, RelPath: rel, Ext: ext}, true
}

// scan walks the root and returns the admitted files in lexical walk order.
// Entries that cannot be read or statted are reported through onSkip and left
// out; only a root that cannot be walked at all fails the scan.
func (s *selection) scan(onSkip func(path string, err error)) ([]FileDescriptor, error) {
	var files []FileDescriptor
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			onSkip(path, err)
			return nil
		}
		if d.IsDir() {
			if !s.recursive && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		fd, ok := s.admit(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			onSkip(path, err)
			return nil
		}
		fd.Size = info.Size()
		fd.ModTime = info.ModTime()
		files = append(files, fd)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return files, nil
}
