// Package memory provides an in-memory history store for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/finchsearch/finch/internal/history"
	"github.com/finchsearch/finch/internal/run"
)

// Store keeps run records per source, newest first.
type Store struct {
	mu   sync.RWMutex
	runs map[string][]run.Record
}

// New constructs a Store.
func New() *Store {
	return &Store{runs: make(map[string][]run.Record)}
}

// Save prepends the record for its source.
func (s *Store) Save(_ context.Context, rec run.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.SourceID] = append([]run.Record{rec}, s.runs[rec.SourceID]...)
	return nil
}

// List returns a page of records, newest first.
func (s *Store) List(_ context.Context, sourceID string, limit, offset int) ([]run.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.runs[sourceID]
	if offset >= len(records) {
		return nil, nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	out := make([]run.Record, len(records))
	copy(out, records)
	return out, nil
}

// Latest returns the newest record for the source.
func (s *Store) Latest(_ context.Context, sourceID string) (run.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.runs[sourceID]
	if len(records) == 0 {
		return run.Record{}, history.ErrNotFound
	}
	return records[0], nil
}
