package connector

import (
	"sync"
	"time"
)

// Outcome records the result of one sync attempt against a source.
type Outcome struct {
	At        time.Time
	OK        bool
	Message   string
	Watermark time.Time
}

// StateStore tracks per-source sync outcomes and the incremental high
// watermark. Connectors record the outcome unconditionally before
// disconnecting; the watermark feeds the next incremental run.
type StateStore interface {
	Watermark(sourceID string) (time.Time, bool)
	RecordOutcome(sourceID string, outcome Outcome)
	LastOutcome(sourceID string) (Outcome, bool)
}

// MemoryStateStore is a concurrency-safe in-memory StateStore.
type MemoryStateStore struct {
	mu         sync.RWMutex
	outcomes   map[string]Outcome
	watermarks map[string]time.Time
}

// NewMemoryStateStore constructs an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		outcomes:   make(map[string]Outcome),
		watermarks: make(map[string]time.Time),
	}
}

// Watermark returns the watermark from the last successful sync. A failed run
// does not clear it, so incremental progress survives transient failures.
func (s *MemoryStateStore) Watermark(sourceID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[sourceID]
	return wm, ok
}

// RecordOutcome stores the outcome; successful outcomes advance the watermark.
func (s *MemoryStateStore) RecordOutcome(sourceID string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[sourceID] = outcome
	if outcome.OK && !outcome.Watermark.IsZero() {
		s.watermarks[sourceID] = outcome.Watermark
	}
}

// LastOutcome returns the most recent outcome for the source.
func (s *MemoryStateStore) LastOutcome(sourceID string) (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, ok := s.outcomes[sourceID]
	return outcome, ok
}
