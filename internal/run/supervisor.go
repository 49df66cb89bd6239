package run

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/finchsearch/finch/internal/document"
)

// Supervisor owns one run: its record, its cooperative stop flag, and the
// outbound event channel the dispatcher consumes. A connector emits through
// the Supervisor from a single goroutine; the dispatcher reads the record via
// Snapshot and mutates counters through the Count methods.
type Supervisor struct {
	mu     sync.Mutex
	record Record

	stop   atomic.Bool
	clock  Clock
	events chan Event

	finishOnce sync.Once
}

// NewSupervisor allocates a fresh Running record with zeroed counters and the
// initial "starting" log line already buffered.
func NewSupervisor(runID, sourceID string, clock Clock) *Supervisor {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Supervisor{
		clock:  clock,
		events: make(chan Event),
	}
	s.record = Record{
		ID:        runID,
		SourceID:  sourceID,
		Status:    StatusRunning,
		StartedAt: clock.Now(),
	}
	s.appendLog("starting run")
	return s
}

// Events returns the run's outbound channel. It is closed after the
// completion event has been delivered.
func (s *Supervisor) Events() <-chan Event { return s.events }

// RequestStop raises the cooperative cancellation flag. The running connector
// observes it between units of work; in-flight I/O is allowed to finish.
func (s *Supervisor) RequestStop() {
	if s.stop.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.appendLogLocked("stop requested")
		s.mu.Unlock()
	}
}

// StopRequested reports whether a stop has been requested.
func (s *Supervisor) StopRequested() bool { return s.stop.Load() }

// Logf appends a timestamped line to the capped log buffer and relays it.
func (s *Supervisor) Logf(format string, args ...any) {
	entry := s.appendLog(fmt.Sprintf(format, args...))
	s.events <- Event{Kind: EventLog, Log: entry}
}

// Notef appends a log line without relaying it on the event channel. The
// channel's consumer uses it; emitting from the consumer would deadlock.
func (s *Supervisor) Notef(format string, args ...any) {
	s.appendLog(fmt.Sprintf(format, args...))
}

// Progress records processed/total items plus a human-readable cursor and
// derives the percent.
func (s *Supervisor) Progress(processed, total int, cursor string) {
	s.mu.Lock()
	s.record.ProcessedItems = processed
	s.record.TotalItems = total
	s.record.CurrentItem = cursor
	s.record.Progress = percent(processed, total)
	s.mu.Unlock()
	s.events <- Event{Kind: EventProgress, Processed: processed, Total: total, Cursor: cursor}
}

// Document forwards an extracted document to the dispatcher and blocks until
// it has been indexed, providing natural backpressure.
func (s *Supervisor) Document(doc *document.Document, revisit bool) {
	s.events <- Event{Kind: EventDocument, Doc: doc, Revisit: revisit}
}

// Removal signals that the item identified by externalID no longer exists at
// the source.
func (s *Supervisor) Removal(externalID string) {
	s.events <- Event{Kind: EventRemoval, RemovedID: externalID}
}

// CountDocument increments documentsAdded or documentsUpdated on the active
// record, depending on whether the upsert created the document.
func (s *Supervisor) CountDocument(created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if created {
		s.record.DocumentsAdded++
	} else {
		s.record.DocumentsUpdated++
	}
}

// CountRemoved increments documentsRemoved on the active record.
func (s *Supervisor) CountRemoved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.DocumentsRemoved++
}

// Finish transitions the record into its terminal state exactly once, emits
// the completion event carrying the final snapshot, and closes the channel.
// A nil error with the stop flag raised yields Stopped; a nil error without
// it yields Completed; any other error yields Failed.
func (s *Supervisor) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		now := s.clock.Now()
		switch {
		case err != nil:
			s.record.Status = StatusFailed
			s.record.ErrorMessage = err.Error()
			s.appendLogLocked(fmt.Sprintf("run failed: %v", err))
		case s.stop.Load():
			s.record.Status = StatusStopped
			s.appendLogLocked("run stopped")
		default:
			s.record.Status = StatusCompleted
			s.appendLogLocked("run completed")
		}
		s.record.CompletedAt = &now
		s.record.Progress = 100
		snapshot := s.snapshotLocked()
		s.mu.Unlock()

		s.events <- Event{Kind: EventComplete, Record: snapshot}
		close(s.events)
	})
}

// Snapshot returns a deep copy of the current record.
func (s *Supervisor) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() Record {
	out := s.record
	out.Logs = append([]LogEntry(nil), s.record.Logs...)
	if s.record.CompletedAt != nil {
		completed := *s.record.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

func (s *Supervisor) appendLog(message string) LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLogLocked(message)
}

func (s *Supervisor) appendLogLocked(message string) LogEntry {
	entry := LogEntry{At: s.clock.Now(), Message: message}
	s.record.Logs = append(s.record.Logs, entry)
	if len(s.record.Logs) > logBufferCap {
		kept := s.record.Logs[len(s.record.Logs)-logBufferKeep:]
		s.record.Logs = append([]LogEntry(nil), kept...)
	}
	return entry
}

func percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}
