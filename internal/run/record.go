// Package run owns the per-execution lifecycle: the RunRecord state machine,
// its capped log buffer, and the Supervisor that connectors report through.
package run

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

// Run status values. A record moves from Running into exactly one terminal
// state.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Log buffer sizing: appends beyond logBufferCap trim the buffer down to the
// most recent logBufferKeep entries.
const (
	logBufferCap  = 1000
	logBufferKeep = 500
)

// LogEntry is one timestamped line in a run's log buffer.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Record describes one execution of a connector.
type Record struct {
	ID               string     `json:"id"`
	SourceID         string     `json:"source_id"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DocumentsAdded   int        `json:"documents_added"`
	DocumentsUpdated int        `json:"documents_updated"`
	DocumentsRemoved int        `json:"documents_removed"`
	Progress         int        `json:"progress"`
	ProcessedItems   int        `json:"processed_items"`
	TotalItems       int        `json:"total_items"`
	CurrentItem      string     `json:"current_item,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Logs             []LogEntry `json:"logs,omitempty"`
}

// Level is a coarse log severity guessed from message text.
type Level string

// Guessed log levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
)

var (
	errorKeywords = []string{"error", "fail", "fatal", "unable", "denied", "timeout"}
	warnKeywords  = []string{"warn", "skip", "retry", "disallow", "unavailable", "missing"}
)

// GuessLevel classifies a log line by keyword matching. It backs the optional
// level filter on the log-tail endpoint.
func GuessLevel(message string) Level {
	lower := strings.ToLower(message)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return LevelError
		}
	}
	for _, kw := range warnKeywords {
		if strings.Contains(lower, kw) {
			return LevelWarn
		}
	}
	return LevelInfo
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
