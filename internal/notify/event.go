// Package notify relays typed run events to external sinks. Delivery is best
// effort and never blocks or fails a run.
package notify

import (
	"errors"
	"time"

	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/run"
)

// EventType denotes the run milestone an Event represents.
type EventType string

// Supported notification event types.
const (
	EventRunStarted   EventType = "RUN_STARTED"
	EventRunCompleted EventType = "RUN_COMPLETED"
	EventRunErrored   EventType = "RUN_ERRORED"
)

// Event is one outward-facing notification about a run.
type Event struct {
	Type       EventType           `json:"type"`
	At         time.Time           `json:"at"`
	RunID      string              `json:"run_id"`
	SourceID   string              `json:"source_id"`
	SourceName string              `json:"source_name"`
	SourceType document.SourceType `json:"source_type"`
	Status     run.Status          `json:"status,omitempty"`

	DocumentsAdded   int    `json:"documents_added"`
	DocumentsUpdated int    `json:"documents_updated"`
	DocumentsRemoved int    `json:"documents_removed"`
	Error            string `json:"error,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.SourceID == "" {
		return errors.New("source id is required")
	}
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case EventRunStarted, EventRunCompleted, EventRunErrored:
		return nil
	default:
		return errors.New("unknown event type")
	}
}
