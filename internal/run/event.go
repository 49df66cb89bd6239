package run

import "github.com/finchsearch/finch/internal/document"

// EventKind discriminates the events a connector emits through its Supervisor.
type EventKind int

// Supported event kinds.
const (
	EventLog EventKind = iota
	EventProgress
	EventDocument
	EventRemoval
	EventComplete
)

// Event is one message on a run's outbound channel. The dispatcher consumes
// events in emission order; document events are delivered synchronously so a
// slow indexer throttles extraction instead of buffering unboundedly.
type Event struct {
	Kind EventKind

	// EventLog
	Log LogEntry

	// EventProgress
	Processed int
	Total     int
	Cursor    string

	// EventDocument
	Doc *document.Document
	// Revisit marks a document the connector already emitted this run, such
	// as a live-watch change to a file from the initial scan.
	Revisit bool

	// EventRemoval
	RemovedID string

	// EventComplete carries the finalized record snapshot.
	Record Record
}
