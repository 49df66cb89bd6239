// Package connector defines the capability contract every source variant
// implements and the factory that maps a source definition onto a concrete
// connector.
package connector

import (
	"context"
	"errors"

	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/run"
)

// ErrUnknownSourceType is returned for a type tag outside the closed set.
var ErrUnknownSourceType = errors.New("unknown source type")

// Connector runs one source-specific algorithm under the shared lifecycle. Run
// walks the source, emitting documents, log lines, and progress through the
// supervisor, and checks the supervisor's stop flag between units of work. A
// nil return means the walk finished (Completed, or Stopped when the flag was
// raised); an error return fails the run.
type Connector interface {
	Type() document.SourceType
	Run(ctx context.Context, sup *run.Supervisor) error
}
