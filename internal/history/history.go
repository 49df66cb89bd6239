// Package history persists finalized run records and serves paginated
// retrieval for the polling surface.
package history

import (
	"context"
	"errors"

	"github.com/finchsearch/finch/internal/run"
)

// ErrNotFound is returned when no run exists for the requested source.
var ErrNotFound = errors.New("run not found")

// Store keeps finalized run records.
type Store interface {
	// Save persists a terminal run record.
	Save(ctx context.Context, rec run.Record) error
	// List returns records for a source ordered newest first.
	List(ctx context.Context, sourceID string, limit, offset int) ([]run.Record, error)
	// Latest returns the most recent record for a source.
	Latest(ctx context.Context, sourceID string) (run.Record, error)
}
