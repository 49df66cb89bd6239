// Package index declares the embedding and indexing collaborator interfaces
// the engine feeds. The real vector/text engine lives outside this repository;
// the memory implementation here backs tests and local runs.
package index

import (
	"context"

	"github.com/finchsearch/finch/internal/document"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Indexer upserts documents keyed by (source id, external id). Upsert reports
// whether the document was created; repeated application converges to the
// same end state.
type Indexer interface {
	Upsert(ctx context.Context, sourceID string, doc document.Document, vector []float32) (created bool, err error)
	Delete(ctx context.Context, sourceID, externalID string) error
}
