package index

import (
	"context"
	"sync"

	"github.com/finchsearch/finch/internal/document"
)

// MemoryIndex is a concurrency-safe in-memory Indexer.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]storedDocument
}

type storedDocument struct {
	doc    document.Document
	vector []float32
}

// NewMemoryIndex constructs an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]map[string]storedDocument)}
}

// Upsert stores the document, reporting true when it did not exist before.
func (m *MemoryIndex) Upsert(
	_ context.Context,
	sourceID string,
	doc document.Document,
	vector []float32,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySource, ok := m.docs[sourceID]
	if !ok {
		bySource = make(map[string]storedDocument)
		m.docs[sourceID] = bySource
	}
	_, existed := bySource[doc.ExternalID]
	bySource[doc.ExternalID] = storedDocument{doc: doc, vector: append([]float32(nil), vector...)}
	return !existed, nil
}

// Delete removes the document if present.
func (m *MemoryIndex) Delete(_ context.Context, sourceID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bySource, ok := m.docs[sourceID]; ok {
		delete(bySource, externalID)
	}
	return nil
}

// Get returns a stored document, mainly for tests.
func (m *MemoryIndex) Get(sourceID, externalID string) (document.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySource, ok := m.docs[sourceID]
	if !ok {
		return document.Document{}, false
	}
	stored, ok := bySource[externalID]
	return stored.doc, ok
}

// Count returns the number of documents held for a source.
func (m *MemoryIndex) Count(sourceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[sourceID])
}

// HashEmbedder is a deterministic Embedder for tests and local runs: a cheap
// character-bucket projection into a fixed-length vector.
type HashEmbedder struct {
	Dimensions int
}

// Embed implements Embedder.
func (e HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := e.Dimensions
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	for i, r := range text {
		vec[(i+int(r))%dims]++
	}
	return vec, nil
}
