// Package similarity provides semantic nearest-neighbour lookup used by the
// result cache to recall analyses for logically close, non-identical requests.
package similarity

import (
	"context"
	"math"
	"sync"
)

// InMemoryIndex is a process-local cosine-similarity index. It is the default
// backend; the Weaviate-backed index replaces it when an endpoint is
// configured.
type InMemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	embedding []float32
	payload   []byte
}

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{entries: make(map[string]entry)}
}

// Upsert stores or replaces the embedding and payload for id.
func (i *InMemoryIndex) Upsert(_ context.Context, id string, embedding []float32, payload []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[id] = entry{
		embedding: append([]float32(nil), embedding...),
		payload:   append([]byte(nil), payload...),
	}
	return nil
}

// Nearest returns the payload with the highest cosine similarity to the query
// embedding, if it clears the threshold.
func (i *InMemoryIndex) Nearest(_ context.Context, embedding []float32, threshold float64) ([]byte, float64, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	best := -1.0
	var bestPayload []byte
	for _, e := range i.entries {
		score := Cosine(embedding, e.embedding)
		if score > best {
			best = score
			bestPayload = e.payload
		}
	}
	if bestPayload == nil || best < threshold {
		return nil, 0, false, nil
	}
	out := append([]byte(nil), bestPayload...)
	return out, best, true, nil
}

// Cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
