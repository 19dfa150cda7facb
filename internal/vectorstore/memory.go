package vectorstore

import (
	"context"
	"sync"

	"github.com/ZanzyTHEbar/cyibot"
)

// MemoryStore is an in-memory cyibot.VectorSearcher.
type MemoryStore struct {
	mu       sync.RWMutex
	embedder cyibot.Embedder
	docs     map[string]Document
}

// NewMemoryStore creates an empty store embedding with embedder.
func NewMemoryStore(embedder cyibot.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		docs:     make(map[string]Document),
	}
}

// Add indexes docs, replacing documents with the same ID.
func (s *MemoryStore) Add(ctx context.Context, docs ...Document) error {
	if err := embedMissing(ctx, s.embedder, docs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return nil
}

// Len returns the number of indexed documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search embeds query and returns the topK most similar documents whose
// metadata matches filter.
func (s *MemoryStore) Search(ctx context.Context, query string, filter cyibot.MetadataFilter, topK int) ([]cyibot.Fragment, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]scored, 0, len(s.docs))
	for _, d := range s.docs {
		candidates = append(candidates, scored{doc: d, score: cosineSimilarity(vec, d.Embedding)})
	}
	s.mu.RUnlock()

	return rank(candidates, filter, topK), nil
}
