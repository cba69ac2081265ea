package retrieval

import (
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory VectorStore using brute-force cosine
// similarity. It serves catalogs whose items carry vectors inline and is
// the default store in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	vectors map[string][]float32
}

var (
	_ VectorStore    = (*MemoryStore)(nil)
	_ SubsetSearcher = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vectors: make(map[string][]float32)}
}

// Upsert replaces the stored vectors for the given ids. New ids keep
// their insertion order for stable iteration.
func (s *MemoryStore) Upsert(vectors []ItemVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if _, exists := s.vectors[v.ID]; !exists {
			s.order = append(s.order, v.ID)
		}
		cp := make([]float32, len(v.Embedding))
		copy(cp, v.Embedding)
		s.vectors[v.ID] = cp
	}
	return nil
}

// Search returns the topK most similar ids by cosine score.
func (s *MemoryStore) Search(vector []float32, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search(vector, s.order, topK), nil
}

// SearchSubset restricts the search to the given ids. Unknown ids are ignored.
func (s *MemoryStore) SearchSubset(vector []float32, ids []string, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search(vector, ids, topK), nil
}

// Count returns the number of stored vectors.
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func (s *MemoryStore) search(vector []float32, ids []string, topK int) []Match {
	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		v, ok := s.vectors[id]
		if !ok {
			continue
		}
		matches = append(matches, Match{ID: id, Score: Cosine(vector, v)})
	}
	// Stable: equal scores keep input (catalog insertion) order.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths
// compare over the shorter prefix; zero vectors score zero.
func Cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
