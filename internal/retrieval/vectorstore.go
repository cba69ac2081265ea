package retrieval

// Match is a scored reference to a catalog item produced by the
// nearest-neighbor primitive. Only the id crosses this boundary; the
// retriever resolves it against the live catalog, so a stale or unknown
// id can never surface as a result.
type Match struct {
	ID    string
	Score float32
}

// ItemVector pairs a catalog item id with its embedding.
type ItemVector struct {
	ID        string
	Embedding []float32
}

// VectorStore is the nearest-neighbor search primitive over the catalog's
// precomputed vectors. Implementations: SQLiteVectorStore (persistent,
// built by the index command) and MemoryStore (vectors carried inline in
// the catalog file; also the test double).
type VectorStore interface {
	// Upsert replaces the stored vectors for the given ids.
	Upsert(vectors []ItemVector) error

	// Search returns the topK most similar ids with cosine scores,
	// ordered by score descending.
	Search(vector []float32, topK int) ([]Match, error)

	// Count returns the number of stored vectors.
	Count() (int, error)
}

// SubsetSearcher is an optional interface for VectorStore implementations
// that can restrict search to an arbitrary subset of ids. When a store
// does not implement it, the retriever computes scores directly over the
// (small) filtered subset instead.
type SubsetSearcher interface {
	SearchSubset(vector []float32, ids []string, topK int) ([]Match, error)
}
