package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"toolscout/internal/catalog"
)

// embedConcurrency bounds parallel embedding requests so a local model
// server is not overwhelmed during an index build.
const embedConcurrency = 4

// Indexer builds the catalog's vector index by embedding each item's
// composed text and writing the result into the vector store.
type Indexer struct {
	embedder Embedder
	vectors  VectorStore
}

// NewIndexer creates an Indexer over the given embedder and store.
func NewIndexer(embedder Embedder, vectors VectorStore) *Indexer {
	return &Indexer{embedder: embedder, vectors: vectors}
}

// Build embeds every item and upserts the vectors. It returns the number
// of vectors written. A single embedding failure aborts the build; a
// partially embedded catalog would skew search results.
func (ix *Indexer) Build(ctx context.Context, items []catalog.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	vectors := make([]ItemVector, len(items))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, it := range items {
		g.Go(func() error {
			vec, err := ix.embedder.Embed(gCtx, it.EmbeddingText())
			if err != nil {
				return fmt.Errorf("embedding item %s: %w", it.ID, err)
			}
			vectors[i] = ItemVector{ID: it.ID, Embedding: vec}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := ix.vectors.Upsert(vectors); err != nil {
		return 0, fmt.Errorf("storing vectors: %w", err)
	}
	return len(vectors), nil
}
