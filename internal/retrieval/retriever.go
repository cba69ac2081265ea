package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"toolscout/internal/catalog"
	"toolscout/internal/extract"
)

// DefaultTopK favors a single best answer over a list.
const DefaultTopK = 1

// Catalog is the read side of the catalog index the retriever needs.
// Implemented by *catalog.Index.
type Catalog interface {
	FilterByConstraints(set extract.ConstraintSet) []catalog.Item
	Get(id string) (catalog.Item, bool)
	Rank(id string) (int, bool)
}

// ScoredItem is a catalog item with its similarity score.
type ScoredItem struct {
	Item  catalog.Item
	Score float32
}

// Result is the outcome of one retrieval cascade.
type Result struct {
	Items []ScoredItem
	// Constraints actually applied (seed merged with extraction).
	Constraints extract.ConstraintSet
	// FallbackUsed is set when the constraints described nothing in the
	// catalog and the candidates come from an unfiltered search instead.
	// Filters are never dropped silently.
	FallbackUsed bool
	// MetadataOnly is set when the embedding provider was unavailable and
	// the (explicitly enabled) metadata-only fallback ranked the filtered
	// subset by catalog order instead of similarity.
	MetadataOnly bool
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMetadataFallback enables metadata-only retrieval when the embedding
// provider is unavailable. Off by default: an embedding failure then
// fails the turn rather than silently degrading.
func WithMetadataFallback(enabled bool) Option {
	return func(r *Retriever) { r.metadataFallback = enabled }
}

// Retriever composes attribute extraction, metadata filtering and
// nearest-neighbor search into the hybrid retrieval cascade.
type Retriever struct {
	registry         *extract.Registry
	catalog          Catalog
	embedder         Embedder
	vectors          VectorStore
	metadataFallback bool
}

// NewRetriever creates a Retriever over the given components.
func NewRetriever(registry *extract.Registry, cat Catalog, embedder Embedder, vectors VectorStore, opts ...Option) *Retriever {
	r := &Retriever{
		registry: registry,
		catalog:  cat,
		embedder: embedder,
		vectors:  vectors,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve runs the deterministic cascade:
//
//  1. Merge seed constraints with constraints extracted from the query
//     (extraction wins on conflict).
//  2. If constraints are non-empty, filter the catalog. A non-empty
//     subset is ranked by similarity restricted to it. An empty subset
//     falls through to an unfiltered search with FallbackUsed set.
//  3. Otherwise rank the whole catalog.
//
// At most k items return (k <= 0 means DefaultTopK); every item is
// catalog-sourced; ties break by catalog insertion order.
func (r *Retriever) Retrieve(ctx context.Context, effectiveQuery string, seed extract.ConstraintSet, k int) (Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	cons := seed.Merge(r.registry.Extract(effectiveQuery))
	res := Result{Constraints: cons}

	var subset []catalog.Item
	if len(cons) > 0 {
		subset = r.catalog.FilterByConstraints(cons)
		if len(subset) == 0 {
			// Filters describe nothing in the catalog. Do not drop them
			// silently: candidates below come from an unfiltered search.
			res.FallbackUsed = true
		}
	}

	vec, err := r.embedder.Embed(ctx, effectiveQuery)
	if err != nil {
		if errors.Is(err, ErrEmbeddingUnavailable) && r.metadataFallback && len(subset) > 0 {
			slog.Warn("embedding unavailable, using metadata-only ranking", "error", err)
			res.MetadataOnly = true
			res.Items = takeInCatalogOrder(subset, k)
			return res, nil
		}
		return Result{}, err
	}

	var matches []Match
	if len(subset) > 0 {
		matches, err = r.searchSubset(vec, subset, k)
	} else {
		matches, err = r.vectors.Search(vec, k)
	}
	if err != nil {
		return Result{}, err
	}

	res.Items = r.resolve(matches, k)
	return res, nil
}

// searchSubset ranks the filtered subset, delegating to the store's
// restricted search when supported and computing cosine scores directly
// over the subset's inline vectors otherwise.
func (r *Retriever) searchSubset(vec []float32, subset []catalog.Item, k int) ([]Match, error) {
	if ss, ok := r.vectors.(SubsetSearcher); ok {
		ids := make([]string, len(subset))
		for i, it := range subset {
			ids[i] = it.ID
		}
		return ss.SearchSubset(vec, ids, k)
	}

	matches := make([]Match, len(subset))
	for i, it := range subset {
		matches[i] = Match{ID: it.ID, Score: Cosine(vec, it.Vector)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// resolve maps matches back to live catalog items, dropping any id the
// catalog no longer knows (a reload may have raced the search), and
// applies the deterministic ordering: score descending, catalog insertion
// order on ties.
func (r *Retriever) resolve(matches []Match, k int) []ScoredItem {
	type ranked struct {
		ScoredItem
		rank int
	}
	out := make([]ranked, 0, len(matches))
	for _, m := range matches {
		it, ok := r.catalog.Get(m.ID)
		if !ok {
			slog.Debug("dropping match unknown to the catalog", "id", m.ID)
			continue
		}
		rank, _ := r.catalog.Rank(m.ID)
		out = append(out, ranked{ScoredItem{Item: it, Score: m.Score}, rank})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].rank < out[j].rank
	})
	if len(out) > k {
		out = out[:k]
	}
	items := make([]ScoredItem, len(out))
	for i, o := range out {
		items[i] = o.ScoredItem
	}
	return items
}

func takeInCatalogOrder(subset []catalog.Item, k int) []ScoredItem {
	if len(subset) > k {
		subset = subset[:k]
	}
	items := make([]ScoredItem, len(subset))
	for i, it := range subset {
		items[i] = ScoredItem{Item: it}
	}
	return items
}
