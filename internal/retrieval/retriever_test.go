package retrieval

import (
	"context"
	"errors"
	"testing"

	"toolscout/internal/catalog"
	"toolscout/internal/extract"
)

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	return m.embedFn(ctx, text)
}

func fixedEmbedder(vec []float32) *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return vec, nil
	}}
}

func downEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, ErrEmbeddingUnavailable
	}}
}

func retrievalItems() []catalog.Item {
	return []catalog.Item{
		{
			ID: "t1", Name: "CL-18 Cordless Nutrunner", Category: "Nutrunner",
			Attributes: map[string]string{"voltage": "18V DC", "torque_range": "5–100 Nm"},
			Vector:     []float32{1, 0, 0},
		},
		{
			ID: "t2", Name: "FX-230 Fixtured Nutrunner", Category: "Nutrunner",
			Attributes: map[string]string{"voltage": "230V AC", "torque_range": "20-250 Nm"},
			Vector:     []float32{0, 1, 0},
		},
		{
			ID: "t3", Name: "SP-400 Assembly Spindle", Category: "Spindle",
			Attributes: map[string]string{"voltage": "400V"},
			Vector:     []float32{0, 0, 1},
		},
	}
}

func newTestCatalog(t *testing.T) *catalog.Index {
	t.Helper()
	x, err := catalog.NewIndex(retrievalItems())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return x
}

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	for _, it := range retrievalItems() {
		if err := store.Upsert([]ItemVector{{ID: it.ID, Embedding: it.Vector}}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	return store
}

func TestRetrieveFiltersThenRanks(t *testing.T) {
	cat := newTestCatalog(t)
	store := newTestStore(t)
	// Query vector closest to t2, but the 18V filter must pin t1.
	emb := fixedEmbedder([]float32{0.1, 1, 0})
	r := NewRetriever(extract.DefaultRegistry(), cat, emb, store)

	res, err := r.Retrieve(context.Background(), "18V nutrunner", nil, 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.FallbackUsed {
		t.Error("FallbackUsed set although the filter matched")
	}
	if len(res.Items) != 1 || res.Items[0].Item.ID != "t1" {
		t.Fatalf("got %v, want [t1]", resultIDs(res))
	}
	if res.Constraints["voltage"].Text != "18V" {
		t.Errorf("constraints = %v, want voltage=18V", res.Constraints)
	}
}

func TestRetrieveSeedConstraintsMergedWithExtraction(t *testing.T) {
	cat := newTestCatalog(t)
	store := newTestStore(t)
	emb := fixedEmbedder([]float32{1, 0, 0})
	r := NewRetriever(extract.DefaultRegistry(), cat, emb, store)

	seed := extract.ConstraintSet{"voltage": extract.TextConstraint("230V")}
	res, err := r.Retrieve(context.Background(), "nutrunner 18V", seed, 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// Extraction from the effective query overwrites the seed.
	if res.Constraints["voltage"].Text != "18V" {
		t.Errorf("voltage = %v, want extraction to win", res.Constraints["voltage"])
	}
	if len(res.Items) != 1 || res.Items[0].Item.ID != "t1" {
		t.Errorf("got %v, want [t1]", resultIDs(res))
	}
}

func TestRetrieveFallbackCascade(t *testing.T) {
	cat := newTestCatalog(t)
	store := newTestStore(t)
	emb := fixedEmbedder([]float32{0, 0, 1})
	r := NewRetriever(extract.DefaultRegistry(), cat, emb, store)

	// No catalog item has 999V: the filter yields nothing and the
	// cascade falls back to unfiltered search, flagged as degraded.
	res, err := r.Retrieve(context.Background(), "999V nutrunner", nil, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !res.FallbackUsed {
		t.Error("FallbackUsed not set on empty filtered subset")
	}
	if len(res.Items) == 0 || len(res.Items) > 2 {
		t.Fatalf("fallback returned %d items, want 1..2", len(res.Items))
	}
	if res.Items[0].Item.ID != "t3" {
		t.Errorf("top fallback item = %s, want t3", res.Items[0].Item.ID)
	}
	for _, si := range res.Items {
		if _, ok := cat.Get(si.Item.ID); !ok {
			t.Errorf("fallback surfaced non-catalog id %s", si.Item.ID)
		}
	}
}

func TestRetrieveNoConstraintsSearchesWholeCatalog(t *testing.T) {
	cat := newTestCatalog(t)
	store := newTestStore(t)
	emb := fixedEmbedder([]float32{0, 1, 0})
	r := NewRetriever(extract.DefaultRegistry(), cat, emb, store)

	res, err := r.Retrieve(context.Background(), "something to fasten bolts", nil, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// k <= 0 means the default single best answer.
	if len(res.Items) != 1 || res.Items[0].Item.ID != "t2" {
		t.Errorf("got %v, want [t2]", resultIDs(res))
	}
	if res.FallbackUsed {
		t.Error("FallbackUsed set without any constraints")
	}
}

func TestRetrieveTieBreaksByCatalogOrder(t *testing.T) {
	items := []catalog.Item{
		{ID: "a", Name: "A Nutrunner", Category: "Nutrunner", Vector: []float32{1, 0}},
		{ID: "b", Name: "B Nutrunner", Category: "Nutrunner", Vector: []float32{1, 0}},
	}
	cat, err := catalog.NewIndex(items)
	if err != nil {
		t.Fatal(err)
	}
	store := NewMemoryStore()
	// Insert in reverse order so only the catalog rank can fix the tie.
	store.Upsert([]ItemVector{{ID: "b", Embedding: []float32{1, 0}}, {ID: "a", Embedding: []float32{1, 0}}})

	r := NewRetriever(extract.DefaultRegistry(), cat, fixedEmbedder([]float32{1, 0}), store)
	res, err := r.Retrieve(context.Background(), "nutrunner", nil, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].Item.ID != "a" || res.Items[1].Item.ID != "b" {
		t.Errorf("tie order %v, want [a b]", resultIDs(res))
	}
}

func TestRetrieveEmbeddingUnavailable(t *testing.T) {
	cat := newTestCatalog(t)
	r := NewRetriever(extract.DefaultRegistry(), cat, downEmbedder(), newTestStore(t))

	_, err := r.Retrieve(context.Background(), "18V nutrunner", nil, 1)
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestRetrieveMetadataFallback(t *testing.T) {
	cat := newTestCatalog(t)
	r := NewRetriever(extract.DefaultRegistry(), cat, downEmbedder(), newTestStore(t),
		WithMetadataFallback(true))

	res, err := r.Retrieve(context.Background(), "230V nutrunner", nil, 1)
	if err != nil {
		t.Fatalf("Retrieve with metadata fallback: %v", err)
	}
	if !res.MetadataOnly {
		t.Error("MetadataOnly not set")
	}
	if len(res.Items) != 1 || res.Items[0].Item.ID != "t2" {
		t.Errorf("got %v, want [t2]", resultIDs(res))
	}

	// Without constraints there is no subset to fall back on: the
	// failure must surface.
	if _, err := r.Retrieve(context.Background(), "anything", nil, 1); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

// plainStore hides SearchSubset to exercise the direct-scoring path.
type plainStore struct {
	inner *MemoryStore
}

func (p *plainStore) Upsert(vectors []ItemVector) error { return p.inner.Upsert(vectors) }
func (p *plainStore) Count() (int, error)               { return p.inner.Count() }
func (p *plainStore) Search(vector []float32, topK int) ([]Match, error) {
	return p.inner.Search(vector, topK)
}

func TestRetrieveDirectScoringWithoutSubsetSearcher(t *testing.T) {
	cat := newTestCatalog(t)
	store := &plainStore{inner: newTestStore(t)}
	emb := fixedEmbedder([]float32{0, 1, 0})
	r := NewRetriever(extract.DefaultRegistry(), cat, emb, store)

	// Both nutrunners pass the 50Nm filter; direct scoring over their
	// inline vectors must pick t2.
	res, err := r.Retrieve(context.Background(), "nutrunner 50Nm", nil, 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Item.ID != "t2" {
		t.Errorf("got %v, want [t2]", resultIDs(res))
	}
}

func resultIDs(res Result) []string {
	out := make([]string, len(res.Items))
	for i, si := range res.Items {
		out[i] = si.Item.ID
	}
	return out
}
