package session

import (
	"context"
	"testing"
	"time"

	"toolscout/internal/extract"
	"toolscout/internal/storage"
)

func openSessionStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteStore(s.DB())
}

func sampleState() State {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return State{
		ID:             "s1",
		CreatedAt:      base,
		LastAccessedAt: base.Add(2 * time.Minute),
		AnchorQuery:    "nutrunner",
		Constraints:    extract.ConstraintSet{"voltage": extract.TextConstraint("18V")},
		History: []Turn{
			{
				Timestamp:      base,
				RawQuery:       "nutrunner",
				EffectiveQuery: "nutrunner",
				Outcome:        OutcomeClarification,
			},
			{
				Timestamp:      base.Add(2 * time.Minute),
				RawQuery:       "18V",
				EffectiveQuery: "nutrunner 18V",
				Outcome:        OutcomeRecommendation,
				Constraints:    extract.ConstraintSet{"voltage": extract.TextConstraint("18V")},
			},
		},
		ClarificationCount: 1,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openSessionStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, sampleState()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	want := sampleState()
	if got.AnchorQuery != want.AnchorQuery || got.ClarificationCount != want.ClarificationCount {
		t.Errorf("session fields = %+v, want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.LastAccessedAt.Equal(want.LastAccessedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v",
			got.CreatedAt, got.LastAccessedAt, want.CreatedAt, want.LastAccessedAt)
	}
	if got.Constraints["voltage"].Text != "18V" {
		t.Errorf("constraints = %v", got.Constraints)
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	if got.History[1].EffectiveQuery != "nutrunner 18V" ||
		got.History[1].Outcome != OutcomeRecommendation {
		t.Errorf("turn 1 = %+v", got.History[1])
	}
	if got.History[1].Constraints["voltage"].Text != "18V" {
		t.Errorf("turn constraints = %v", got.History[1].Constraints)
	}
}

func TestSQLiteStoreMissingSession(t *testing.T) {
	store := openSessionStore(t)

	_, ok, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get reported a session that was never stored")
	}
}

func TestSQLiteStoreAppendsTurnsOnly(t *testing.T) {
	store := openSessionStore(t)
	ctx := context.Background()

	st := sampleState()
	if err := store.Put(ctx, st); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A second Put with one more turn must not duplicate the earlier ones.
	st.History = append(st.History, Turn{
		Timestamp:      st.LastAccessedAt.Add(time.Minute),
		RawQuery:       "spindle",
		EffectiveQuery: "spindle",
		Outcome:        OutcomeRecommendation,
	})
	st.AnchorQuery = "spindle"
	if err := store.Put(ctx, st); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, _, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(got.History))
	}
	if got.AnchorQuery != "spindle" {
		t.Errorf("AnchorQuery = %q, want spindle", got.AnchorQuery)
	}
}

func TestSQLiteStoreDeleteAndIDs(t *testing.T) {
	store := openSessionStore(t)
	ctx := context.Background()

	a := sampleState()
	b := sampleState()
	b.ID = "s2"
	store.Put(ctx, a)
	store.Put(ctx, b)

	ids, err := store.IDs(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("IDs = %v, %v; want 2 ids", ids, err)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "s1"); ok {
		t.Error("deleted session still readable")
	}
	if _, ok, _ := store.Get(ctx, "s2"); !ok {
		t.Error("unrelated session lost on delete")
	}
}

func TestManagerOverSQLiteStore(t *testing.T) {
	store := openSessionStore(t)
	m := NewManager(store, testVocab(t))
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	h = m.Begin(ctx, "s1", "18V")
	defer h.Abort()
	if got := h.Resolution().EffectiveQuery; got != "nutrunner 18V" {
		t.Errorf("EffectiveQuery = %q, want persisted anchor applied", got)
	}
}
