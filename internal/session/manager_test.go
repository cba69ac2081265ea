package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"toolscout/internal/catalog"
	"toolscout/internal/extract"
)

func testVocab(t *testing.T) *catalog.Index {
	t.Helper()
	x, err := catalog.NewIndex([]catalog.Item{
		{ID: "t1", Name: "CL-18 Cordless Nutrunner", Category: "Nutrunner"},
		{ID: "t3", Name: "SP-400 Assembly Spindle", Category: "Spindle"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return x
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(NewMemoryStore(), testVocab(t), opts...), clock
}

func commit(t *testing.T, h *TurnHandle, raw string, outcome Outcome, cs extract.ConstraintSet) {
	t.Helper()
	err := h.Commit(context.Background(), Turn{
		RawQuery:    raw,
		Outcome:     outcome,
		Constraints: cs,
	})
	if err != nil {
		t.Fatalf("Commit(%q): %v", raw, err)
	}
}

func TestRefinementMergesWithAnchor(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	if res := h.Resolution(); !res.NewSession || res.EffectiveQuery != "nutrunner" {
		t.Fatalf("first turn resolution = %+v", res)
	}
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	// A short follow-up naming no new entity refines the anchor.
	h = m.Begin(ctx, "s1", "18V")
	res := h.Resolution()
	if res.TopicReset {
		t.Error("18V follow-up classified as topic reset")
	}
	if res.EffectiveQuery != "nutrunner 18V" {
		t.Errorf("EffectiveQuery = %q, want %q", res.EffectiveQuery, "nutrunner 18V")
	}
	commit(t, h, "18V", OutcomeRecommendation,
		extract.ConstraintSet{"voltage": extract.TextConstraint("18V")})

	// A recognized entity absent from the anchor resets the topic.
	h = m.Begin(ctx, "s1", "spindle")
	res = h.Resolution()
	if !res.TopicReset {
		t.Fatal("new entity did not reset the topic")
	}
	if res.EffectiveQuery != "spindle" {
		t.Errorf("EffectiveQuery = %q, want %q", res.EffectiveQuery, "spindle")
	}
	if len(res.SeedConstraints) != 0 {
		t.Errorf("reset kept constraints %v", res.SeedConstraints)
	}
	commit(t, h, "spindle", OutcomeRecommendation, nil)

	// The reset query is the new anchor.
	h = m.Begin(ctx, "s1", "400V")
	if got := h.Resolution().EffectiveQuery; got != "spindle 400V" {
		t.Errorf("EffectiveQuery after reset = %q, want %q", got, "spindle 400V")
	}
	h.Abort()
}

func TestRefinementCarriesSeedConstraints(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "18V nutrunner")
	commit(t, h, "18V nutrunner", OutcomeRecommendation,
		extract.ConstraintSet{"voltage": extract.TextConstraint("18V")})

	h = m.Begin(ctx, "s1", "IP54")
	defer h.Abort()
	seed := h.Resolution().SeedConstraints
	if seed["voltage"].Text != "18V" {
		t.Errorf("seed constraints = %v, want accumulated voltage", seed)
	}
}

func TestLongFollowUpResetsTopic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	// Three tokens read as a full query even without new entities.
	h = m.Begin(ctx, "s1", "something for bolts")
	defer h.Abort()
	res := h.Resolution()
	if !res.TopicReset || res.EffectiveQuery != "something for bolts" {
		t.Errorf("resolution = %+v, want topic reset", res)
	}
}

func TestResetPolicyKeepsConstraints(t *testing.T) {
	m, _ := newTestManager(t, WithResetPolicy(true))
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "18V nutrunner")
	commit(t, h, "18V nutrunner", OutcomeRecommendation,
		extract.ConstraintSet{"voltage": extract.TextConstraint("18V")})

	h = m.Begin(ctx, "s1", "spindle")
	defer h.Abort()
	res := h.Resolution()
	if !res.TopicReset {
		t.Fatal("expected topic reset")
	}
	if res.SeedConstraints["voltage"].Text != "18V" {
		t.Errorf("seed = %v, want carried voltage constraint", res.SeedConstraints)
	}
}

func TestSessionExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	clock.advance(DefaultTTL + time.Minute)

	// The expired session is gone: the follow-up starts fresh and is no
	// longer a refinement of anything.
	h = m.Begin(ctx, "s1", "18V")
	defer h.Abort()
	res := h.Resolution()
	if !res.NewSession {
		t.Error("expired session was resumed")
	}
	if res.EffectiveQuery != "18V" {
		t.Errorf("EffectiveQuery = %q, want %q", res.EffectiveQuery, "18V")
	}
}

func TestActivityRefreshesExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	clock.advance(DefaultTTL - time.Minute)
	h = m.Begin(ctx, "s1", "18V")
	commit(t, h, "18V", OutcomeRecommendation, nil)

	clock.advance(DefaultTTL - time.Minute)
	h = m.Begin(ctx, "s1", "IP54")
	defer h.Abort()
	if h.Resolution().NewSession {
		t.Error("active session expired despite refreshed access time")
	}
}

func TestAbortLeavesStateUntouched(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	h = m.Begin(ctx, "s1", "spindle")
	h.Abort()

	// The aborted reset must not have moved the anchor.
	h = m.Begin(ctx, "s1", "18V")
	defer h.Abort()
	if got := h.Resolution().EffectiveQuery; got != "nutrunner 18V" {
		t.Errorf("EffectiveQuery = %q, want anchor unchanged after abort", got)
	}
}

func TestClarificationCountAndStats(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "tool")
	commit(t, h, "tool", OutcomeClarification, nil)
	h = m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)
	h = m.Begin(ctx, "s2", "spindle")
	commit(t, h, "spindle", OutcomeRecommendation, nil)

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{ActiveSessions: 2, TotalTurns: 3, Clarifications: 1}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	h := m.Begin(ctx, "old", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	clock.advance(DefaultTTL + time.Minute)
	h = m.Begin(ctx, "fresh", "spindle")
	commit(t, h, "spindle", OutcomeRecommendation, nil)

	removed, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d sessions, want 1", removed)
	}

	stats, _ := m.Stats(ctx)
	if stats.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d after sweep, want 1", stats.ActiveSessions)
	}
}

func TestBeginMintsSessionID(t *testing.T) {
	m, _ := newTestManager(t)

	h := m.Begin(context.Background(), "", "nutrunner")
	defer h.Abort()
	if h.Resolution().SessionID == "" {
		t.Error("Begin with empty id did not mint one")
	}
	if !h.Resolution().NewSession {
		t.Error("minted session not marked new")
	}
}

// brokenStore fails reads to exercise the degraded path.
type brokenStore struct {
	Store
	failGet bool
}

func (b *brokenStore) Get(ctx context.Context, id string) (State, bool, error) {
	if b.failGet {
		return State{}, false, errors.New("disk on fire")
	}
	return b.Store.Get(ctx, id)
}

func TestStoreFailureDegradesToFreshSession(t *testing.T) {
	inner := NewMemoryStore()
	broken := &brokenStore{Store: inner}
	m := NewManager(broken, testVocab(t))
	ctx := context.Background()

	h := m.Begin(ctx, "s1", "nutrunner")
	commit(t, h, "nutrunner", OutcomeRecommendation, nil)

	// With the read path down the turn still answers, just without the
	// anchor context.
	broken.failGet = true
	h = m.Begin(ctx, "s1", "18V")
	defer h.Abort()
	res := h.Resolution()
	if !res.NewSession || res.EffectiveQuery != "18V" {
		t.Errorf("resolution = %+v, want fresh anchor-less session", res)
	}
}

func TestCommitReportsStoreUnavailable(t *testing.T) {
	m := NewManager(failingPutStore{}, testVocab(t))

	h := m.Begin(context.Background(), "s1", "nutrunner")
	err := h.Commit(context.Background(), Turn{RawQuery: "nutrunner", Outcome: OutcomeRecommendation})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Commit err = %v, want ErrStoreUnavailable", err)
	}
}

type failingPutStore struct{}

func (failingPutStore) Get(context.Context, string) (State, bool, error) {
	return State{}, false, nil
}
func (failingPutStore) Put(context.Context, State) error     { return errors.New("no space") }
func (failingPutStore) Delete(context.Context, string) error { return nil }
func (failingPutStore) IDs(context.Context) ([]string, error) {
	return nil, nil
}

func TestConcurrentTurnsSerialize(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	h1 := m.Begin(ctx, "s1", "nutrunner")

	second := make(chan *TurnHandle)
	go func() {
		second <- m.Begin(ctx, "s1", "18V")
	}()

	select {
	case <-second:
		t.Fatal("second Begin returned while first turn was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	commit(t, h1, "nutrunner", OutcomeRecommendation, nil)

	h2 := <-second
	// The second turn sees the committed anchor.
	if got := h2.Resolution().EffectiveQuery; got != "nutrunner 18V" {
		t.Errorf("EffectiveQuery = %q, want committed anchor applied", got)
	}
	h2.Abort()
}
