// Package session tracks per-conversation context: the anchor query, the
// accumulated constraints, and the append-only turn history. The manager
// decides on every turn whether the new input refines the current topic or
// starts a new one, and commits state changes atomically at turn end.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolscout/internal/catalog"
	"toolscout/internal/extract"
)

// DefaultTTL is how long an idle session survives before it expires.
const DefaultTTL = 30 * time.Minute

// refinementMaxTokens is the length ceiling for the refinement heuristic:
// longer inputs read as full queries, not follow-up fragments.
const refinementMaxTokens = 2

// Vocabulary reports which tokens of a text name recognized entities.
// Implemented by *catalog.Index.
type Vocabulary interface {
	RecognizedTokens(text string) []string
}

// Stats summarizes the live session population.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalTurns     int `json:"total_turns"`
	Clarifications int `json:"clarifications"`
}

// Manager owns all session state. Turns for the same session id are
// serialized: Begin blocks until any in-flight turn commits or aborts.
type Manager struct {
	store Store
	vocab Vocabulary
	ttl   time.Duration
	now   func() time.Time

	// keepConstraintsOnReset carries accumulated constraints across a
	// topic reset instead of clearing them.
	keepConstraintsOnReset bool

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the idle expiry window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithResetPolicy controls whether a topic reset keeps the accumulated
// constraints as the new topic's starting point.
func WithResetPolicy(keepConstraints bool) Option {
	return func(m *Manager) { m.keepConstraintsOnReset = keepConstraints }
}

func NewManager(store Store, vocab Vocabulary, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		vocab: vocab,
		ttl:   DefaultTTL,
		now:   time.Now,
		locks: make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolution is the merge decision for one turn: the query retrieval
// should actually run with, and the constraints it starts from.
type Resolution struct {
	SessionID       string
	EffectiveQuery  string
	SeedConstraints extract.ConstraintSet
	TopicReset      bool
	NewSession      bool
}

// TurnHandle is an exclusive claim on one session for the duration of a
// turn. Every Begin must be paired with exactly one Commit or Abort.
type TurnHandle struct {
	m     *Manager
	lock  *sessionLock
	state State
	res   Resolution
	now   time.Time
	done  bool
}

// Begin opens a turn. An empty sessionID mints a fresh session. If the
// stored session expired or the store is unreachable, the turn proceeds on
// a fresh anchor-less session rather than failing.
func (m *Manager) Begin(ctx context.Context, sessionID, rawQuery string) *TurnHandle {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	lock := m.acquire(sessionID)
	now := m.now()

	st, found, err := m.store.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("session store read failed, continuing with fresh session",
			"session_id", sessionID, "error", err)
		found = false
	}
	if found && now.Sub(st.LastAccessedAt) > m.ttl {
		slog.Debug("session expired", "session_id", sessionID,
			"idle", now.Sub(st.LastAccessedAt))
		if derr := m.store.Delete(ctx, sessionID); derr != nil {
			slog.Warn("deleting expired session failed", "session_id", sessionID, "error", derr)
		}
		found = false
	}
	if !found {
		st = State{ID: sessionID, CreatedAt: now, Constraints: extract.ConstraintSet{}}
	}

	res := Resolution{SessionID: sessionID, NewSession: !found}
	switch {
	case st.AnchorQuery != "" && m.isRefinement(st.AnchorQuery, rawQuery):
		res.EffectiveQuery = st.AnchorQuery + " " + rawQuery
		res.SeedConstraints = st.Constraints.Clone()
	default:
		res.TopicReset = st.AnchorQuery != ""
		res.EffectiveQuery = rawQuery
		if m.keepConstraintsOnReset {
			res.SeedConstraints = st.Constraints.Clone()
		} else {
			res.SeedConstraints = extract.ConstraintSet{}
		}
	}

	return &TurnHandle{m: m, lock: lock, state: st, res: res, now: now}
}

// isRefinement applies the merge heuristic: a short follow-up that names
// no recognized entity outside the anchor refines the current topic.
// Anything else is a new topic.
func (m *Manager) isRefinement(anchor, raw string) bool {
	if len(catalog.Tokenize(raw)) > refinementMaxTokens {
		return false
	}
	known := make(map[string]struct{})
	for _, tok := range catalog.Tokenize(anchor) {
		known[tok] = struct{}{}
	}
	for _, tok := range m.vocab.RecognizedTokens(raw) {
		if _, ok := known[tok]; !ok {
			return false
		}
	}
	return true
}

// Resolution returns the merge decision for this turn.
func (h *TurnHandle) Resolution() Resolution {
	return h.res
}

// Commit records the turn and atomically applies all session updates:
// history append, constraint state, anchor query, clarification count and
// last-access time. Turn.Constraints is the full constraint state after
// the turn, not a delta. A persistence failure is reported but the
// in-memory resolution the caller already acted on stands.
func (h *TurnHandle) Commit(ctx context.Context, turn Turn) error {
	if h.done {
		return fmt.Errorf("turn for session %s already finished", h.state.ID)
	}
	defer h.finish()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = h.now
	}
	if turn.EffectiveQuery == "" {
		turn.EffectiveQuery = h.res.EffectiveQuery
	}

	st := &h.state
	st.History = append(st.History, turn)
	st.Constraints = turn.Constraints.Clone()
	if h.res.NewSession || h.res.TopicReset {
		st.AnchorQuery = turn.RawQuery
	}
	if turn.Outcome == OutcomeClarification {
		st.ClarificationCount++
	}
	st.LastAccessedAt = h.now

	if err := h.m.store.Put(ctx, *st); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Abort releases the session without applying any changes.
func (h *TurnHandle) Abort() {
	if h.done {
		return
	}
	h.finish()
}

func (h *TurnHandle) finish() {
	h.done = true
	h.m.release(h.state.ID, h.lock)
}

func (m *Manager) acquire(id string) *sessionLock {
	m.mu.Lock()
	lk := m.locks[id]
	if lk == nil {
		lk = &sessionLock{}
		m.locks[id] = lk
	}
	lk.refs++
	m.mu.Unlock()

	lk.mu.Lock()
	return lk
}

func (m *Manager) release(id string, lk *sessionLock) {
	lk.mu.Unlock()
	m.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(m.locks, id)
	}
	m.mu.Unlock()
}

// Sweep deletes every expired session and returns how many it removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.store.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := m.now()
	removed := 0
	for _, id := range ids {
		st, ok, err := m.store.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		if now.Sub(st.LastAccessedAt) <= m.ttl {
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			slog.Warn("sweeping expired session failed", "session_id", id, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps expired sessions on the given interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	slog.Info("session sweeper started", "interval", interval, "ttl", m.ttl)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			removed, err := m.Sweep(ctx)
			if err != nil {
				slog.Warn("session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("swept expired sessions", "removed", removed)
			}
		}
	}
}

// Stats aggregates over live (non-expired) sessions.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	ids, err := m.store.IDs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := m.now()
	var s Stats
	for _, id := range ids {
		st, ok, err := m.store.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		if now.Sub(st.LastAccessedAt) > m.ttl {
			continue
		}
		s.ActiveSessions++
		s.TotalTurns += len(st.History)
		s.Clarifications += st.ClarificationCount
	}
	return s, nil
}
