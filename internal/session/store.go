package session

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreUnavailable wraps persistence failures. The manager degrades to
// an anchor-less fresh session instead of failing the turn, so callers
// see this only in logs and stats, never as a request error.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store persists session state. Implementations must tolerate concurrent
// calls; the manager serializes turns per session id on top of this.
type Store interface {
	// Get returns the state for id. The second return is false when the
	// session does not exist.
	Get(ctx context.Context, id string) (State, bool, error)
	Put(ctx context.Context, state State) error
	Delete(ctx context.Context, id string) error
	// IDs lists every stored session id, for the sweeper and stats.
	IDs(ctx context.Context) ([]string, error)
}

// MemoryStore keeps sessions in a map. It is the default when no database
// is configured and the workhorse of the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[id]
	if !ok {
		return State{}, false, nil
	}
	return st.clone(), true, nil
}

func (m *MemoryStore) Put(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.ID] = state.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}
