package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toolscout/internal/extract"
)

// SQLiteStore persists sessions in the shared SQLite database so a server
// restart does not drop conversations mid-flight.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (State, bool, error) {
	var (
		st          State
		created     string
		accessed    string
		constraints string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_accessed_at, anchor_query, constraints, clarification_count
		 FROM sessions WHERE id = ?`, id).
		Scan(&st.ID, &created, &accessed, &st.AnchorQuery, &constraints, &st.ClarificationCount)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("reading session %s: %w", id, err)
	}

	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return State{}, false, fmt.Errorf("parsing created_at for session %s: %w", id, err)
	}
	if st.LastAccessedAt, err = time.Parse(time.RFC3339Nano, accessed); err != nil {
		return State{}, false, fmt.Errorf("parsing last_accessed_at for session %s: %w", id, err)
	}
	if st.Constraints, err = decodeConstraints(constraints); err != nil {
		return State{}, false, fmt.Errorf("decoding constraints for session %s: %w", id, err)
	}

	if st.History, err = s.loadTurns(ctx, id); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (s *SQLiteStore) loadTurns(ctx context.Context, id string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, raw_query, effective_query, outcome, constraints
		 FROM session_turns WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("reading turns for session %s: %w", id, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t           Turn
			created     string
			constraints string
		)
		if err := rows.Scan(&created, &t.RawQuery, &t.EffectiveQuery, &t.Outcome, &constraints); err != nil {
			return nil, fmt.Errorf("scanning turn for session %s: %w", id, err)
		}
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing turn timestamp for session %s: %w", id, err)
		}
		if t.Constraints, err = decodeConstraints(constraints); err != nil {
			return nil, fmt.Errorf("decoding turn constraints for session %s: %w", id, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Put writes the full state. History is append-only, so only turns past
// the already-persisted count are inserted.
func (s *SQLiteStore) Put(ctx context.Context, state State) error {
	constraints, err := encodeConstraints(state.Constraints)
	if err != nil {
		return fmt.Errorf("encoding constraints for session %s: %w", state.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_accessed_at, anchor_query, constraints, clarification_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   last_accessed_at = excluded.last_accessed_at,
		   anchor_query = excluded.anchor_query,
		   constraints = excluded.constraints,
		   clarification_count = excluded.clarification_count`,
		state.ID,
		state.CreatedAt.UTC().Format(time.RFC3339Nano),
		state.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		state.AnchorQuery, constraints, state.ClarificationCount); err != nil {
		return fmt.Errorf("writing session %s: %w", state.ID, err)
	}

	var persisted int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_turns WHERE session_id = ?`, state.ID).Scan(&persisted); err != nil {
		return fmt.Errorf("counting turns for session %s: %w", state.ID, err)
	}
	for seq := persisted; seq < len(state.History); seq++ {
		t := state.History[seq]
		tc, err := encodeConstraints(t.Constraints)
		if err != nil {
			return fmt.Errorf("encoding turn constraints for session %s: %w", state.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_turns (session_id, seq, created_at, raw_query, effective_query, outcome, constraints)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			state.ID, seq, t.Timestamp.UTC().Format(time.RFC3339Nano),
			t.RawQuery, t.EffectiveQuery, string(t.Outcome), tc); err != nil {
			return fmt.Errorf("writing turn %d for session %s: %w", seq, state.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting turns for session %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeConstraints(cs extract.ConstraintSet) (string, error) {
	if len(cs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeConstraints(raw string) (extract.ConstraintSet, error) {
	cs := extract.ConstraintSet{}
	if raw == "" {
		return cs, nil
	}
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil, err
	}
	return cs, nil
}
