package session

import (
	"time"

	"toolscout/internal/extract"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeClarification  Outcome = "clarification"
	OutcomeRecommendation Outcome = "recommendation"
	OutcomeNoMatch        Outcome = "no_match"
)

// Turn is one append-only entry in a session's history. Past turns are
// never rewritten.
type Turn struct {
	Timestamp      time.Time             `json:"timestamp"`
	RawQuery       string                `json:"raw_query"`
	EffectiveQuery string                `json:"effective_query"`
	Outcome        Outcome               `json:"outcome"`
	Constraints    extract.ConstraintSet `json:"constraints,omitempty"`
}

// State is the per-conversation context. It is exclusively owned by the
// Manager: no other component mutates it, and concurrent turns for the
// same session id are serialized.
type State struct {
	ID                 string                `json:"id"`
	CreatedAt          time.Time             `json:"created_at"`
	LastAccessedAt     time.Time             `json:"last_accessed_at"`
	History            []Turn                `json:"history"`
	Constraints        extract.ConstraintSet `json:"constraints"`
	AnchorQuery        string                `json:"anchor_query"`
	ClarificationCount int                   `json:"clarification_count"`
}

// clone returns a deep copy so working copies never alias stored state.
func (s State) clone() State {
	out := s
	out.History = make([]Turn, len(s.History))
	for i, t := range s.History {
		out.History[i] = t
		out.History[i].Constraints = t.Constraints.Clone()
	}
	out.Constraints = s.Constraints.Clone()
	return out
}
