// Package advisor runs one conversational turn end to end: resolve the
// query against session context, gate underspecified input, retrieve
// candidates, and shape the grounded answer. Every recommendation it emits
// is a live catalog item; there is no path that fabricates one.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"toolscout/internal/catalog"
	"toolscout/internal/clarify"
	"toolscout/internal/extract"
	"toolscout/internal/retrieval"
	"toolscout/internal/session"
)

// Retriever is the slice of the retrieval cascade the advisor drives.
type Retriever interface {
	Retrieve(ctx context.Context, effectiveQuery string, seed extract.ConstraintSet, k int) (retrieval.Result, error)
}

// Request is one user turn.
type Request struct {
	// SessionID continues an existing conversation; empty starts a new one.
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
	// TopK caps returned candidates; <= 0 means the single best answer.
	TopK int `json:"top_k,omitempty"`
}

// Recommendation is a grounded answer: an item that exists in the catalog
// right now, with the constraints that pinned it.
type Recommendation struct {
	Item               catalog.Item          `json:"item"`
	Score              float32               `json:"score"`
	MatchedConstraints extract.ConstraintSet `json:"matched_constraints,omitempty"`
	// Alternatives are the remaining top-k candidates, best first.
	Alternatives []retrieval.ScoredItem `json:"alternatives,omitempty"`
}

// Clarification is the answer when the input was too vague to retrieve
// against. Its options always come from live catalog values.
type Clarification struct {
	Question string        `json:"question"`
	Hints    clarify.Hints `json:"hints"`
}

// NoMatch reports honestly that nothing satisfies the stated constraints.
type NoMatch struct {
	Reason string `json:"reason"`
	// NearestAlternative is the closest catalog item ignoring the failed
	// constraints, clearly separated from a real match.
	NearestAlternative *catalog.Item `json:"nearest_alternative,omitempty"`
}

// Answer is the outcome of one turn. Exactly one of Recommendation,
// Clarification and NoMatch is set.
type Answer struct {
	SessionID      string          `json:"session_id"`
	Message        string          `json:"response"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Clarification  *Clarification  `json:"clarification,omitempty"`
	NoMatch        *NoMatch        `json:"no_match,omitempty"`
}

// Advisor wires the session manager, the extractor, the clarification gate
// and the retrieval cascade into the single Ask entry point.
type Advisor struct {
	sessions  *session.Manager
	registry  *extract.Registry
	catalog   *catalog.Index
	retriever Retriever
}

func New(sessions *session.Manager, registry *extract.Registry, cat *catalog.Index, retriever Retriever) *Advisor {
	return &Advisor{
		sessions:  sessions,
		registry:  registry,
		catalog:   cat,
		retriever: retriever,
	}
}

// Ask answers one turn. Session updates commit only when a full answer was
// produced; a failed turn leaves the conversation state untouched.
func (a *Advisor) Ask(ctx context.Context, req Request) (Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, fmt.Errorf("empty question")
	}

	turn := a.sessions.Begin(ctx, req.SessionID, question)
	res := turn.Resolution()
	log := slog.With("session_id", res.SessionID)

	// The gate runs before retrieval: vague input never reaches the
	// vector search, let alone an answer.
	cons := res.SeedConstraints.Merge(a.registry.Extract(res.EffectiveQuery))
	if clarify.NeedsClarification(question, cons, nil, a.catalog) {
		hints := clarify.BuildHints(a.catalog, cons, nil)
		answer := Answer{
			SessionID:     res.SessionID,
			Message:       clarificationMessage(hints),
			Clarification: &Clarification{Question: clarificationMessage(hints), Hints: hints},
		}
		a.commit(ctx, turn, question, res.EffectiveQuery, session.OutcomeClarification, cons, log)
		log.Info("turn needs clarification", "question", question)
		return answer, nil
	}

	ret, err := a.retriever.Retrieve(ctx, res.EffectiveQuery, res.SeedConstraints, req.TopK)
	if err != nil {
		turn.Abort()
		return Answer{}, fmt.Errorf("retrieving candidates: %w", err)
	}

	answer := a.shape(res, ret)
	outcome := session.OutcomeRecommendation
	if answer.NoMatch != nil {
		outcome = session.OutcomeNoMatch
	}
	a.commit(ctx, turn, question, res.EffectiveQuery, outcome, ret.Constraints, log)
	log.Info("turn answered",
		"outcome", outcome,
		"effective_query", res.EffectiveQuery,
		"constraints", len(ret.Constraints),
		"fallback", ret.FallbackUsed)
	return answer, nil
}

// shape maps a retrieval result to the user-facing answer. A fallback
// result under stated constraints is an honest no-match with the nearest
// alternative, never a silent recommendation.
func (a *Advisor) shape(res session.Resolution, ret retrieval.Result) Answer {
	answer := Answer{SessionID: res.SessionID}

	if len(ret.Items) == 0 {
		answer.NoMatch = &NoMatch{Reason: "the catalog has no candidates for this request"}
		answer.Message = noMatchMessage(answer.NoMatch)
		return answer
	}

	if ret.FallbackUsed && len(ret.Constraints) > 0 {
		nearest := ret.Items[0].Item
		answer.NoMatch = &NoMatch{
			Reason:             fmt.Sprintf("no catalog item matches %s", ret.Constraints.Describe()),
			NearestAlternative: &nearest,
		}
		answer.Message = noMatchMessage(answer.NoMatch)
		return answer
	}

	rec := &Recommendation{
		Item:               ret.Items[0].Item,
		Score:              ret.Items[0].Score,
		MatchedConstraints: ret.Constraints,
	}
	if len(ret.Items) > 1 {
		rec.Alternatives = ret.Items[1:]
	}
	answer.Recommendation = rec
	answer.Message = recommendationMessage(rec)
	return answer
}

func (a *Advisor) commit(ctx context.Context, turn *session.TurnHandle, raw, effective string, outcome session.Outcome, cons extract.ConstraintSet, log *slog.Logger) {
	err := turn.Commit(ctx, session.Turn{
		RawQuery:       raw,
		EffectiveQuery: effective,
		Outcome:        outcome,
		Constraints:    cons,
	})
	if err != nil {
		// The answer already stands; losing persistence only costs the
		// follow-up context.
		log.Warn("committing turn failed", "error", err)
	}
}

func recommendationMessage(rec *Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommended: %s (%s)", rec.Item.Name, rec.Item.Category)
	if len(rec.MatchedConstraints) > 0 {
		fmt.Fprintf(&b, ", matching %s", rec.MatchedConstraints.Describe())
	}
	if len(rec.Alternatives) > 0 {
		names := make([]string, len(rec.Alternatives))
		for i, alt := range rec.Alternatives {
			names[i] = alt.Item.Name
		}
		fmt.Fprintf(&b, ". Also worth a look: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func clarificationMessage(h clarify.Hints) string {
	if h.Attribute != "" {
		return fmt.Sprintf("Could you narrow it down? Which %s do you need: %s?",
			h.Attribute, strings.Join(h.Values, ", "))
	}
	if len(h.Categories) > 0 {
		return fmt.Sprintf("Could you tell me more about what you need? We carry: %s.",
			strings.Join(h.Categories, ", "))
	}
	return "Could you tell me more about what you are looking for?"
}

func noMatchMessage(nm *NoMatch) string {
	if nm.NearestAlternative != nil {
		return fmt.Sprintf("%s. The closest alternative is %s (%s).",
			nm.Reason, nm.NearestAlternative.Name, nm.NearestAlternative.Category)
	}
	return nm.Reason + "."
}
