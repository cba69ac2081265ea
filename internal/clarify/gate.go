// Package clarify decides whether a turn must stop and ask a clarifying
// question instead of recommending. The decision runs strictly before any
// generative step: a true result here is the system's hallucination
// barrier, not a performance shortcut.
package clarify

import (
	"sort"

	"toolscout/internal/catalog"
	"toolscout/internal/extract"
)

// Vocabulary answers whether a query names any recognized specific entity.
// Implemented by *catalog.Index.
type Vocabulary interface {
	InVocabulary(text string) bool
}

// genericTerms is the fixed closed set of catch-all nouns that name
// nothing specific on their own.
var genericTerms = map[string]struct{}{
	"tool": {}, "tools": {}, "machine": {}, "machines": {},
	"device": {}, "devices": {}, "equipment": {},
	"system": {}, "systems": {}, "product": {}, "products": {},
	"something": {}, "anything": {},
}

// fillerTerms are conversational filler that carries no entity meaning
// ("i need", "looking for", "show me").
var fillerTerms = map[string]struct{}{
	"i": {}, "we": {}, "a": {}, "an": {}, "the": {}, "some": {},
	"want": {}, "need": {}, "looking": {}, "searching": {}, "for": {},
	"show": {}, "give": {}, "find": {}, "get": {}, "me": {}, "us": {},
	"help": {}, "with": {}, "please": {}, "my": {}, "our": {},
}

// NeedsClarification reports whether the query is too underspecified to
// retrieve against. All of the following must hold:
//
//   - no constraint was extracted or accumulated,
//   - the query is very short (< 2 tokens) or contains only generic and
//     filler vocabulary,
//   - no token names a recognized specific entity.
//
// Candidates are part of the contract so callers evaluate the gate after
// retrieval, but the decision itself depends only on what the user said:
// a vague query stays vague no matter what the fallback search dredged up.
func NeedsClarification(rawQuery string, constraints extract.ConstraintSet, candidates []catalog.Item, vocab Vocabulary) bool {
	if len(constraints) > 0 {
		return false
	}

	tokens := catalog.Tokenize(rawQuery)
	if len(tokens) >= 2 && !onlyGeneric(tokens) {
		return false
	}

	return !vocab.InVocabulary(rawQuery)
}

func onlyGeneric(tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := genericTerms[tok]; ok {
			continue
		}
		if _, ok := fillerTerms[tok]; ok {
			continue
		}
		return false
	}
	return true
}

// Hints are the catalog-grounded options handed back with a clarifying
// question. They always come from live catalog values, never free text.
type Hints struct {
	// Categories lists the catalog's distinct categories; populated when
	// there are no candidates to narrow further.
	Categories []string `json:"categories,omitempty"`
	// Attribute names the most salient unresolved attribute among the
	// candidates, with its distinct Values as the options.
	Attribute string   `json:"attribute,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// Cataloger is the slice of the catalog index the hint builder needs.
type Cataloger interface {
	Categories() []string
}

// BuildHints derives clarification options. With candidates present, it
// picks the unresolved attribute with the most distinct values among them
// (the question that splits the candidate set best); otherwise it falls
// back to the catalog's category list.
func BuildHints(cat Cataloger, constraints extract.ConstraintSet, candidates []catalog.Item) Hints {
	if len(candidates) == 0 {
		return Hints{Categories: cat.Categories()}
	}

	distinct := make(map[string]map[string]struct{})
	for _, it := range candidates {
		for name, value := range it.Attributes {
			if value == "" {
				continue
			}
			if _, constrained := constraints[name]; constrained {
				continue
			}
			if distinct[name] == nil {
				distinct[name] = make(map[string]struct{})
			}
			distinct[name][value] = struct{}{}
		}
	}

	best := ""
	for name, values := range distinct {
		if len(values) < 2 {
			continue
		}
		if best == "" || len(values) > len(distinct[best]) ||
			(len(values) == len(distinct[best]) && name < best) {
			best = name
		}
	}
	if best == "" {
		return Hints{Categories: cat.Categories()}
	}

	values := make([]string, 0, len(distinct[best]))
	for v := range distinct[best] {
		values = append(values, v)
	}
	sort.Strings(values)
	return Hints{Attribute: best, Values: values}
}
