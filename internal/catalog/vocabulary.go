package catalog

import (
	"strings"
	"unicode"
)

// stopWords are articles, connectives and generic catch-all nouns removed
// from the vocabulary so they never count as naming something specific.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "for": {}, "with": {}, "and": {}, "or": {},
	"tool": {}, "machine": {}, "device": {}, "equipment": {}, "system": {},
}

// Tokenize lowercases text and splits it into alphanumeric tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildVocabulary derives the recognized specific-entity token set from
// every item's name and category. It runs once per catalog load; the
// resulting set is immutable and shared read-only.
func buildVocabulary(items []Item) map[string]struct{} {
	vocab := make(map[string]struct{})
	for _, it := range items {
		for _, tok := range Tokenize(it.Name) {
			vocab[tok] = struct{}{}
		}
		for _, tok := range Tokenize(it.Category) {
			vocab[tok] = struct{}{}
		}
	}
	for w := range stopWords {
		delete(vocab, w)
	}
	return vocab
}

// Vocabulary returns the current recognized-token set. Callers must treat
// it as read-only; it is replaced wholesale on catalog reload.
func (x *Index) Vocabulary() map[string]struct{} {
	return x.snapshot().vocab
}

// InVocabulary reports whether any token of text is a recognized
// specific-entity token.
func (x *Index) InVocabulary(text string) bool {
	vocab := x.snapshot().vocab
	for _, tok := range Tokenize(text) {
		if _, ok := vocab[tok]; ok {
			return true
		}
	}
	return false
}

// RecognizedTokens returns the tokens of text that appear in the
// vocabulary, in input order.
func (x *Index) RecognizedTokens(text string) []string {
	vocab := x.snapshot().vocab
	var out []string
	for _, tok := range Tokenize(text) {
		if _, ok := vocab[tok]; ok {
			out = append(out, tok)
		}
	}
	return out
}
