package catalog

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"toolscout/internal/extract"
)

// Index is the read-only in-memory view of the catalog. All readers share
// one immutable snapshot without locking; Reload builds a fresh snapshot
// and swaps it in atomically, so concurrent requests never observe a
// half-built catalog or vocabulary.
type Index struct {
	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	generation uint64
	items      []Item
	rank       map[string]int // id -> insertion order
	vocab      map[string]struct{}
}

// NewIndex builds an Index over the given items.
func NewIndex(items []Item) (*Index, error) {
	if err := Validate(items); err != nil {
		return nil, err
	}
	x := &Index{}
	x.snap = buildSnapshot(items, 1)
	return x, nil
}

// Reload validates the new items and swaps them in, bumping the catalog
// generation and rebuilding the vocabulary. On error the current snapshot
// stays in place.
func (x *Index) Reload(items []Item) error {
	if err := Validate(items); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.snap = buildSnapshot(items, x.snap.generation+1)
	return nil
}

func buildSnapshot(items []Item, generation uint64) *snapshot {
	cp := make([]Item, len(items))
	copy(cp, items)
	rank := make(map[string]int, len(cp))
	for i, it := range cp {
		rank[it.ID] = i
	}
	return &snapshot{
		generation: generation,
		items:      cp,
		rank:       rank,
		vocab:      buildVocabulary(cp),
	}
}

func (x *Index) snapshot() *snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snap
}

// Generation returns the current catalog generation number.
func (x *Index) Generation() uint64 {
	return x.snapshot().generation
}

// Len returns the number of items in the catalog.
func (x *Index) Len() int {
	return len(x.snapshot().items)
}

// Items returns the catalog in insertion order. Callers must treat the
// slice as read-only.
func (x *Index) Items() []Item {
	return x.snapshot().items
}

// Get returns the item with the given id.
func (x *Index) Get(id string) (Item, bool) {
	s := x.snapshot()
	i, ok := s.rank[id]
	if !ok {
		return Item{}, false
	}
	return s.items[i], true
}

// Rank returns the item's catalog insertion position, used as the
// deterministic tie-break in ranking.
func (x *Index) Rank(id string) (int, bool) {
	i, ok := x.snapshot().rank[id]
	return i, ok
}

// Categories returns the distinct category values, sorted.
func (x *Index) Categories() []string {
	return x.distinct(func(it Item) string { return it.Category })
}

// AttributeValues returns the distinct non-empty values of the named
// attribute across the whole catalog, sorted.
func (x *Index) AttributeValues(name string) []string {
	return x.distinct(func(it Item) string { return it.Attributes[name] })
}

func (x *Index) distinct(get func(Item) string) []string {
	s := x.snapshot()
	seen := make(map[string]struct{})
	var out []string
	for _, it := range s.items {
		v := get(it)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// FilterByConstraints returns the items matching every constraint in the
// set, in catalog insertion order. Text constraints use case-insensitive
// substring containment (constraint "18V" matches value "18V DC");
// numeric constraints use exact or range containment. An item missing a
// constrained attribute does not match.
func (x *Index) FilterByConstraints(set extract.ConstraintSet) []Item {
	s := x.snapshot()
	if len(set) == 0 {
		return s.items
	}
	var out []Item
	for _, it := range s.items {
		if itemMatches(it, set) {
			out = append(out, it)
		}
	}
	return out
}

func itemMatches(it Item, set extract.ConstraintSet) bool {
	for name, c := range set {
		value, ok := it.Attributes[name]
		if !ok || value == "" {
			return false
		}
		if !valueMatches(value, c) {
			return false
		}
	}
	return true
}

var (
	numRangeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[–-]\s*(\d+(?:\.\d+)?)`)
	numRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

func valueMatches(value string, c extract.Constraint) bool {
	switch c.Kind {
	case extract.KindNumber:
		if min, max, ok := parseRange(value); ok {
			return min <= c.Number && c.Number <= max
		}
		if n, ok := parseNumber(value); ok {
			return n == c.Number
		}
		return false
	case extract.KindRange:
		if min, max, ok := parseRange(value); ok {
			// Ranges match when they intersect.
			return c.Min <= max && min <= c.Max
		}
		if n, ok := parseNumber(value); ok {
			return c.Min <= n && n <= c.Max
		}
		return false
	default:
		return strings.Contains(strings.ToUpper(value), strings.ToUpper(c.Text))
	}
}

// parseRange reads a catalog range value like "5–100 Nm" or "2-80 Nm".
func parseRange(value string) (min, max float64, ok bool) {
	m := numRangeRe.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, false
	}
	min, _ = strconv.ParseFloat(m[1], 64)
	max, _ = strconv.ParseFloat(m[2], 64)
	if min > max {
		min, max = max, min
	}
	return min, max, true
}

func parseNumber(value string) (float64, bool) {
	m := numRe.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	return n, err == nil
}
