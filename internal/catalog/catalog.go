package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrEmptyCatalog is returned when the catalog file contains no items.
// An empty or malformed catalog is a fatal startup condition.
var ErrEmptyCatalog = errors.New("catalog contains no items")

// Item is one catalog entry. Items are loaded once and never mutated at
// runtime; every recommendation the system emits traces back to one of them.
type Item struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Attributes map[string]string `json:"attributes"`
	Vector     []float32         `json:"vector,omitempty"`
}

// EmbeddingText composes the text that represents the item in vector space:
// name, category and all attribute values, the same composition the index
// builder embeds.
func (it Item) EmbeddingText() string {
	text := it.Name + "\n" + it.Category
	for _, k := range sortedKeys(it.Attributes) {
		text += "\n" + it.Attributes[k]
	}
	return text
}

// Load reads and validates a catalog JSON file. Any error here is fatal:
// the system must not start without a well-formed, non-empty catalog.
func Load(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	if err := Validate(items); err != nil {
		return nil, fmt.Errorf("validating catalog %s: %w", path, err)
	}
	return items, nil
}

// Validate checks the structural invariants every catalog must satisfy.
func Validate(items []Item) error {
	if len(items) == 0 {
		return ErrEmptyCatalog
	}
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if it.ID == "" {
			return fmt.Errorf("item %d has an empty id", i)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("duplicate item id %q", it.ID)
		}
		seen[it.ID] = struct{}{}
		if it.Name == "" {
			return fmt.Errorf("item %q has an empty name", it.ID)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
