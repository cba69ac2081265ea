package extract

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates how a constraint value compares against catalog values.
type Kind string

const (
	// KindText matches by case-insensitive substring containment
	// ("18V" matches a catalog value "18V DC").
	KindText Kind = "text"
	// KindNumber matches a catalog value that is the same number or a
	// range containing it.
	KindNumber Kind = "number"
	// KindRange matches a catalog range that intersects it.
	KindRange Kind = "range"
)

// Constraint is a single structured attribute requirement extracted from text.
type Constraint struct {
	Kind   Kind    `json:"kind"`
	Text   string  `json:"text,omitempty"`
	Number float64 `json:"number,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// TextConstraint returns a text-valued constraint.
func TextConstraint(value string) Constraint {
	return Constraint{Kind: KindText, Text: value}
}

// NumberConstraint returns a numeric-exact constraint.
func NumberConstraint(value float64, unit string) Constraint {
	return Constraint{Kind: KindNumber, Number: value, Unit: unit}
}

// RangeConstraint returns a numeric-range constraint.
func RangeConstraint(min, max float64, unit string) Constraint {
	return Constraint{Kind: KindRange, Min: min, Max: max, Unit: unit}
}

// String renders the constraint the way a user would have written it.
func (c Constraint) String() string {
	switch c.Kind {
	case KindNumber:
		return trimFloat(c.Number) + c.Unit
	case KindRange:
		return trimFloat(c.Min) + "-" + trimFloat(c.Max) + c.Unit
	default:
		return c.Text
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ConstraintSet maps attribute name to the constraint the user has pinned
// down for it. Keys are unique; merging overwrites per attribute.
type ConstraintSet map[string]Constraint

// Merge returns a new set containing s overlaid with other. Attributes
// present in both keep other's value (last extraction wins).
func (s ConstraintSet) Merge(other ConstraintSet) ConstraintSet {
	out := make(ConstraintSet, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy of the set.
func (s ConstraintSet) Clone() ConstraintSet {
	out := make(ConstraintSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Names returns the attribute names in the set, sorted for deterministic output.
func (s ConstraintSet) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Describe renders the set as "voltage=18V torque=50Nm" for logs and turn records.
func (s ConstraintSet) Describe() string {
	parts := ""
	for _, name := range s.Names() {
		if parts != "" {
			parts += " "
		}
		parts += fmt.Sprintf("%s=%s", name, s[name])
	}
	return parts
}
