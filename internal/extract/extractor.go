package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Matcher is a registered rule mapping matched text to a typed constraint.
// Match must be a pure function: no side effects, deterministic output.
// When the pattern fires more than once in one text, the matcher keeps
// only its last (rightmost) match for the attribute.
type Matcher struct {
	Attribute string
	Match     func(text string) (Constraint, bool)
}

// Registry holds the set of attribute matchers applied to every query.
// Matchers are applied independently; adding or removing one requires no
// change to calling code.
type Registry struct {
	matchers []Matcher
}

// NewRegistry creates a Registry with the given matchers.
func NewRegistry(matchers ...Matcher) *Registry {
	return &Registry{matchers: matchers}
}

// Register appends a matcher. A second matcher for the same attribute
// overwrites the first one's result (registration order wins last).
func (r *Registry) Register(m Matcher) {
	r.matchers = append(r.matchers, m)
}

// Attributes returns the sorted set of registered attribute names.
// Session state only ever stores constraints under these names.
func (r *Registry) Attributes() []string {
	seen := make(map[string]struct{}, len(r.matchers))
	var names []string
	for _, m := range r.matchers {
		if _, ok := seen[m.Attribute]; ok {
			continue
		}
		seen[m.Attribute] = struct{}{}
		names = append(names, m.Attribute)
	}
	sort.Strings(names)
	return names
}

// Knows reports whether name is a registered attribute.
func (r *Registry) Knows(name string) bool {
	for _, m := range r.matchers {
		if m.Attribute == name {
			return true
		}
	}
	return false
}

// Extract applies every registered matcher to text and collects the
// results into a ConstraintSet. It never fails: unmatched text yields an
// empty set. Identical input always yields an identical set.
func (r *Registry) Extract(text string) ConstraintSet {
	set := make(ConstraintSet)
	for _, m := range r.matchers {
		if c, ok := m.Match(text); ok {
			set[m.Attribute] = c
		}
	}
	return set
}

// Default attribute names for the industrial tool catalog.
const (
	AttrVoltage         = "voltage"
	AttrTorque          = "torque_range"
	AttrIPRating        = "ip_rating"
	AttrApplicationType = "application_type"
)

var (
	voltageRe     = regexp.MustCompile(`(?i)(\d+)\s?V\b`)
	torqueRangeRe = regexp.MustCompile(`(?i)(\d+)\s*[–-]\s*(\d+)\s*Nm\b`)
	torqueRe      = regexp.MustCompile(`(?i)(\d+)\s*Nm\b`)
	ipRatingRe    = regexp.MustCompile(`(?i)\bIP(\d{2})\b`)
)

// DefaultRegistry returns the matcher registry for the tool catalog:
// voltage, torque, IP rating and application type.
func DefaultRegistry() *Registry {
	return NewRegistry(
		VoltageMatcher(),
		TorqueMatcher(),
		IPRatingMatcher(),
		ApplicationTypeMatcher(),
	)
}

// VoltageMatcher extracts voltages like "18V", "18 v", "230V" and
// normalizes them to "<n>V" so "18 V" and "18V" store the same value.
func VoltageMatcher() Matcher {
	return Matcher{
		Attribute: AttrVoltage,
		Match: func(text string) (Constraint, bool) {
			m := lastSubmatch(voltageRe, text)
			if m == nil {
				return Constraint{}, false
			}
			return TextConstraint(m[1] + "V"), true
		},
	}
}

// TorqueMatcher extracts "50Nm" as a numeric-exact constraint and
// "5-100Nm" (or en dash) as a numeric-range constraint.
func TorqueMatcher() Matcher {
	return Matcher{
		Attribute: AttrTorque,
		Match: func(text string) (Constraint, bool) {
			if m := lastSubmatch(torqueRangeRe, text); m != nil {
				min, _ := strconv.ParseFloat(m[1], 64)
				max, _ := strconv.ParseFloat(m[2], 64)
				if min > max {
					min, max = max, min
				}
				return RangeConstraint(min, max, "Nm"), true
			}
			m := lastSubmatch(torqueRe, text)
			if m == nil {
				return Constraint{}, false
			}
			n, _ := strconv.ParseFloat(m[1], 64)
			return NumberConstraint(n, "Nm"), true
		},
	}
}

// IPRatingMatcher extracts ingress protection ratings like "IP54" and
// uppercases the prefix.
func IPRatingMatcher() Matcher {
	return Matcher{
		Attribute: AttrIPRating,
		Match: func(text string) (Constraint, bool) {
			m := lastSubmatch(ipRatingRe, text)
			if m == nil {
				return Constraint{}, false
			}
			return TextConstraint("IP" + m[1]), true
		},
	}
}

// applicationKeywords maps trigger phrases to the catalog's application
// type values, checked in order of specificity. "manual" alone must not
// fire when "portable" is present (the original rule set).
var applicationKeywords = []struct {
	value    string
	triggers []string
}{
	{"Manual / Portable", []string{"cordless", "portable"}},
	{"Automation", []string{"automation", "assembly line", "automated"}},
	{"Control System", []string{"controller", "control system"}},
	{"Quality / Verification", []string{"verification", "calibration"}},
	{"Manual", []string{"manual"}},
}

// ApplicationTypeMatcher maps use-case keywords to application types.
func ApplicationTypeMatcher() Matcher {
	return Matcher{
		Attribute: AttrApplicationType,
		Match: func(text string) (Constraint, bool) {
			lower := strings.ToLower(text)
			for _, k := range applicationKeywords {
				for _, trigger := range k.triggers {
					if strings.Contains(lower, trigger) {
						return TextConstraint(k.value), true
					}
				}
			}
			return Constraint{}, false
		},
	}
}

// lastSubmatch returns the rightmost submatch of re in text, or nil.
func lastSubmatch(re *regexp.Regexp, text string) []string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
