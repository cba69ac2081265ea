package extract

import (
	"reflect"
	"testing"
)

func TestExtractVoltageNormalization(t *testing.T) {
	reg := DefaultRegistry()

	// "18 V" and "18V" must produce an identical constraint value.
	a := reg.Extract("cordless nutrunner 18 V")
	b := reg.Extract("cordless nutrunner 18V")

	if a[AttrVoltage] != b[AttrVoltage] {
		t.Errorf("voltage constraints differ: %v vs %v", a[AttrVoltage], b[AttrVoltage])
	}
	if got := a[AttrVoltage].Text; got != "18V" {
		t.Errorf("voltage = %q, want %q", got, "18V")
	}
}

func TestExtractRightmostWins(t *testing.T) {
	reg := DefaultRegistry()

	set := reg.Extract("18V or maybe 230V nutrunner")
	if got := set[AttrVoltage].Text; got != "230V" {
		t.Errorf("voltage = %q, want rightmost %q", got, "230V")
	}
}

func TestExtractTorque(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		query string
		want  Constraint
	}{
		{"nutrunner 50Nm", NumberConstraint(50, "Nm")},
		{"nutrunner 50 Nm", NumberConstraint(50, "Nm")},
		{"spindle 5-100 Nm", RangeConstraint(5, 100, "Nm")},
		{"spindle 5–100Nm", RangeConstraint(5, 100, "Nm")},
	}
	for _, tt := range tests {
		set := reg.Extract(tt.query)
		got, ok := set[AttrTorque]
		if !ok {
			t.Errorf("Extract(%q): no torque constraint", tt.query)
			continue
		}
		if got != tt.want {
			t.Errorf("Extract(%q) torque = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestExtractApplicationType(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		query string
		want  string
	}{
		{"cordless screwdriver", "Manual / Portable"},
		{"tool for the assembly line", "Automation"},
		{"manual wrench", "Manual"},
		{"manual but portable driver", "Manual / Portable"},
		{"torque verification system", "Quality / Verification"},
		{"spindle controller", "Control System"},
	}
	for _, tt := range tests {
		set := reg.Extract(tt.query)
		got, ok := set[AttrApplicationType]
		if !ok {
			t.Errorf("Extract(%q): no application_type constraint", tt.query)
			continue
		}
		if got.Text != tt.want {
			t.Errorf("Extract(%q) application_type = %q, want %q", tt.query, got.Text, tt.want)
		}
	}
}

func TestExtractNeverFails(t *testing.T) {
	reg := DefaultRegistry()

	for _, q := range []string{"", "hello", "something entirely unrelated"} {
		set := reg.Extract(q)
		if len(set) != 0 {
			t.Errorf("Extract(%q) = %v, want empty set", q, set)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	reg := DefaultRegistry()
	q := "cordless 18V nutrunner with 50Nm and IP54"

	first := reg.Extract(q)
	for i := 0; i < 5; i++ {
		if got := reg.Extract(q); !reflect.DeepEqual(got, first) {
			t.Fatalf("Extract not deterministic: %v vs %v", got, first)
		}
	}
	if len(first) != 4 {
		t.Errorf("got %d constraints, want 4: %v", len(first), first)
	}
}

func TestRegistryOpenForExtension(t *testing.T) {
	reg := NewRegistry(VoltageMatcher())
	reg.Register(Matcher{
		Attribute: "color",
		Match: func(text string) (Constraint, bool) {
			if text == "" {
				return Constraint{}, false
			}
			return TextConstraint("red"), true
		},
	})

	set := reg.Extract("anything")
	if set["color"].Text != "red" {
		t.Errorf("custom matcher did not fire: %v", set)
	}
	if !reg.Knows("color") || reg.Knows("shape") {
		t.Error("Knows() does not reflect registered attributes")
	}
}

func TestConstraintSetMerge(t *testing.T) {
	base := ConstraintSet{
		"voltage": TextConstraint("18V"),
		"torque":  NumberConstraint(50, "Nm"),
	}
	over := ConstraintSet{
		"voltage":   TextConstraint("230V"),
		"ip_rating": TextConstraint("IP54"),
	}

	merged := base.Merge(over)
	if merged["voltage"].Text != "230V" {
		t.Errorf("merge did not overwrite on conflict: %v", merged["voltage"])
	}
	if len(merged) != 3 {
		t.Errorf("merged set has %d entries, want 3", len(merged))
	}
	// Inputs must stay untouched.
	if base["voltage"].Text != "18V" || len(base) != 2 {
		t.Errorf("Merge mutated receiver: %v", base)
	}
}

func TestConstraintString(t *testing.T) {
	tests := []struct {
		c    Constraint
		want string
	}{
		{TextConstraint("18V"), "18V"},
		{NumberConstraint(50, "Nm"), "50Nm"},
		{RangeConstraint(5, 100, "Nm"), "5-100Nm"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
