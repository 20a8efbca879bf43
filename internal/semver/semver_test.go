package semver

import (
	"errors"
	"testing"
)

func TestSatisfies(t *testing.T) {
	c := MustParseConstraint(">= 1.0.0")

	for _, raw := range []string{"1.0.0", "1.0.1", "2.0.0"} {
		if !Satisfies(MustParseVersion(raw), c) {
			t.Fatalf("expected %s to satisfy >= 1.0.0", raw)
		}
	}
	if Satisfies(MustParseVersion("0.9.9"), c) {
		t.Fatalf("expected 0.9.9 to NOT satisfy >= 1.0.0")
	}
}

func TestSatisfies_Operators(t *testing.T) {
	cases := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"1.0.0", "1.0.0", true},
		{"1.0.0", "1.0.1", false},
		{"= 1.7.1", "1.7.1", true},
		{"=1.7.1", "1.7.0", false},
		{"> 1.0.0", "1.0.0", false},
		{"> 1.0.0", "1.0.1", true},
		{"<= 1.0.0", "1.0.0", true},
		{"<= 1.0.0", "1.0.1", false},
		{"< 2.0.0", "1.99.0", true},
		{"< 2.0.0", "2.0.0", false},
		{"~> 1.2.3", "1.2.9", true},
		{"~> 1.2.3", "1.3.0", false},
		{"~> 1", "1.9.0", true},
		{"~> 1", "2.0.0", false},
		{"v1.0.0", "1.0.0", true},
	}
	for _, tc := range cases {
		got := Satisfies(MustParseVersion(tc.version), MustParseConstraint(tc.constraint))
		if got != tc.want {
			t.Errorf("Satisfies(%s, %q) = %v, want %v", tc.version, tc.constraint, got, tc.want)
		}
	}
}

func TestSatisfies_PrereleaseFollowsOrdering(t *testing.T) {
	cases := []struct {
		constraint string
		version    string
		want       bool
	}{
		{">= 1.0.0", "2.0.0-rc1", true},
		{">= 1.0.0", "1.0.0-rc1", false},
		{"< 1.0.0", "1.0.0-rc1", true},
		{"> 1.0.0-rc1", "1.0.0", true},
		{"= 2.0.0-rc1", "2.0.0-rc1", true},
		{"~> 1.2.0", "1.2.5-beta", true},
	}
	for _, tc := range cases {
		v := MustParseVersion(tc.version)
		c := MustParseConstraint(tc.constraint)
		if got := Satisfies(v, c); got != tc.want {
			t.Errorf("Satisfies(%s, %q) = %v, want %v", tc.version, tc.constraint, got, tc.want)
		}
		if !Satisfies(v, Any()) {
			t.Errorf("expected %s to satisfy Any()", tc.version)
		}
	}

	best, ok := MaxSatisfying([]Constraint{MustParseConstraint(">= 1.0.0")}, []Version{
		MustParseVersion("1.0.0"),
		MustParseVersion("2.0.0-rc1"),
	})
	if !ok || best.String() != "2.0.0-rc1" {
		t.Fatalf("expected 2.0.0-rc1 to be the newest admissible version, got %s", best)
	}
}

func TestParseConstraint_Malformed(t *testing.T) {
	for _, raw := range []string{"", "latest", ">= ", ">=1.0.0 <2.0.0", "^1.0.0", "1.0.0 || 2.0.0", "=> 1.0.0"} {
		_, err := ParseConstraint(raw)
		if err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
		if !errors.Is(err, ErrMalformedConstraint) {
			t.Fatalf("expected ErrMalformedConstraint for %q, got %v", raw, err)
		}
		var mce *MalformedConstraintError
		if !errors.As(err, &mce) || mce.Text != raw {
			t.Fatalf("expected MalformedConstraintError carrying %q, got %v", raw, err)
		}
	}
}

func TestConstraint_StringAndExact(t *testing.T) {
	if got := MustParseConstraint("1.0.0").String(); got != "1.0.0" {
		t.Fatalf("expected bare version to render as 1.0.0, got %q", got)
	}
	if got := MustParseConstraint(">=1.7.0").String(); got != ">= 1.7.0" {
		t.Fatalf("expected canonical >= 1.7.0, got %q", got)
	}
	if !MustParseConstraint("1.0.0").Exact() || !MustParseConstraint("= 1.0.0").Exact() {
		t.Fatalf("expected bare and = constraints to be exact")
	}
	if MustParseConstraint(">= 1.0.0").Exact() || Any().Exact() {
		t.Fatalf("expected ranged constraints to not be exact")
	}
}

func TestAny(t *testing.T) {
	for _, raw := range []string{"0.0.1", "1.0.0", "99.1.0"} {
		if !Satisfies(MustParseVersion(raw), Any()) {
			t.Fatalf("expected %s to satisfy Any()", raw)
		}
	}
}

func TestMaxSatisfying(t *testing.T) {
	cs := []Constraint{MustParseConstraint(">= 1.0.0"), MustParseConstraint("< 2.0.0")}
	candidates := []Version{
		MustParseVersion("0.9.0"),
		MustParseVersion("1.0.0"),
		MustParseVersion("1.5.0"),
		MustParseVersion("2.0.0"),
	}

	best, ok := MaxSatisfying(cs, candidates)
	if !ok {
		t.Fatalf("expected to find a satisfying version")
	}
	if Compare(best, MustParseVersion("1.5.0")) != 0 {
		t.Fatalf("expected best=1.5.0")
	}

	if _, ok := MaxSatisfying([]Constraint{MustParseConstraint("1.0.0"), MustParseConstraint("0.0.1")}, candidates); ok {
		t.Fatalf("expected no version to satisfy conflicting exact constraints")
	}
}
