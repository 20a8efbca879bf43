package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// ErrMalformedConstraint is wrapped by every constraint parse failure.
var ErrMalformedConstraint = errors.New("malformed version constraint")

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Operator is the comparator of a Constraint.
type Operator string

const (
	// OpExact is a bare version with no operator. It behaves like OpEqual.
	OpExact Operator = ""
	OpEqual Operator = "="
	OpGTE   Operator = ">="
	OpGT    Operator = ">"
	OpLTE   Operator = "<="
	OpLT    Operator = "<"
	// OpPessimistic is "~>": at least the given version and below the next
	// minor release ("~> 1.2.3" is ">= 1.2.3, < 1.3.0"; "~> 1" is "< 2.0.0").
	OpPessimistic Operator = "~>"
)

// Constraint is a single version predicate: a bare version, or an operator
// followed by a version.
//
// Examples:
// - "1.0.0"
// - ">= 1.7.0"
// - "~> 2.1"
//
// Constraints are evaluated with Compare, so prerelease versions are ordered
// like any other version.
type Constraint struct {
	op  Operator
	ver Version
	any bool
	// upper is the exclusive bound of a pessimistic constraint.
	upper Version
}

// MalformedConstraintError reports text that is neither a bare version nor
// "<op> <version>".
type MalformedConstraintError struct {
	Text   string
	Reason string
}

func (e *MalformedConstraintError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("semver: malformed constraint %q", e.Text)
	}
	return fmt.Sprintf("semver: malformed constraint %q: %s", e.Text, e.Reason)
}

func (e *MalformedConstraintError) Unwrap() error { return ErrMalformedConstraint }

var reConstraint = regexp.MustCompile(`^\s*(~>|>=|<=|=|>|<)?\s*(v?[0-9][0-9A-Za-z.+\-]*)\s*$`)

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseConstraint parses a bare version or an "<op> <version>" pair.
// Ranges, wildcards and disjunctions are rejected.
func ParseConstraint(raw string) (Constraint, error) {
	m := reConstraint.FindStringSubmatch(raw)
	if m == nil {
		return Constraint{}, &MalformedConstraintError{Text: raw}
	}
	op := Operator(m[1])
	ver, err := ParseVersion(m[2])
	if err != nil {
		return Constraint{}, &MalformedConstraintError{Text: raw, Reason: err.Error()}
	}

	c := Constraint{op: op, ver: ver}
	if op == OpPessimistic {
		// The operand as written decides the bound: "~> 1" stops at 2.0.0.
		next := ver.v.IncMinor()
		if segments(m[2]) == 1 {
			next = ver.v.IncMajor()
		}
		c.upper = Version{v: &next}
	}
	return c, nil
}

// segments counts the dotted numeric parts of a version operand.
func segments(operand string) int {
	core := strings.TrimPrefix(operand, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	return strings.Count(core, ".") + 1
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// Any returns a constraint that every version satisfies.
func Any() Constraint {
	return Constraint{any: true}
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

func (v Version) IsZero() bool { return v.v == nil }

// Operator returns the comparator; OpExact for a bare version.
func (c Constraint) Operator() Operator { return c.op }

// Version returns the version operand. It is zero for Any.
func (c Constraint) Version() Version { return c.ver }

// IsAny reports whether c was built by Any.
func (c Constraint) IsAny() bool { return c.any }

// Exact reports whether c pins a single version.
func (c Constraint) Exact() bool {
	return !c.any && (c.op == OpExact || c.op == OpEqual)
}

func (c Constraint) String() string {
	switch {
	case c.any:
		return "*"
	case c.op == OpExact:
		return c.ver.String()
	default:
		return string(c.op) + " " + c.ver.String()
	}
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil {
		return false
	}
	if c.any {
		return true
	}
	if c.ver.v == nil {
		return false
	}
	cmp := Compare(v, c.ver)
	switch c.op {
	case OpExact, OpEqual:
		return cmp == 0
	case OpGTE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	case OpLTE:
		return cmp <= 0
	case OpLT:
		return cmp < 0
	case OpPessimistic:
		return cmp >= 0 && Compare(v, c.upper) < 0
	default:
		return false
	}
}

// SatisfiesAll reports whether v satisfies every constraint in cs.
// An empty set is satisfied by any valid version.
func SatisfiesAll(v Version, cs []Constraint) bool {
	if v.v == nil {
		return false
	}
	for _, c := range cs {
		if !Satisfies(v, c) {
			return false
		}
	}
	return true
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// MaxSatisfying returns the highest version in candidates that satisfies
// every constraint in cs.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(cs []Constraint, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !SatisfiesAll(candidate, cs) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
