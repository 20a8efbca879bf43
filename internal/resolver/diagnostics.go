package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anvil-platform/modforge/internal/graph"
	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
)

// DefaultForceHint is the command suggested when a forced install would succeed.
const DefaultForceHint = "modforge install"

// TraceHop is one module on a causal trace, with the version (or constraint)
// it was required at.
type TraceHop struct {
	Name  module.Name
	Label string
}

// Failure captures why a run could not produce a tree.
//
// It is built from values threaded through the walk, so the same input always
// yields the same text.
type Failure struct {
	Kind Kind

	Root module.Name
	// RootVersion is the requested or selected root version; empty when no
	// version could be determined.
	RootVersion string

	// Module is the module the failure is about.
	Module module.Name
	// Release names the offending release for malformed declarations.
	Release string
	// Edges are all requirements accumulated on Module when it became unsatisfiable.
	Edges []graph.RequirementEdge
	// Trace leads from the root to Module.
	Trace []TraceHop
	// Causes holds per-module errors for local module failures.
	Causes []error
	Err    error

	ForceHint string
}

func (f *Failure) Error() string { return f.Oneline() }

func (f *Failure) Unwrap() []error {
	errs := []error{}
	if s := f.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return append(errs, f.Causes...)
}

func (f *Failure) rootLabel() string {
	if f.RootVersion == "" {
		return "(best)"
	}
	if _, err := semver.ParseVersion(f.RootVersion); err != nil {
		return "(" + f.RootVersion + ")"
	}
	return "(v" + f.RootVersion + ")"
}

func (f *Failure) forceHint() string {
	if f.ForceHint == "" {
		return DefaultForceHint
	}
	return f.ForceHint
}

// Oneline is the short summary of the failure.
func (f *Failure) Oneline() string {
	prefix := fmt.Sprintf("'%s' %s requested; ", f.Root, f.rootLabel())
	switch f.Kind {
	case KindUnsatisfiable:
		if len(f.Edges) >= 2 {
			return prefix + "Invalid dependency cycle"
		}
		return prefix + fmt.Sprintf("No version of '%s' will satisfy dependencies", f.Module)
	case KindNoMatchingRelease:
		return prefix + fmt.Sprintf("No releases matching '%s'", f.RootVersion)
	case KindUnknownModule:
		return prefix + fmt.Sprintf("Module '%s' was not found in the repository", f.Module)
	case KindMalformedConstraint:
		return prefix + fmt.Sprintf("Release '%s' declares a malformed dependency", f.Release)
	case KindLocalModuleInvalid:
		return prefix + fmt.Sprintf("Installed module '%s' has invalid metadata", f.Module)
	case KindLocalModuleModified:
		return prefix + fmt.Sprintf("Installed module '%s' has local changes", f.Module)
	}
	return prefix + string(f.Kind)
}

// Multiline is the detailed causal explanation of the failure.
func (f *Failure) Multiline() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Could not install module '%s' %s", f.Root, f.rootLabel())

	switch f.Kind {
	case KindUnsatisfiable:
		fmt.Fprintf(&b, "\n  No version of '%s' will satisfy dependencies", f.Module)
		f.writeTrace(&b)
		f.writeForceHint(&b)
	case KindNoMatchingRelease:
		fmt.Fprintf(&b, "\n  No releases matching '%s' are available from the repository", f.RootVersion)
	case KindUnknownModule:
		fmt.Fprintf(&b, "\n  Module '%s' was not found in the repository", f.Module)
		f.writeTrace(&b)
	case KindMalformedConstraint:
		fmt.Fprintf(&b, "\n  Release '%s' declares a malformed dependency: %v", f.Release, f.Err)
		f.writeTrace(&b)
	case KindLocalModuleInvalid, KindLocalModuleModified:
		for _, cause := range f.Causes {
			b.WriteString("\n  ")
			b.WriteString(describeLocal(cause))
		}
		if f.Kind == KindLocalModuleModified {
			f.writeForceHint(&b)
		}
	}
	return b.String()
}

func (f *Failure) writeTrace(b *strings.Builder) {
	for i, hop := range f.Trace {
		if i == 0 {
			fmt.Fprintf(b, "\n    You specified '%s' %s", hop.Name, hop.Label)
		} else {
			fmt.Fprintf(b, ",\n    which depends on '%s' %s", hop.Name, hop.Label)
		}
	}
}

func (f *Failure) writeForceHint(b *strings.Builder) {
	fmt.Fprintf(b, "\n    Use `%s --force` to install this module anyway", f.forceHint())
}

func describeLocal(err error) string {
	var inv *localstore.InvalidError
	if errors.As(err, &inv) {
		switch {
		case errors.Is(err, localstore.ErrMissingMetadata):
			return fmt.Sprintf("Installed module '%s' has no readable metadata", inv.Name)
		case errors.Is(err, localstore.ErrMissingVersionMetadata):
			return fmt.Sprintf("Installed module '%s' has no version metadata", inv.Name)
		case errors.Is(err, localstore.ErrNonSemverVersion):
			return fmt.Sprintf("Installed module '%s' has a non-semantic version '%s'", inv.Name, inv.Detail)
		case errors.Is(err, localstore.ErrNameMismatch):
			return fmt.Sprintf("Installed module '%s' has a different forge name (%s)", inv.Name, inv.Detail)
		}
	}
	return err.Error()
}

// constraintLabel renders a requirement for a trace: "(v1.0.0)" for exact
// constraints, "(>= 1.0.0)" otherwise.
func constraintLabel(c semver.Constraint) string {
	switch {
	case c.IsAny():
		return "(any version)"
	case c.Exact():
		return "(v" + c.Version().String() + ")"
	default:
		return "(" + c.String() + ")"
	}
}

func versionLabel(v semver.Version) string {
	return "(v" + v.String() + ")"
}

// traceFromEdge renders the path of e followed by its target.
func traceFromEdge(e graph.RequirementEdge) []TraceHop {
	hops := traceFromPath(e.Path)
	return append(hops, TraceHop{Name: e.To, Label: constraintLabel(e.Constraint)})
}

func traceFromPath(p graph.Path) []TraceHop {
	hops := make([]TraceHop, 0, p.Len()+1)
	for _, h := range p.Hops() {
		hops = append(hops, TraceHop{Name: h.Name, Label: versionLabel(h.Version)})
	}
	return hops
}
