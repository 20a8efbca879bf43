package resolver

import (
	"errors"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/reconcile"
	"github.com/anvil-platform/modforge/internal/semver"
)

var (
	// ErrUnsatisfiable indicates that no release satisfies every constraint
	// accumulated on a module.
	ErrUnsatisfiable = errors.New("unsatisfiable constraints")
	// ErrNoMatchingRelease indicates that the requested root version is not published.
	ErrNoMatchingRelease = errors.New("no matching release")
)

// Kind classifies a Failure.
type Kind string

const (
	KindUnknownModule       Kind = "UnknownModule"
	KindMalformedConstraint Kind = "MalformedConstraint"
	KindNoMatchingRelease   Kind = "NoMatchingRelease"
	KindUnsatisfiable       Kind = "UnsatisfiableConstraints"
	KindLocalModuleInvalid  Kind = "LocalModuleInvalid"
	KindLocalModuleModified Kind = "LocalModuleModified"
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnknownModule:
		return catalog.ErrUnknownModule
	case KindMalformedConstraint:
		return semver.ErrMalformedConstraint
	case KindNoMatchingRelease:
		return ErrNoMatchingRelease
	case KindUnsatisfiable:
		return ErrUnsatisfiable
	case KindLocalModuleInvalid:
		return localstore.ErrLocalModuleInvalid
	case KindLocalModuleModified:
		return reconcile.ErrLocalModuleModified
	}
	return nil
}
