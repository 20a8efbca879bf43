// Package reconcile decides what to do with a module that may already be
// installed locally.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
)

// ErrLocalModuleModified is returned when a locally modified copy would have to
// be replaced.
var ErrLocalModuleModified = errors.New("local module has changes")

// Store is the local module store.
type Store interface {
	Lookup(name module.Name) (*localstore.Install, error)
}

// Action is what the installer does with one module.
type Action string

const (
	ActionInstall   Action = "install"
	ActionReuse     Action = "reuse"
	ActionUpgrade   Action = "upgrade"
	ActionReinstall Action = "reinstall"
)

// Unpacks reports whether the action writes to disk.
func (a Action) Unpacks() bool { return a != ActionReuse }

// ModifiedError is returned when a copy with local changes must be replaced.
type ModifiedError struct {
	Name      module.Name
	Installed semver.Version
}

func (e *ModifiedError) Error() string {
	return fmt.Sprintf("local module %s (v%s) has changes and cannot be replaced", e.Name, e.Installed)
}

func (e *ModifiedError) Unwrap() error { return ErrLocalModuleModified }

// Decision is the outcome of reconciling one module.
type Decision struct {
	Action Action
	// Warning is set when a forced action overrides a local condition.
	Warning string
}

// Reconciler consults the local store.
type Reconciler struct {
	store Store
	log   logr.Logger
}

// New returns a Reconciler over store. A nil store behaves as an empty one.
func New(store Store, log logr.Logger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

// Lookup returns the local install of name, or nil.
func (r *Reconciler) Lookup(name module.Name) (*localstore.Install, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	inst, err := r.store.Lookup(name)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		r.log.V(1).Info("found local module", "module", name.String(), "version", inst.Version.String(), "hasChanges", inst.HasChanges)
	}
	return inst, nil
}

// Accepts reports whether the installed version satisfies every constraint.
func Accepts(inst *localstore.Install, cs []semver.Constraint) bool {
	if inst == nil {
		return false
	}
	return semver.SatisfiesAll(inst.Version, cs)
}

// Decide picks the action for a module whose accumulated constraints are cs.
func (r *Reconciler) Decide(name module.Name, inst *localstore.Install, cs []semver.Constraint, force bool) (Decision, error) {
	switch {
	case inst == nil:
		return Decision{Action: ActionInstall}, nil
	case force:
		d := Decision{Action: ActionReinstall}
		if inst.HasChanges {
			d.Warning = fmt.Sprintf("local module %s (v%s) has changes that will be overwritten", name, inst.Version)
			r.log.Info("overwriting locally modified module", "module", name.String(), "version", inst.Version.String())
		}
		return d, nil
	case Accepts(inst, cs):
		return Decision{Action: ActionReuse}, nil
	case inst.HasChanges:
		return Decision{}, &ModifiedError{Name: name, Installed: inst.Version}
	default:
		return Decision{Action: ActionUpgrade}, nil
	}
}
