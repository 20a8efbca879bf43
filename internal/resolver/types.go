package resolver

import (
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/reconcile"
	"github.com/anvil-platform/modforge/internal/semver"
)

// Request is a root install request as given by the caller.
type Request struct {
	// Name is the module to install, "owner-name" or "owner/name".
	Name string
	// Version, when set, pins the root to exactly this version.
	Version string

	Force              bool
	IgnoreDependencies bool

	// Package, when set, is a release read from a package file on disk. It is
	// used as the root release instead of the catalog's; its dependencies still
	// resolve against the catalog.
	Package *module.Release
}

// Mode is how dependencies are treated for a run. It is fixed once per run.
type Mode int

const (
	// ModeFull resolves the whole dependency closure.
	ModeFull Mode = iota
	// ModeForce installs the root at the selected version and nothing else,
	// without looking at constraints or local copies.
	ModeForce
	// ModeIgnoreDependencies installs the root alone but still reconciles the
	// root with any local copy.
	ModeIgnoreDependencies
)

// ModeFor maps the request flags to a Mode. Force wins over IgnoreDependencies.
func ModeFor(force, ignoreDependencies bool) Mode {
	switch {
	case force:
		return ModeForce
	case ignoreDependencies:
		return ModeIgnoreDependencies
	default:
		return ModeFull
	}
}

func (m Mode) String() string {
	switch m {
	case ModeForce:
		return "force"
	case ModeIgnoreDependencies:
		return "ignore-dependencies"
	default:
		return "full"
	}
}

// Node is one resolved module in the result tree.
type Node struct {
	Name    module.Name
	Version semver.Version
	Action  reconcile.Action
	// File is the archive location in the repository, or the package path
	// when Package is set. Empty for reused local copies.
	File    string
	Package bool

	Dependencies []*Node
}

// Resolution is the outcome of one run: either a tree rooted at Root, or a
// Failure explaining why no consistent selection exists.
type Resolution struct {
	Mode     Mode
	Root     *Node
	Failure  *Failure
	Warnings []string
}

// OK reports whether the run produced a tree.
func (r *Resolution) OK() bool {
	return r != nil && r.Failure == nil && r.Root != nil
}

// Walk visits the tree depth-first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, d := range n.Dependencies {
		d.Walk(fn)
	}
}
