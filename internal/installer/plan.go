package installer

import (
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/reconcile"
	"github.com/anvil-platform/modforge/internal/resolver"
	"github.com/anvil-platform/modforge/internal/semver"
)

// Entry is one module to unpack.
type Entry struct {
	Name    module.Name
	Version semver.Version
	Action  reconcile.Action
	// File is the archive location in the repository, or a local path when
	// Local is set.
	File  string
	Local bool
}

// Plan lists the modules to unpack, dependencies before their dependents.
type Plan struct {
	Entries []Entry
}

// BuildPlan flattens a resolved tree in post-order. Each module appears once;
// reused local copies are left out.
func BuildPlan(root *resolver.Node) Plan {
	var p Plan
	seen := map[module.Name]bool{}
	var walk func(n *resolver.Node)
	walk = func(n *resolver.Node) {
		if n == nil || seen[n.Name] {
			return
		}
		seen[n.Name] = true
		for _, d := range n.Dependencies {
			walk(d)
		}
		if !n.Action.Unpacks() {
			return
		}
		p.Entries = append(p.Entries, Entry{
			Name:    n.Name,
			Version: n.Version,
			Action:  n.Action,
			File:    n.File,
			Local:   n.Package,
		})
	}
	walk(root)
	return p
}
