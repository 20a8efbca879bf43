// Package graph contains the types used to model a dependency resolution run:
// requirement edges between modules, the path that produced each edge, and the
// per-module nodes that accumulate them.
package graph

import (
	"strings"

	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
)

// Hop is a module at a concrete version on a requirement path.
type Hop struct {
	Name    module.Name
	Version semver.Version
}

func (h Hop) String() string {
	return h.Name.String() + "@" + h.Version.String()
}

// Path is the chain of releases from the root to the requirer of an edge.
// A Path is never modified in place; Append returns a new value.
type Path struct {
	hops []Hop
}

func (p Path) Append(h Hop) Path {
	hops := make([]Hop, len(p.hops), len(p.hops)+1)
	copy(hops, p.hops)
	return Path{hops: append(hops, h)}
}

func (p Path) Hops() []Hop {
	out := make([]Hop, len(p.hops))
	copy(out, p.hops)
	return out
}

func (p Path) Len() int { return len(p.hops) }

func (p Path) Contains(n module.Name) bool {
	for _, h := range p.hops {
		if h.Name == n {
			return true
		}
	}
	return false
}

func (p Path) String() string {
	parts := make([]string, 0, len(p.hops))
	for _, h := range p.hops {
		parts = append(parts, h.String())
	}
	return strings.Join(parts, " -> ")
}

// RequirementEdge is one declared dependency observed while walking a release.
// Path ends with From.
type RequirementEdge struct {
	From       Hop
	To         module.Name
	Constraint semver.Constraint
	Path       Path
}

// ResolutionNode accumulates every edge that targets one module.
type ResolutionNode struct {
	Name  module.Name
	Edges []RequirementEdge

	// Selected is the tentatively chosen release, nil until one is picked.
	Selected *module.Release
}

// Add appends e. Edges already recorded are left untouched.
func (n *ResolutionNode) Add(e RequirementEdge) {
	n.Edges = append(n.Edges, e)
}

// Constraints returns the constraint of every accumulated edge, in arrival order.
func (n *ResolutionNode) Constraints() []semver.Constraint {
	out := make([]semver.Constraint, 0, len(n.Edges))
	for _, e := range n.Edges {
		out = append(out, e.Constraint)
	}
	return out
}

// DependencyGraph holds the nodes of a single resolution run in discovery order.
type DependencyGraph struct {
	nodes map[module.Name]*ResolutionNode
	order []module.Name
}

func New() *DependencyGraph {
	return &DependencyGraph{nodes: make(map[module.Name]*ResolutionNode)}
}

// Node returns the node for name, creating it on first reference.
func (g *DependencyGraph) Node(name module.Name) *ResolutionNode {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := &ResolutionNode{Name: name}
	g.nodes[name] = n
	g.order = append(g.order, name)
	return n
}

// Lookup returns the node for name without creating it.
func (g *DependencyGraph) Lookup(name module.Name) (*ResolutionNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in discovery order.
func (g *DependencyGraph) Nodes() []*ResolutionNode {
	out := make([]*ResolutionNode, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}
