package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/graph"
	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/reconcile"
	"github.com/anvil-platform/modforge/internal/semver"
)

// DefaultResolver walks the dependency closure depth-first in declared order
// and keeps the first selection that satisfies a module's constraints. It does
// not backtrack: the first module left with no admissible release fails the run.
type DefaultResolver struct {
	source     catalog.Source
	reconciler *reconcile.Reconciler
	log        logr.Logger
	forceHint  string
}

var _ Resolver = (*DefaultResolver)(nil)

// Option configures a DefaultResolver.
type Option func(*DefaultResolver)

// WithReconciler sets the local install reconciler. Without one, no module is
// considered installed.
func WithReconciler(rec *reconcile.Reconciler) Option {
	return func(r *DefaultResolver) { r.reconciler = rec }
}

func WithLogger(log logr.Logger) Option {
	return func(r *DefaultResolver) { r.log = log }
}

// WithForceHint sets the command shown in diagnostics that suggest --force.
func WithForceHint(hint string) Option {
	return func(r *DefaultResolver) { r.forceHint = hint }
}

func NewDefault(source catalog.Source, opts ...Option) *DefaultResolver {
	r := &DefaultResolver{
		source:    source,
		log:       logr.Discard(),
		forceHint: DefaultForceHint,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reconciler == nil {
		r.reconciler = reconcile.New(nil, r.log)
	}
	return r
}

func (r *DefaultResolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	var (
		root module.Name
		err  error
	)
	if req.Package != nil {
		root = req.Package.Name
	} else if root, err = module.ParseName(req.Name); err != nil {
		return nil, err
	}

	mode := ModeFor(req.Force, req.IgnoreDependencies)
	log := r.log.WithValues("module", root.String(), "mode", mode.String())

	snap, err := catalog.Load(ctx, r.source, root)
	if err != nil {
		return nil, err
	}

	rn := &run{
		req:        req,
		mode:       mode,
		root:       root,
		snap:       snap,
		reconciler: r.reconciler,
		log:        log,
		forceHint:  r.forceHint,
		g:          graph.New(),
		inProgress: sets.New[string](),
		done:       sets.New[string](),
		local:      make(map[module.Name]*localstore.Install),
		looked:     sets.New[module.Name](),
		localIDs:   sets.New[string](),
		decisions:  make(map[module.Name]reconcile.Decision),
	}
	res := rn.resolve()
	if res.OK() {
		log.Info("resolved dependencies", "version", res.Root.Version.String(), "modules", len(rn.g.Nodes()))
	} else {
		log.Info("resolution failed", "kind", string(res.Failure.Kind), "reason", res.Failure.Oneline())
	}
	return res, nil
}

// run is the state of one resolution. It is created per Resolve call and
// never shared.
type run struct {
	req        Request
	mode       Mode
	root       module.Name
	snap       *catalog.Snapshot
	reconciler *reconcile.Reconciler
	log        logr.Logger
	forceHint  string

	g          *graph.DependencyGraph
	inProgress sets.Set[string]
	done       sets.Set[string]

	local     map[module.Name]*localstore.Install
	looked    sets.Set[module.Name]
	localErrs []error
	// localIDs holds releases synthesized from installed metadata.
	localIDs sets.Set[string]

	decisions map[module.Name]reconcile.Decision
	rootVer   string
	failure   *Failure
	warnings  []string
}

func (rn *run) resolve() *Resolution {
	res := &Resolution{Mode: rn.mode}
	rootNode := rn.g.Node(rn.root)

	if rn.req.Version != "" && rn.req.Package == nil {
		rn.rootVer = rn.req.Version
		pin, err := semver.ParseConstraint("= " + rn.req.Version)
		if err != nil {
			res.Failure = rn.newFailure(KindNoMatchingRelease, rn.root)
			res.Failure.Err = err
			return res
		}
		rootNode.Add(graph.RequirementEdge{To: rn.root, Constraint: pin})
	}

	if !rn.selectRoot(rootNode) {
		res.Failure = rn.failure
		return res
	}
	rootRel := *rootNode.Selected
	rn.rootVer = rootRel.Version.String()

	switch rn.mode {
	case ModeForce, ModeIgnoreDependencies:
		if rn.failure == nil && len(rn.localErrs) > 0 {
			rn.failLocal()
		}
		if rn.failure != nil {
			res.Failure = rn.failure
			return res
		}
		res.Root = rn.leaf(rootRel)
		res.Warnings = rn.warnings
		return res
	}

	// The root candidate is fixed: a dependency asking for another root
	// version is a conflict, never a reason to swap the root.
	if e := (graph.RequirementEdge{To: rn.root, Constraint: exactly(rootRel.Version)}); !hasEdge(rootNode, e) {
		rootNode.Add(e)
	}
	rn.visit(rootRel, graph.Path{}.Append(hopOf(rootRel)))
	if rn.failure == nil && len(rn.localErrs) > 0 {
		rn.failLocal()
	}
	if rn.failure != nil {
		res.Failure = rn.failure
		return res
	}

	res.Root = rn.build(rn.root, sets.New[module.Name]())
	res.Warnings = rn.warnings
	return res
}

// selectRoot picks the root release according to the mode.
func (rn *run) selectRoot(node *graph.ResolutionNode) bool {
	if rn.req.Package != nil {
		rel := *rn.req.Package
		node.Selected = &rel
		rn.decide(node, rn.mode == ModeForce)
		return rn.failure == nil
	}

	if rn.mode == ModeForce {
		rels, err := rn.snap.ReleasesFor(rn.root)
		if err != nil {
			rn.failure = rn.newFailure(KindUnknownModule, rn.root)
			rn.failure.Err = err
			return false
		}
		rel := rels[0]
		if rn.req.Version != "" {
			v, ok := semver.MaxSatisfying(node.Constraints(), versionsOf(rels))
			if !ok {
				rn.failure = rn.newFailure(KindNoMatchingRelease, rn.root)
				return false
			}
			rel, _ = rn.snap.Release(rn.root, v)
		}
		node.Selected = &rel
		rn.decide(node, true)
		return true
	}

	rel, ok := rn.choose(node)
	if !ok {
		return false
	}
	node.Selected = &rel
	return true
}

// visit expands the declared dependencies of rel. path ends with rel.
func (rn *run) visit(rel module.Release, path graph.Path) {
	id := rel.ID()
	if rn.inProgress.Has(id) || rn.done.Has(id) {
		return
	}
	rn.inProgress.Insert(id)
	defer rn.inProgress.Delete(id)

	deps, err := rn.dependenciesOf(rel)
	if err != nil {
		rn.failure = rn.newFailure(KindMalformedConstraint, rel.Name)
		rn.failure.Release = id
		rn.failure.Err = err
		rn.failure.Trace = traceFromPath(path)
		return
	}

	from := hopOf(rel)
	for _, dep := range deps {
		if !rn.current(rel) {
			// rel was replaced while its dependencies were being walked.
			return
		}
		rn.require(graph.RequirementEdge{From: from, To: dep.Name, Constraint: dep.Constraint, Path: path})
		if rn.failure != nil {
			return
		}
	}
	rn.done.Insert(id)
}

// require records e on its target and makes sure the target's selection
// satisfies every constraint seen so far.
func (rn *run) require(e graph.RequirementEdge) {
	node := rn.g.Node(e.To)
	if !hasEdge(node, e) {
		node.Add(e)
	}
	rn.log.V(1).Info("requirement", "from", e.From.String(), "to", e.To.String(), "constraint", e.Constraint.String())

	if node.Selected != nil && semver.Satisfies(node.Selected.Version, e.Constraint) {
		return
	}
	if node.Selected != nil {
		rn.log.V(1).Info("selection no longer satisfies requirements", "target", e.To.String(), "selected", node.Selected.Version.String())
	}

	rel, ok := rn.choose(node)
	if !ok {
		return
	}
	node.Selected = &rel
	rn.visit(rel, e.Path.Append(hopOf(rel)))
}

// choose selects a release for node from its accumulated constraints. A local
// copy that satisfies them is preferred; otherwise the newest admissible
// catalog release wins. On failure rn.failure is set and ok is false.
func (rn *run) choose(node *graph.ResolutionNode) (module.Release, bool) {
	cs := node.Constraints()
	inst := rn.lookup(node.Name)

	if reconcile.Accepts(inst, cs) {
		rel := rn.localRelease(inst)
		rn.decisions[node.Name] = reconcile.Decision{Action: reconcile.ActionReuse}
		return rel, true
	}

	versions, err := rn.snap.Versions(node.Name)
	if err != nil {
		f := rn.newFailure(KindUnknownModule, node.Name)
		f.Err = err
		if len(node.Edges) > 0 {
			f.Trace = traceFromEdge(node.Edges[0])
		}
		rn.failure = f
		return module.Release{}, false
	}

	v, ok := semver.MaxSatisfying(cs, versions)
	if !ok {
		if node.Name == rn.root && len(node.Edges) == 1 && node.Edges[0].Path.Len() == 0 {
			rn.failure = rn.newFailure(KindNoMatchingRelease, node.Name)
			return module.Release{}, false
		}
		f := rn.newFailure(KindUnsatisfiable, node.Name)
		f.Edges = append([]graph.RequirementEdge(nil), node.Edges...)
		f.Trace = traceFromEdge(node.Edges[0])
		rn.failure = f
		return module.Release{}, false
	}

	rel, _ := rn.snap.Release(node.Name, v)
	d, err := rn.reconciler.Decide(node.Name, inst, cs, false)
	if err != nil {
		rn.localErrs = append(rn.localErrs, err)
		d = reconcile.Decision{Action: reconcile.ActionUpgrade}
	}
	rn.decisions[node.Name] = d
	return rel, true
}

// decide reconciles the already selected release of node with its local copy.
func (rn *run) decide(node *graph.ResolutionNode, force bool) {
	inst := rn.lookup(node.Name)
	d, err := rn.reconciler.Decide(node.Name, inst, []semver.Constraint{exactly(node.Selected.Version)}, force)
	if err != nil {
		rn.localErrs = append(rn.localErrs, err)
		return
	}
	if d.Warning != "" {
		rn.warnings = append(rn.warnings, d.Warning)
	}
	rn.decisions[node.Name] = d
}

// lookup consults the local store once per module. Invalid local metadata is
// recorded and the module is treated as not installed so unrelated branches
// keep resolving; in force mode it only produces a warning.
func (rn *run) lookup(name module.Name) *localstore.Install {
	if rn.looked.Has(name) {
		return rn.local[name]
	}
	rn.looked.Insert(name)

	inst, err := rn.reconciler.Lookup(name)
	if err != nil {
		if rn.mode == ModeForce {
			rn.warnings = append(rn.warnings, fmt.Sprintf("%v; it will be replaced", err))
			rn.log.Info("replacing unreadable local module", "target", name.String(), "error", err.Error())
		} else {
			rn.localErrs = append(rn.localErrs, err)
		}
		return nil
	}
	rn.local[name] = inst
	return inst
}

// localRelease returns the release for an installed copy. Its dependencies
// come from the installed metadata.
func (rn *run) localRelease(inst *localstore.Install) module.Release {
	rel := module.Release{Name: inst.Name, Version: inst.Version, Dependencies: inst.Dependencies}
	if published, ok := rn.snap.Release(inst.Name, inst.Version); ok {
		rel.File = published.File
	}
	rn.localIDs.Insert(rel.ID())
	return rel
}

func (rn *run) dependenciesOf(rel module.Release) ([]module.Dependency, error) {
	if rn.localIDs.Has(rel.ID()) || (rn.req.Package != nil && rel.ID() == rn.req.Package.ID()) {
		return rel.Dependencies, nil
	}
	return rn.snap.DependenciesOf(rel)
}

func (rn *run) current(rel module.Release) bool {
	n, ok := rn.g.Lookup(rel.Name)
	return ok && n.Selected != nil && n.Selected.ID() == rel.ID()
}

func (rn *run) failLocal() {
	kind := KindLocalModuleModified
	var mod module.Name
	for _, err := range rn.localErrs {
		var inv *localstore.InvalidError
		if errors.As(err, &inv) {
			kind = KindLocalModuleInvalid
			mod = inv.Name
			break
		}
	}
	if mod.IsZero() {
		var modified *reconcile.ModifiedError
		if errors.As(rn.localErrs[0], &modified) {
			mod = modified.Name
		}
	}
	f := rn.newFailure(kind, mod)
	f.Causes = rn.localErrs
	rn.failure = f
}

func (rn *run) newFailure(kind Kind, mod module.Name) *Failure {
	return &Failure{
		Kind:        kind,
		Root:        rn.root,
		RootVersion: rn.rootVer,
		Module:      mod,
		ForceHint:   rn.forceHint,
	}
}

// leaf is the root without dependencies, used by the force and
// ignore-dependencies modes.
func (rn *run) leaf(rel module.Release) *Node {
	return &Node{
		Name:         rel.Name,
		Version:      rel.Version,
		Action:       rn.action(rel.Name),
		File:         rel.File,
		Package:      rn.req.Package != nil,
		Dependencies: []*Node{},
	}
}

// build turns the final selections into a tree, children in declared order.
// A module already on the current branch is emitted without children.
func (rn *run) build(name module.Name, branch sets.Set[module.Name]) *Node {
	node, _ := rn.g.Lookup(name)
	rel := *node.Selected
	out := &Node{
		Name:         rel.Name,
		Version:      rel.Version,
		Action:       rn.action(name),
		File:         rel.File,
		Package:      rn.req.Package != nil && name == rn.root,
		Dependencies: []*Node{},
	}
	if branch.Has(name) {
		return out
	}
	branch.Insert(name)
	defer branch.Delete(name)

	deps, _ := rn.dependenciesOf(rel)
	seen := sets.New[module.Name]()
	for _, d := range deps {
		if seen.Has(d.Name) {
			continue
		}
		seen.Insert(d.Name)
		out.Dependencies = append(out.Dependencies, rn.build(d.Name, branch))
	}
	return out
}

func (rn *run) action(name module.Name) reconcile.Action {
	if d, ok := rn.decisions[name]; ok {
		return d.Action
	}
	return reconcile.ActionInstall
}

func hopOf(rel module.Release) graph.Hop {
	return graph.Hop{Name: rel.Name, Version: rel.Version}
}

func hasEdge(n *graph.ResolutionNode, e graph.RequirementEdge) bool {
	for _, existing := range n.Edges {
		if existing.From.String() == e.From.String() && existing.Constraint.String() == e.Constraint.String() {
			return true
		}
	}
	return false
}

func exactly(v semver.Version) semver.Constraint {
	return semver.MustParseConstraint("= " + v.String())
}

func versionsOf(rels []module.Release) []semver.Version {
	out := make([]semver.Version, 0, len(rels))
	for _, r := range rels {
		out = append(out, r.Version)
	}
	return out
}
