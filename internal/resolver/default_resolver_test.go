package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/catalog/catalogtest"
	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/reconcile"
	"github.com/anvil-platform/modforge/internal/semver"
)

// tnode is a comparable view of a Node.
type tnode struct {
	ID     string
	Action reconcile.Action
	Deps   []tnode
}

func flatten(n *Node) tnode {
	out := tnode{ID: n.Name.String() + "@" + n.Version.String(), Action: n.Action}
	for _, d := range n.Dependencies {
		out.Deps = append(out.Deps, flatten(d))
	}
	return out
}

type mapStore map[module.Name]*localstore.Install

func (m mapStore) Lookup(name module.Name) (*localstore.Install, error) {
	return m[name], nil
}

type brokenStore struct {
	broken module.Name
}

func (s brokenStore) Lookup(name module.Name) (*localstore.Install, error) {
	if name == s.broken {
		return nil, &localstore.InvalidError{Name: name, Dir: "/tmp/" + name.Short, Reason: localstore.ErrMissingVersionMetadata}
	}
	return nil, nil
}

func newResolver(t *testing.T, feed catalog.Feed, store reconcile.Store) (*DefaultResolver, *catalogtest.Source) {
	t.Helper()
	src := &catalogtest.Source{Feed: feed}
	log := testr.New(t)
	return NewDefault(src, WithLogger(log), WithReconciler(reconcile.New(store, log))), src
}

func mustResolve(t *testing.T, r Resolver, req Request) *Resolution {
	t.Helper()
	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	return res
}

func TestDefaultResolver_ModuleWithoutDependencies(t *testing.T) {
	r, src := newResolver(t, catalogtest.Acceptance(), nil)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-stdlib"})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	want := tnode{ID: "pmtacceptance-stdlib@1.0.0", Action: reconcile.ActionInstall}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
	if src.Calls() != 1 {
		t.Fatalf("expected one catalog fetch, got %d", src.Calls())
	}
}

func TestDefaultResolver_SelectsNewestCompatibleClosure(t *testing.T) {
	r, _ := newResolver(t, catalogtest.Acceptance(), nil)

	res := mustResolve(t, r, Request{Name: "pmtacceptance/apollo"})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	want := tnode{
		ID:     "pmtacceptance-apollo@0.0.2",
		Action: reconcile.ActionInstall,
		Deps: []tnode{
			{
				ID:     "pmtacceptance-java@1.7.1",
				Action: reconcile.ActionInstall,
				Deps:   []tnode{{ID: "pmtacceptance-stdlib@1.0.0", Action: reconcile.ActionInstall}},
			},
			{ID: "pmtacceptance-stdlib@1.0.0", Action: reconcile.ActionInstall},
		},
	}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}

	distinct := map[string]bool{}
	res.Root.Walk(func(n *Node) {
		if n != res.Root {
			distinct[n.Name.String()+"@"+n.Version.String()] = true
		}
	})
	if len(distinct) != 2 {
		t.Fatalf("expected 2 distinct dependencies, got %v", distinct)
	}
}

func TestDefaultResolver_ModesSkipDependencies(t *testing.T) {
	for _, req := range []Request{
		{Name: "pmtacceptance-apollo", Force: true},
		{Name: "pmtacceptance-apollo", IgnoreDependencies: true},
		{Name: "pmtacceptance-apollo", Force: true, IgnoreDependencies: true},
	} {
		r, _ := newResolver(t, catalogtest.Acceptance(), nil)
		res := mustResolve(t, r, req)
		if !res.OK() {
			t.Fatalf("%+v: expected success, got %v", req, res.Failure)
		}
		if res.Mode != ModeFor(req.Force, req.IgnoreDependencies) {
			t.Fatalf("%+v: unexpected mode %s", req, res.Mode)
		}
		if got := res.Root.Version.String(); got != "0.0.2" {
			t.Fatalf("%+v: expected 0.0.2, got %s", req, got)
		}
		if res.Root.Dependencies == nil || len(res.Root.Dependencies) != 0 {
			t.Fatalf("%+v: expected empty dependency list, got %+v", req, res.Root.Dependencies)
		}
	}
}

func TestDefaultResolver_ForceIgnoresConflictingPin(t *testing.T) {
	r, _ := newResolver(t, catalogtest.Acceptance(), nil)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-apollo", Version: "0.0.1", Force: true})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	if got := res.Root.Version.String(); got != "0.0.1" {
		t.Fatalf("expected pinned 0.0.1, got %s", got)
	}
}

func TestDefaultResolver_InvalidNameSkipsCatalog(t *testing.T) {
	r, src := newResolver(t, catalogtest.Acceptance(), nil)

	_, err := r.Resolve(context.Background(), Request{Name: "puppet"})
	if !errors.Is(err, module.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if err.Error() != "Could not install module with invalid name: puppet" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if src.Calls() != 0 {
		t.Fatalf("expected no catalog fetch, got %d", src.Calls())
	}
}

func TestDefaultResolver_SourceErrorIsReturned(t *testing.T) {
	boom := errors.New("connection refused")
	src := &catalogtest.Source{Err: boom}
	r := NewDefault(src)

	_, err := r.Resolve(context.Background(), Request{Name: "pmtacceptance-stdlib"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestDefaultResolver_Idempotent(t *testing.T) {
	r, _ := newResolver(t, catalogtest.Acceptance(), nil)

	for _, req := range []Request{
		{Name: "pmtacceptance-apollo"},
		{Name: "pmtacceptance-apollo", Version: "0.0.1"},
	} {
		first := mustResolve(t, r, req)
		second := mustResolve(t, r, req)
		if first.OK() != second.OK() {
			t.Fatalf("%+v: outcome changed between runs", req)
		}
		if first.OK() {
			if diff := cmp.Diff(flatten(first.Root), flatten(second.Root)); diff != "" {
				t.Fatalf("%+v: tree changed between runs:\n%s", req, diff)
			}
			continue
		}
		if first.Failure.Multiline() != second.Failure.Multiline() {
			t.Fatalf("%+v: diagnostics changed between runs", req)
		}
	}
}

func TestDefaultResolver_SwitchesToNewestAdmissibleRelease(t *testing.T) {
	feed := catalog.Feed{
		"acme/app": {{
			Version: "1.0.0",
			Dependencies: [][]string{
				{"acme/lib", ">= 1.0.0"},
				{"acme/pin", "1.0.0"},
			},
		}},
		"acme/lib": {
			{Version: "1.0.0"},
			{Version: "1.5.0"},
			{Version: "2.0.0"},
		},
		"acme/pin": {{
			Version:      "1.0.0",
			Dependencies: [][]string{{"acme/lib", "< 2.0.0"}},
		}},
	}
	r, _ := newResolver(t, feed, nil)

	res := mustResolve(t, r, Request{Name: "acme-app"})
	if !res.OK() {
		t.Fatalf("expected success, got %s", res.Failure.Multiline())
	}
	want := tnode{
		ID:     "acme-app@1.0.0",
		Action: reconcile.ActionInstall,
		Deps: []tnode{
			{ID: "acme-lib@1.5.0", Action: reconcile.ActionInstall},
			{
				ID:     "acme-pin@1.0.0",
				Action: reconcile.ActionInstall,
				Deps:   []tnode{{ID: "acme-lib@1.5.0", Action: reconcile.ActionInstall}},
			},
		},
	}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultResolver_Cycle(t *testing.T) {
	feed := catalog.Feed{
		"acme/a": {{Version: "1.0.0", Dependencies: [][]string{{"acme/b"}}}},
		"acme/b": {{Version: "1.0.0", Dependencies: [][]string{{"acme/a", ">= 1.0.0"}}}},
	}
	r, _ := newResolver(t, feed, nil)

	res := mustResolve(t, r, Request{Name: "acme-a"})
	if !res.OK() {
		t.Fatalf("expected success, got %s", res.Failure.Multiline())
	}
	want := tnode{
		ID:     "acme-a@1.0.0",
		Action: reconcile.ActionInstall,
		Deps: []tnode{{
			ID:     "acme-b@1.0.0",
			Action: reconcile.ActionInstall,
			Deps:   []tnode{{ID: "acme-a@1.0.0", Action: reconcile.ActionInstall}},
		}},
	}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultResolver_UnknownDependency(t *testing.T) {
	feed := catalog.Feed{
		"acme/app": {{Version: "1.0.0", Dependencies: [][]string{{"acme/ghost", ">= 1.0.0"}}}},
	}
	r, _ := newResolver(t, feed, nil)

	res := mustResolve(t, r, Request{Name: "acme-app"})
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if res.Failure.Kind != KindUnknownModule {
		t.Fatalf("expected %s, got %s", KindUnknownModule, res.Failure.Kind)
	}
	if !errors.Is(res.Failure, catalog.ErrUnknownModule) {
		t.Fatalf("expected failure to wrap ErrUnknownModule")
	}
	if got := res.Failure.Module.String(); got != "acme-ghost" {
		t.Fatalf("expected acme-ghost, got %s", got)
	}
}

func TestDefaultResolver_UnknownRoot(t *testing.T) {
	r, _ := newResolver(t, catalogtest.Acceptance(), nil)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-nothere"})
	if res.OK() || res.Failure.Kind != KindUnknownModule {
		t.Fatalf("expected unknown module failure, got %+v", res)
	}
	want := "'pmtacceptance-nothere' (best) requested; Module 'pmtacceptance-nothere' was not found in the repository"
	if got := res.Failure.Oneline(); got != want {
		t.Fatalf("unexpected oneline:\n got: %q\nwant: %q", got, want)
	}
}

func TestDefaultResolver_PinnedVersionNotPublished(t *testing.T) {
	r, _ := newResolver(t, catalogtest.Acceptance(), nil)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-stdlib", Version: "9.9.9"})
	if res.OK() || res.Failure.Kind != KindNoMatchingRelease {
		t.Fatalf("expected no matching release, got %+v", res)
	}
	want := "'pmtacceptance-stdlib' (v9.9.9) requested; No releases matching '9.9.9'"
	if got := res.Failure.Oneline(); got != want {
		t.Fatalf("unexpected oneline:\n got: %q\nwant: %q", got, want)
	}
}

func TestDefaultResolver_MalformedDependency(t *testing.T) {
	feed := catalog.Feed{
		"acme/app":    {{Version: "1.0.0", Dependencies: [][]string{{"acme/broken"}}}},
		"acme/broken": {{Version: "1.0.0", Dependencies: [][]string{{"acme/app", ">= banana"}}}},
	}
	r, _ := newResolver(t, feed, nil)

	res := mustResolve(t, r, Request{Name: "acme-app"})
	if res.OK() || res.Failure.Kind != KindMalformedConstraint {
		t.Fatalf("expected malformed constraint, got %+v", res)
	}
	if !errors.Is(res.Failure, semver.ErrMalformedConstraint) {
		t.Fatalf("expected failure to wrap ErrMalformedConstraint")
	}
	if res.Failure.Release != "acme-broken@1.0.0" {
		t.Fatalf("expected offending release acme-broken@1.0.0, got %q", res.Failure.Release)
	}
}

func TestDefaultResolver_ReusesSatisfyingLocalCopy(t *testing.T) {
	stdlib := module.MustParseName("pmtacceptance-stdlib")
	store := mapStore{stdlib: {Name: stdlib, Version: semver.MustParseVersion("1.0.0")}}
	r, _ := newResolver(t, catalogtest.Acceptance(), store)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-java"})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	want := tnode{
		ID:     "pmtacceptance-java@1.7.1",
		Action: reconcile.ActionInstall,
		Deps:   []tnode{{ID: "pmtacceptance-stdlib@1.0.0", Action: reconcile.ActionReuse}},
	}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultResolver_PrefersLocalCopyOverNewerRelease(t *testing.T) {
	stdlib := module.MustParseName("pmtacceptance-stdlib")
	store := mapStore{stdlib: {Name: stdlib, Version: semver.MustParseVersion("0.0.2")}}
	r, _ := newResolver(t, catalogtest.Acceptance(), store)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-java", Version: "1.7.0"})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	dep := res.Root.Dependencies[0]
	if dep.Version.String() != "0.0.2" || dep.Action != reconcile.ActionReuse {
		t.Fatalf("expected reused stdlib 0.0.2, got %s (%s)", dep.Version, dep.Action)
	}
}

func TestDefaultResolver_LocalCopyDependenciesAreExpanded(t *testing.T) {
	feed := catalogtest.Acceptance()
	java := module.MustParseName("pmtacceptance-java")
	store := mapStore{java: {
		Name:    java,
		Version: semver.MustParseVersion("1.7.0"),
		Dependencies: []module.Dependency{
			{Name: module.MustParseName("pmtacceptance-stdlib"), Constraint: semver.MustParseConstraint("0.0.1")},
		},
	}}
	r, _ := newResolver(t, feed, store)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-java"})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	want := tnode{
		ID:     "pmtacceptance-java@1.7.0",
		Action: reconcile.ActionReuse,
		Deps:   []tnode{{ID: "pmtacceptance-stdlib@0.0.1", Action: reconcile.ActionInstall}},
	}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultResolver_UpgradesOutdatedLocalCopy(t *testing.T) {
	stdlib := module.MustParseName("pmtacceptance-stdlib")
	store := mapStore{stdlib: {Name: stdlib, Version: semver.MustParseVersion("0.0.1")}}
	r, _ := newResolver(t, catalogtest.Acceptance(), store)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-java"})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	dep := res.Root.Dependencies[0]
	if dep.Version.String() != "1.0.0" || dep.Action != reconcile.ActionUpgrade {
		t.Fatalf("expected upgrade to 1.0.0, got %s (%s)", dep.Version, dep.Action)
	}
}

func TestDefaultResolver_ModifiedLocalCopyFails(t *testing.T) {
	stdlib := module.MustParseName("pmtacceptance-stdlib")
	store := mapStore{stdlib: {Name: stdlib, Version: semver.MustParseVersion("0.0.1"), HasChanges: true}}
	r, _ := newResolver(t, catalogtest.Acceptance(), store)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-java"})
	if res.OK() || res.Failure.Kind != KindLocalModuleModified {
		t.Fatalf("expected local module modified, got %+v", res)
	}
	if !errors.Is(res.Failure, reconcile.ErrLocalModuleModified) {
		t.Fatalf("expected failure to wrap ErrLocalModuleModified")
	}

	forced := mustResolve(t, r, Request{Name: "pmtacceptance-stdlib", Force: true})
	if !forced.OK() {
		t.Fatalf("expected forced install to succeed, got %v", forced.Failure)
	}
	if forced.Root.Action != reconcile.ActionReinstall || len(forced.Warnings) != 1 {
		t.Fatalf("expected reinstall with a warning, got %s %v", forced.Root.Action, forced.Warnings)
	}
}

func TestDefaultResolver_InvalidLocalMetadata(t *testing.T) {
	stdlib := module.MustParseName("pmtacceptance-stdlib")
	r, _ := newResolver(t, catalogtest.Acceptance(), brokenStore{broken: stdlib})

	res := mustResolve(t, r, Request{Name: "pmtacceptance-apollo"})
	if res.OK() || res.Failure.Kind != KindLocalModuleInvalid {
		t.Fatalf("expected local module invalid, got %+v", res)
	}
	if !errors.Is(res.Failure, localstore.ErrMissingVersionMetadata) {
		t.Fatalf("expected cause to be kept, got %v", res.Failure.Causes)
	}
	if got := res.Failure.Module; got != stdlib {
		t.Fatalf("expected %s, got %s", stdlib, got)
	}

	forced := mustResolve(t, r, Request{Name: "pmtacceptance-stdlib", Force: true})
	if !forced.OK() || len(forced.Warnings) != 1 {
		t.Fatalf("expected forced install with a warning, got %+v", forced)
	}
}

func TestDefaultResolver_IgnoreDependenciesReusesRoot(t *testing.T) {
	apollo := module.MustParseName("pmtacceptance-apollo")
	store := mapStore{apollo: {Name: apollo, Version: semver.MustParseVersion("0.0.2")}}
	r, _ := newResolver(t, catalogtest.Acceptance(), store)

	res := mustResolve(t, r, Request{Name: "pmtacceptance-apollo", IgnoreDependencies: true})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	if res.Root.Action != reconcile.ActionReuse {
		t.Fatalf("expected reuse, got %s", res.Root.Action)
	}
}

func TestDefaultResolver_PackageRoot(t *testing.T) {
	r, _ := newResolver(t, catalogtest.Acceptance(), nil)
	pkg := &module.Release{
		Name:    module.MustParseName("acme-local"),
		Version: semver.MustParseVersion("0.1.0"),
		File:    "/tmp/acme-local-0.1.0.tar.gz",
		Dependencies: []module.Dependency{
			{Name: module.MustParseName("pmtacceptance-stdlib"), Constraint: semver.MustParseConstraint("~> 0.0.1")},
		},
	}

	res := mustResolve(t, r, Request{Package: pkg})
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	if !res.Root.Package || res.Root.File != pkg.File {
		t.Fatalf("expected package root, got %+v", res.Root)
	}
	want := tnode{
		ID:     "acme-local@0.1.0",
		Action: reconcile.ActionInstall,
		Deps:   []tnode{{ID: "pmtacceptance-stdlib@0.0.2", Action: reconcile.ActionInstall}},
	}
	if diff := cmp.Diff(want, flatten(res.Root)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}
