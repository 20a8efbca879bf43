// Package catalog is the read-only release view the resolver works against.
//
// A Snapshot is built once per resolution run from the feed returned by a
// Source and never changes afterwards.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
)

// ErrUnknownModule is wrapped by UnknownModuleError.
var ErrUnknownModule = errors.New("unknown module")

// Feed is the repository's dependency info: module name to published releases.
// Keys may use either the "owner-name" or the "owner/name" form.
type Feed map[string][]FeedRelease

// FeedRelease is one release as published by the repository.
type FeedRelease struct {
	Version string `json:"version" yaml:"version"`
	// Dependencies holds [name] or [name, constraint] pairs in declared order.
	Dependencies [][]string `json:"dependencies" yaml:"dependencies"`
	File         string     `json:"file" yaml:"file"`
}

// Source returns the dependency info needed to resolve root. The feed may hold
// more modules than the closure of root.
type Source interface {
	DependencyInfo(ctx context.Context, root module.Name) (Feed, error)
}

// UnknownModuleError is returned when the catalog has no entry for a module.
type UnknownModuleError struct {
	Name module.Name
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("catalog: module %q not found", e.Name.String())
}

func (e *UnknownModuleError) Unwrap() error { return ErrUnknownModule }

// MalformedDependencyError reports a declared dependency of a release that
// could not be parsed.
type MalformedDependencyError struct {
	Release     string
	Declaration []string
	Err         error
}

func (e *MalformedDependencyError) Error() string {
	return fmt.Sprintf("catalog: release %s declares malformed dependency [%s]: %v",
		e.Release, strings.Join(e.Declaration, ", "), e.Err)
}

func (e *MalformedDependencyError) Unwrap() error { return e.Err }

// Snapshot is an immutable view over a Feed.
type Snapshot struct {
	releases  map[module.Name][]module.Release
	malformed map[string]error
}

// Load fetches the feed for root from src exactly once and builds a Snapshot.
func Load(ctx context.Context, src Source, root module.Name) (*Snapshot, error) {
	feed, err := src.DependencyInfo(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch dependency info for %s: %w", root, err)
	}
	return NewSnapshot(feed), nil
}

// NewSnapshot indexes feed. Entries with an invalid module name or version are
// skipped; malformed dependency declarations are kept against their release
// and reported by DependenciesOf.
func NewSnapshot(feed Feed) *Snapshot {
	s := &Snapshot{
		releases:  make(map[module.Name][]module.Release),
		malformed: make(map[string]error),
	}

	keys := make([]string, 0, len(feed))
	for k := range feed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name, err := module.ParseName(key)
		if err != nil {
			continue
		}
		for _, fr := range feed[key] {
			v, err := semver.ParseVersion(fr.Version)
			if err != nil {
				continue
			}
			if s.has(name, v) {
				continue
			}
			rel := module.Release{Name: name, Version: v, File: fr.File}
			for _, decl := range fr.Dependencies {
				dep, err := parseDependency(decl)
				if err != nil {
					if _, seen := s.malformed[rel.ID()]; !seen {
						s.malformed[rel.ID()] = &MalformedDependencyError{Release: rel.ID(), Declaration: decl, Err: err}
					}
					continue
				}
				rel.Dependencies = append(rel.Dependencies, dep)
			}
			s.releases[name] = append(s.releases[name], rel)
		}
	}

	for name := range s.releases {
		rels := s.releases[name]
		sort.SliceStable(rels, func(i, j int) bool {
			return semver.Compare(rels[i].Version, rels[j].Version) > 0
		})
	}
	return s
}

func parseDependency(decl []string) (module.Dependency, error) {
	if len(decl) == 0 || len(decl) > 2 {
		return module.Dependency{}, fmt.Errorf("expected [name] or [name, constraint], got %d fields", len(decl))
	}
	name, err := module.ParseName(strings.TrimSpace(decl[0]))
	if err != nil {
		return module.Dependency{}, err
	}
	c := semver.Any()
	if len(decl) == 2 && strings.TrimSpace(decl[1]) != "" {
		c, err = semver.ParseConstraint(decl[1])
		if err != nil {
			return module.Dependency{}, err
		}
	}
	return module.Dependency{Name: name, Constraint: c}, nil
}

func (s *Snapshot) has(name module.Name, v semver.Version) bool {
	for _, r := range s.releases[name] {
		if semver.Compare(r.Version, v) == 0 {
			return true
		}
	}
	return false
}

// ReleasesFor returns the releases of name, newest first.
func (s *Snapshot) ReleasesFor(name module.Name) ([]module.Release, error) {
	rels, ok := s.releases[name]
	if !ok || len(rels) == 0 {
		return nil, &UnknownModuleError{Name: name}
	}
	out := make([]module.Release, len(rels))
	copy(out, rels)
	return out, nil
}

// Versions returns the versions of name, newest first.
func (s *Snapshot) Versions(name module.Name) ([]semver.Version, error) {
	rels, err := s.ReleasesFor(name)
	if err != nil {
		return nil, err
	}
	out := make([]semver.Version, 0, len(rels))
	for _, r := range rels {
		out = append(out, r.Version)
	}
	return out, nil
}

// Release returns the release of name at exactly v.
func (s *Snapshot) Release(name module.Name, v semver.Version) (module.Release, bool) {
	for _, r := range s.releases[name] {
		if semver.Compare(r.Version, v) == 0 {
			return r, true
		}
	}
	return module.Release{}, false
}

// DependenciesOf returns the declared dependencies of r in declared order, or
// the first malformed declaration found in the feed for r.
func (s *Snapshot) DependenciesOf(r module.Release) ([]module.Dependency, error) {
	if err, ok := s.malformed[r.ID()]; ok {
		return nil, err
	}
	out := make([]module.Dependency, len(r.Dependencies))
	copy(out, r.Dependencies)
	return out, nil
}
