// Package catalogtest provides feeds and sources for tests.
package catalogtest

import (
	"context"
	"sync"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/module"
)

// Acceptance returns the stdlib/java/apollo feed used across the test suites.
func Acceptance() catalog.Feed {
	return catalog.Feed{
		"pmtacceptance/stdlib": {
			{Version: "0.0.1", File: "/pmtacceptance-stdlib-0.0.1.tar.gz"},
			{Version: "0.0.2", File: "/pmtacceptance-stdlib-0.0.2.tar.gz"},
			{Version: "1.0.0", File: "/pmtacceptance-stdlib-1.0.0.tar.gz"},
		},
		"pmtacceptance/java": {
			{
				Version:      "1.7.0",
				Dependencies: [][]string{{"pmtacceptance/stdlib", ">= 0.0.1"}},
				File:         "/pmtacceptance-java-1.7.0.tar.gz",
			},
			{
				Version:      "1.7.1",
				Dependencies: [][]string{{"pmtacceptance/stdlib", "1.0.0"}},
				File:         "/pmtacceptance-java-1.7.1.tar.gz",
			},
		},
		"pmtacceptance/apollo": {
			{
				Version: "0.0.1",
				Dependencies: [][]string{
					{"pmtacceptance/java", "1.7.1"},
					{"pmtacceptance/stdlib", "0.0.1"},
				},
				File: "/pmtacceptance-apollo-0.0.1.tar.gz",
			},
			{
				Version: "0.0.2",
				Dependencies: [][]string{
					{"pmtacceptance/java", ">= 1.7.0"},
					{"pmtacceptance/stdlib", ">= 1.0.0"},
				},
				File: "/pmtacceptance-apollo-0.0.2.tar.gz",
			},
		},
	}
}

// Source is a catalog.Source over a fixed feed that counts its calls.
type Source struct {
	Feed catalog.Feed
	Err  error

	mu    sync.Mutex
	calls int
}

func (s *Source) DependencyInfo(ctx context.Context, _ module.Name) (catalog.Feed, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Feed, nil
}

// Calls returns how many times DependencyInfo was invoked.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
