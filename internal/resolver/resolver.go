package resolver

import "context"

// Resolver selects one version per module for the dependency closure of a
// request.
//
// Only request validation and collaborator failures are returned as errors.
// Resolution problems are reported through Resolution.Failure.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Resolution, error)
}
