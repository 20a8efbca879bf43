package installer

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/anvil-platform/modforge/internal/forge"
	"github.com/anvil-platform/modforge/internal/metrics"
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
	"github.com/anvil-platform/modforge/internal/unpack"
)

// Unpacker materializes an archive as a module directory.
type Unpacker interface {
	Unpack(ctx context.Context, archive string, opts unpack.Options) (string, error)
}

// EntryError is the failure of one plan entry.
type EntryError struct {
	Name    module.Name
	Version semver.Version
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("install %s (v%s): %v", e.Name, e.Version, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Outcome is what happened to one plan entry.
type Outcome struct {
	Entry Entry
	Path  string
	Err   error
}

// Executor retrieves and unpacks plan entries. Entries run in parallel up to
// Concurrency; a failing entry never stops the others.
type Executor struct {
	Repository  forge.Repository
	Unpacker    Unpacker
	TargetDir   string
	Concurrency int
	Log         logr.Logger
}

// Execute returns one outcome per entry in plan order, and the aggregate of
// every entry error.
func (e *Executor) Execute(ctx context.Context, plan Plan) ([]Outcome, error) {
	outcomes := make([]Outcome, len(plan.Entries))

	var g errgroup.Group
	limit := e.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, entry := range plan.Entries {
		i, entry := i, entry
		g.Go(func() error {
			outcomes[i] = e.install(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return outcomes, utilerrors.NewAggregate(errs)
}

func (e *Executor) install(ctx context.Context, entry Entry) Outcome {
	log := e.Log.WithValues("module", entry.Name.String(), "version", entry.Version.String())
	out := Outcome{Entry: entry}

	archive := entry.File
	if !entry.Local {
		p, err := e.Repository.Retrieve(ctx, entry.File)
		if err != nil {
			metrics.UnpackFailuresTotal.Inc()
			out.Err = &EntryError{Name: entry.Name, Version: entry.Version, Err: err}
			log.Error(err, "retrieve failed")
			return out
		}
		archive = p
	}

	dir, err := e.Unpacker.Unpack(ctx, archive, unpack.Options{TargetDir: e.TargetDir, Name: entry.Name})
	if err != nil {
		metrics.UnpackFailuresTotal.Inc()
		out.Err = &EntryError{Name: entry.Name, Version: entry.Version, Err: err}
		log.Error(err, "unpack failed")
		return out
	}
	out.Path = dir
	log.Info("installed module", "action", string(entry.Action), "path", dir)
	return out
}
