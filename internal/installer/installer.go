// Package installer resolves a module request and installs the result into a
// target directory.
package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/modforge/internal/forge"
	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/metrics"
	"github.com/anvil-platform/modforge/internal/reconcile"
	"github.com/anvil-platform/modforge/internal/resolver"
	"github.com/anvil-platform/modforge/internal/unpack"
)

// Options are the per-run flags of an install.
type Options struct {
	TargetDir          string
	Version            string
	Force              bool
	IgnoreDependencies bool
}

// Installer ties the resolver to a repository and an unpacker.
type Installer struct {
	repo        forge.Repository
	unpacker    Unpacker
	concurrency int
	forceHint   string
	log         logr.Logger
}

type Option func(*Installer)

func WithConcurrency(n int) Option {
	return func(i *Installer) { i.concurrency = n }
}

func WithLogger(log logr.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// WithForceHint sets the command suggested by diagnostics.
func WithForceHint(hint string) Option {
	return func(i *Installer) { i.forceHint = hint }
}

func New(repo forge.Repository, u Unpacker, opts ...Option) *Installer {
	i := &Installer{
		repo:        repo,
		unpacker:    u,
		concurrency: 4,
		forceHint:   resolver.DefaultForceHint,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Resolve resolves name without touching the target directory and returns the
// result together with the plan that Run would execute. name is a module name
// or the path of a module package file.
//
// The error is non-nil only for an invalid name or a repository failure.
func (i *Installer) Resolve(ctx context.Context, name string, opts Options) (*Result, Plan, error) {
	req, err := request(name, opts)
	if err != nil {
		return nil, Plan{}, err
	}

	log := i.log.WithValues("request", name)
	store := localstore.New(opts.TargetDir)
	r := resolver.NewDefault(i.repo,
		resolver.WithLogger(log),
		resolver.WithReconciler(reconcile.New(store, log)),
		resolver.WithForceHint(i.forceHint),
	)

	start := time.Now()
	res, err := r.Resolve(ctx, req)
	metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(resolver.ModeFor(opts.Force, opts.IgnoreDependencies).String(), metrics.ResultFailure).Inc()
		return nil, Plan{}, err
	}

	if !res.OK() {
		metrics.ResolutionsTotal.WithLabelValues(res.Mode.String(), metrics.ResultFailure).Inc()
		return failureResult(res.Failure.Oneline(), res.Failure.Multiline(), res.Warnings), Plan{}, nil
	}
	metrics.ResolutionsTotal.WithLabelValues(res.Mode.String(), metrics.ResultSuccess).Inc()

	result := &Result{
		Result:           ResultSuccess,
		InstalledModules: []InstalledModule{installedModule(res.Root)},
		Installs:         []InstallReport{},
		Warnings:         res.Warnings,
		root:             res.Root,
	}
	return result, BuildPlan(res.Root), nil
}

// Run resolves name and unpacks every module that is not already installed.
// Unpack failures are reported per module in the result and never undo other
// installs.
func (i *Installer) Run(ctx context.Context, name string, opts Options) (*Result, error) {
	result, plan, err := i.Resolve(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	if result.Result != ResultSuccess {
		metrics.InstallsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return result, nil
	}

	exec := &Executor{
		Repository:  i.repo,
		Unpacker:    i.unpacker,
		TargetDir:   opts.TargetDir,
		Concurrency: i.concurrency,
		Log:         i.log,
	}
	outcomes, aggErr := exec.Execute(ctx, plan)
	for _, o := range outcomes {
		report := InstallReport{
			Module:  o.Entry.Name.String(),
			Version: o.Entry.Version.String(),
			Action:  string(o.Entry.Action),
			Path:    o.Path,
		}
		if o.Err != nil {
			report.Error = o.Err.Error()
		}
		result.Installs = append(result.Installs, report)
	}

	if aggErr != nil {
		metrics.InstallsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		result.Result = ResultFailure
		result.Error = partialFailure(result.root, outcomes)
		i.log.Error(aggErr, "install incomplete", "request", name)
		return result, nil
	}
	metrics.InstallsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	i.log.Info("install complete", "request", name, "unpacked", len(outcomes))
	return result, nil
}

func request(name string, opts Options) (resolver.Request, error) {
	req := resolver.Request{
		Name:               name,
		Version:            opts.Version,
		Force:              opts.Force,
		IgnoreDependencies: opts.IgnoreDependencies,
	}
	if strings.HasSuffix(name, ".tar.gz") {
		pkg, err := unpack.ReadPackage(name)
		if err != nil {
			return resolver.Request{}, err
		}
		req.Name = pkg.Name.String()
		req.Version = ""
		req.Package = pkg
	}
	return req, nil
}

func partialFailure(root *resolver.Node, outcomes []Outcome) *ErrorReport {
	total := len(outcomes)
	var failed []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	head := fmt.Sprintf("'%s' (v%s) requested", root.Name, root.Version)
	var b strings.Builder
	fmt.Fprintf(&b, "Could not install module '%s' (v%s)", root.Name, root.Version)
	fmt.Fprintf(&b, "\n  %d of %d modules could not be installed", len(failed), total)
	for _, o := range failed {
		fmt.Fprintf(&b, "\n    %v", o.Err)
	}
	return &ErrorReport{
		Oneline:   fmt.Sprintf("%s; %d of %d modules could not be installed", head, len(failed), total),
		Multiline: b.String(),
	}
}
