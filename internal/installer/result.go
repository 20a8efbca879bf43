package installer

import (
	"github.com/anvil-platform/modforge/internal/resolver"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Result is the outcome of one install request, as printed by `--output json`.
type Result struct {
	Result           string            `json:"result"`
	InstalledModules []InstalledModule `json:"installed_modules"`
	Error            *ErrorReport      `json:"error,omitempty"`
	Installs         []InstallReport   `json:"installs"`
	Warnings         []string          `json:"warnings,omitempty"`

	root *resolver.Node
}

// Root returns the resolved tree, or nil when resolution failed.
func (r *Result) Root() *resolver.Node { return r.root }

type InstalledModule struct {
	Module       string            `json:"module"`
	Version      VersionInfo       `json:"version"`
	Action       string            `json:"action"`
	File         string            `json:"file,omitempty"`
	Dependencies []InstalledModule `json:"dependencies"`
}

type VersionInfo struct {
	VString string `json:"vstring"`
}

type ErrorReport struct {
	Oneline   string `json:"oneline"`
	Multiline string `json:"multiline"`
}

// InstallReport is the per-module outcome of the executor.
type InstallReport struct {
	Module  string `json:"module"`
	Version string `json:"version"`
	Action  string `json:"action"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

func installedModule(n *resolver.Node) InstalledModule {
	m := InstalledModule{
		Module:       n.Name.String(),
		Version:      VersionInfo{VString: n.Version.String()},
		Action:       string(n.Action),
		File:         n.File,
		Dependencies: []InstalledModule{},
	}
	for _, d := range n.Dependencies {
		m.Dependencies = append(m.Dependencies, installedModule(d))
	}
	return m
}

func failureResult(oneline, multiline string, warnings []string) *Result {
	return &Result{
		Result:           ResultFailure,
		InstalledModules: []InstalledModule{},
		Error:            &ErrorReport{Oneline: oneline, Multiline: multiline},
		Installs:         []InstallReport{},
		Warnings:         warnings,
	}
}
