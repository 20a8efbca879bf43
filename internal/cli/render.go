package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/anvil-platform/modforge/internal/config"
	"github.com/anvil-platform/modforge/internal/installer"
	"github.com/anvil-platform/modforge/internal/reconcile"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	moduleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Bold(true)
	versionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	treeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

type planEntry struct {
	Module  string `json:"module"`
	Version string `json:"version"`
	Action  string `json:"action"`
	File    string `json:"file"`
}

type resolveOutput struct {
	*installer.Result
	Plan []planEntry `json:"plan"`
}

// render writes res in the configured format. plan is only set by resolve.
func render(w io.Writer, format string, res *installer.Result, plan *installer.Plan) error {
	if format == config.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if plan == nil {
			return enc.Encode(res)
		}
		return enc.Encode(resolveOutput{Result: res, Plan: planEntries(*plan)})
	}

	var b strings.Builder
	for _, warning := range res.Warnings {
		b.WriteString(warnStyle.Render("Warning: "+warning) + "\n")
	}
	if len(res.InstalledModules) > 0 {
		header := "Installed modules:"
		if plan != nil {
			header = "Resolved modules:"
		}
		b.WriteString(headerStyle.Render(header) + "\n")
		for _, m := range res.InstalledModules {
			b.WriteString(moduleTree(m).String() + "\n")
		}
	}
	if plan != nil && res.Result == installer.ResultSuccess {
		renderPlan(&b, *plan)
	}
	for _, r := range res.Installs {
		if r.Error != "" {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Failed %s (v%s): %s", r.Module, r.Version, r.Error)) + "\n")
		}
	}
	if res.Error != nil {
		b.WriteString(errorStyle.Render("Error: "+res.Error.Multiline) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func moduleTree(m installer.InstalledModule) *tree.Tree {
	t := tree.Root(moduleLabel(m)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(treeStyle)
	for _, d := range m.Dependencies {
		if len(d.Dependencies) == 0 {
			t.Child(moduleLabel(d))
			continue
		}
		t.Child(moduleTree(d))
	}
	return t
}

func moduleLabel(m installer.InstalledModule) string {
	label := moduleStyle.Render(m.Module) + " " + versionStyle.Render("(v"+m.Version.VString+")")
	switch reconcile.Action(m.Action) {
	case reconcile.ActionReuse:
		label += " " + noteStyle.Render("already installed")
	case reconcile.ActionUpgrade:
		label += " " + noteStyle.Render("upgrade")
	case reconcile.ActionReinstall:
		label += " " + noteStyle.Render("reinstall")
	}
	return label
}

func renderPlan(b *strings.Builder, plan installer.Plan) {
	if len(plan.Entries) == 0 {
		b.WriteString(noteStyle.Render("Nothing to install.") + "\n")
		return
	}
	b.WriteString(headerStyle.Render("Plan:") + "\n")
	for i, e := range plan.Entries {
		fmt.Fprintf(b, "  %d. %-9s %s %s\n", i+1, e.Action, moduleStyle.Render(e.Name.String()), versionStyle.Render("v"+e.Version.String()))
	}
}

func planEntries(p installer.Plan) []planEntry {
	out := make([]planEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		out = append(out, planEntry{
			Module:  e.Name.String(),
			Version: e.Version.String(),
			Action:  string(e.Action),
			File:    e.File,
		})
	}
	return out
}
