package cli

import (
	"github.com/spf13/cobra"

	"github.com/anvil-platform/modforge/internal/installer"
)

func newResolveCommand(a *app) *cobra.Command {
	var opts installer.Options
	cmd := &cobra.Command{
		Use:   "resolve <module | package.tar.gz>",
		Short: "Show what install would do without changing the target directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, release, err := a.installer()
			if err != nil {
				return err
			}
			defer release()

			opts.TargetDir = a.cfg.TargetDir
			res, plan, err := in.Resolve(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			a.writeMetrics()

			if err := render(cmd.OutOrStdout(), a.cfg.Output, res, &plan); err != nil {
				return err
			}
			if res.Result != installer.ResultSuccess {
				return errReported
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Version, "version", "", "exact version to resolve")
	f.BoolVarP(&opts.Force, "force", "f", false, "resolve the module alone, ignoring local changes")
	f.BoolVar(&opts.IgnoreDependencies, "ignore-dependencies", false, "do not resolve dependencies")
	return cmd
}
