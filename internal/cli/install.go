package cli

import (
	"github.com/spf13/cobra"

	"github.com/anvil-platform/modforge/internal/installer"
)

func newInstallCommand(a *app) *cobra.Command {
	var opts installer.Options
	cmd := &cobra.Command{
		Use:   "install <module | package.tar.gz>",
		Short: "Install a module and its dependencies",
		Long: `Install resolves the named module against the repository and unpacks the
selected releases into the target directory. Modules already installed at an
acceptable version are kept.

A path to a module package (owner-name-version.tar.gz) installs that file
as the root module; its dependencies still come from the repository.`,
		Example: `  modforge install puppetlabs-stdlib
  modforge install puppetlabs-apache --version 2.1.0
  modforge install ./acme-web-1.2.0.tar.gz --ignore-dependencies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, release, err := a.installer()
			if err != nil {
				return err
			}
			defer release()

			opts.TargetDir = a.cfg.TargetDir
			res, err := in.Run(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			a.writeMetrics()

			if err := render(cmd.OutOrStdout(), a.cfg.Output, res, nil); err != nil {
				return err
			}
			if res.Result != installer.ResultSuccess {
				return errReported
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Version, "version", "", "exact version to install")
	f.BoolVarP(&opts.Force, "force", "f", false, "install without resolving dependencies, replacing any local copy")
	f.BoolVar(&opts.IgnoreDependencies, "ignore-dependencies", false, "do not install dependencies")
	return cmd
}
