// Package cli implements the modforge command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anvil-platform/modforge/internal/config"
	"github.com/anvil-platform/modforge/internal/forge"
	"github.com/anvil-platform/modforge/internal/installer"
	"github.com/anvil-platform/modforge/internal/logging"
	"github.com/anvil-platform/modforge/internal/metrics"
	"github.com/anvil-platform/modforge/internal/unpack"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// errReported marks a failure already rendered to the user.
var errReported = errors.New("failed")

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     logr.Logger
}

// NewRootCommand returns the modforge command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New(), log: logr.Discard()}
	d := config.Default()

	cmd := &cobra.Command{
		Use:   "modforge",
		Short: "Resolve and install modules from a forge",
		Long: `modforge resolves a module and the dependencies it declares against a
forge's release catalog, then unpacks every selected release into a target
directory.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default ./modforge.yaml, $HOME/.modforge or /etc/modforge)")
	f.String("target-dir", d.TargetDir, "directory modules are installed into")
	f.String("repository", d.Repository, "mirror directory, http(s) forge URL or grpc://host:port catalog")
	f.String("cache-dir", d.CacheDir, "directory downloaded archives are cached in")
	f.Int("concurrency", d.Concurrency, "number of modules unpacked in parallel")
	f.String("log-level", d.LogLevel, "log level (debug, info, warn, error or a verbosity number)")
	f.String("log-format", d.LogFormat, "log format (console or json)")
	f.String("metrics-file", d.MetricsFile, "write Prometheus metrics to this file after each run")
	f.StringP("output", "o", d.Output, "output format (text or json)")
	bindFlags(a.v, f, map[string]string{
		config.KeyTargetDir:   "target-dir",
		config.KeyRepository:  "repository",
		config.KeyCacheDir:    "cache-dir",
		config.KeyConcurrency: "concurrency",
		config.KeyLogLevel:    "log-level",
		config.KeyLogFormat:   "log-format",
		config.KeyMetricsFile: "metrics-file",
		config.KeyOutput:      "output",
	})

	cmd.AddCommand(
		newInstallCommand(a),
		newResolveCommand(a),
		newVersionCommand(),
	)
	return cmd
}

func bindFlags(v *viper.Viper, f *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log.WithName("modforge")
	return nil
}

// installer opens the configured repository. The returned func releases it.
func (a *app) installer() (*installer.Installer, func(), error) {
	if a.cfg.Repository == "" {
		return nil, nil, fmt.Errorf("no repository configured: set --repository or %s_REPOSITORY", config.EnvPrefix)
	}
	repo, err := forge.Open(a.cfg.Repository, forge.Options{CacheDir: a.cfg.CacheDir, Log: a.log})
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if c, ok := repo.(io.Closer); ok {
		release = func() {
			if err := c.Close(); err != nil {
				a.log.Error(err, "close repository")
			}
		}
	}
	in := installer.New(repo, unpack.TarGz{Log: a.log},
		installer.WithConcurrency(a.cfg.Concurrency),
		installer.WithLogger(a.log),
	)
	return in, release, nil
}

func (a *app) writeMetrics() {
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.log.Error(err, "write metrics", "path", a.cfg.MetricsFile)
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error: "+err.Error()))
		}
		return 1
	}
	return 0
}
