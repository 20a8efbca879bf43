// Package config loads modforge settings from defaults, a config file,
// MODFORGE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. MODFORGE_TARGET_DIR.
	EnvPrefix = "MODFORGE"
	// FileName is the config file name without extension.
	FileName = "modforge"
)

// Keys.
const (
	KeyTargetDir   = "target_dir"
	KeyRepository  = "repository"
	KeyCacheDir    = "cache_dir"
	KeyConcurrency = "concurrency"
	KeyLogLevel    = "log_level"
	KeyLogFormat   = "log_format"
	KeyMetricsFile = "metrics_file"
	KeyOutput      = "output"
)

const (
	OutputText = "text"
	OutputJSON = "json"
)

type Config struct {
	TargetDir   string `mapstructure:"target_dir"`
	Repository  string `mapstructure:"repository"`
	CacheDir    string `mapstructure:"cache_dir"`
	Concurrency int    `mapstructure:"concurrency"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsFile string `mapstructure:"metrics_file"`
	Output      string `mapstructure:"output"`
}

// Default returns the built-in settings.
func Default() Config {
	cache := filepath.Join(os.TempDir(), "modforge-cache")
	if dir, err := os.UserCacheDir(); err == nil {
		cache = filepath.Join(dir, "modforge")
	}
	return Config{
		TargetDir:   "modules",
		CacheDir:    cache,
		Concurrency: 4,
		LogLevel:    "info",
		LogFormat:   "console",
		Output:      OutputText,
	}
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault(KeyTargetDir, d.TargetDir)
	v.SetDefault(KeyRepository, d.Repository)
	v.SetDefault(KeyCacheDir, d.CacheDir)
	v.SetDefault(KeyConcurrency, d.Concurrency)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyMetricsFile, d.MetricsFile)
	v.SetDefault(KeyOutput, d.Output)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, or modforge.yaml from the usual locations when file is
// empty, and returns the merged settings. A missing default config file is
// not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.modforge")
		v.AddConfigPath("/etc/modforge")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Output {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("config: output must be %q or %q, got %q", OutputText, OutputJSON, c.Output)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.TargetDir == "" {
		return fmt.Errorf("config: target_dir must not be empty")
	}
	return nil
}
