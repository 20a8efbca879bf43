package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "modules", c.TargetDir)
	assert.Equal(t, 4, c.Concurrency)
	assert.Equal(t, OutputText, c.Output)
	assert.Empty(t, c.Repository)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "modforge.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
target_dir: /srv/modules
repository: /srv/mirror
concurrency: 2
output: json
`), 0o644))

	t.Setenv("MODFORGE_REPOSITORY", "https://forge.example")

	v := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("concurrency", 0, "")
	require.NoError(t, flags.Parse([]string{"--concurrency=8"}))
	require.NoError(t, v.BindPFlag(KeyConcurrency, flags.Lookup("concurrency")))

	c, err := Load(v, file)
	require.NoError(t, err)
	assert.Equal(t, "/srv/modules", c.TargetDir, "file overrides default")
	assert.Equal(t, "https://forge.example", c.Repository, "env overrides file")
	assert.Equal(t, 8, c.Concurrency, "flag overrides file")
	assert.Equal(t, OutputJSON, c.Output)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(New(), filepath.Join(dir, "missing.yaml"))
	require.Error(t, err, "an explicit config file must exist")

	file := filepath.Join(dir, "modforge.yaml")
	require.NoError(t, os.WriteFile(file, []byte("output: xml\n"), 0o644))
	_, err = Load(New(), file)
	require.ErrorContains(t, err, "output must be")

	require.NoError(t, os.WriteFile(file, []byte("concurrency: 0\n"), 0o644))
	_, err = Load(New(), file)
	require.ErrorContains(t, err, "concurrency")
}
