package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/harvest/internal/snapshot"
)

// Test Plan for Config System:
// - Default() returns valid configuration with all expected defaults
// - Load() uses defaults when no config file exists
// - Load() reads .harvest/config.yml and .harvest/config.yaml
// - Load() merges a partial config file with defaults
// - Environment variables override config file values and defaults
// - Comma separated list values are split
// - An explicit config file must exist
// - Flags bound on the caller's viper win over everything
// - Malformed YAML and invalid values are rejected
// - Validate() reports every problem and each one matches its sentinel
// - Conversion helpers feed filter, extract, snapshot and watcher settings

func writeConfig(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, Dir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDefault_ReturnsValidConfiguration(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 5000, cfg.Filter.MaxFiles)
	assert.Equal(t, int64(524288), cfg.Filter.MaxBytes)
	assert.Equal(t, filepath.Join(".harvest", "snapshot.harvest.json"), cfg.Output.Path)
	assert.Empty(t, cfg.Output.Format)
	format, err := cfg.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, snapshot.FormatJSON, format)
	assert.Equal(t, snapshot.AllSections(), cfg.Sections())
	assert.Equal(t, time.Second, cfg.Watch.PollInterval())
	assert.Equal(t, 800*time.Millisecond, cfg.Watch.Debounce())
	assert.Equal(t, []string{"_"}, cfg.Visibility.PrivatePrefixes)
	assert.True(t, cfg.Visibility.RequireExport)
	assert.Equal(t, 4096, cfg.Build.MemoSize)
	assert.True(t, cfg.Build.Revision)
	assert.Equal(t, "127.0.0.1:8787", cfg.Serve.Addr)

	assert.NoError(t, Validate(cfg))
}

func TestLoadConfig_UsesDefaultsWhenNoConfigFile(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	defaults := Default()
	assert.Equal(t, defaults.Filter.MaxFiles, cfg.Filter.MaxFiles)
	assert.Equal(t, defaults.Output.Path, cfg.Output.Path)
	assert.Equal(t, defaults.Watch.DebounceMilliseconds, cfg.Watch.DebounceMilliseconds)
	assert.Equal(t, defaults.Serve.Addr, cfg.Serve.Addr)
}

func TestLoadConfig_LoadsFromConfigYml(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, "config.yml", `
filter:
  max_files: 10
  max_bytes: 2048
  only_ext: [py, go]
  skip_folder: ["**/fixtures"]
output:
  path: out/snap.harvest.jsonl
  format: jsonl
  sections:
    chunks: false
watch:
  poll_interval_seconds: 0.5
  debounce_milliseconds: 100
  notify: true
visibility:
  private_prefixes: ["_", "internal"]
  require_export: false
build:
  workers: 3
serve:
  addr: ":9000"
`)

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Filter.MaxFiles)
	assert.Equal(t, int64(2048), cfg.Filter.MaxBytes)
	assert.Equal(t, []string{"py", "go"}, cfg.Filter.OnlyExt)
	assert.Equal(t, []string{"**/fixtures"}, cfg.Filter.SkipFolder)

	format, err := cfg.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, snapshot.FormatJSONL, format)
	assert.Equal(t, filepath.Join(root, "out", "snap.harvest.jsonl"), cfg.OutputPath(root))
	assert.Equal(t, snapshot.Sections{Metadata: true, Data: true}, cfg.Sections())

	assert.Equal(t, 500*time.Millisecond, cfg.Watch.PollInterval())
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce())
	assert.True(t, cfg.Watch.Notify)

	vis := cfg.VisibilityPolicy()
	assert.Equal(t, []string{"_", "internal"}, vis.PrivatePrefixes)
	assert.False(t, vis.RequireExport)

	assert.Equal(t, 3, cfg.Build.Workers)
	assert.Equal(t, 4096, cfg.Build.MemoSize, "unset keys keep defaults")
	assert.Equal(t, ":9000", cfg.Serve.Addr)
}

func TestLoadConfig_LoadsFromConfigYaml(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "filter:\n  max_files: 42\n")

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Filter.MaxFiles)
	assert.Equal(t, int64(524288), cfg.Filter.MaxBytes)
}

func TestLoadConfig_EnvironmentVariablesOverrideConfigFile(t *testing.T) {
	// Note: Cannot use t.Parallel() with t.Setenv()

	root := t.TempDir()
	writeConfig(t, root, "config.yml", `
filter:
  max_files: 10
  max_bytes: 2048
serve:
  addr: ":9000"
`)

	t.Setenv("HARVEST_FILTER_MAX_FILES", "77")
	t.Setenv("HARVEST_WATCH_DEBOUNCE_MILLISECONDS", "25")
	t.Setenv("HARVEST_FILTER_SKIP_EXT", "md, txt")

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)

	// Environment variables should win
	assert.Equal(t, 77, cfg.Filter.MaxFiles)
	assert.Equal(t, 25, cfg.Watch.DebounceMilliseconds)
	assert.Equal(t, []string{"md", "txt"}, cfg.Filter.SkipExt)

	// Not overridden, should come from config file
	assert.Equal(t, int64(2048), cfg.Filter.MaxBytes)
	assert.Equal(t, ":9000", cfg.Serve.Addr)
}

func TestLoadConfig_EnvironmentVariablesOverrideDefaults(t *testing.T) {
	// Note: Cannot use t.Parallel() with t.Setenv()

	t.Setenv("HARVEST_OUTPUT_FORMAT", "sqlite")
	t.Setenv("HARVEST_OUTPUT_SECTIONS_CHUNKS", "false")
	t.Setenv("HARVEST_INCREMENTAL_PREVIOUS_SNAPSHOT_PATH", "/tmp/prev.harvest.json")
	t.Setenv("HARVEST_BUILD_REVISION", "false")

	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Output.Format)
	assert.False(t, cfg.Output.Sections.Chunks)
	assert.True(t, cfg.Output.Sections.Data)
	assert.Equal(t, "/tmp/prev.harvest.json", cfg.Incremental.PreviousSnapshotPath)
	assert.False(t, cfg.Build.Revision)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  memo_size: 0\n"), 0644))

	cfg, err := NewLoaderWithFile(root, path).Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Build.MemoSize)

	_, err = NewLoaderWithFile(root, filepath.Join(root, "missing.yml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_BoundFlagsWin(t *testing.T) {
	// Note: Cannot use t.Parallel() with t.Setenv()

	root := t.TempDir()
	writeConfig(t, root, "config.yml", "filter:\n  max_files: 10\n")
	t.Setenv("HARVEST_FILTER_MAX_FILES", "20")

	v := viper.New()
	v.Set("filter.max_files", 30)

	cfg, err := NewLoaderWithViper(root, "", v).Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Filter.MaxFiles)
}

func TestLoadConfig_ReturnsErrorForMalformedYaml(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, "config.yml", "filter:\n  max_files: [unclosed\n")

	_, err := NewLoader(root).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_ReturnsErrorForInvalidValues(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, "config.yml", "filter:\n  max_files: -1\n")

	_, err := NewLoader(root).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"negative max files", func(c *Config) { c.Filter.MaxFiles = -1 }, ErrInvalidLimit},
		{"negative max bytes", func(c *Config) { c.Filter.MaxBytes = -5 }, ErrInvalidLimit},
		{"bad folder glob", func(c *Config) { c.Filter.SkipFolder = []string{"src/[unclosed"} }, ErrInvalidConfig},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, ErrInvalidFormat},
		{"no sections", func(c *Config) { c.Output.Sections = SectionsConfig{} }, ErrNoSections},
		{"zero poll interval", func(c *Config) { c.Watch.PollIntervalSeconds = 0 }, ErrInvalidWatch},
		{"negative debounce", func(c *Config) { c.Watch.DebounceMilliseconds = -1 }, ErrInvalidWatch},
		{"negative workers", func(c *Config) { c.Build.Workers = -2 }, ErrInvalidBuild},
		{"negative memo", func(c *Config) { c.Build.MemoSize = -1 }, ErrInvalidBuild},
		{"empty addr", func(c *Config) { c.Serve.Addr = " " }, ErrEmptyAddr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate_ReturnsMultipleErrorsForMultipleInvalidFields(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Filter.MaxFiles = -1
	cfg.Filter.MaxBytes = -1
	cfg.Output.Format = "xml"
	cfg.Serve.Addr = ""

	err := Validate(cfg)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 4)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.ErrorIs(t, err, ErrInvalidFormat)
	assert.ErrorIs(t, err, ErrEmptyAddr)
	assert.Contains(t, err.Error(), "validation failed:")
	assert.Contains(t, err.Error(), "max_files cannot be negative")
}

func TestConfig_EmptyFormatFollowsPath(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Output.Format = ""
	cfg.Output.Path = "snap.harvest.db"

	format, err := cfg.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, snapshot.FormatSQLite, format)
	require.NoError(t, Validate(cfg))
}

func TestConfig_FilterOptions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Filter.SkipExt = []string{"md"}
	cfg.Filter.NoDefaultExcludes = true

	opts := cfg.FilterOptions(".harvest/snapshot.harvest.json")
	assert.Equal(t, []string{"md"}, opts.SkipExt)
	assert.True(t, opts.NoDefaultExcludes)
	assert.Equal(t, []string{".harvest/snapshot.harvest.json"}, opts.IgnorePaths)

	abs := filepath.Join(t.TempDir(), "x.harvest.json")
	cfg.Output.Path = abs
	assert.Equal(t, abs, cfg.OutputPath("/elsewhere"))
}
