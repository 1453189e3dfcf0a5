package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mvp-joe/harvest/internal/filter"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARVEST"

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir    string
	configFile string
	viper      *viper.Viper
}

// NewLoader creates a loader that looks for .harvest/config.yml (or .yaml)
// under rootDir.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// NewLoaderWithFile creates a loader reading an explicit config file. A
// missing explicit file is an error.
func NewLoaderWithFile(rootDir, configFile string) Loader {
	return &loader{rootDir: rootDir, configFile: configFile}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance, so
// command-line flags bound to it take precedence over everything else.
func NewLoaderWithViper(rootDir, configFile string, v *viper.Viper) Loader {
	return &loader{rootDir: rootDir, configFile: configFile, viper: v}
}

// keys lists every configuration key bound to the environment.
var keys = []string{
	"filter.max_files",
	"filter.max_bytes",
	"filter.only_ext",
	"filter.skip_ext",
	"filter.skip_folder",
	"filter.no_default_excludes",
	"output.path",
	"output.format",
	"output.sections.metadata",
	"output.sections.data",
	"output.sections.chunks",
	"incremental.previous_snapshot_path",
	"watch.poll_interval_seconds",
	"watch.debounce_milliseconds",
	"watch.only_ext",
	"watch.skip_ext",
	"watch.notify",
	"visibility.private_prefixes",
	"visibility.require_export",
	"build.workers",
	"build.memo_size",
	"build.revision",
	"serve.addr",
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Flags bound on the viper instance (NewLoaderWithViper)
// 2. Environment variables (HARVEST_*)
// 3. Config file (.harvest/config.yml, .harvest/config.yaml or the explicit file)
// 4. Default values
func (l *loader) Load() (*Config, error) {
	v := l.viper
	if v == nil {
		v = viper.New()
	}

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(l.rootDir, Dir))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// Replace . with _ in env var names (e.g., HARVEST_FILTER_MAX_FILES)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if l.configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("filter.max_files", defaults.Filter.MaxFiles)
	v.SetDefault("filter.max_bytes", defaults.Filter.MaxBytes)
	v.SetDefault("filter.only_ext", []string{})
	v.SetDefault("filter.skip_ext", []string{})
	v.SetDefault("filter.skip_folder", []string{})
	v.SetDefault("filter.no_default_excludes", defaults.Filter.NoDefaultExcludes)

	v.SetDefault("output.path", defaults.Output.Path)
	v.SetDefault("output.format", defaults.Output.Format)
	v.SetDefault("output.sections.metadata", defaults.Output.Sections.Metadata)
	v.SetDefault("output.sections.data", defaults.Output.Sections.Data)
	v.SetDefault("output.sections.chunks", defaults.Output.Sections.Chunks)

	v.SetDefault("incremental.previous_snapshot_path", defaults.Incremental.PreviousSnapshotPath)

	v.SetDefault("watch.poll_interval_seconds", defaults.Watch.PollIntervalSeconds)
	v.SetDefault("watch.debounce_milliseconds", defaults.Watch.DebounceMilliseconds)
	v.SetDefault("watch.only_ext", []string{})
	v.SetDefault("watch.skip_ext", []string{})
	v.SetDefault("watch.notify", defaults.Watch.Notify)

	v.SetDefault("visibility.private_prefixes", defaults.Visibility.PrivatePrefixes)
	v.SetDefault("visibility.require_export", defaults.Visibility.RequireExport)

	v.SetDefault("build.workers", defaults.Build.Workers)
	v.SetDefault("build.memo_size", defaults.Build.MemoSize)
	v.SetDefault("build.revision", defaults.Build.Revision)

	v.SetDefault("serve.addr", defaults.Serve.Addr)
}

// normalize splits comma-joined list entries, which is how single list
// values arrive from the environment and flags.
func (c *Config) normalize() {
	for _, list := range []*[]string{
		&c.Filter.OnlyExt, &c.Filter.SkipExt, &c.Filter.SkipFolder,
		&c.Watch.OnlyExt, &c.Watch.SkipExt, &c.Visibility.PrivatePrefixes,
	} {
		if *list == nil {
			continue
		}
		out := []string{}
		for _, item := range *list {
			out = append(out, filter.SplitList(item)...)
		}
		*list = out
	}
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
