// Package config loads harvest configuration.
//
// Configuration Hierarchy (highest to lowest priority):
//  1. Command-line flags (bound by the CLI)
//  2. Environment variables (HARVEST_*)
//  3. Config file (.harvest/config.yml in the root, or --config)
//  4. Built-in defaults
//
// Nested keys map to environment variables with underscores, for example
// HARVEST_FILTER_MAX_FILES or HARVEST_WATCH_DEBOUNCE_MILLISECONDS. List values
// taken from the environment are comma separated.
package config

import (
	"path/filepath"
	"time"

	"github.com/mvp-joe/harvest/internal/extract"
	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// Dir is the per-root directory holding config.yml and the default output.
const Dir = ".harvest"

// Config represents the complete harvest configuration.
type Config struct {
	Filter      FilterConfig      `yaml:"filter" mapstructure:"filter"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Incremental IncrementalConfig `yaml:"incremental" mapstructure:"incremental"`
	Watch       WatchConfig       `yaml:"watch" mapstructure:"watch"`
	Visibility  VisibilityConfig  `yaml:"visibility" mapstructure:"visibility"`
	Build       BuildConfig       `yaml:"build" mapstructure:"build"`
	Serve       ServeConfig       `yaml:"serve" mapstructure:"serve"`
}

// FilterConfig controls which paths are harvested.
type FilterConfig struct {
	MaxFiles          int      `yaml:"max_files" mapstructure:"max_files"` // 0 disables the limit
	MaxBytes          int64    `yaml:"max_bytes" mapstructure:"max_bytes"` // per file; 0 disables the limit
	OnlyExt           []string `yaml:"only_ext" mapstructure:"only_ext"`
	SkipExt           []string `yaml:"skip_ext" mapstructure:"skip_ext"`
	SkipFolder        []string `yaml:"skip_folder" mapstructure:"skip_folder"` // names or glob patterns
	NoDefaultExcludes bool     `yaml:"no_default_excludes" mapstructure:"no_default_excludes"`
}

// OutputConfig controls the written artifact.
type OutputConfig struct {
	Path     string         `yaml:"path" mapstructure:"path"`     // relative paths resolve against the root
	Format   string         `yaml:"format" mapstructure:"format"` // json, jsonl or sqlite; empty follows Path
	Sections SectionsConfig `yaml:"sections" mapstructure:"sections"`
}

// SectionsConfig toggles artifact sections.
type SectionsConfig struct {
	Metadata bool `yaml:"metadata" mapstructure:"metadata"`
	Data     bool `yaml:"data" mapstructure:"data"`
	Chunks   bool `yaml:"chunks" mapstructure:"chunks"`
}

// IncrementalConfig points at a snapshot to reuse entries from.
type IncrementalConfig struct {
	PreviousSnapshotPath string `yaml:"previous_snapshot_path" mapstructure:"previous_snapshot_path"`
}

// WatchConfig tunes the change watcher.
type WatchConfig struct {
	PollIntervalSeconds  float64  `yaml:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	DebounceMilliseconds int      `yaml:"debounce_milliseconds" mapstructure:"debounce_milliseconds"`
	OnlyExt              []string `yaml:"only_ext" mapstructure:"only_ext"`
	SkipExt              []string `yaml:"skip_ext" mapstructure:"skip_ext"`
	Notify               bool     `yaml:"notify" mapstructure:"notify"` // fsnotify wake-ups between polls
}

// VisibilityConfig overrides the public/private heuristic.
type VisibilityConfig struct {
	PrivatePrefixes []string `yaml:"private_prefixes" mapstructure:"private_prefixes"`
	RequireExport   bool     `yaml:"require_export" mapstructure:"require_export"`
}

// BuildConfig tunes the builder.
type BuildConfig struct {
	Workers  int `yaml:"workers" mapstructure:"workers"`     // 0 means GOMAXPROCS
	MemoSize int `yaml:"memo_size" mapstructure:"memo_size"` // 0 disables the extraction memo

	// Revision records the git branch and commit of the root in the metadata.
	Revision bool `yaml:"revision" mapstructure:"revision"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Filter: FilterConfig{
			MaxFiles: 5000,
			MaxBytes: 512 * 1024,
		},
		Output: OutputConfig{
			Path: filepath.Join(Dir, "snapshot.harvest.json"),
			Sections: SectionsConfig{
				Metadata: true,
				Data:     true,
				Chunks:   true,
			},
		},
		Watch: WatchConfig{
			PollIntervalSeconds:  1,
			DebounceMilliseconds: 800,
		},
		Visibility: VisibilityConfig{
			PrivatePrefixes: []string{"_"},
			RequireExport:   true,
		},
		Build: BuildConfig{
			MemoSize: 4096,
			Revision: true,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// FilterOptions converts the filter section for filter.New. ignore lists
// relative paths that must never be harvested (the output artifact).
func (c *Config) FilterOptions(ignore ...string) filter.Options {
	return filter.Options{
		OnlyExt:           c.Filter.OnlyExt,
		SkipExt:           c.Filter.SkipExt,
		SkipFolder:        c.Filter.SkipFolder,
		NoDefaultExcludes: c.Filter.NoDefaultExcludes,
		IgnorePaths:       ignore,
	}
}

// VisibilityPolicy converts the visibility section.
func (c *Config) VisibilityPolicy() extract.VisibilityPolicy {
	return extract.VisibilityPolicy{
		PrivatePrefixes: c.Visibility.PrivatePrefixes,
		RequireExport:   c.Visibility.RequireExport,
	}
}

// Sections converts the section toggles.
func (c *Config) Sections() snapshot.Sections {
	return snapshot.Sections{
		Metadata: c.Output.Sections.Metadata,
		Data:     c.Output.Sections.Data,
		Chunks:   c.Output.Sections.Chunks,
	}
}

// OutputPath resolves the artifact path against root. Empty disables writing.
func (c *Config) OutputPath(root string) string {
	if c.Output.Path == "" || filepath.IsAbs(c.Output.Path) {
		return c.Output.Path
	}
	return filepath.Join(root, c.Output.Path)
}

// OutputFormat returns the artifact encoding. An empty format follows the
// output path extension.
func (c *Config) OutputFormat() (snapshot.Format, error) {
	if c.Output.Format == "" {
		return snapshot.FormatFromPath(c.Output.Path), nil
	}
	return snapshot.ParseFormat(c.Output.Format)
}

// PollInterval returns the watch poll cadence.
func (w WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds * float64(time.Second))
}

// Debounce returns the watch debounce window.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMilliseconds) * time.Millisecond
}
