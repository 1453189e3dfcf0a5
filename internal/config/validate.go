package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mvp-joe/harvest/internal/filter"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidLimit indicates a negative max_files or max_bytes
	ErrInvalidLimit = fmt.Errorf("%w: invalid limit", ErrInvalidConfig)

	// ErrInvalidFormat indicates an unknown output format
	ErrInvalidFormat = fmt.Errorf("%w: invalid output format", ErrInvalidConfig)

	// ErrNoSections indicates every output section is disabled
	ErrNoSections = fmt.Errorf("%w: no output sections", ErrInvalidConfig)

	// ErrInvalidWatch indicates a bad poll interval or debounce window
	ErrInvalidWatch = fmt.Errorf("%w: invalid watch settings", ErrInvalidConfig)

	// ErrInvalidBuild indicates negative worker or memo sizes
	ErrInvalidBuild = fmt.Errorf("%w: invalid build settings", ErrInvalidConfig)

	// ErrEmptyAddr indicates a missing serve address
	ErrEmptyAddr = fmt.Errorf("%w: empty serve address", ErrInvalidConfig)
)

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	var msgs []string
	for _, err := range v {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error { return v }

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if err := validateFilter(&cfg.Filter); err != nil {
		errs = append(errs, err)
	}

	if err := validateOutput(cfg); err != nil {
		errs = append(errs, err)
	}

	if err := validateWatch(&cfg.Watch); err != nil {
		errs = append(errs, err)
	}

	if err := validateBuild(&cfg.Build); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(cfg.Serve.Addr) == "" {
		errs = append(errs, fmt.Errorf("%w: serve.addr is required", ErrEmptyAddr))
	}

	return joinErrors(errs)
}

func validateFilter(cfg *FilterConfig) error {
	var errs []error

	if cfg.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("%w: max_files cannot be negative, got %d", ErrInvalidLimit, cfg.MaxFiles))
	}
	if cfg.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("%w: max_bytes cannot be negative, got %d", ErrInvalidLimit, cfg.MaxBytes))
	}

	// Folder globs must compile.
	if _, err := filter.New(filter.Options{SkipFolder: cfg.SkipFolder}); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	return joinErrors(errs)
}

func validateOutput(cfg *Config) error {
	var errs []error

	if _, err := cfg.OutputFormat(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidFormat, err))
	}

	s := cfg.Output.Sections
	if !s.Metadata && !s.Data && !s.Chunks {
		errs = append(errs, fmt.Errorf("%w: enable at least one of metadata, data, chunks", ErrNoSections))
	}

	return joinErrors(errs)
}

func validateWatch(cfg *WatchConfig) error {
	var errs []error

	if cfg.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll_interval_seconds must be positive, got %g", ErrInvalidWatch, cfg.PollIntervalSeconds))
	}
	if cfg.DebounceMilliseconds < 0 {
		errs = append(errs, fmt.Errorf("%w: debounce_milliseconds cannot be negative, got %d", ErrInvalidWatch, cfg.DebounceMilliseconds))
	}

	return joinErrors(errs)
}

func validateBuild(cfg *BuildConfig) error {
	var errs []error

	if cfg.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: workers cannot be negative, got %d", ErrInvalidBuild, cfg.Workers))
	}
	if cfg.MemoSize < 0 {
		errs = append(errs, fmt.Errorf("%w: memo_size cannot be negative, got %d", ErrInvalidBuild, cfg.MemoSize))
	}

	return joinErrors(errs)
}

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	if len(errs) == 1 {
		return errs[0]
	}

	// Flatten nested groups so the list stays one level deep.
	var flat ValidationErrors
	for _, err := range errs {
		var group ValidationErrors
		if errors.As(err, &group) {
			flat = append(flat, group...)
			continue
		}
		flat = append(flat, err)
	}
	return flat
}
