// Package watcher keeps a snapshot current by polling the tree.
//
// Each tick scans the filtered tree and compares file fingerprints with the
// last scan. New differences start (or extend) a debounce window; when the
// window elapses quietly the merged change-set is rebuilt incrementally and
// published. The committed baseline only advances after a successful publish,
// so a failed build or write is retried on the next tick.
//
//	Idle -> Scanning -> Debouncing -> Committing -> Idle
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/harvest"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// ErrNotRunning is returned by Trigger when the loop is not running.
var ErrNotRunning = errors.New("watcher is not running")

// State is the position of the loop in its state machine.
type State int32

const (
	Idle State = iota
	Scanning
	Debouncing
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Debouncing:
		return "debouncing"
	case Committing:
		return "committing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Builder builds snapshots. *harvest.Builder satisfies it.
type Builder interface {
	Build(ctx context.Context, opts harvest.Options) (*snapshot.Snapshot, error)
}

// Publisher owns the current snapshot. *snapshot.Store satisfies it.
type Publisher interface {
	Current() *snapshot.Snapshot
	Publish(ctx context.Context, snap *snapshot.Snapshot) error
}

// Options tunes the watcher.
type Options struct {
	Root   string
	Policy *filter.Policy

	// PollInterval is the scan cadence. Default: 1s.
	PollInterval time.Duration
	// Debounce is the quiet period before a commit. Default: 800ms.
	Debounce time.Duration

	// OnlyExt and SkipExt narrow which files are watched, on top of Policy.
	OnlyExt []string
	SkipExt []string

	// Ignore lists relative paths never treated as changes (the output
	// artifact, for example).
	Ignore []string

	// Notify enables fsnotify wake-ups between ticks.
	Notify bool

	// Resync runs one full incremental build at startup even when the store
	// already holds a snapshot, catching changes made while nothing watched.
	Resync bool

	Logger *slog.Logger

	// OnCommit is called on the loop goroutine after every commit attempt.
	OnCommit func(CommitResult)
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Debounce < 0 {
		o.Debounce = 0
	} else if o.Debounce == 0 {
		o.Debounce = 800 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// CommitResult describes one commit attempt.
type CommitResult struct {
	Paths    []string // nil for a full rebuild
	Version  uint64   // published version, 0 on failure
	Duration time.Duration
	Err      error
}

// Stats are point-in-time counters.
type Stats struct {
	Scans              int64         `json:"scans"`
	ChangesDetected    int64         `json:"changes_detected"`
	Commits            int64         `json:"commits"`
	Errors             int64         `json:"errors"`
	LastCommitDuration time.Duration `json:"last_commit_duration"`
}

// Watcher drives incremental rebuilds for one root. All builds for the root
// go through its loop, including manual ones requested with Trigger.
type Watcher struct {
	opts    Options
	builder Builder
	store   Publisher
	filter  *scanFilter

	state   atomic.Int32
	running atomic.Bool
	trigger chan chan error

	scans      atomic.Int64
	changes    atomic.Int64
	commits    atomic.Int64
	errors     atomic.Int64
	lastCommit atomic.Int64
}

// New creates a Watcher. Call Run to start the loop.
func New(builder Builder, store Publisher, opts Options) (*Watcher, error) {
	opts.defaults()
	if opts.Policy == nil {
		policy, err := filter.New(filter.Options{IgnorePaths: opts.Ignore})
		if err != nil {
			return nil, err
		}
		opts.Policy = policy
	}
	sf, err := newScanFilter(opts)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		opts:    opts,
		builder: builder,
		store:   store,
		filter:  sf,
		trigger: make(chan chan error),
	}, nil
}

// State returns the current loop state.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Scans:              w.scans.Load(),
		ChangesDetected:    w.changes.Load(),
		Commits:            w.commits.Load(),
		Errors:             w.errors.Load(),
		LastCommitDuration: time.Duration(w.lastCommit.Load()),
	}
}

// Trigger requests a full incremental rebuild through the loop and waits for
// it to be published.
func (w *Watcher) Trigger(ctx context.Context) error {
	if !w.running.Load() {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	select {
	case w.trigger <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop is the state owned by the Run goroutine.
type loop struct {
	lastSeen    map[string]string // fingerprints from the latest scan
	pending     map[string]bool   // merged change-set since the last successful commit
	pendingFull bool

	debounceTimer *time.Timer
	debounceCh    <-chan time.Time
}

func (l *loop) hasPending() bool { return l.pendingFull || len(l.pending) > 0 }

func (l *loop) debouncing() bool { return l.debounceCh != nil }

func (l *loop) startDebounce(d time.Duration) {
	l.stopDebounce()
	l.debounceTimer = time.NewTimer(d)
	l.debounceCh = l.debounceTimer.C
}

func (l *loop) stopDebounce() {
	if l.debounceTimer != nil {
		l.debounceTimer.Stop()
	}
	l.debounceCh = nil
}

// Run blocks until ctx is cancelled. When the store is empty an initial full
// build is published first. Run only returns an error when the tree cannot be
// scanned at startup.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.opts.Logger

	w.setState(Scanning)
	baseline, _, err := w.scan(ctx, nil)
	if err != nil {
		w.setState(Idle)
		return fmt.Errorf("initial scan failed: %w", err)
	}
	w.scans.Add(1)
	l := &loop{
		lastSeen:    baseline,
		pending:     map[string]bool{},
		pendingFull: w.opts.Resync || w.store.Current() == nil,
	}
	defer l.stopDebounce()

	var wake <-chan struct{}
	if w.opts.Notify {
		n, err := newNotifier(w.filter.root, w.opts.Policy, log)
		if err != nil {
			log.Warn("file notifications unavailable, polling only", "error", err)
		} else {
			n.start(ctx)
			defer n.stop()
			wake = n.wake
		}
	}

	w.running.Store(true)
	defer w.running.Store(false)

	if l.pendingFull {
		_ = w.commitPending(ctx, l)
	}
	w.setState(Idle)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	log.Info("watch started", "root", w.filter.root, "interval", w.opts.PollInterval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			w.setState(Idle)
			log.Info("watch stopped", "root", w.filter.root)
			return nil

		case reply := <-w.trigger:
			l.stopDebounce()
			w.setState(Scanning)
			if cur, _, err := w.scan(ctx, l.lastSeen); err == nil {
				l.lastSeen = cur
			}
			l.pendingFull = true
			reply <- w.commitPending(ctx, l)
			w.setState(Idle)

		case <-ticker.C:
			w.tick(ctx, l)

		case <-wake:
			w.tick(ctx, l)

		case <-l.debounceCh:
			l.debounceCh = nil
			if l.hasPending() {
				_ = w.commitPending(ctx, l)
			}
			w.setState(Idle)
		}
	}
}

// tick runs one Scanning pass. New differences (re)start the debounce window;
// a quiet tick with a change-set still pending after a failed commit retries
// the commit immediately.
func (w *Watcher) tick(ctx context.Context, l *loop) {
	w.setState(Scanning)
	w.scans.Add(1)

	cur, errored, err := w.scan(ctx, l.lastSeen)
	if err != nil {
		w.errors.Add(1)
		if ctx.Err() == nil {
			w.opts.Logger.Warn("scan failed", "root", w.filter.root, "error", err)
		}
		w.restoreState(l)
		return
	}
	for path := range errored {
		w.opts.Logger.Debug("path skipped this tick", "path", path)
	}

	changed := diff(l.lastSeen, cur)
	l.lastSeen = cur

	if len(changed) > 0 {
		w.changes.Add(int64(len(changed)))
		for _, p := range changed {
			l.pending[p] = true
		}
		l.startDebounce(w.opts.Debounce)
		w.setState(Debouncing)
		w.opts.Logger.Debug("changes detected, debouncing", "paths", len(changed))
		return
	}

	if !l.debouncing() && l.hasPending() {
		// Retry a commit that failed earlier.
		_ = w.commitPending(ctx, l)
	}
	w.restoreState(l)
}

func (w *Watcher) restoreState(l *loop) {
	if l.debouncing() {
		w.setState(Debouncing)
	} else {
		w.setState(Idle)
	}
}

// commitPending commits the merged change-set and advances the baseline on
// success only.
func (w *Watcher) commitPending(ctx context.Context, l *loop) error {
	var paths []string
	if !l.pendingFull {
		paths = sortedKeys(l.pending)
	}
	if err := w.commit(ctx, paths); err != nil {
		return err
	}
	l.pending = map[string]bool{}
	l.pendingFull = false
	return nil
}

// commit builds and publishes. paths nil means a full incremental rebuild.
func (w *Watcher) commit(ctx context.Context, paths []string) error {
	w.setState(Committing)
	start := time.Now()

	version, err := w.buildAndPublish(ctx, paths)
	elapsed := time.Since(start)

	result := CommitResult{Paths: paths, Version: version, Duration: elapsed, Err: err}
	if err != nil {
		w.errors.Add(1)
		if ctx.Err() == nil {
			w.opts.Logger.Error("commit failed, keeping last good snapshot", "root", w.filter.root, "paths", len(paths), "error", err)
		}
	} else {
		w.commits.Add(1)
		w.lastCommit.Store(int64(elapsed))
		w.opts.Logger.Info("snapshot updated", "root", w.filter.root, "paths", len(paths), "version", version, "duration", elapsed)
	}

	if w.opts.OnCommit != nil {
		w.opts.OnCommit(result)
	}
	return err
}

func (w *Watcher) buildAndPublish(ctx context.Context, paths []string) (uint64, error) {
	prev := w.store.Current()
	opts := harvest.Options{Root: w.opts.Root, Previous: prev}
	if prev != nil && paths != nil {
		opts.LimitTo = paths
	}

	snap, err := w.builder.Build(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("build failed: %w", err)
	}
	if err := w.store.Publish(ctx, snap); err != nil {
		return 0, err
	}
	return snap.Metadata.Version, nil
}

func (w *Watcher) setState(s State) { w.state.Store(int32(s)) }

// diff lists the paths added, removed or re-fingerprinted between two scans.
func diff(before, after map[string]string) []string {
	var out []string
	for path, fp := range after {
		if old, ok := before[path]; !ok || old != fp {
			out = append(out, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
