package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStoreWrite wraps failures to publish a snapshot artifact. The previous
// snapshot stays current when it is returned.
var ErrStoreWrite = errors.New("snapshot store write failed")

// StoreOptions configure where and how published snapshots are written.
type StoreOptions struct {
	// Path of the artifact. Empty keeps snapshots in memory only.
	Path     string
	Format   Format
	Sections Sections
	Logger   *slog.Logger
}

// Store owns the current snapshot: one writer publishes, any number of
// readers call Current without locking.
type Store struct {
	opts   StoreOptions
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex // serializes Publish

	subMu   sync.Mutex
	subs    map[int]chan uint64
	nextSub int
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions) *Store {
	if opts.Format == "" {
		opts.Format = FormatFromPath(opts.Path)
	}
	if opts.Sections == (Sections{}) {
		opts.Sections = AllSections()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opts:   opts,
		logger: logger,
		subs:   make(map[int]chan uint64),
	}
}

// Path returns the artifact path.
func (s *Store) Path() string { return s.opts.Path }

// Current returns the latest published snapshot, or nil before the first
// publish. The returned value must be treated as read-only.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Version returns the version of the current snapshot (0 when empty).
func (s *Store) Version() uint64 {
	if cur := s.current.Load(); cur != nil {
		return cur.Metadata.Version
	}
	return 0
}

// Seed installs an already persisted snapshot (for example one loaded from
// disk) as current without rewriting the artifact or notifying subscribers.
func (s *Store) Seed(snap *Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.current.Store(snap)
}

// Publish assigns the next version, writes the artifact atomically and swaps
// the snapshot in. The store takes ownership of snap.
func (s *Store) Publish(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap.Metadata.Version = s.Version() + 1
	snap.Metadata.Sections = s.opts.Sections

	if s.opts.Path != "" {
		if err := Write(s.opts.Path, snap, s.opts.Format, s.opts.Sections); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStoreWrite, s.opts.Path, err)
		}
	}

	s.current.Store(snap)
	s.logger.Debug("snapshot published",
		"version", snap.Metadata.Version,
		"files", snap.Metadata.Counts.TotalFiles,
		"chunks", snap.Metadata.Counts.TotalChunks,
		"path", s.opts.Path)

	s.notify(snap.Metadata.Version)
	return nil
}

// Adopt installs a snapshot published elsewhere (another process writing
// the artifact) keeping its version, and notifies subscribers. Snapshots not
// newer than the current one are ignored.
func (s *Store) Adopt(snap *Snapshot) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if cur := s.current.Load(); cur != nil && snap.Metadata.Version <= cur.Metadata.Version {
		return false
	}
	s.current.Store(snap)
	s.notify(snap.Metadata.Version)
	return true
}

// Follow polls the artifact at path and adopts every newer snapshot written
// to it until ctx is cancelled. Unreadable or inconsistent artifacts (a
// writer mid-rename, a foreign file) are logged and retried on the next tick.
func (s *Store) Follow(ctx context.Context, path string, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	var lastMod time.Time
	var lastSize int64 = -1

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			s.logger.Debug("artifact not readable", "path", path, "error", err)
			continue
		}
		if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
			continue
		}

		snap, err := Load(path)
		if err == nil {
			err = snap.Validate()
		}
		if err != nil {
			s.logger.Warn("failed to reload artifact", "path", path, "error", err)
			continue
		}
		lastMod, lastSize = info.ModTime(), info.Size()
		if s.Adopt(snap) {
			s.logger.Info("snapshot reloaded", "path", path, "version", snap.Metadata.Version)
		}
	}
}

// Subscribe returns a channel receiving the version of each publish. Slow
// subscribers only see the latest version. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(version uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		// Latest wins: drop a pending stale version before sending.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- version:
		default:
		}
	}
}
