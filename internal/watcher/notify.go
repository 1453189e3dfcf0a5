package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mvp-joe/harvest/internal/filter"
)

// notifier turns fsnotify events into wake-ups for the poll loop. It never
// decides what changed; the next scan does.
type notifier struct {
	watcher  *fsnotify.Watcher
	root     string
	policy   *filter.Policy
	logger   *slog.Logger
	wake     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
	doneCh   chan struct{}
}

func newNotifier(root string, policy *filter.Policy, logger *slog.Logger) (*notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	n := &notifier{
		watcher: w,
		root:    root,
		policy:  policy,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}

	if err := n.addDirectoriesRecursively(root); err != nil {
		w.Close()
		return nil, err
	}
	return n, nil
}

func (n *notifier) start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	go n.watch(ctx)
}

// stop is idempotent.
func (n *notifier) stop() error {
	var err error
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
			<-n.doneCh
		} else {
			close(n.doneCh)
		}
		err = n.watcher.Close()
	})
	return err
}

func (n *notifier) watch(ctx context.Context) {
	defer close(n.doneCh)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}

			// New directories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := n.addDirectoriesRecursively(event.Name); err != nil {
						n.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			select {
			case n.wake <- struct{}{}:
			default:
			}

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("file notification error", "error", err)
		}
	}
}

// addDirectoriesRecursively watches dir and every directory below it that the
// filter policy does not prune.
func (n *notifier) addDirectoriesRecursively(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			n.logger.Debug("error accessing path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		if rel, err := filepath.Rel(n.root, path); err == nil && rel != "." {
			if n.policy.Classify(filepath.ToSlash(rel), true) == filter.Skip {
				return filepath.SkipDir
			}
		}

		if err := n.watcher.Add(path); err != nil {
			n.logger.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
