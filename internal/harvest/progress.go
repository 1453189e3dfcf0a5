package harvest

import "time"

// ProgressReporter provides callbacks for reporting build progress.
// Implementations can display progress bars, log messages, or remain silent.
type ProgressReporter interface {
	// OnDiscoveryStart is called when the tree walk begins.
	OnDiscoveryStart()

	// OnDiscoveryComplete is called when the walk finishes. carried is the
	// number of previous entries reused without touching the filesystem.
	OnDiscoveryComplete(candidates, carried int)

	// OnFileProcessingStart is called before processing files.
	OnFileProcessingStart(totalFiles int)

	// OnFileProcessed is called after each file is processed.
	OnFileProcessed(path string)

	// OnComplete is called when the snapshot has been assembled.
	OnComplete(stats *Stats)
}

// Stats summarizes one build.
type Stats struct {
	Files    int
	Chunks   int
	Added    int
	Removed  int
	Changed  int
	Reused   int
	Warnings int
	Duration time.Duration
}

// NoOpProgressReporter is a progress reporter that does nothing.
// Used when progress reporting is disabled (e.g., --quiet flag).
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) OnDiscoveryStart()                           {}
func (n *NoOpProgressReporter) OnDiscoveryComplete(candidates, carried int) {}
func (n *NoOpProgressReporter) OnFileProcessingStart(totalFiles int)        {}
func (n *NoOpProgressReporter) OnFileProcessed(path string)                 {}
func (n *NoOpProgressReporter) OnComplete(stats *Stats)                     {}
