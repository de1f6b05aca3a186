// Package purge removes confirmed recordings from disk and from the library.
package purge

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"call-triage/internal/library"
	"call-triage/internal/models"
)

// Player is the playback collaborator consulted before a file is removed.
type Player interface {
	IsOpen(path string) bool
	Stop(path string)
}

// Store is the part of the library the executor drives.
type Store interface {
	ReserveForDeletion(paths []string) ([]models.Recording, []library.ItemError)
	ReleaseDeletion(removed, kept []string)
}

// Failure describes one recording that could not be deleted.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report is the outcome of one deletion batch. An empty Failures slice means
// every selected recording was removed.
type Report struct {
	Deleted  []string  `json:"deleted"`
	Failures []Failure `json:"failures"`
}

// Options configures an Executor.
type Options struct {
	Player Player
	// Remove deletes a file; os.Remove when nil.
	Remove func(path string) error
	Logger *zap.Logger
}

// Executor runs deletion batches one at a time.
type Executor struct {
	store  Store
	player Player
	remove func(path string) error
	logger *zap.Logger

	batchMu sync.Mutex
}

// New returns an Executor operating on store.
func New(store Store, opts Options) *Executor {
	remove := opts.Remove
	if remove == nil {
		remove = os.Remove
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, player: opts.Player, remove: remove, logger: logger}
}

// DeleteSelection removes the confirmed recordings in paths. An empty
// selection deletes every confirmed recording. Every selected item is
// attempted exactly once. A removed file leaves the store immediately;
// failures stay in the store, confirmed, until the batch ends.
func (e *Executor) DeleteSelection(paths []string) Report {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()

	if len(paths) == 0 {
		e.logger.Info("empty selection; deleting every confirmed recording")
	}

	batch, rejected := e.store.ReserveForDeletion(paths)
	report := Report{Deleted: []string{}, Failures: []Failure{}}
	for _, item := range rejected {
		report.Failures = append(report.Failures, Failure{Path: item.Path, Reason: item.Err.Error()})
	}

	var kept []string
	for _, rec := range batch {
		if err := e.deleteOne(rec.FilePath); err != nil {
			e.logger.Warn("delete failed", zap.String("path", rec.FilePath), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Path: rec.FilePath, Reason: err.Error()})
			kept = append(kept, rec.FilePath)
			continue
		}
		report.Deleted = append(report.Deleted, rec.FilePath)
		e.store.ReleaseDeletion([]string{rec.FilePath}, nil)
	}

	if len(kept) > 0 {
		e.store.ReleaseDeletion(nil, kept)
	}

	e.logger.Info("deletion batch finished",
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("failed", len(report.Failures)),
	)
	return report
}

func (e *Executor) deleteOne(path string) error {
	if e.player != nil && e.player.IsOpen(path) {
		e.logger.Info("stopping playback before delete", zap.String("path", path))
		e.player.Stop(path)
	}
	return e.remove(path)
}
