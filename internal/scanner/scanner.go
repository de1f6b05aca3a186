// Package scanner walks a recordings tree and extracts metadata for every
// audio file in parallel.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"call-triage/internal/metadata"
	"call-triage/internal/models"
)

// Builder turns one file path into a Recording.
type Builder interface {
	BuildRecording(path string) (models.Recording, error)
}

// ProgressFunc receives the number of finished files out of total. Calls are
// serialised.
type ProgressFunc func(done, total int)

// Options configures a Scanner.
type Options struct {
	// Extensions lists the audio extensions to include, matched case-insensitively.
	Extensions []string
	// Workers caps the pool size. Zero selects twice the available parallelism.
	Workers int
	Logger  *zap.Logger
}

// Scanner performs recursive, parallel metadata extraction.
type Scanner struct {
	builder Builder
	allowed map[string]struct{}
	workers int
	logger  *zap.Logger
}

// New returns a Scanner. A nil builder selects metadata.NewExtractor.
func New(builder Builder, opts Options) *Scanner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if builder == nil {
		builder = metadata.NewExtractor(logger)
	}

	s := &Scanner{
		builder: builder,
		allowed: make(map[string]struct{}, len(opts.Extensions)),
		workers: opts.Workers,
		logger:  logger,
	}
	for _, ext := range opts.Extensions {
		s.allowed[strings.ToLower(ext)] = struct{}{}
	}
	return s
}

// PoolSize returns the number of workers used for fileCount files: the
// override when positive, otherwise twice GOMAXPROCS, never more than the
// number of files and never less than one.
func PoolSize(fileCount, override int) int {
	size := override
	if size <= 0 {
		size = 2 * runtime.GOMAXPROCS(0)
	}
	if size > fileCount {
		size = fileCount
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Scan walks root and returns its recordings sorted by call time, newest
// first. A cancelled context stops the scan between files and returns the
// context error with no recordings.
func (s *Scanner) Scan(ctx context.Context, root string, progress ProgressFunc) (models.ScanResult, error) {
	paths, err := s.collect(root)
	if err != nil {
		return models.ScanResult{}, err
	}

	result := models.ScanResult{
		ID:         uuid.NewString(),
		Root:       root,
		Recordings: []models.Recording{},
	}
	total := len(paths)
	if total == 0 {
		s.logger.Info("scan found no recordings", zap.String("root", root))
		return result, nil
	}

	built := make([]models.Recording, total)
	failures := make([]error, total)

	var progressMu sync.Mutex
	done := 0

	workers := PoolSize(total, s.workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			built[i], failures[i] = s.builder.BuildRecording(path)

			if progress != nil {
				progressMu.Lock()
				done++
				progress(done, total)
				progressMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return models.ScanResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.ScanResult{}, err
	}

	for i, err := range failures {
		if err != nil {
			s.logger.Warn("skipping unreadable recording", zap.String("path", paths[i]), zap.Error(err))
			result.Skipped = append(result.Skipped, models.SkippedFile{Path: paths[i], Reason: err.Error()})
			continue
		}
		result.Recordings = append(result.Recordings, built[i])
	}

	SortByCallTime(result.Recordings)

	s.logger.Info("scan complete",
		zap.String("root", root),
		zap.String("scan_id", result.ID),
		zap.Int("recordings", len(result.Recordings)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("workers", workers),
	)
	return result, nil
}

// SortByCallTime orders recordings newest first, breaking ties by path.
func SortByCallTime(recordings []models.Recording) {
	sort.SliceStable(recordings, func(i, j int) bool {
		if recordings[i].CallTime.Equal(recordings[j].CallTime) {
			return recordings[i].FilePath < recordings[j].FilePath
		}
		return recordings[i].CallTime.After(recordings[j].CallTime)
	})
}

func (s *Scanner) collect(root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warn("walk error", zap.String("path", path), zap.Error(err))
			return nil
		}

		if d.IsDir() || !s.isAllowed(path) {
			return nil
		}

		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

func (s *Scanner) isAllowed(path string) bool {
	_, ok := s.allowed[strings.ToLower(filepath.Ext(path))]
	return ok
}
