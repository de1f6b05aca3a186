// Package playback tracks audio streams currently served to a listener so
// they can be interrupted before the underlying file is removed.
package playback

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker records open streams keyed by absolute file path.
type Tracker struct {
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]map[*stream]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger, streams: make(map[string]map[*stream]struct{})}
}

// Open registers a stream for path. The returned context is cancelled when
// Stop is called for the same path; release must be called once the stream
// has finished writing.
func (t *Tracker) Open(ctx context.Context, path string) (context.Context, func()) {
	key := normalize(path)
	ctx, cancel := context.WithCancel(ctx)
	s := &stream{cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	set, ok := t.streams[key]
	if !ok {
		set = make(map[*stream]struct{})
		t.streams[key] = set
	}
	set[s] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			t.mu.Lock()
			if set, ok := t.streams[key]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(t.streams, key)
				}
			}
			t.mu.Unlock()
			cancel()
			close(s.done)
		})
	}
	return ctx, release
}

// IsOpen reports whether any stream of path is in flight.
func (t *Tracker) IsOpen(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams[normalize(path)]) > 0
}

// Stop cancels every stream of path and waits for them to be released.
func (t *Tracker) Stop(path string) {
	key := normalize(path)

	t.mu.Lock()
	var pending []*stream
	for s := range t.streams[key] {
		pending = append(pending, s)
	}
	t.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	for _, s := range pending {
		s.cancel()
	}
	for _, s := range pending {
		<-s.done
	}
	t.logger.Info("playback stopped", zap.String("path", key), zap.Int("streams", len(pending)))
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
