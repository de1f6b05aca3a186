package contacts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"call-triage/internal/models"
)

// Directory maps normalised phone numbers to contacts. When created with
// Watch it follows a single contact file on disk and reloads on change.
type Directory struct {
	file         string
	logger       *zap.Logger
	watcher      *fsnotify.Watcher
	refreshDelay time.Duration
	onReload     func(*Directory)

	mu      sync.RWMutex
	entries map[string]models.Contact

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// Normalize strips whitespace and hyphens from a phone number.
func Normalize(phone string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, phone)
}

// FromEntries returns a static Directory over entries. Keys are normalised.
func FromEntries(entries map[string]models.Contact) *Directory {
	d := &Directory{logger: zap.NewNop(), done: make(chan struct{})}
	d.entries = make(map[string]models.Contact, len(entries))
	for phone, contact := range entries {
		d.entries[Normalize(phone)] = contact
	}
	return d
}

// Open loads the contact file once. Unlike Watch, a missing file is an error.
func Open(file string, logger *zap.Logger) (*Directory, error) {
	entries, err := LoadFile(file)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("contacts loaded", zap.String("file", file), zap.Int("entries", len(entries)))
	return &Directory{
		file:    filepath.Clean(file),
		logger:  logger,
		entries: entries,
		done:    make(chan struct{}),
	}, nil
}

// Watch loads the contact file and keeps it current. onReload, when set, runs
// after every successful reload triggered by a file-system event.
func Watch(file string, debounce time.Duration, logger *zap.Logger, onReload func(*Directory)) (*Directory, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Directory{
		file:         filepath.Clean(file),
		logger:       logger,
		watcher:      watcher,
		refreshDelay: debounce,
		onReload:     onReload,
		entries:      make(map[string]models.Contact),
		done:         make(chan struct{}),
	}

	if err := d.refresh(); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(d.file)); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(d.file); err != nil {
		d.logger.Debug("contact watcher could not watch file directly", zap.Error(err))
	}

	d.wg.Add(1)
	go d.run()

	return d, nil
}

// Close stops the file watcher, if any, and releases resources.
func (d *Directory) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)

		d.refreshMu.Lock()
		if d.refreshTimer != nil {
			d.refreshTimer.Stop()
			d.refreshTimer = nil
		}
		d.refreshMu.Unlock()

		if d.watcher != nil {
			d.closeErr = d.watcher.Close()
		}
		d.wg.Wait()
	})
	return d.closeErr
}

// Lookup returns the contact registered for phone after normalisation.
func (d *Directory) Lookup(phone string) (models.Contact, bool) {
	key := Normalize(phone)
	if key == "" {
		return models.Contact{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	contact, ok := d.entries[key]
	return contact, ok
}

// Len reports the number of phone numbers in the directory.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Directory) run() {
	defer d.wg.Done()

	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("contact watcher error", zap.Error(err))
		case <-d.done:
			return
		}
	}
}

func (d *Directory) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != d.file {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		d.scheduleRefresh()
	}
}

func (d *Directory) scheduleRefresh() {
	select {
	case <-d.done:
		return
	default:
	}

	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	if d.refreshTimer != nil {
		d.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d.refreshDelay, func() {
		if err := d.refresh(); err != nil {
			d.logger.Error("contact reload failed; keeping previous entries", zap.String("file", d.file), zap.Error(err))
		} else if d.onReload != nil {
			d.onReload(d)
		}

		d.refreshMu.Lock()
		if d.refreshTimer == timer {
			d.refreshTimer = nil
		}
		d.refreshMu.Unlock()
	})
	d.refreshTimer = timer
}

func (d *Directory) refresh() error {
	entries, err := LoadFile(d.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.mu.Lock()
			d.entries = make(map[string]models.Contact)
			d.mu.Unlock()
			d.logger.Info("contact file missing; directory is empty", zap.String("file", d.file))
			return nil
		}
		return err
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()

	d.logger.Info("contacts loaded", zap.String("file", d.file), zap.Int("entries", len(entries)))
	return nil
}
