package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"call-triage/internal/classify"
	"call-triage/internal/models"
	"call-triage/internal/scanner"
)

// Scanner produces the recordings of one load cycle.
type Scanner interface {
	Scan(ctx context.Context, root string, progress scanner.ProgressFunc) (models.ScanResult, error)
}

// Filter selects recordings in List. Zero fields match everything.
type Filter struct {
	Classification models.Classification
	Confirmed      *bool
}

func (f Filter) match(rec *models.Recording) bool {
	if f.Classification != "" && rec.Classification != f.Classification {
		return false
	}
	if f.Confirmed != nil && rec.Confirmed != *f.Confirmed {
		return false
	}
	return true
}

// Library owns the recordings of the current load cycle and is the only place
// their lifecycle state changes. All methods are safe for concurrent use.
type Library struct {
	scanner Scanner
	engine  *classify.Engine
	logger  *zap.Logger

	mu       sync.RWMutex
	scanID   string
	root     string
	order    []string
	records  map[string]*models.Recording
	deleting map[string]struct{}
	contacts classify.ContactLookup
}

// New returns an empty Library.
func New(scan Scanner, engine *classify.Engine, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		scanner:  scan,
		engine:   engine,
		logger:   logger,
		records:  make(map[string]*models.Recording),
		deleting: make(map[string]struct{}),
	}
}

// Load scans root and replaces the whole collection with the result. The scan
// runs without holding the store lock.
func (l *Library) Load(ctx context.Context, root string, progress scanner.ProgressFunc) (models.ScanResult, error) {
	result, err := l.scanner.Scan(ctx, root, progress)
	if err != nil {
		return models.ScanResult{}, fmt.Errorf("scan %s: %w", root, err)
	}
	l.Replace(result)
	return result, nil
}

// Replace installs result as the current load cycle and classifies it.
func (l *Library) Replace(result models.ScanResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.scanID = result.ID
	l.root = result.Root
	l.order = make([]string, 0, len(result.Recordings))
	l.records = make(map[string]*models.Recording, len(result.Recordings))
	l.deleting = make(map[string]struct{})

	for _, rec := range result.Recordings {
		if _, dup := l.records[rec.FilePath]; dup {
			continue
		}
		r := rec
		if !r.Classification.Valid() {
			r.Classification = models.PendingReview
		}
		l.records[r.FilePath] = &r
		l.order = append(l.order, r.FilePath)
	}

	changed := l.reclassifyLocked()
	l.logger.Info("library replaced",
		zap.String("scan_id", l.scanID),
		zap.Int("recordings", len(l.order)),
		zap.Int("classified", changed),
	)
}

// SetContacts swaps the contact directory and reclassifies every unconfirmed
// recording. It returns the number of classifications that changed.
func (l *Library) SetContacts(contacts classify.ContactLookup) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.contacts = contacts
	return l.reclassifyLocked()
}

// Reclassify re-runs classification against the current contact directory,
// typically after it reloaded in place.
func (l *Library) Reclassify() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reclassifyLocked()
}

func (l *Library) reclassifyLocked() int {
	if l.engine == nil {
		return 0
	}
	changed := 0
	for _, path := range l.order {
		rec := l.records[path]
		if rec.Confirmed {
			continue
		}
		next := l.engine.Decide(*rec, l.contacts)
		if next != rec.Classification {
			rec.Classification = next
			changed++
		}
	}
	if changed > 0 {
		l.logger.Debug("reclassified recordings", zap.Int("changed", changed))
	}
	return changed
}

// ScanID identifies the current load cycle.
func (l *Library) ScanID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scanID
}

// Root returns the directory of the current load cycle.
func (l *Library) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.root
}

// Len returns the number of recordings in the store.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// List returns copies of the recordings matching filter, newest first.
func (l *Library) List(filter Filter) []models.Recording {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]models.Recording, 0, len(l.order))
	for _, path := range l.order {
		if rec := l.records[path]; filter.match(rec) {
			result = append(result, *rec)
		}
	}
	return result
}

// Snapshot returns copies of every recording, newest first.
func (l *Library) Snapshot() []models.Recording {
	return l.List(Filter{})
}

// Get returns a copy of the recording stored under path.
func (l *Library) Get(path string) (models.Recording, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[path]
	if !ok {
		return models.Recording{}, false
	}
	return *rec, true
}

// ContactName returns the contact name for phone, or "" when unknown.
func (l *Library) ContactName(phone string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.contactNameLocked(phone)
}

func (l *Library) contactNameLocked(phone string) string {
	if l.contacts == nil {
		return ""
	}
	contact, ok := l.contacts.Lookup(phone)
	if !ok {
		return ""
	}
	return contact.Name
}

// Confirm moves each pending recording in paths into the deletion queue with
// the given decision. Members are processed independently.
func (l *Library) Confirm(paths []string, decision models.Classification) BatchResult {
	var result BatchResult
	if decision != models.Important && decision != models.Unimportant {
		for _, path := range paths {
			result.Failed = append(result.Failed, ItemError{Path: path, Err: fmt.Errorf("%w: %q", ErrInvalidDecision, decision)})
		}
		return result
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, path := range paths {
		rec, err := l.lookupLocked(path)
		if err == nil && rec.Confirmed {
			err = &TransitionError{Path: path, Op: "confirm", Confirmed: true, Deleting: l.isDeletingLocked(path)}
		}
		if err != nil {
			result.Failed = append(result.Failed, ItemError{Path: path, Err: err})
			continue
		}

		rec.Classification = decision
		rec.Confirmed = true
		result.Applied = append(result.Applied, path)
	}

	l.logBatch("confirm", result)
	return result
}

// Undo returns each confirmed recording in paths to pending review, keeping
// its current classification.
func (l *Library) Undo(paths []string) BatchResult {
	var result BatchResult

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, path := range paths {
		rec, err := l.lookupLocked(path)
		if err == nil && (!rec.Confirmed || l.isDeletingLocked(path)) {
			err = &TransitionError{Path: path, Op: "undo", Confirmed: rec.Confirmed, Deleting: l.isDeletingLocked(path)}
		}
		if err != nil {
			result.Failed = append(result.Failed, ItemError{Path: path, Err: err})
			continue
		}

		rec.Confirmed = false
		result.Applied = append(result.Applied, path)
	}

	l.logBatch("undo", result)
	return result
}

// ConfirmOne is the single-record form of Confirm.
func (l *Library) ConfirmOne(path string, decision models.Classification) error {
	return l.Confirm([]string{path}, decision).Err()
}

// UndoOne is the single-record form of Undo.
func (l *Library) UndoOne(path string) error {
	return l.Undo([]string{path}).Err()
}

// ReserveForDeletion selects the confirmed recordings named by paths, or every
// confirmed recording when paths is empty, and marks them as being deleted so
// no other transition can touch them until ReleaseDeletion. Paths that are
// unknown, unconfirmed or already reserved are reported as failures.
func (l *Library) ReserveForDeletion(paths []string) ([]models.Recording, []ItemError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(paths) == 0 {
		for _, path := range l.order {
			if l.records[path].Confirmed && !l.isDeletingLocked(path) {
				paths = append(paths, path)
			}
		}
	}

	var reserved []models.Recording
	var failed []ItemError
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		rec, err := l.lookupLocked(path)
		if err == nil && (!rec.Confirmed || l.isDeletingLocked(path)) {
			err = &TransitionError{Path: path, Op: "delete", Confirmed: rec.Confirmed, Deleting: l.isDeletingLocked(path)}
		}
		if err != nil {
			failed = append(failed, ItemError{Path: path, Err: err})
			continue
		}

		l.deleting[path] = struct{}{}
		reserved = append(reserved, *rec)
	}
	return reserved, failed
}

// ReleaseDeletion ends a deletion started by ReserveForDeletion. Paths in
// removed leave the store; paths in kept stay confirmed and become eligible
// for transitions again. Paths no longer present (after a re-scan) are ignored.
func (l *Library) ReleaseDeletion(removed, kept []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	gone := make(map[string]struct{}, len(removed))
	for _, path := range removed {
		delete(l.deleting, path)
		if _, ok := l.records[path]; ok {
			delete(l.records, path)
			gone[path] = struct{}{}
		}
	}
	for _, path := range kept {
		delete(l.deleting, path)
	}

	if len(gone) == 0 {
		return
	}
	order := l.order[:0]
	for _, path := range l.order {
		if _, ok := gone[path]; !ok {
			order = append(order, path)
		}
	}
	l.order = order
}

// Export returns the serialisable view of every recording, newest first.
func (l *Library) Export() []models.ExportRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ExportRecord, 0, len(l.order))
	for _, path := range l.order {
		rec := l.records[path]
		out = append(out, models.ExportRecord{
			FilePath:       rec.FilePath,
			PhoneNumber:    rec.PhoneNumber,
			ContactName:    l.contactNameLocked(rec.PhoneNumber),
			CallTime:       rec.CallTime.Format(time.RFC3339),
			Duration:       rec.DurationSeconds,
			Classification: rec.Classification,
			Confirmed:      rec.Confirmed,
		})
	}
	return out
}

func (l *Library) lookupLocked(path string) (*models.Recording, error) {
	rec, ok := l.records[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownRecording)
	}
	return rec, nil
}

func (l *Library) isDeletingLocked(path string) bool {
	_, ok := l.deleting[path]
	return ok
}

func (l *Library) logBatch(op string, result BatchResult) {
	l.logger.Info("lifecycle batch applied",
		zap.String("op", op),
		zap.Int("applied", len(result.Applied)),
		zap.Int("failed", len(result.Failed)),
	)
	for _, f := range result.Failed {
		l.logger.Debug("lifecycle item rejected", zap.String("op", op), zap.String("path", f.Path), zap.Error(f.Err))
	}
}
