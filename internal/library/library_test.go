package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-triage/internal/classify"
	"call-triage/internal/contacts"
	"call-triage/internal/models"
	"call-triage/internal/numbers"
	"call-triage/internal/scanner"
)

type fakeScanner struct {
	result models.ScanResult
	err    error
}

func (f *fakeScanner) Scan(_ context.Context, root string, progress scanner.ProgressFunc) (models.ScanResult, error) {
	if f.err != nil {
		return models.ScanResult{}, f.err
	}
	if progress != nil {
		progress(len(f.result.Recordings), len(f.result.Recordings))
	}
	result := f.result
	result.Root = root
	result.Recordings = append([]models.Recording(nil), f.result.Recordings...)
	return result, nil
}

var base = time.Date(2023, time.November, 1, 12, 0, 0, 0, time.Local)

func sampleResult() models.ScanResult {
	return models.ScanResult{
		ID: "scan-1",
		Recordings: []models.Recording{
			{FilePath: "/r/a.m4a", PhoneNumber: "13800138000", CallTime: base.Add(3 * time.Hour), DurationSeconds: 60, Classification: models.PendingReview},
			{FilePath: "/r/b.m4a", PhoneNumber: "9533812345", CallTime: base.Add(2 * time.Hour), DurationSeconds: 60, Classification: models.PendingReview},
			{FilePath: "/r/c.m4a", PhoneNumber: "9999999", CallTime: base.Add(time.Hour), DurationSeconds: 5, Classification: models.PendingReview},
			{FilePath: "/r/d.m4a", PhoneNumber: "9999999", CallTime: base, DurationSeconds: 30, Classification: models.PendingReview},
		},
	}
}

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib := New(&fakeScanner{result: sampleResult()}, classify.NewEngine(numbers.NewClassifier(nil), 0), nil)
	_, err := lib.Load(context.Background(), "/r", nil)
	require.NoError(t, err)
	return lib
}

func classificationOf(t *testing.T, lib *Library, path string) models.Classification {
	t.Helper()
	rec, ok := lib.Get(path)
	require.True(t, ok, "missing %s", path)
	return rec.Classification
}

func TestLoadClassifiesAndKeepsOrder(t *testing.T) {
	lib := newTestLibrary(t)

	assert.Equal(t, "scan-1", lib.ScanID())
	assert.Equal(t, "/r", lib.Root())
	assert.Equal(t, 4, lib.Len())

	snapshot := lib.Snapshot()
	require.Len(t, snapshot, 4)
	assert.Equal(t, "/r/a.m4a", snapshot[0].FilePath)
	assert.Equal(t, "/r/d.m4a", snapshot[3].FilePath)

	assert.Equal(t, models.PendingReview, classificationOf(t, lib, "/r/a.m4a"))
	assert.Equal(t, models.Unimportant, classificationOf(t, lib, "/r/b.m4a"))
	assert.Equal(t, models.Unimportant, classificationOf(t, lib, "/r/c.m4a"))
	assert.Equal(t, models.PendingReview, classificationOf(t, lib, "/r/d.m4a"))
}

func TestLoadPropagatesScanError(t *testing.T) {
	lib := New(&fakeScanner{err: context.Canceled}, nil, nil)
	_, err := lib.Load(context.Background(), "/r", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, lib.Len())
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	lib := newTestLibrary(t)
	snapshot := lib.Snapshot()
	snapshot[0].Classification = models.Unimportant
	snapshot[0].Confirmed = true

	rec, _ := lib.Get(snapshot[0].FilePath)
	assert.Equal(t, models.PendingReview, rec.Classification)
	assert.False(t, rec.Confirmed)
}

func TestConfirmAndUndo(t *testing.T) {
	lib := newTestLibrary(t)

	require.NoError(t, lib.ConfirmOne("/r/d.m4a", models.Important))
	rec, _ := lib.Get("/r/d.m4a")
	assert.True(t, rec.Confirmed)
	assert.Equal(t, models.Important, rec.Classification)

	require.NoError(t, lib.UndoOne("/r/d.m4a"))
	rec, _ = lib.Get("/r/d.m4a")
	assert.False(t, rec.Confirmed)
	assert.Equal(t, models.Important, rec.Classification, "undo keeps the confirmed decision")
}

func TestIllegalTransitions(t *testing.T) {
	lib := newTestLibrary(t)

	err := lib.UndoOne("/r/a.m4a")
	require.ErrorIs(t, err, ErrInvalidTransition)
	var transitionErr *TransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, "undo", transitionErr.Op)
	assert.False(t, transitionErr.Confirmed)

	require.NoError(t, lib.ConfirmOne("/r/a.m4a", models.Unimportant))
	err = lib.ConfirmOne("/r/a.m4a", models.Important)
	require.ErrorIs(t, err, ErrInvalidTransition)
	rec, _ := lib.Get("/r/a.m4a")
	assert.Equal(t, models.Unimportant, rec.Classification)

	assert.ErrorIs(t, lib.ConfirmOne("/r/b.m4a", models.PendingReview), ErrInvalidDecision)
	assert.ErrorIs(t, lib.ConfirmOne("/r/missing.m4a", models.Important), ErrUnknownRecording)
	assert.ErrorIs(t, lib.UndoOne("/r/missing.m4a"), ErrUnknownRecording)
}

func TestBatchIsBestEffort(t *testing.T) {
	lib := newTestLibrary(t)
	require.NoError(t, lib.ConfirmOne("/r/b.m4a", models.Unimportant))

	result := lib.Confirm([]string{"/r/a.m4a", "/r/b.m4a", "/r/nope.m4a", "/r/c.m4a"}, models.Unimportant)
	assert.Equal(t, []string{"/r/a.m4a", "/r/c.m4a"}, result.Applied)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "/r/b.m4a", result.Failed[0].Path)
	assert.ErrorIs(t, result.Failed[0].Err, ErrInvalidTransition)
	assert.Equal(t, "/r/nope.m4a", result.Failed[1].Path)
	assert.ErrorIs(t, result.Err(), ErrUnknownRecording)

	undo := lib.Undo([]string{"/r/a.m4a", "/r/d.m4a"})
	assert.Equal(t, []string{"/r/a.m4a"}, undo.Applied)
	require.Len(t, undo.Failed, 1)
	assert.ErrorIs(t, undo.Failed[0].Err, ErrInvalidTransition)

	assert.NoError(t, BatchResult{Applied: []string{"x"}}.Err())
}

func TestReclassifyDoesNotTouchConfirmed(t *testing.T) {
	lib := newTestLibrary(t)
	require.NoError(t, lib.ConfirmOne("/r/c.m4a", models.Unimportant))

	directory := contacts.FromEntries(map[string]models.Contact{"9999999": {Name: "Carol"}})
	changed := lib.SetContacts(directory)
	assert.Equal(t, 1, changed, "only d.m4a is unconfirmed and changes")

	rec, _ := lib.Get("/r/c.m4a")
	assert.Equal(t, models.Unimportant, rec.Classification)
	assert.True(t, rec.Confirmed)
	assert.Equal(t, models.Important, classificationOf(t, lib, "/r/d.m4a"))

	assert.Zero(t, lib.Reclassify())
	assert.Equal(t, "Carol", lib.ContactName("9999999"))
	assert.Equal(t, "", lib.ContactName("13800138000"))
}

func TestListFilters(t *testing.T) {
	lib := newTestLibrary(t)
	require.NoError(t, lib.ConfirmOne("/r/b.m4a", models.Unimportant))

	confirmed := true
	queue := lib.List(Filter{Confirmed: &confirmed})
	require.Len(t, queue, 1)
	assert.Equal(t, "/r/b.m4a", queue[0].FilePath)

	pending := false
	unimportant := lib.List(Filter{Classification: models.Unimportant, Confirmed: &pending})
	require.Len(t, unimportant, 1)
	assert.Equal(t, "/r/c.m4a", unimportant[0].FilePath)
}

func TestReserveForDeletion(t *testing.T) {
	lib := newTestLibrary(t)
	require.NoError(t, lib.ConfirmOne("/r/b.m4a", models.Unimportant))
	require.NoError(t, lib.ConfirmOne("/r/c.m4a", models.Unimportant))

	reserved, failed := lib.ReserveForDeletion([]string{"/r/b.m4a", "/r/a.m4a", "/r/b.m4a"})
	require.Len(t, reserved, 1)
	assert.Equal(t, "/r/b.m4a", reserved[0].FilePath)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrInvalidTransition)

	// Reserved records reject other transitions.
	assert.ErrorIs(t, lib.UndoOne("/r/b.m4a"), ErrInvalidTransition)

	// An empty selection picks up every confirmed record not already reserved.
	all, failed := lib.ReserveForDeletion(nil)
	assert.Empty(t, failed)
	require.Len(t, all, 1)
	assert.Equal(t, "/r/c.m4a", all[0].FilePath)

	lib.ReleaseDeletion([]string{"/r/b.m4a"}, []string{"/r/c.m4a"})
	_, ok := lib.Get("/r/b.m4a")
	assert.False(t, ok)
	rec, ok := lib.Get("/r/c.m4a")
	require.True(t, ok)
	assert.True(t, rec.Confirmed)
	assert.NoError(t, lib.UndoOne("/r/c.m4a"))
	assert.Equal(t, 3, lib.Len())
}

func TestExport(t *testing.T) {
	lib := newTestLibrary(t)
	lib.SetContacts(contacts.FromEntries(map[string]models.Contact{"13800138000": {Name: "Alice"}}))
	require.NoError(t, lib.ConfirmOne("/r/b.m4a", models.Unimportant))

	out := lib.Export()
	require.Len(t, out, 4)
	assert.Equal(t, models.ExportRecord{
		FilePath:       "/r/a.m4a",
		PhoneNumber:    "13800138000",
		ContactName:    "Alice",
		CallTime:       base.Add(3 * time.Hour).Format(time.RFC3339),
		Duration:       60,
		Classification: models.Important,
	}, out[0])
	assert.True(t, out[1].Confirmed)
}

func TestConcurrentTransitionsAndReclassify(t *testing.T) {
	lib := newTestLibrary(t)
	directory := contacts.FromEntries(map[string]models.Contact{"9999999": {Name: "Carol"}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			lib.Confirm([]string{"/r/c.m4a"}, models.Unimportant)
		}()
		go func() {
			defer wg.Done()
			lib.Undo([]string{"/r/c.m4a"})
		}()
		go func() {
			defer wg.Done()
			lib.SetContacts(directory)
		}()
	}
	wg.Wait()

	rec, ok := lib.Get("/r/c.m4a")
	require.True(t, ok)
	assert.True(t, rec.Classification.Valid())
}
