package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"call-triage/internal/models"
)

// ErrMetadata is matched by every *MetadataError.
var ErrMetadata = errors.New("metadata unavailable")

// MetadataError reports that a file could not be stat'ed, which is the only
// extraction failure surfaced to callers.
type MetadataError struct {
	Path string
	Err  error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata for %s: %v", e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

func (e *MetadataError) Is(target error) bool {
	return target == ErrMetadata
}

var (
	// Leftmost digit run wins; at a given position eleven digits are preferred
	// over a shorter 7-10 digit run.
	phonePattern    = regexp.MustCompile(`(\d{11}|\d{7,10})`)
	callTimePattern = regexp.MustCompile(`_(\d{8})_(\d{6})`)
)

const callTimeLayout = "20060102150405"

// Extractor derives Recording metadata from a single audio file.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor returns an Extractor logging probe fallbacks to logger.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// BuildRecording constructs the Recording for path. The only error it returns
// is a *MetadataError when the file cannot be stat'ed; every other extraction
// problem degrades to a default value.
func (e *Extractor) BuildRecording(path string) (models.Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Recording{}, &MetadataError{Path: path, Err: err}
	}

	callTime, ok := CallTimeFromName(path)
	if !ok {
		callTime = info.ModTime()
	}

	return models.Recording{
		FilePath:        path,
		PhoneNumber:     ExtractPhoneNumber(path),
		CallTime:        callTime,
		DurationSeconds: e.Duration(path),
		Classification:  models.PendingReview,
	}, nil
}

// ExtractPhoneNumber returns the first phone-like digit run in the base name
// of path, or models.UnknownPhone.
func ExtractPhoneNumber(path string) string {
	match := phonePattern.FindString(filepath.Base(path))
	if match == "" {
		return models.UnknownPhone
	}
	return match
}

// ExtractCallTime returns the timestamp embedded in the file name as
// _YYYYMMDD_HHMMSS (local time), falling back to the file's modification time.
func ExtractCallTime(path string) (time.Time, error) {
	if t, ok := CallTimeFromName(path); ok {
		return t, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, &MetadataError{Path: path, Err: err}
	}
	return info.ModTime(), nil
}

// CallTimeFromName parses the embedded call timestamp. A token that is not a
// valid calendar date/time is treated as absent.
func CallTimeFromName(path string) (time.Time, bool) {
	match := callTimePattern.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return time.Time{}, false
	}

	t, err := time.ParseInLocation(callTimeLayout, match[1]+match[2], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
