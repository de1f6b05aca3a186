package library

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownRecording is returned for paths not in the current load cycle.
	ErrUnknownRecording = errors.New("unknown recording")
	// ErrInvalidDecision is returned when confirming with anything other than
	// Important or Unimportant.
	ErrInvalidDecision = errors.New("invalid decision")
)

// TransitionError reports a lifecycle operation that is illegal in the
// record's current state.
type TransitionError struct {
	Path      string
	Op        string
	Confirmed bool
	Deleting  bool
}

func (e *TransitionError) Error() string {
	state := "pending"
	switch {
	case e.Deleting:
		state = "being deleted"
	case e.Confirmed:
		state = "confirmed"
	}
	return fmt.Sprintf("%s %s: recording is %s", e.Op, e.Path, state)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ItemError pairs a path with the reason a batch member was not processed.
type ItemError struct {
	Path string
	Err  error
}

// BatchResult reports the outcome of a best-effort batch operation.
type BatchResult struct {
	Applied []string
	Failed  []ItemError
}

// Err joins the per-item failures, or returns nil when every item succeeded.
func (r BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}
