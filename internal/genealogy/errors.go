package genealogy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an ID that does not exist in the source database.
	ErrNotFound = errors.New("record not found")
	// ErrTransient marks a fetch that failed after retries; the ID stays unresolved.
	ErrTransient = errors.New("transient fetch error")
	// ErrParse marks a page that was fetched but not recognized.
	ErrParse = errors.New("record parse failure")
	// ErrFatalSetup marks prior state that cannot be trusted; the run must abort.
	ErrFatalSetup = errors.New("fatal setup error")
	// ErrQueueClosed is returned by Queue.Dequeue once the queue is drained and closed.
	ErrQueueClosed = errors.New("queue closed")
)

// TransientError carries the last failure for an ID after retries ran out.
type TransientError struct {
	ID       int
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("id %d: %d attempt(s): %v", e.ID, e.Attempts, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransient) match.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// FatalSetup wraps err so that errors.Is(err, ErrFatalSetup) holds.
func FatalSetup(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatalSetup, fmt.Sprintf(format, args...))
}
