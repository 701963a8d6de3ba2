package lifecycle

import (
	"errors"
	"fmt"
)

// ErrTransitionDenied is returned when a status change violates a transition
// guard, e.g. completing a job that has no receipt on file.
var ErrTransitionDenied = errors.New("lifecycle: transition denied")

// ValidationError reports a malformed field value. The caller is expected to
// have constrained input already; the engine rejects rather than coercing so a
// data-entry mistake is never silently recorded as a zero-cost job.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lifecycle: invalid %s: %s", e.Field, e.Reason)
}
