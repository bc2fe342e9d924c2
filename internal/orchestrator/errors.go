package orchestrator

import "fmt"

// InvariantViolation is a scheduler logic defect: a concurrency ceiling
// exceeded or a story assigned twice. It is fatal to the session, never
// retried, because it indicates a programming error rather than an
// environmental fault.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "scheduler invariant violated: " + e.Reason
}

func invariantf(format string, args ...interface{}) error {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...)}
}
