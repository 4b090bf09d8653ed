// Package queue implements the concurrency substrate shared by every
// pipeline and controller in adqcore: a bounded thread-safe queue, a
// bidirectional id-stamped message channel built on top of it, and the
// worker-thread lifecycle both are plugged into.
package queue

import "fmt"

// Status is the failure-code taxonomy shared across queues, channels, and
// workers. It doubles as a non-error result (OK, Last) so callers can
// switch on it directly instead of unwrapping an error on the hot path.
type Status int

const (
	StatusOK Status = iota
	StatusLast
	StatusInvalid
	StatusAgain
	StatusOverflow
	StatusNotReady
	StatusInterrupted
	StatusIO
	StatusExternal
	StatusUnsupported
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusLast:
		return "Last"
	case StatusInvalid:
		return "Invalid"
	case StatusAgain:
		return "Again"
	case StatusOverflow:
		return "Overflow"
	case StatusNotReady:
		return "NotReady"
	case StatusInterrupted:
		return "Interrupted"
	case StatusIO:
		return "IO"
	case StatusExternal:
		return "External"
	case StatusUnsupported:
		return "Unsupported"
	case StatusInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Error pairs a Status with a human-readable message. Use errors.Is with
// another *Error (or a bare Status via StatusError) to test the kind
// without string matching.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, queue.StatusError(queue.StatusAgain)) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Status == e.Status
}

// StatusError builds a sentinel-style *Error carrying only a Status, handy
// as the target of errors.Is.
func StatusError(status Status) *Error { return &Error{Status: status} }

// NewError builds a *Error with a formatted message.
func NewError(status Status, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}
