package adqcore

import "github.com/sthenic/adqcore/queue"

// errInternal builds a *queue.Error with StatusInternal, the kind §7
// reserves for a broken invariant within one record's processing.
func errInternal(format string, args ...any) error {
	return queue.NewError(queue.StatusInternal, format, args...)
}

// errUnsupported builds a *queue.Error with StatusUnsupported.
func errUnsupported(format string, args ...any) error {
	return queue.NewError(queue.StatusUnsupported, format, args...)
}
