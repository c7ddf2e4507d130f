package pipeline

// busyError signals a run request while another is in flight. No
// implicit queueing: the caller retries after the current run ends.
type busyError struct{}

func (busyError) Error() string { return "a run is already in flight" }

// IsBusy reports whether err indicates a rejected concurrent run.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// invalidImageError signals an unreadable or undecodable source image.
type invalidImageError struct{ err error }

func (e invalidImageError) Error() string { return "invalid image: " + e.err.Error() }
func (e invalidImageError) Unwrap() error { return e.err }

// IsInvalidImage reports whether err indicates a bad source image.
func IsInvalidImage(err error) bool {
	_, ok := err.(invalidImageError)
	return ok
}

// ErrBusy constructs the canonical busy rejection.
func ErrBusy() error { return busyError{} }

// ErrInvalidImage wraps err as the canonical bad-image rejection.
func ErrInvalidImage(err error) error { return invalidImageError{err: err} }

// cannotCancelError signals a cancel request that cannot be honored.
type cannotCancelError struct{ reason string }

func (e cannotCancelError) Error() string { return "cannot cancel: " + e.reason }

// IsCannotCancel reports whether err indicates an unhonorable cancel.
func IsCannotCancel(err error) bool {
	_, ok := err.(cannotCancelError)
	return ok
}

// ErrCannotCancel constructs the canonical unhonorable-cancel error.
func ErrCannotCancel(reason string) error { return cannotCancelError{reason: reason} }
