package engine

import "errors"

// FaultKind classifies single-run inference failures.
type FaultKind string

const (
	FaultTimeout     FaultKind = "timeout"
	FaultDeviceFault FaultKind = "device_fault"
	FaultOther       FaultKind = "other"
)

// loadError signals a checkpoint load failure. Recoverable: the slot
// is back to unloaded and a later ensure may succeed.
type loadError struct {
	id  string
	err error
}

func (e loadError) Error() string { return "load model " + e.id + ": " + e.err.Error() }
func (e loadError) Unwrap() error { return e.err }

// IsLoadError reports whether err is a model load failure.
func IsLoadError(err error) bool {
	var le loadError
	return errors.As(err, &le)
}

// fatalLoadLostError signals that the resident model was lost mid-run
// and a reload is required before any further inference.
type fatalLoadLostError struct{ id string }

func (e fatalLoadLostError) Error() string {
	return "model " + e.id + " no longer resident; reload required"
}

// IsFatalLoadLost reports whether err indicates a lost resident model.
func IsFatalLoadLost(err error) bool {
	var fe fatalLoadLostError
	return errors.As(err, &fe)
}

// inferenceError is a single-run failure. Unless the underlying fault
// was fatal, the engine stays ready for the same model.
type inferenceError struct {
	kind FaultKind
	err  error
}

func (e inferenceError) Error() string { return "inference (" + string(e.kind) + "): " + e.err.Error() }
func (e inferenceError) Unwrap() error { return e.err }

// IsInferenceError reports whether err is a single-run failure, and
// returns its kind when it is.
func IsInferenceError(err error) (FaultKind, bool) {
	var ie inferenceError
	if errors.As(err, &ie) {
		return ie.kind, true
	}
	return "", false
}

// ErrCancelled is returned by Infer when the run was stopped by the
// caller's context. Not an engine failure: the slot stays ready.
var ErrCancelled = errors.New("generation cancelled")

// DeviceFaultError wraps an accelerator-level fault reported by an
// adapter (e.g. out of memory during generation). Recoverable for the
// session unless also wrapped in FatalError.
type DeviceFaultError struct{ Err error }

func (e *DeviceFaultError) Error() string { return "device fault: " + e.Err.Error() }
func (e *DeviceFaultError) Unwrap() error { return e.Err }

// FatalError marks an adapter failure that corrupted the resident
// session: the engine drops to unloaded and the model must be loaded
// again before further runs.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "fatal runtime fault: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
