package backend

import "fmt"

// UnavailableError reports that no usable execution backend exists for the
// requested device. It is fatal at model-load time; evaluation calls never
// fail for backend-selection reasons.
type UnavailableError struct {
	Device string
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend: no usable backend for device %q: %s", e.Device, e.Reason)
}

// ExecutionError reports a numerical or device failure during evaluation
// (for example accelerator out-of-memory). The runtime never silently falls
// back to another backend: that would change numerical behavior mid-run.
type ExecutionError struct {
	Backend string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("backend %s: evaluation failed: %v", e.Backend, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
