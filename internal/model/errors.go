package model

import "fmt"

// LoadError wraps any failure to open, parse or validate a model artifact.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model: failed to load %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PrecisionError reports a precision the loaded artifact cannot serve:
// either the caller requested a precision the model was not exported in, or
// the selected device cannot execute the artifact's precision class.
type PrecisionError struct {
	Requested string // precision the caller asked for, empty if implied
	Artifact  string // precision the artifact carries
	Device    string // device that cannot execute it, empty for a request mismatch
}

func (e *PrecisionError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("model: %s cannot execute %s artifacts", e.Device, e.Artifact)
	}
	return fmt.Sprintf("model: requested %s but artifact was exported in %s", e.Requested, e.Artifact)
}
