package artifact

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced while opening a .dpf file.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes, not a .dpf file")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
)

// ValidationError reports a structural problem in the tensor table or the
// model hyperparameters of an otherwise well-formed file.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds", "missing_tensor"
	Tensor  string // primary tensor name involved, if any
	Tensor2 string // secondary tensor name (for overlap errors)
	Details string
}

func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
