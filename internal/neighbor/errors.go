package neighbor

import "fmt"

// OverflowError reports that an atom has more true neighbors inside the
// cutoff than the caller-provided capacity. It is recoverable: rebuild with
// Capacity >= Required and the same call succeeds.
type OverflowError struct {
	Atom     int // real-atom index with the largest neighbor count
	Capacity int // capacity the caller provided
	Required int // smallest capacity that would succeed
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("neighbor: atom %d has %d neighbors within cutoff, capacity is %d (retry with capacity >= %d)",
		e.Atom, e.Required, e.Capacity, e.Required)
}
