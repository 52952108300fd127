package artifact

import (
	"fmt"

	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
)

// Model is the in-memory contents of a .dpf artifact: the hyperparameters,
// the descriptor normalization statistics and the fitting network.
type Model struct {
	TypeMap  []string
	Rcut     float64
	RcutSmth float64
	Sel      []int

	// Stats holds avg/std per (center type, neighbor slot, component); both
	// slices have length len(TypeMap)*NNei()*4 and are stored as float64
	// regardless of the network precision.
	Stats *descriptor.Stats

	Net *fitting.Net
}

// NNei returns the fixed neighbor slot count, the sum of the per-type budgets.
func (m *Model) NNei() int {
	n := 0
	for _, s := range m.Sel {
		n += s
	}
	return n
}

// Validate checks the hyperparameters and the shape contract between them,
// the statistics and the network.
func (m *Model) Validate() error {
	ntypes := len(m.TypeMap)
	if ntypes == 0 {
		return fmt.Errorf("artifact: empty type map")
	}
	if len(m.Sel) != ntypes {
		return fmt.Errorf("artifact: %d selection budgets for %d types", len(m.Sel), ntypes)
	}
	for t, s := range m.Sel {
		if s <= 0 {
			return fmt.Errorf("artifact: type %d has non-positive neighbor budget %d", t, s)
		}
	}
	if m.RcutSmth < 0 || m.Rcut <= m.RcutSmth {
		return fmt.Errorf("artifact: need 0 <= rcut_smth < rcut, got %g and %g", m.RcutSmth, m.Rcut)
	}
	if m.Net == nil {
		return fmt.Errorf("artifact: missing fitting network")
	}
	if err := m.Net.Validate(); err != nil {
		return err
	}
	if m.Net.NTypes != ntypes {
		return fmt.Errorf("artifact: network covers %d types, type map has %d", m.Net.NTypes, ntypes)
	}
	if want := m.NNei() * 4; m.Net.InDim != want {
		return fmt.Errorf("artifact: network input width %d, selection budgets imply %d", m.Net.InDim, want)
	}
	if m.Stats == nil {
		return fmt.Errorf("artifact: missing normalization statistics")
	}
	if want := ntypes * m.NNei() * 4; len(m.Stats.Avg) != want || len(m.Stats.Std) != want {
		return fmt.Errorf("artifact: statistics cover %d/%d components, want %d",
			len(m.Stats.Avg), len(m.Stats.Std), want)
	}
	return nil
}
