package neighbor

import (
	"fmt"
	"sort"

	"github.com/deepforce-ml/deepforce/internal/parallel"
)

// PadIndex marks an unused neighbor slot. Padding slots carry zero geometry
// and must contribute exactly zero downstream.
const PadIndex int32 = -1

// List is the fixed-shape, type-sorted neighbor list a model consumes. For
// every real atom there are NNei slots: Sel[0] slots for neighbors of type 0,
// then Sel[1] for type 1, and so on. Within a type, neighbors are sorted by
// ascending distance; surplus slots hold PadIndex with zeroed geometry. The
// shape depends only on the model's selection budget, never on the
// configuration, so evaluations are batchable across heterogeneous systems.
type List struct {
	NReal int
	NNei  int
	Sel   []int
	Ext   *Extended
	Idx   []int32   // [NReal*NNei]
	Vec   []float64 // [NReal*NNei*3]
	Dist  []float64 // [NReal*NNei]

	offsets []int
}

// Isolated reports whether atom i has no selected neighbors, every slot
// being padding.
func (l *List) Isolated(i int) bool {
	for k := i * l.NNei; k < (i+1)*l.NNei; k++ {
		if l.Idx[k] != PadIndex {
			return false
		}
	}
	return true
}

// Selector applies the per-type selection budget the model was trained with.
// Like Builder it owns reusable output memory.
type Selector struct {
	cfg parallel.Config
	out List
}

// NewSelector creates a Selector using the given worker pool configuration.
func NewSelector(cfg parallel.Config) *Selector {
	return &Selector{cfg: cfg}
}

// Select partitions each atom's candidates by neighbor type, truncates every
// type's list to its selection budget (keeping the nearest neighbors; ties
// broken by ascending extended index, which is part of the trained model's
// contract), and pads short lists up to the budget.
//
// Truncation is silent: the model was fit under the same budget, so excess
// neighbors are an accepted approximation, not an error.
func (s *Selector) Select(c *Candidates, ntypes int, sel []int) (*List, error) {
	if len(sel) != ntypes {
		return nil, fmt.Errorf("neighbor: selection budget has %d entries for %d types", len(sel), ntypes)
	}
	nnei := 0
	for t, v := range sel {
		if v < 0 {
			return nil, fmt.Errorf("neighbor: negative selection budget %d for type %d", v, t)
		}
		nnei += v
	}

	n := len(c.Count)
	s.out.NReal = n
	s.out.NNei = nnei
	s.out.Ext = c.Ext
	s.out.Sel = append(s.out.Sel[:0], sel...)
	s.out.offsets = append(s.out.offsets[:0], make([]int, ntypes)...)
	for t, off := 1, 0; t <= ntypes-1; t++ {
		off += sel[t-1]
		s.out.offsets[t] = off
	}
	s.out.Idx = growInt32(s.out.Idx, n*nnei)
	s.out.Dist = growFloat64(s.out.Dist, n*nnei)
	s.out.Vec = growFloat64(s.out.Vec, n*nnei*3)

	parallel.For(n, func(i int) {
		s.selectAtom(c, i, ntypes)
	}, s.cfg)

	return &s.out, nil
}

func (s *Selector) selectAtom(c *Candidates, i, ntypes int) {
	base := i * c.Cap
	count := int(c.Count[i])

	// Candidate order per atom, sorted by (distance, extended index). The
	// secondary key makes truncation deterministic when distances tie.
	order := make([]int32, count)
	for k := range order {
		order[k] = int32(base + k)
	}
	sort.Slice(order, func(a, b int) bool {
		ka, kb := order[a], order[b]
		if c.Dist[ka] != c.Dist[kb] {
			return c.Dist[ka] < c.Dist[kb]
		}
		return c.Idx[ka] < c.Idx[kb]
	})

	// Clear atom i's slots, then scatter candidates into their type segment.
	lbase := i * s.out.NNei
	for k := 0; k < s.out.NNei; k++ {
		s.out.Idx[lbase+k] = PadIndex
		s.out.Dist[lbase+k] = 0
		s.out.Vec[3*(lbase+k)] = 0
		s.out.Vec[3*(lbase+k)+1] = 0
		s.out.Vec[3*(lbase+k)+2] = 0
	}

	filled := make([]int, ntypes)
	for _, k := range order {
		t := int(c.Ext.Types[c.Idx[k]])
		if t < 0 || t >= ntypes || filled[t] >= s.out.Sel[t] {
			continue // unknown type or budget exhausted: drop silently
		}
		slot := lbase + s.out.offsets[t] + filled[t]
		filled[t]++
		s.out.Idx[slot] = c.Idx[k]
		s.out.Dist[slot] = c.Dist[k]
		s.out.Vec[3*slot] = c.Vec[3*k]
		s.out.Vec[3*slot+1] = c.Vec[3*k+1]
		s.out.Vec[3*slot+2] = c.Vec[3*k+2]
	}
}
