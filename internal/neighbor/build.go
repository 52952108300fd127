// Package neighbor builds capped, type-partitioned neighbor lists under
// periodic boundary conditions using a cell-list spatial partition with
// ghost-atom replication.
package neighbor

import (
	"fmt"
	"math"

	"github.com/deepforce-ml/deepforce/internal/geom"
	"github.com/deepforce-ml/deepforce/internal/parallel"
)

// Below this many extended atoms the cell grid buys nothing; compare all pairs.
const allPairsThreshold = 64

// Candidates is the raw output of a neighbor search: for every real atom, up
// to Cap neighbors within the cutoff, as extended indices with precomputed
// displacement vectors and distances. Count holds the true neighbor count,
// which may exceed Cap only transiently while detecting overflow.
type Candidates struct {
	Ext   *Extended
	Cap   int
	Count []int32
	Idx   []int32   // [nreal*Cap] extended neighbor indices
	Vec   []float64 // [nreal*Cap*3] displacement from atom to neighbor
	Dist  []float64 // [nreal*Cap]
}

// Builder performs neighbor searches. It owns all scratch memory and reuses
// it across calls, so a Builder is cheap to call every timestep but must not
// be shared between concurrent evaluations.
type Builder struct {
	cfg  parallel.Config
	ext  Extended
	grid cellGrid
	out  Candidates
	reqd []int32 // per-atom true neighbor count scratch
}

// NewBuilder creates a Builder using the given worker pool configuration.
func NewBuilder(cfg parallel.Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build wraps the input coordinates into the primary cell, materializes ghost
// images for periodic boundaries, and collects for every real atom the
// neighbors within rcut. The caller's coords slice is not modified.
//
// capacity bounds the per-atom candidate count. If any atom's true neighbor
// count exceeds it, Build fails with *OverflowError carrying the capacity
// that a retry needs.
func (b *Builder) Build(coords []float64, types []int32, box *geom.Box, rcut float64, capacity int) (*Candidates, error) {
	n := len(types)
	if len(coords) != 3*n {
		return nil, fmt.Errorf("neighbor: coords length %d does not match %d atoms", len(coords), n)
	}
	if rcut <= 0 {
		return nil, fmt.Errorf("neighbor: cutoff must be positive, got %g", rcut)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("neighbor: capacity must be positive, got %d", capacity)
	}

	b.ext.reset(n)
	b.ext.Coords = append(b.ext.Coords, coords...)
	b.ext.Types = append(b.ext.Types, types...)
	if box.Periodic() {
		box.Wrap(b.ext.Coords[:3*n])
		b.ext.replicate(box, rcut)
	}

	b.prepare(n, capacity)
	nall := b.ext.NAll()
	rc2 := rcut * rcut

	if nall < allPairsThreshold {
		for i := 0; i < n; i++ {
			b.scanAtom(i, rc2, func(visit func(j int32)) {
				for j := 0; j < nall; j++ {
					visit(int32(j))
				}
			})
		}
	} else {
		b.grid.build(b.ext.Coords, nall, rcut)
		parallel.For(n, func(i int) {
			xi := b.ext.Coords[3*i]
			yi := b.ext.Coords[3*i+1]
			zi := b.ext.Coords[3*i+2]
			b.scanAtom(i, rc2, func(visit func(j int32)) {
				b.grid.visitNeighborhood(xi, yi, zi, func(head int32) {
					for j := head; j >= 0; j = b.grid.next[j] {
						visit(j)
					}
				})
			})
		}, b.cfg)
	}

	// Overflow is detected after the full pass so the error can report the
	// largest required capacity, letting the caller retry exactly once.
	worst, required := -1, 0
	for i := 0; i < n; i++ {
		if int(b.reqd[i]) > required {
			worst, required = i, int(b.reqd[i])
		}
	}
	if required > capacity {
		return nil, &OverflowError{Atom: worst, Capacity: capacity, Required: required}
	}
	for i := 0; i < n; i++ {
		b.out.Count[i] = b.reqd[i]
	}
	return &b.out, nil
}

// scanAtom filters the candidate stream for atom i by distance and writes
// accepted neighbors into atom i's private segment of the output arrays.
func (b *Builder) scanAtom(i int, rc2 float64, source func(visit func(j int32))) {
	xi := b.ext.Coords[3*i]
	yi := b.ext.Coords[3*i+1]
	zi := b.ext.Coords[3*i+2]
	base := i * b.out.Cap
	count := 0

	source(func(j int32) {
		if int(j) == i {
			return
		}
		dx := b.ext.Coords[3*j] - xi
		dy := b.ext.Coords[3*j+1] - yi
		dz := b.ext.Coords[3*j+2] - zi
		r2 := dx*dx + dy*dy + dz*dz
		if r2 > rc2 || r2 == 0 {
			return
		}
		if count < b.out.Cap {
			k := base + count
			b.out.Idx[k] = j
			b.out.Vec[3*k] = dx
			b.out.Vec[3*k+1] = dy
			b.out.Vec[3*k+2] = dz
			b.out.Dist[k] = math.Sqrt(r2)
		}
		count++
	})
	b.reqd[i] = int32(count)
}

func (b *Builder) prepare(n, capacity int) {
	b.out.Ext = &b.ext
	b.out.Cap = capacity
	b.out.Count = growInt32(b.out.Count, n)
	b.reqd = growInt32(b.reqd, n)
	b.out.Idx = growInt32(b.out.Idx, n*capacity)
	b.out.Dist = growFloat64(b.out.Dist, n*capacity)
	b.out.Vec = growFloat64(b.out.Vec, n*capacity*3)
}

func growInt32(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}

func growFloat64(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}
