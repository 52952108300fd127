package neighbor

import (
	"math"

	"github.com/deepforce-ml/deepforce/internal/geom"
)

// Ghost records one periodic image atom: the real atom it replicates and the
// integer lattice shift that produced it. Ghosts are kept in an index-based
// arena; neighbor entries refer to ghosts by extended index, never by pointer.
type Ghost struct {
	Real  int32
	Shift [3]int16
}

// Extended holds the real atoms followed by their materialized periodic
// images. Extended indices [0, NReal) are real atoms; [NReal, len(Types))
// are ghosts described by Ghosts[idx-NReal].
type Extended struct {
	Coords []float64 // flat Nx3, wrapped into the primary cell for real atoms
	Types  []int32
	Ghosts []Ghost
	NReal  int
}

// NAll returns the number of extended atoms (real + ghost).
func (e *Extended) NAll() int {
	return len(e.Types)
}

// Resolve maps an extended index to its originating real atom and lattice
// shift. Real atoms resolve to themselves with a zero shift.
func (e *Extended) Resolve(idx int32) (real int32, shift [3]int16) {
	if int(idx) < e.NReal {
		return idx, [3]int16{}
	}
	g := e.Ghosts[int(idx)-e.NReal]
	return g.Real, g.Shift
}

func (e *Extended) reset(nreal int) {
	e.Coords = e.Coords[:0]
	e.Types = e.Types[:0]
	e.Ghosts = e.Ghosts[:0]
	e.NReal = nreal
}

// replicate appends ghost images of all real atoms for every lattice shift a
// cutoff of rcut can reach. The number of image shells per periodic axis
// follows from the perpendicular cell width: thin cells need more than one
// shell. Images falling outside the primary region's bounding box expanded by
// rcut can never be a neighbor of a wrapped real atom and are skipped.
func (e *Extended) replicate(box *geom.Box, rcut float64) {
	if !box.Periodic() {
		return
	}

	var shells [3]int
	face := box.FaceDistances()
	for ax := 0; ax < 3; ax++ {
		if box.PeriodicAxis(ax) {
			shells[ax] = int(math.Ceil(rcut / face[ax]))
		}
	}

	var lo, hi [3]float64
	for d := 0; d < 3; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for i := 0; i < e.NReal; i++ {
		for d := 0; d < 3; d++ {
			lo[d] = math.Min(lo[d], e.Coords[3*i+d])
			hi[d] = math.Max(hi[d], e.Coords[3*i+d])
		}
	}
	for d := 0; d < 3; d++ {
		lo[d] -= rcut
		hi[d] += rcut
	}

	for n := -shells[0]; n <= shells[0]; n++ {
		for m := -shells[1]; m <= shells[1]; m++ {
			for k := -shells[2]; k <= shells[2]; k++ {
				if n == 0 && m == 0 && k == 0 {
					continue
				}
				s := box.Shift(n, m, k)
				for i := 0; i < e.NReal; i++ {
					x := e.Coords[3*i] + s[0]
					y := e.Coords[3*i+1] + s[1]
					z := e.Coords[3*i+2] + s[2]
					if x < lo[0] || x > hi[0] || y < lo[1] || y > hi[1] || z < lo[2] || z > hi[2] {
						continue
					}
					e.Coords = append(e.Coords, x, y, z)
					e.Types = append(e.Types, e.Types[i])
					e.Ghosts = append(e.Ghosts, Ghost{
						Real:  int32(i),
						Shift: [3]int16{int16(n), int16(m), int16(k)},
					})
				}
			}
		}
	}
}
