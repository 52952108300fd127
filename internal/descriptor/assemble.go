package descriptor

import (
	"fmt"

	"github.com/deepforce-ml/deepforce/internal/neighbor"
	"github.com/deepforce-ml/deepforce/internal/parallel"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Stats holds the per-type normalization statistics the model was trained
// with: mean and standard deviation of every environment-matrix component,
// indexed [centerType*nnei*4 + slot*4 + component].
type Stats struct {
	Avg []float64
	Std []float64
}

// Input is the assembled model input for one evaluation: the normalized
// environment matrix, its analytic derivative and the raw displacement
// vectors, all in the model's precision class.
type Input struct {
	NAtoms int
	NNei   int
	Types  []int32 // center type per real atom

	// EnvMat is [natoms, nnei*4]: per neighbor slot (s, s*x/r, s*y/r, s*z/r),
	// normalized. Padding slots are exactly zero.
	EnvMat *tensor.RawTensor
	// EnvDeriv is [natoms, nnei*4, 3]: d(EnvMat)/d(displacement), normalized
	// by the same std. Padding slots are exactly zero.
	EnvDeriv *tensor.RawTensor
	// Rij is [natoms, nnei, 3]: raw displacement vectors (zero for padding).
	Rij *tensor.RawTensor
	// List is the neighbor list the input was assembled from; the reducer
	// uses it to scatter pair forces back onto atoms.
	List *neighbor.List
}

// Assembler computes Input tensors from a neighbor list. Output tensors are
// owned by the Assembler and reused across calls.
type Assembler struct {
	rmin, rmax float64
	dtype      tensor.DataType
	cfg        parallel.Config

	envMat   *tensor.RawTensor
	envDeriv *tensor.RawTensor
	rij      *tensor.RawTensor
	in       Input
}

// NewAssembler creates an Assembler for the model's smooth cutoff radii and
// precision class.
func NewAssembler(rcutSmth, rcut float64, dtype tensor.DataType, cfg parallel.Config) (*Assembler, error) {
	if rcutSmth < 0 || rcutSmth >= rcut {
		return nil, fmt.Errorf("descriptor: need 0 <= rcut_smth < rcut, got %g and %g", rcutSmth, rcut)
	}
	if dtype != tensor.Float32 && dtype != tensor.Float64 {
		return nil, fmt.Errorf("descriptor: unsupported precision %s", dtype)
	}
	return &Assembler{rmin: rcutSmth, rmax: rcut, dtype: dtype, cfg: cfg}, nil
}

// Assemble fills the environment matrix for every real atom in the list.
// types are the center types of the real atoms; stats supplies the trained
// normalization (nil means identity: avg 0, std 1).
func (a *Assembler) Assemble(list *neighbor.List, types []int32, stats *Stats) (*Input, error) {
	n, nnei := list.NReal, list.NNei
	if len(types) != n {
		return nil, fmt.Errorf("descriptor: %d center types for %d atoms", len(types), n)
	}
	if stats != nil && len(stats.Avg) < nnei*4 {
		return nil, fmt.Errorf("descriptor: normalization stats cover %d components, need %d per type", len(stats.Avg), nnei*4)
	}
	if err := a.prepare(n, nnei); err != nil {
		return nil, err
	}

	if a.dtype == tensor.Float64 {
		assembleInto[float64](a, list, types, stats)
	} else {
		assembleInto[float32](a, list, types, stats)
	}

	a.in = Input{
		NAtoms:   n,
		NNei:     nnei,
		Types:    types,
		EnvMat:   a.envMat,
		EnvDeriv: a.envDeriv,
		Rij:      a.rij,
		List:     list,
	}
	return &a.in, nil
}

func (a *Assembler) prepare(n, nnei int) error {
	if a.envMat == nil {
		var err error
		if a.envMat, err = tensor.NewRaw(tensor.Shape{n, nnei * 4}, a.dtype, tensor.CPU); err != nil {
			return err
		}
		if a.envDeriv, err = tensor.NewRaw(tensor.Shape{n, nnei * 4, 3}, a.dtype, tensor.CPU); err != nil {
			return err
		}
		if a.rij, err = tensor.NewRaw(tensor.Shape{n, nnei, 3}, a.dtype, tensor.CPU); err != nil {
			return err
		}
		return nil
	}
	if err := a.envMat.Resize(tensor.Shape{n, nnei * 4}); err != nil {
		return err
	}
	if err := a.envDeriv.Resize(tensor.Shape{n, nnei * 4, 3}); err != nil {
		return err
	}
	return a.rij.Resize(tensor.Shape{n, nnei, 3})
}

func assembleInto[T tensor.Float](a *Assembler, list *neighbor.List, types []int32, stats *Stats) {
	env := tensor.View[T](a.envMat)
	deriv := tensor.View[T](a.envDeriv)
	rij := tensor.View[T](a.rij)
	nnei := list.NNei

	parallel.For(list.NReal, func(i int) {
		sbase := 0
		if stats != nil {
			sbase = int(types[i]) * nnei * 4
		}
		for k := 0; k < nnei; k++ {
			slot := i*nnei + k
			eb := slot * 4      // env component base
			db := slot * 4 * 3  // deriv base
			rb := slot * 3      // rij base

			// Padding carries a zero placeholder distance: never divide by it.
			if list.Idx[slot] == neighbor.PadIndex {
				for c := 0; c < 4; c++ {
					env[eb+c] = 0
					deriv[db+3*c] = 0
					deriv[db+3*c+1] = 0
					deriv[db+3*c+2] = 0
				}
				rij[rb], rij[rb+1], rij[rb+2] = 0, 0, 0
				continue
			}

			r := list.Dist[slot]
			x := list.Vec[3*slot]
			y := list.Vec[3*slot+1]
			z := list.Vec[3*slot+2]
			c, dc := Envelope(r, a.rmin, a.rmax)

			inr := 1 / r
			s := c * inr          // s(r) = C(r)/r
			dsdr := dc*inr - s*inr // ds/dr
			v := [3]float64{x, y, z}

			// Component 0: s. dR0/dx_a = ds/dr * x_a/r.
			val := [4]float64{s, s * x * inr, s * y * inr, s * z * inr}
			var grad [4][3]float64
			for ax := 0; ax < 3; ax++ {
				grad[0][ax] = dsdr * v[ax] * inr
			}
			// Components 1..3: s*x_b/r.
			for b := 0; b < 3; b++ {
				for ax := 0; ax < 3; ax++ {
					g := grad[0][ax] * v[b] * inr
					if ax == b {
						g += s * inr
					}
					g -= s * v[ax] * v[b] * inr * inr * inr
					grad[b+1][ax] = g
				}
			}

			for comp := 0; comp < 4; comp++ {
				avg, std := 0.0, 1.0
				if stats != nil {
					avg = stats.Avg[sbase+k*4+comp]
					std = stats.Std[sbase+k*4+comp]
				}
				env[eb+comp] = T((val[comp] - avg) / std)
				for ax := 0; ax < 3; ax++ {
					deriv[db+3*comp+ax] = T(grad[comp][ax] / std)
				}
			}
			rij[rb] = T(x)
			rij[rb+1] = T(y)
			rij[rb+2] = T(z)
		}
	}, a.cfg)
}
