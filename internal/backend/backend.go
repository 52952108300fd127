// Package backend defines the contract every compute backend implements: the
// evaluate-with-gradient operation over assembled descriptor inputs. Backends
// differ only in execution device; the selection is made once at model load
// and never changes for the handle's lifetime.
package backend

import (
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Output carries one evaluation's raw results back to the reducer. Energies
// and gradients cross the backend boundary as float64 regardless of the
// device precision, so the reduction step behaves identically for every
// backend.
type Output struct {
	// AtomEnergy is the energy contribution per real atom, bias included.
	AtomEnergy []float64
	// PairForce is [natoms, nnei, 3]: the gradient of the total energy with
	// respect to each neighbor displacement vector. Padding slots are zero.
	PairForce []float64
}

// Prepare resizes the output buffers for natoms atoms with nnei neighbor
// slots each, reusing capacity from previous calls.
func (o *Output) Prepare(natoms, nnei int) {
	if cap(o.AtomEnergy) < natoms {
		o.AtomEnergy = make([]float64, natoms)
	}
	o.AtomEnergy = o.AtomEnergy[:natoms]
	n := natoms * nnei * 3
	if cap(o.PairForce) < n {
		o.PairForce = make([]float64, n)
	}
	o.PairForce = o.PairForce[:n]
}

// Backend is the evaluate-with-gradient contract. Implementations must be
// numerically equivalent up to the model's precision class. Evaluate blocks
// until the device has finished; callers may read Output immediately after
// it returns. A Backend is driven by one evaluation at a time.
type Backend interface {
	Name() string
	Device() tensor.Device

	// Upload installs the model parameters on the device. Called exactly
	// once, at model load, before any Evaluate.
	Upload(net *fitting.Net) error

	// Evaluate computes per-atom energies and the analytic gradient of the
	// energy with respect to every neighbor displacement. The gradient is
	// mandatory: forces are derivatives, never finite differences.
	Evaluate(in *descriptor.Input, out *Output) error

	// Release frees device-resident parameters and scratch.
	Release()
}
