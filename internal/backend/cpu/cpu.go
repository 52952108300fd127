// Package cpu implements the reference compute backend: a pure Go forward
// pass and manual backpropagation through the fitting network, parallelized
// over atoms. Every other backend is validated against this one.
package cpu

import (
	"fmt"

	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/parallel"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Backend is the CPU reference implementation of the evaluate-with-gradient
// contract.
type Backend struct {
	cfg parallel.Config
	net *fitting.Net

	// zero is the per-type network response to an all-zero input row,
	// subtracted from every atom energy (see zeroOffsets).
	zero []float64
}

// New creates a CPU backend using the given worker pool configuration.
func New(cfg parallel.Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "cpu"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return tensor.CPU
}

// Upload installs the model parameters. The CPU backend keeps them in host
// memory as-is.
func (b *Backend) Upload(net *fitting.Net) error {
	if err := net.Validate(); err != nil {
		return err
	}
	b.net = net
	switch net.DType {
	case tensor.Float64:
		b.zero = zeroOffsets[float64](net)
	case tensor.Float32:
		b.zero = zeroOffsets[float32](net)
	}
	return nil
}

// Release drops the parameter reference.
func (b *Backend) Release() {
	b.net = nil
	b.zero = nil
}

// Evaluate runs the fitting network and its analytic gradient for every atom.
// Atoms are independent, so the work is chunked across the worker pool with
// per-worker scratch; no synchronization is needed beyond the final join.
func (b *Backend) Evaluate(in *descriptor.Input, out *backend.Output) error {
	if b.net == nil {
		return &backend.ExecutionError{Backend: b.Name(), Err: fmt.Errorf("no model uploaded")}
	}
	if in.NNei*4 != b.net.InDim {
		return &backend.ExecutionError{Backend: b.Name(),
			Err: fmt.Errorf("input width %d does not match model %d", in.NNei*4, b.net.InDim)}
	}
	out.Prepare(in.NAtoms, in.NNei)

	switch b.net.DType {
	case tensor.Float64:
		evaluate[float64](b, in, out)
	case tensor.Float32:
		evaluate[float32](b, in, out)
	default:
		return &backend.ExecutionError{Backend: b.Name(),
			Err: fmt.Errorf("unsupported precision %s", b.net.DType)}
	}
	return nil
}

func evaluate[T tensor.Float](b *Backend, in *descriptor.Input, out *backend.Output) {
	env := tensor.View[T](in.EnvMat)
	deriv := tensor.View[T](in.EnvDeriv)
	inDim := b.net.InDim

	parallel.ForWorkers(in.NAtoms, func(_, start, end int) {
		scratch := newScratch[T](b.net)
		for i := start; i < end; i++ {
			typ := int(in.Types[i])

			// An atom with no neighbors contributes exactly its isolated-atom
			// reference energy, never the network's response to an
			// all-padding row.
			if in.List.Isolated(i) {
				out.AtomEnergy[i] = b.net.EnergyBias[typ]
				for c := i * in.NNei * 3; c < (i+1)*in.NNei*3; c++ {
					out.PairForce[c] = 0
				}
				continue
			}

			row := env[i*inDim : (i+1)*inDim]

			energy := forward(b.net, typ, row, scratch)
			grad := backward(b.net, typ, scratch) // dE/d(env row)

			out.AtomEnergy[i] = float64(energy) - b.zero[typ] + b.net.EnergyBias[typ]

			// Chain through the environment-matrix derivative:
			// dE/dx_ik[ax] = sum_c dE/dR[k*4+c] * dR[k*4+c]/dx[ax].
			for k := 0; k < in.NNei; k++ {
				slot := i*in.NNei + k
				db := slot * 4 * 3
				var pf [3]T
				for c := 0; c < 4; c++ {
					g := grad[k*4+c]
					pf[0] += g * deriv[db+3*c]
					pf[1] += g * deriv[db+3*c+1]
					pf[2] += g * deriv[db+3*c+2]
				}
				out.PairForce[3*slot] = float64(pf[0])
				out.PairForce[3*slot+1] = float64(pf[1])
				out.PairForce[3*slot+2] = float64(pf[2])
			}
		}
	}, b.cfg)
}
