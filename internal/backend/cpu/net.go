package cpu

import (
	"math"

	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// scratch holds one worker's forward activations and backward deltas. Sized
// once per worker chunk; reused for every atom in the chunk.
type scratch[T tensor.Float] struct {
	act  [][]T // tanh outputs of each hidden layer
	da   []T   // dE/d(activation) being propagated
	db   []T   // swap buffer
	grad []T   // dE/d(input row)
}

func newScratch[T tensor.Float](net *fitting.Net) *scratch[T] {
	dims := net.LayerDims()
	s := &scratch[T]{
		da:   make([]T, net.MaxWidth()),
		db:   make([]T, net.MaxWidth()),
		grad: make([]T, net.InDim),
	}
	for l := 0; l < len(net.Hidden); l++ {
		s.act = append(s.act, make([]T, dims[l+1]))
	}
	return s
}

// forward runs the fitting network for one atom and returns the raw energy
// (bias excluded). Hidden activations are kept for the backward pass.
func forward[T tensor.Float](net *fitting.Net, typ int, row []T, s *scratch[T]) T {
	aPrev := row
	nHidden := len(net.Hidden)
	for l := 0; l < nHidden; l++ {
		w := tensor.View[T](net.Weights[typ][l])
		bias := tensor.View[T](net.Biases[typ][l])
		out := s.act[l]
		in := len(aPrev)
		for o := range out {
			z := bias[o]
			wr := w[o*in : (o+1)*in]
			for i, a := range aPrev {
				z += wr[i] * a
			}
			out[o] = T(math.Tanh(float64(z)))
		}
		aPrev = out
	}

	// Linear head: single output.
	head := net.NumLayers() - 1
	w := tensor.View[T](net.Weights[typ][head])
	bias := tensor.View[T](net.Biases[typ][head])
	z := bias[0]
	for i, a := range aPrev {
		z += w[i] * a
	}
	return z
}

// zeroOffsets evaluates the network on an all-zero input row per type. The
// backend subtracts this response so a vanishing environment contributes
// nothing beyond the isolated-atom bias, keeping the energy continuous as
// neighbors cross the cutoff.
func zeroOffsets[T tensor.Float](net *fitting.Net) []float64 {
	s := newScratch[T](net)
	row := make([]T, net.InDim)
	out := make([]float64, net.NTypes)
	for t := range out {
		out[t] = float64(forward(net, t, row, s))
	}
	return out
}

// backward propagates dE/dz = 1 at the head back to the input row and
// returns dE/d(input). Must follow a forward call for the same atom.
func backward[T tensor.Float](net *fitting.Net, typ int, s *scratch[T]) []T {
	dims := net.LayerDims()
	head := net.NumLayers() - 1

	// dE/da for the last hidden layer (or the input when there are no
	// hidden layers) is the head's weight row.
	w := tensor.View[T](net.Weights[typ][head])
	if head == 0 {
		copy(s.grad, w[:net.InDim])
		return s.grad
	}
	cur := s.da[:dims[head]]
	copy(cur, w[:dims[head]])

	for l := head - 1; l >= 0; l-- {
		// Through the tanh of hidden layer l: dE/dz = dE/da * (1 - a^2).
		act := s.act[l]
		for o := range cur {
			cur[o] *= 1 - act[o]*act[o]
		}

		// Through the dense layer: dE/da_prev = W^T dE/dz.
		w := tensor.View[T](net.Weights[typ][l])
		in := dims[l]
		var prev []T
		if l == 0 {
			prev = s.grad[:in]
		} else {
			prev = s.db[:in]
		}
		for i := range prev {
			prev[i] = 0
		}
		for o := range cur {
			wr := w[o*in : (o+1)*in]
			g := cur[o]
			for i := range prev {
				prev[i] += g * wr[i]
			}
		}
		if l > 0 {
			s.da, s.db = s.db, s.da
			cur = s.da[:in]
		}
	}
	return s.grad
}
