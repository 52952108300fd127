// Package fitting holds the trained fitting network: per-type dense layers
// mapping an atom's environment matrix to its energy contribution. The
// package only owns the parameters and their shape contract; each compute
// backend implements the forward pass and the analytic gradient on its own
// device.
package fitting

import (
	"fmt"

	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Net is a per-center-type multilayer perceptron with tanh hidden layers and
// a linear scalar head, plus a per-type isolated-atom energy bias. All weight
// tensors share one precision class (the precision the model was exported in).
type Net struct {
	InDim  int   // flattened environment matrix width (nnei*4)
	Hidden []int // hidden layer widths, identical across types
	NTypes int
	DType  tensor.DataType

	// Weights[t][l] has shape {out, in}; Biases[t][l] has shape {out}.
	// Layer l=len(Hidden) is the linear head with out=1.
	Weights [][]*tensor.RawTensor
	Biases  [][]*tensor.RawTensor

	// EnergyBias is the isolated-atom reference energy per type; an atom
	// with no neighbors contributes exactly this much.
	EnergyBias []float64
}

// New allocates a zero-initialized Net with the given architecture.
func New(inDim int, hidden []int, ntypes int, dtype tensor.DataType) (*Net, error) {
	n := &Net{
		InDim:      inDim,
		Hidden:     append([]int(nil), hidden...),
		NTypes:     ntypes,
		DType:      dtype,
		EnergyBias: make([]float64, ntypes),
	}
	dims := n.LayerDims()
	for t := 0; t < ntypes; t++ {
		var ws, bs []*tensor.RawTensor
		for l := 0; l+1 < len(dims); l++ {
			w, err := tensor.NewRaw(tensor.Shape{dims[l+1], dims[l]}, dtype, tensor.CPU)
			if err != nil {
				return nil, err
			}
			b, err := tensor.NewRaw(tensor.Shape{dims[l+1]}, dtype, tensor.CPU)
			if err != nil {
				return nil, err
			}
			ws = append(ws, w)
			bs = append(bs, b)
		}
		n.Weights = append(n.Weights, ws)
		n.Biases = append(n.Biases, bs)
	}
	return n, nil
}

// LayerDims returns the full width chain [InDim, Hidden..., 1].
func (n *Net) LayerDims() []int {
	dims := make([]int, 0, len(n.Hidden)+2)
	dims = append(dims, n.InDim)
	dims = append(dims, n.Hidden...)
	return append(dims, 1)
}

// NumLayers returns the number of dense layers (hidden + head).
func (n *Net) NumLayers() int {
	return len(n.Hidden) + 1
}

// MaxWidth returns the widest layer, which sizes per-worker scratch.
func (n *Net) MaxWidth() int {
	w := n.InDim
	for _, h := range n.Hidden {
		if h > w {
			w = h
		}
	}
	return w
}

// Validate checks the internal shape chain of every per-type network.
func (n *Net) Validate() error {
	if n.InDim <= 0 {
		return fmt.Errorf("fitting: input width must be positive, got %d", n.InDim)
	}
	if n.NTypes <= 0 {
		return fmt.Errorf("fitting: need at least one type, got %d", n.NTypes)
	}
	if len(n.Weights) != n.NTypes || len(n.Biases) != n.NTypes || len(n.EnergyBias) != n.NTypes {
		return fmt.Errorf("fitting: parameter tables cover %d/%d/%d types, want %d",
			len(n.Weights), len(n.Biases), len(n.EnergyBias), n.NTypes)
	}
	dims := n.LayerDims()
	for t := 0; t < n.NTypes; t++ {
		if len(n.Weights[t]) != n.NumLayers() || len(n.Biases[t]) != n.NumLayers() {
			return fmt.Errorf("fitting: type %d has %d weight and %d bias layers, want %d",
				t, len(n.Weights[t]), len(n.Biases[t]), n.NumLayers())
		}
		for l := 0; l+1 < len(dims); l++ {
			wantW := tensor.Shape{dims[l+1], dims[l]}
			if !n.Weights[t][l].Shape().Equal(wantW) {
				return fmt.Errorf("fitting: type %d layer %d weight shape %v, want %v",
					t, l, n.Weights[t][l].Shape(), wantW)
			}
			if !n.Biases[t][l].Shape().Equal(tensor.Shape{dims[l+1]}) {
				return fmt.Errorf("fitting: type %d layer %d bias shape %v, want %v",
					t, l, n.Biases[t][l].Shape(), tensor.Shape{dims[l+1]})
			}
			if n.Weights[t][l].DType() != n.DType || n.Biases[t][l].DType() != n.DType {
				return fmt.Errorf("fitting: type %d layer %d precision mismatch", t, l)
			}
		}
	}
	return nil
}
