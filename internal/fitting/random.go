package fitting

import (
	"math"
	"math/rand"

	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Randomize fills the network with small reproducible weights. Test fixtures
// and the artifact writer's self-test use it; trained models come from the
// export pipeline instead.
func (n *Net) Randomize(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	dims := n.LayerDims()
	for t := range n.Weights {
		for l := range n.Weights[t] {
			scale := 1 / math.Sqrt(float64(dims[l]))
			fill(n.Weights[t][l], rng, scale)
			fill(n.Biases[t][l], rng, 0.1)
		}
	}
}

func fill(r *tensor.RawTensor, rng *rand.Rand, scale float64) {
	switch r.DType() {
	case tensor.Float32:
		data := r.AsFloat32()
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * scale)
		}
	default:
		data := r.AsFloat64()
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * scale
		}
	}
}
