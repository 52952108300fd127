package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/neighbor"
	"github.com/deepforce-ml/deepforce/internal/parallel"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// assembleFixture builds a descriptor input for a small cluster.
func assembleFixture(t *testing.T, coords []float64, types []int32, sel []int, ntypes int, dtype tensor.DataType) *descriptor.Input {
	t.Helper()
	b := neighbor.NewBuilder(parallel.Sequential())
	c, err := b.Build(coords, types, nil, 4.0, 32)
	require.NoError(t, err)
	s := neighbor.NewSelector(parallel.Sequential())
	list, err := s.Select(c, ntypes, sel)
	require.NoError(t, err)
	a, err := descriptor.NewAssembler(1.0, 4.0, dtype, parallel.Sequential())
	require.NoError(t, err)
	in, err := a.Assemble(list, types, nil)
	require.NoError(t, err)
	return in
}

func clusterCoords() ([]float64, []int32) {
	return []float64{
		0, 0, 0,
		1.8, 0.2, -0.3,
		-0.9, 1.5, 0.7,
		0.4, -1.2, 1.9,
	}, []int32{0, 1, 0, 1}
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	net, err := fitting.New(16, []int{12, 8}, 2, tensor.Float64)
	require.NoError(t, err)
	net.Randomize(9)

	rng := rand.New(rand.NewSource(2))
	row := make([]float64, 16)
	for i := range row {
		row[i] = rng.Float64()*2 - 1
	}

	s := newScratch[float64](net)
	for typ := 0; typ < 2; typ++ {
		forward(net, typ, row, s)
		grad := append([]float64(nil), backward(net, typ, s)...)

		h := 1e-6
		for i := range row {
			orig := row[i]
			row[i] = orig + h
			ep := forward(net, typ, row, s)
			row[i] = orig - h
			em := forward(net, typ, row, s)
			row[i] = orig
			fd := float64(ep-em) / (2 * h)
			assert.InDelta(t, fd, grad[i], 1e-6, "type %d component %d", typ, i)
		}
	}
}

func TestBackwardLinearHead(t *testing.T) {
	// No hidden layers: the gradient is the weight row itself.
	net, err := fitting.New(8, nil, 1, tensor.Float64)
	require.NoError(t, err)
	net.Randomize(4)

	row := make([]float64, 8)
	for i := range row {
		row[i] = float64(i) * 0.1
	}
	s := newScratch[float64](net)
	forward(net, 0, row, s)
	grad := backward(net, 0, s)
	assert.Equal(t, net.Weights[0][0].AsFloat64(), grad)
}

func TestEvaluateLinearModel(t *testing.T) {
	coords, types := clusterCoords()
	sel := []int{3, 3}
	in := assembleFixture(t, coords, types, sel, 2, tensor.Float64)

	net, err := fitting.New(in.NNei*4, nil, 2, tensor.Float64)
	require.NoError(t, err)
	net.Randomize(17)
	net.EnergyBias[0] = -3.5
	net.EnergyBias[1] = 2.0

	b := New(parallel.Sequential())
	require.NoError(t, b.Upload(net))

	var out backend.Output
	require.NoError(t, b.Evaluate(in, &out))

	env := in.EnvMat.AsFloat64()
	deriv := in.EnvDeriv.AsFloat64()
	for i := 0; i < in.NAtoms; i++ {
		typ := int(types[i])
		w := net.Weights[typ][0].AsFloat64()
		// The head bias is the zero-input response and cancels against the
		// backend's zero offset.
		want := net.EnergyBias[typ]
		for d := 0; d < in.NNei*4; d++ {
			want += w[d] * env[i*in.NNei*4+d]
		}
		assert.InDelta(t, want, out.AtomEnergy[i], 1e-12, "atom %d energy", i)

		for k := 0; k < in.NNei; k++ {
			slot := i*in.NNei + k
			for ax := 0; ax < 3; ax++ {
				want := 0.0
				for c := 0; c < 4; c++ {
					want += w[k*4+c] * deriv[(slot*4+c)*3+ax]
				}
				assert.InDelta(t, want, out.PairForce[3*slot+ax], 1e-12)
			}
		}
	}
}

func TestEvaluatePaddingPairForceZero(t *testing.T) {
	// Two atoms, budget 5: four padding slots per atom must yield zero.
	coords := []float64{0, 0, 0, 1.5, 0, 0}
	types := []int32{0, 0}
	in := assembleFixture(t, coords, types, []int{5}, 1, tensor.Float64)

	net, err := fitting.New(in.NNei*4, []int{6}, 1, tensor.Float64)
	require.NoError(t, err)
	net.Randomize(23)

	b := New(parallel.Sequential())
	require.NoError(t, b.Upload(net))
	var out backend.Output
	require.NoError(t, b.Evaluate(in, &out))

	for i := 0; i < 2; i++ {
		for k := 1; k < 5; k++ { // slot 0 is the real neighbor
			slot := i*in.NNei + k
			for ax := 0; ax < 3; ax++ {
				assert.Zero(t, out.PairForce[3*slot+ax], "padding slot %d", k)
			}
		}
	}
}

func TestEvaluateIsolatedAtomBiasOnly(t *testing.T) {
	// Atom 2 is beyond the cutoff of the pair: its energy is the bare bias,
	// not the network's response to an all-padding row.
	coords := []float64{0, 0, 0, 1.5, 0, 0, 50, 0, 0}
	types := []int32{0, 0, 0}
	in := assembleFixture(t, coords, types, []int{4}, 1, tensor.Float64)

	net, err := fitting.New(in.NNei*4, []int{6}, 1, tensor.Float64)
	require.NoError(t, err)
	net.Randomize(41)
	net.EnergyBias[0] = -7.5

	b := New(parallel.Sequential())
	require.NoError(t, b.Upload(net))
	var out backend.Output
	require.NoError(t, b.Evaluate(in, &out))

	assert.Equal(t, -7.5, out.AtomEnergy[2])
	assert.NotEqual(t, -7.5, out.AtomEnergy[0])
	for k := 0; k < in.NNei; k++ {
		slot := 2*in.NNei + k
		for ax := 0; ax < 3; ax++ {
			assert.Zero(t, out.PairForce[3*slot+ax])
		}
	}
}

func TestEvaluateDeterministicAcrossThreadCounts(t *testing.T) {
	coords, types := clusterCoords()
	in := assembleFixture(t, coords, types, []int{3, 3}, 2, tensor.Float64)

	net, err := fitting.New(in.NNei*4, []int{10, 6}, 2, tensor.Float64)
	require.NoError(t, err)
	net.Randomize(31)

	seq := New(parallel.Sequential())
	require.NoError(t, seq.Upload(net))
	par := New(parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1})
	require.NoError(t, par.Upload(net))

	var a, b backend.Output
	require.NoError(t, seq.Evaluate(in, &a))
	require.NoError(t, par.Evaluate(in, &b))

	assert.Equal(t, a.AtomEnergy, b.AtomEnergy)
	assert.Equal(t, a.PairForce, b.PairForce)
}

func TestEvaluateFloat32Consistency(t *testing.T) {
	coords, types := clusterCoords()
	in64 := assembleFixture(t, coords, types, []int{3, 3}, 2, tensor.Float64)
	in32 := assembleFixture(t, coords, types, []int{3, 3}, 2, tensor.Float32)

	net64, err := fitting.New(in64.NNei*4, []int{10}, 2, tensor.Float64)
	require.NoError(t, err)
	net64.Randomize(13)
	net32, err := fitting.New(in32.NNei*4, []int{10}, 2, tensor.Float32)
	require.NoError(t, err)
	net32.Randomize(13)

	b64 := New(parallel.Sequential())
	require.NoError(t, b64.Upload(net64))
	b32 := New(parallel.Sequential())
	require.NoError(t, b32.Upload(net32))

	var o64, o32 backend.Output
	require.NoError(t, b64.Evaluate(in64, &o64))
	require.NoError(t, b32.Evaluate(in32, &o32))

	for i := range o64.AtomEnergy {
		assert.InDelta(t, o64.AtomEnergy[i], o32.AtomEnergy[i], 1e-4,
			"precision classes agree within single-precision tolerance")
	}
}

func TestEvaluateWithoutUpload(t *testing.T) {
	coords, types := clusterCoords()
	in := assembleFixture(t, coords, types, []int{3, 3}, 2, tensor.Float64)

	b := New(parallel.Sequential())
	var out backend.Output
	err := b.Evaluate(in, &out)
	var ee *backend.ExecutionError
	assert.ErrorAs(t, err, &ee)
}
