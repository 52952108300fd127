package webgpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/backend/cpu"
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/neighbor"
	"github.com/deepforce-ml/deepforce/internal/parallel"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

func requireGPU(t *testing.T) *Backend {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available on this host")
	}
	b, err := New()
	require.NoError(t, err)
	t.Cleanup(b.Release)
	return b
}

func gpuFixture(t *testing.T) (*descriptor.Input, *fitting.Net) {
	t.Helper()
	coords := []float64{
		0, 0, 0,
		1.8, 0.2, -0.3,
		-0.9, 1.5, 0.7,
		0.4, -1.2, 1.9,
	}
	types := []int32{0, 1, 0, 1}

	nb := neighbor.NewBuilder(parallel.Sequential())
	c, err := nb.Build(coords, types, nil, 4.0, 16)
	require.NoError(t, err)
	sl := neighbor.NewSelector(parallel.Sequential())
	list, err := sl.Select(c, 2, []int{3, 3})
	require.NoError(t, err)
	a, err := descriptor.NewAssembler(1.0, 4.0, tensor.Float32, parallel.Sequential())
	require.NoError(t, err)
	in, err := a.Assemble(list, types, nil)
	require.NoError(t, err)

	net, err := fitting.New(in.NNei*4, []int{12, 8}, 2, tensor.Float32)
	require.NoError(t, err)
	net.Randomize(77)
	net.EnergyBias[0] = -1.25
	net.EnergyBias[1] = 0.5
	return in, net
}

func TestUploadRejectsFloat64(t *testing.T) {
	gpu := requireGPU(t)
	net, err := fitting.New(8, []int{4}, 1, tensor.Float64)
	require.NoError(t, err)
	assert.ErrorIs(t, gpu.Upload(net), ErrPrecisionUnsupported)
}

func TestEvaluateMatchesCPUReference(t *testing.T) {
	gpu := requireGPU(t)
	in, net := gpuFixture(t)
	require.NoError(t, gpu.Upload(net))

	ref := cpu.New(parallel.Sequential())
	require.NoError(t, ref.Upload(net))

	var want, got backend.Output
	require.NoError(t, ref.Evaluate(in, &want))
	require.NoError(t, gpu.Evaluate(in, &got))

	for i := range want.AtomEnergy {
		assert.InDelta(t, want.AtomEnergy[i], got.AtomEnergy[i], 1e-4, "atom %d energy", i)
	}
	for i := range want.PairForce {
		assert.InDelta(t, want.PairForce[i], got.PairForce[i], 1e-4, "pair force %d", i)
	}
}

func TestEvaluateWithoutUpload(t *testing.T) {
	gpu := requireGPU(t)
	in, _ := gpuFixture(t)
	var out backend.Output
	err := gpu.Evaluate(in, &out)
	var ee *backend.ExecutionError
	assert.ErrorAs(t, err, &ee)
}
