package model

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepforce-ml/deepforce/internal/artifact"
	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/geom"
	"github.com/deepforce-ml/deepforce/internal/parallel"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

var testBias = []float64{-1.5, 2.25}

// writeModelFile exports a small randomized two-type model with identity
// normalization, cutoff 4.0 and smoothing onset 1.0.
func writeModelFile(t *testing.T, dtype tensor.DataType, hidden []int, sel []int, seed int64) string {
	t.Helper()
	nnei := 0
	for _, s := range sel {
		nnei += s
	}
	net, err := fitting.New(nnei*4, hidden, 2, dtype)
	require.NoError(t, err)
	net.Randomize(seed)
	copy(net.EnergyBias, testBias)

	stats := &descriptor.Stats{
		Avg: make([]float64, 2*nnei*4),
		Std: make([]float64, 2*nnei*4),
	}
	for i := range stats.Std {
		stats.Std[i] = 1
	}

	m := &artifact.Model{
		TypeMap:  []string{"A", "B"},
		Rcut:     4.0,
		RcutSmth: 1.0,
		Sel:      sel,
		Stats:    stats,
		Net:      net,
	}
	path := filepath.Join(t.TempDir(), "model.dpf")
	require.NoError(t, artifact.Save(path, m))
	return path
}

func loadTestModel(t *testing.T, opts ...Option) *Handle {
	t.Helper()
	path := writeModelFile(t, tensor.Float64, []int{10, 8}, []int{4, 4}, 5)
	h, err := Load(path, opts...)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

// clusterConfig is four well-separated atoms inside the cutoff of each other.
func clusterConfig() ([]float64, []int32) {
	return []float64{
		0, 0, 0,
		1.8, 0.2, -0.3,
		-0.9, 1.5, 0.7,
		0.4, -1.2, 1.9,
	}, []int32{0, 1, 0, 1}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.dpf"))
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestIsolatedAtomBiasEnergy(t *testing.T) {
	h := loadTestModel(t)

	res, err := h.Evaluate([]float64{0, 0, 0}, []int32{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, testBias[0], res.Energy)
	assert.Equal(t, []float64{testBias[0]}, res.AtomEnergies)
	assert.Equal(t, []float64{0, 0, 0}, res.Forces)
	assert.Equal(t, [9]float64{}, res.Virial)

	// Two atoms far beyond the cutoff: pure bias sum, still zero forces.
	res, err = h.Evaluate([]float64{0, 0, 0, 100, 0, 0}, []int32{0, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, testBias[0]+testBias[1], res.Energy)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, res.Forces)
}

func TestDistantAtomAdditivity(t *testing.T) {
	h := loadTestModel(t)
	coords, types := clusterConfig()

	base, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)

	withFar, err := h.Evaluate(
		append(append([]float64(nil), coords...), 50, 50, 50),
		append(append([]int32(nil), types...), 1), nil)
	require.NoError(t, err)

	assert.InDelta(t, base.Energy+testBias[1], withFar.Energy, 1e-12)
	for i := range base.Forces {
		assert.InDelta(t, base.Forces[i], withFar.Forces[i], 1e-12)
	}
	assert.Equal(t, []float64{0, 0, 0}, withFar.Forces[len(base.Forces):])
}

func TestTranslationInvariancePBC(t *testing.T) {
	h := loadTestModel(t)
	box, err := geom.Orthorhombic(8, 8, 8)
	require.NoError(t, err)
	coords, types := clusterConfig()

	base, err := h.Evaluate(coords, types, box)
	require.NoError(t, err)

	shift := [3]float64{3.1, -2.2, 7.9}
	moved := make([]float64, len(coords))
	for i := range types {
		for ax := 0; ax < 3; ax++ {
			moved[3*i+ax] = coords[3*i+ax] + shift[ax]
		}
	}
	got, err := h.Evaluate(moved, types, box)
	require.NoError(t, err)

	assert.InDelta(t, base.Energy, got.Energy, 1e-9)
	for i := range base.Forces {
		assert.InDelta(t, base.Forces[i], got.Forces[i], 1e-9)
	}
}

func TestRotationEquivariance(t *testing.T) {
	h := loadTestModel(t)
	coords, types := clusterConfig()

	base, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)

	// Rotation about z then y.
	ca, sa := math.Cos(0.7), math.Sin(0.7)
	cb, sb := math.Cos(0.3), math.Sin(0.3)
	rot := func(x, y, z float64) (float64, float64, float64) {
		x, y = ca*x-sa*y, sa*x+ca*y
		x, z = cb*x+sb*z, -sb*x+cb*z
		return x, y, z
	}
	rotated := make([]float64, len(coords))
	for i := range types {
		rotated[3*i], rotated[3*i+1], rotated[3*i+2] = rot(coords[3*i], coords[3*i+1], coords[3*i+2])
	}
	got, err := h.Evaluate(rotated, types, nil)
	require.NoError(t, err)

	assert.InDelta(t, base.Energy, got.Energy, 1e-9)
	for i := range types {
		fx, fy, fz := rot(base.Forces[3*i], base.Forces[3*i+1], base.Forces[3*i+2])
		assert.InDelta(t, fx, got.Forces[3*i], 1e-8, "atom %d", i)
		assert.InDelta(t, fy, got.Forces[3*i+1], 1e-8, "atom %d", i)
		assert.InDelta(t, fz, got.Forces[3*i+2], 1e-8, "atom %d", i)
	}
}

func TestNetForceVanishes(t *testing.T) {
	h := loadTestModel(t)
	coords, types := clusterConfig()
	res, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)

	var sum [3]float64
	for i := range types {
		sum[0] += res.Forces[3*i]
		sum[1] += res.Forces[3*i+1]
		sum[2] += res.Forces[3*i+2]
	}
	for ax := 0; ax < 3; ax++ {
		assert.InDelta(t, 0, sum[ax], 1e-10)
	}
}

func TestForceMatchesEnergyGradient(t *testing.T) {
	h := loadTestModel(t)
	coords, types := clusterConfig()
	res, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)

	hstep := 1e-5
	for i := range types {
		for ax := 0; ax < 3; ax++ {
			orig := coords[3*i+ax]
			coords[3*i+ax] = orig + hstep
			ep, err := h.Evaluate(coords, types, nil)
			require.NoError(t, err)
			coords[3*i+ax] = orig - hstep
			em, err := h.Evaluate(coords, types, nil)
			require.NoError(t, err)
			coords[3*i+ax] = orig

			fd := -(ep.Energy - em.Energy) / (2 * hstep)
			assert.InDelta(t, fd, res.Forces[3*i+ax], 1e-5, "atom %d axis %d", i, ax)
		}
	}
}

func TestVirialSymmetric(t *testing.T) {
	h := loadTestModel(t)
	box, err := geom.Orthorhombic(8, 8, 8)
	require.NoError(t, err)
	coords, types := clusterConfig()
	res, err := h.Evaluate(coords, types, box)
	require.NoError(t, err)

	nonzero := false
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			assert.InDelta(t, res.Virial[a*3+b], res.Virial[b*3+a], 1e-12)
			if res.Virial[a*3+b] != 0 {
				nonzero = true
			}
		}
	}
	assert.True(t, nonzero, "interacting system has a nonzero virial")
}

func TestCutoffBoundaryExact(t *testing.T) {
	h := loadTestModel(t)

	// At exactly rcut the envelope and its derivative both vanish, so the
	// pair contributes nothing: pure bias energy and zero force.
	res, err := h.Evaluate([]float64{0, 0, 0, 4.0, 0, 0}, []int32{0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*testBias[0], res.Energy)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, res.Forces)

	// Just inside the cutoff the energy departs from the bias continuously.
	near, err := h.Evaluate([]float64{0, 0, 0, 4.0 - 1e-3, 0, 0}, []int32{0, 0}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, 2*testBias[0], near.Energy)
	assert.InDelta(t, 2*testBias[0], near.Energy, 1e-6)
}

func TestRepeatEvaluateDeterministic(t *testing.T) {
	h := loadTestModel(t)
	coords, types := clusterConfig()

	a, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)
	b, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Energy, b.Energy)
	assert.Equal(t, a.AtomEnergies, b.AtomEnergies)
	assert.Equal(t, a.Forces, b.Forces)
	assert.Equal(t, a.Virial, b.Virial)
}

func TestReloadDeterministic(t *testing.T) {
	// Loading the same artifact twice yields bit-identical evaluations.
	path := writeModelFile(t, tensor.Float64, []int{10, 8}, []int{4, 4}, 5)
	coords, types := clusterConfig()

	h1, err := Load(path, WithParallelism(parallel.Sequential()))
	require.NoError(t, err)
	defer h1.Close()
	h2, err := Load(path, WithParallelism(parallel.Sequential()))
	require.NoError(t, err)
	defer h2.Close()

	a, err := h1.Evaluate(coords, types, nil)
	require.NoError(t, err)
	b, err := h2.Evaluate(coords, types, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Energy, b.Energy)
	assert.Equal(t, a.AtomEnergies, b.AtomEnergies)
	assert.Equal(t, a.Forces, b.Forces)
	assert.Equal(t, a.Virial, b.Virial)
}

func TestParallelMatchesSequential(t *testing.T) {
	path := writeModelFile(t, tensor.Float64, []int{10, 8}, []int{4, 4}, 5)
	seq, err := Load(path, WithParallelism(parallel.Sequential()))
	require.NoError(t, err)
	defer seq.Close()
	par, err := Load(path, WithParallelism(parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1}))
	require.NoError(t, err)
	defer par.Close()

	coords, types := clusterConfig()
	a, err := seq.Evaluate(coords, types, nil)
	require.NoError(t, err)
	b, err := par.Evaluate(coords, types, nil)
	require.NoError(t, err)

	assert.InDelta(t, a.Energy, b.Energy, 1e-12)
	for i := range a.Forces {
		assert.InDelta(t, a.Forces[i], b.Forces[i], 1e-12)
	}
}

func TestDensePeriodicSystem(t *testing.T) {
	// 125 atoms on a 5x5x5 lattice with spacing 1.6, everything well inside
	// the cutoff of many neighbors. Exercises ghost replication, the cell
	// grid and the internal capacity retry.
	h := loadTestModel(t)
	box, err := geom.Orthorhombic(8, 8, 8)
	require.NoError(t, err)

	var coords []float64
	var types []int32
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			for k := 0; k < 5; k++ {
				coords = append(coords, float64(i)*1.6, float64(j)*1.6, float64(k)*1.6)
				types = append(types, int32((i+j+k)%2))
			}
		}
	}

	res, err := h.Evaluate(coords, types, box)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(res.Energy) || math.IsInf(res.Energy, 0))
	require.Len(t, res.Forces, 3*125)

	var sum [3]float64
	for i := range types {
		sum[0] += res.Forces[3*i]
		sum[1] += res.Forces[3*i+1]
		sum[2] += res.Forces[3*i+2]
	}
	for ax := 0; ax < 3; ax++ {
		assert.InDelta(t, 0, sum[ax], 1e-8)
	}
}

func TestMinimumImageAcrossBoundary(t *testing.T) {
	h := loadTestModel(t)
	box, err := geom.Orthorhombic(10, 10, 10)
	require.NoError(t, err)

	// The same dimer, centered and split across the x boundary.
	centered, err := h.Evaluate([]float64{4, 5, 5, 6, 5, 5}, []int32{0, 1}, box)
	require.NoError(t, err)
	split, err := h.Evaluate([]float64{9.5, 5, 5, 1.5, 5, 5}, []int32{0, 1}, box)
	require.NoError(t, err)

	assert.InDelta(t, centered.Energy, split.Energy, 1e-10)
}

func TestCallerOrderPreserved(t *testing.T) {
	h := loadTestModel(t)
	coords, types := clusterConfig()
	base, err := h.Evaluate(coords, types, nil)
	require.NoError(t, err)

	perm := []int{2, 0, 3, 1}
	pcoords := make([]float64, len(coords))
	ptypes := make([]int32, len(types))
	for dst, src := range perm {
		copy(pcoords[3*dst:3*dst+3], coords[3*src:3*src+3])
		ptypes[dst] = types[src]
	}
	got, err := h.Evaluate(pcoords, ptypes, nil)
	require.NoError(t, err)

	assert.InDelta(t, base.Energy, got.Energy, 1e-12)
	for dst, src := range perm {
		for ax := 0; ax < 3; ax++ {
			assert.InDelta(t, base.Forces[3*src+ax], got.Forces[3*dst+ax], 1e-12)
		}
		assert.InDelta(t, base.AtomEnergies[src], got.AtomEnergies[dst], 1e-12)
	}
}

func TestPrecisionOptionMismatch(t *testing.T) {
	path64 := writeModelFile(t, tensor.Float64, []int{6}, []int{3, 3}, 1)
	_, err := Load(path64, WithPrecision(Float32))
	var pe *PrecisionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "float32", pe.Requested)

	path32 := writeModelFile(t, tensor.Float32, []int{6}, []int{3, 3}, 1)
	_, err = Load(path32, WithPrecision(Float64))
	assert.ErrorAs(t, err, &pe)

	h, err := Load(path32, WithPrecision(Float32))
	require.NoError(t, err)
	h.Close()
}

func TestGPUDeviceWithFloat64Artifact(t *testing.T) {
	// Rejected before probing hardware, so the result is host-independent.
	path := writeModelFile(t, tensor.Float64, []int{6}, []int{3, 3}, 1)
	_, err := Load(path, WithDevice(GPUAuto))
	var pe *PrecisionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "webgpu", pe.Device)
}

func TestGPUIndexOutOfRange(t *testing.T) {
	path := writeModelFile(t, tensor.Float32, []int{6}, []int{3, 3}, 1)
	_, err := Load(path, WithDevice(GPUIndex(3)))
	var ue *backend.UnavailableError
	assert.ErrorAs(t, err, &ue)
}

func TestEvaluateInputValidation(t *testing.T) {
	h := loadTestModel(t)

	_, err := h.Evaluate([]float64{0, 0}, []int32{0}, nil)
	assert.Error(t, err)

	_, err = h.Evaluate([]float64{0, 0, 0}, []int32{7}, nil)
	assert.Error(t, err)

	_, err = h.Evaluate([]float64{0, 0, 0}, []int32{-1}, nil)
	assert.Error(t, err)
}

func TestClosedHandle(t *testing.T) {
	path := writeModelFile(t, tensor.Float64, []int{6}, []int{3, 3}, 1)
	h, err := Load(path)
	require.NoError(t, err)
	h.Close()
	h.Close() // idempotent

	_, err = h.Evaluate([]float64{0, 0, 0}, []int32{0}, nil)
	assert.Error(t, err)
}

func TestHandleMetadata(t *testing.T) {
	h := loadTestModel(t)
	assert.Equal(t, []string{"A", "B"}, h.TypeMap())
	assert.Equal(t, 4.0, h.Rcut())
	assert.Equal(t, "cpu", h.Backend())
}
