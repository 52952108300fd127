package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXYZ = `3
Lattice="12.4 0.0 0.0 0.0 12.4 0.0 0.0 0.0 12.4" Properties=species:S:1:pos:R:3
O  0.000  0.000  0.000
H  0.757  0.586  0.000
H -0.757  0.586  0.000
2
isolated dimer
O  0.0 0.0 0.0
O  1.2 0.0 0.0
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.xyz")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFrames(t *testing.T) {
	frames, err := readFrames(writeTemp(t, sampleXYZ))
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, []string{"O", "H", "H"}, frames[0].Symbols)
	assert.Equal(t, 0.757, frames[0].Coords[3])
	require.NotNil(t, frames[0].Lattice)
	assert.Equal(t, 12.4, frames[0].Lattice[0])

	box, err := frames[0].box()
	require.NoError(t, err)
	assert.True(t, box.Periodic())

	assert.Nil(t, frames[1].Lattice)
	box, err = frames[1].box()
	require.NoError(t, err)
	assert.Nil(t, box)
}

func TestReadFramesTruncated(t *testing.T) {
	_, err := readFrames(writeTemp(t, "5\ncomment\nO 0 0 0\n"))
	assert.Error(t, err)
}

func TestParseLattice(t *testing.T) {
	l, err := parseLattice(`Lattice="1 0 0 0 2 0 0 0 3"`)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0, 2, 0, 0, 0, 3}, l)

	l, err = parseLattice("no lattice here")
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = parseLattice(`Lattice="1 2 3"`)
	assert.Error(t, err)

	_, err = parseLattice(`Lattice="1 2 3 4 5 6 7 8`)
	assert.Error(t, err)
}

func TestTypeIndices(t *testing.T) {
	frames, err := readFrames(writeTemp(t, sampleXYZ))
	require.NoError(t, err)

	types, err := frames[0].typeIndices([]string{"O", "H"})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 1}, types)

	_, err = frames[0].typeIndices([]string{"C"})
	assert.Error(t, err)
}

func TestRunConfigOptions(t *testing.T) {
	_, err := runConfig{Device: "tpu"}.options()
	assert.Error(t, err)
	_, err = runConfig{Precision: "float16"}.options()
	assert.Error(t, err)
	_, err = runConfig{Workers: -1}.options()
	assert.Error(t, err)

	opts, err := runConfig{Device: "gpu:1", Precision: "float32", Workers: 4}.options()
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}

func TestLoadRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("frames = \"traj.xyz\"\nworkers = 2\n"), 0o644))

	cfg, err := loadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "traj.xyz", cfg.Frames)
	assert.Equal(t, 2, cfg.Workers)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("device = \"cpu\"\n"), 0o644))
	_, err = loadRunConfig(bad)
	assert.Error(t, err)
}
