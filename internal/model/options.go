package model

import (
	"fmt"

	"github.com/deepforce-ml/deepforce/internal/parallel"
)

type deviceKind int

const (
	kindCPU deviceKind = iota
	kindGPU
)

// Device is a compute device preference. The backend is chosen once at load
// time and never re-selected for the lifetime of the handle.
type Device struct {
	kind  deviceKind
	index int
}

// CPU selects the host backend.
var CPU = Device{kind: kindCPU}

// GPUAuto selects the default WebGPU adapter.
var GPUAuto = Device{kind: kindGPU, index: -1}

// GPUIndex selects a specific WebGPU adapter. Index 0 is the default
// adapter; other indices fail with UnavailableError on hosts that expose
// only one.
func GPUIndex(i int) Device {
	return Device{kind: kindGPU, index: i}
}

func (d Device) String() string {
	switch d.kind {
	case kindCPU:
		return "cpu"
	case kindGPU:
		if d.index >= 0 {
			return fmt.Sprintf("webgpu:%d", d.index)
		}
		return "webgpu"
	}
	return "unknown"
}

// Precision is a requested precision class for evaluation.
type Precision int

const (
	// ArtifactPrecision runs the model in whatever precision it was
	// exported in.
	ArtifactPrecision Precision = iota
	Float32
	Float64
)

func (p Precision) String() string {
	switch p {
	case ArtifactPrecision:
		return "artifact"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "unknown"
}

type config struct {
	device       Device
	precision    Precision
	par          parallel.Config
	skipChecksum bool
}

func defaultLoadConfig() config {
	return config{
		device:    CPU,
		precision: ArtifactPrecision,
		par:       parallel.DefaultConfig(),
	}
}

// Option configures Load.
type Option func(*config)

// WithDevice sets the compute device preference.
func WithDevice(d Device) Option {
	return func(c *config) { c.device = d }
}

// WithPrecision requires a precision class; loading fails with
// PrecisionError when the artifact was exported in a different one.
func WithPrecision(p Precision) Option {
	return func(c *config) { c.precision = p }
}

// WithParallelism sets the worker pool configuration used by the neighbor
// pipeline and the CPU backend.
func WithParallelism(cfg parallel.Config) Option {
	return func(c *config) { c.par = cfg }
}

// WithoutChecksum skips artifact checksum verification at load.
func WithoutChecksum() Option {
	return func(c *config) { c.skipChecksum = true }
}
