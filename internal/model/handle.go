// Package model is the evaluation entry point: it loads a .dpf artifact,
// binds it to a compute backend and exposes synchronous energy, force and
// virial evaluation over atomic configurations.
package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/deepforce-ml/deepforce/internal/artifact"
	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/backend/cpu"
	"github.com/deepforce-ml/deepforce/internal/backend/webgpu"
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/geom"
	"github.com/deepforce-ml/deepforce/internal/neighbor"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Result holds one evaluation's outputs, indexed by the caller's atom order.
type Result struct {
	Energy       float64
	AtomEnergies []float64
	Forces       []float64 // flat Nx3
	Virial       [9]float64
}

// Handle is a loaded model bound to one backend. A handle admits one
// evaluation in flight; independent handles evaluate concurrently. Scratch
// memory (neighbor lists, descriptor tensors, per-worker force partials) is
// owned by the handle and reused across calls.
type Handle struct {
	mu     sync.Mutex
	closed bool

	art *artifact.Model
	be  backend.Backend

	builder  *neighbor.Builder
	selector *neighbor.Selector
	asm      *descriptor.Assembler
	red      reducer

	// capacity is the candidate budget handed to the neighbor builder,
	// grown on overflow and kept across calls.
	capacity int

	out backend.Output
}

// Load opens a .dpf artifact and binds it to a backend per the options.
// The default is the CPU backend at the artifact's precision.
func Load(path string, opts ...Option) (*Handle, error) {
	cfg := defaultLoadConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	art, err := artifact.LoadWithOptions(path, artifact.ReadOptions{SkipChecksum: cfg.skipChecksum})
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	switch cfg.precision {
	case ArtifactPrecision:
	case Float32:
		if art.Net.DType != tensor.Float32 {
			return nil, &PrecisionError{Requested: "float32", Artifact: art.Net.DType.String()}
		}
	case Float64:
		if art.Net.DType != tensor.Float64 {
			return nil, &PrecisionError{Requested: "float64", Artifact: art.Net.DType.String()}
		}
	default:
		return nil, fmt.Errorf("model: unknown precision option %v", cfg.precision)
	}

	be, err := openBackend(cfg, art)
	if err != nil {
		return nil, err
	}
	if err := be.Upload(art.Net); err != nil {
		be.Release()
		if errors.Is(err, webgpu.ErrPrecisionUnsupported) {
			return nil, &PrecisionError{Artifact: art.Net.DType.String(), Device: be.Name()}
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	asm, err := descriptor.NewAssembler(art.RcutSmth, art.Rcut, art.Net.DType, cfg.par)
	if err != nil {
		be.Release()
		return nil, &LoadError{Path: path, Err: err}
	}

	return &Handle{
		art:      art,
		be:       be,
		builder:  neighbor.NewBuilder(cfg.par),
		selector: neighbor.NewSelector(cfg.par),
		asm:      asm,
		red:      reducer{cfg: cfg.par},
		capacity: 2 * art.NNei(),
	}, nil
}

// openBackend resolves the device preference. Precision is checked before
// availability so a float64 artifact with a GPU preference fails the same
// way on every host.
func openBackend(cfg config, art *artifact.Model) (backend.Backend, error) {
	switch cfg.device.kind {
	case kindCPU:
		return cpu.New(cfg.par), nil
	case kindGPU:
		if art.Net.DType != tensor.Float32 {
			return nil, &PrecisionError{Artifact: art.Net.DType.String(), Device: "webgpu"}
		}
		if cfg.device.index > 0 {
			return nil, &backend.UnavailableError{Device: cfg.device.String(),
				Reason: "only the default adapter is exposed"}
		}
		if !webgpu.IsAvailable() {
			return nil, &backend.UnavailableError{Device: "webgpu", Reason: "no compatible adapter"}
		}
		be, err := webgpu.New()
		if err != nil {
			return nil, &backend.UnavailableError{Device: "webgpu", Reason: err.Error()}
		}
		return be, nil
	}
	return nil, fmt.Errorf("model: unknown device preference %v", cfg.device)
}

// TypeMap returns the element name per type index.
func (h *Handle) TypeMap() []string {
	return h.art.TypeMap
}

// Rcut returns the model's cutoff radius.
func (h *Handle) Rcut() float64 {
	return h.art.Rcut
}

// Backend returns the name of the backend the handle is bound to.
func (h *Handle) Backend() string {
	return h.be.Name()
}

// Evaluate computes total energy, per-atom energies, forces and the virial
// for one configuration. positions is flat Nx3 in the same order as types;
// a nil box (or one with no periodic axis) means an isolated system. The
// caller's slices are never modified.
func (h *Handle) Evaluate(positions []float64, types []int32, box *geom.Box) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("model: handle is closed")
	}

	n := len(types)
	if len(positions) != 3*n {
		return nil, fmt.Errorf("model: %d position components for %d atoms", len(positions), n)
	}
	ntypes := len(h.art.TypeMap)
	for i, t := range types {
		if t < 0 || int(t) >= ntypes {
			return nil, fmt.Errorf("model: atom %d has type %d outside the model's %d types", i, t, ntypes)
		}
	}

	// Build with the retained capacity; on overflow grow to the reported
	// requirement and retry. The second pass cannot overflow.
	var cand *neighbor.Candidates
	for {
		c, err := h.builder.Build(positions, types, box, h.art.Rcut, h.capacity)
		if err != nil {
			var of *neighbor.OverflowError
			if errors.As(err, &of) {
				h.capacity = of.Required
				continue
			}
			return nil, err
		}
		cand = c
		break
	}

	list, err := h.selector.Select(cand, ntypes, h.art.Sel)
	if err != nil {
		return nil, err
	}
	in, err := h.asm.Assemble(list, types, h.art.Stats)
	if err != nil {
		return nil, err
	}
	if err := h.be.Evaluate(in, &h.out); err != nil {
		return nil, err
	}

	res := &Result{
		AtomEnergies: make([]float64, n),
		Forces:       make([]float64, 3*n),
	}
	copy(res.AtomEnergies, h.out.AtomEnergy)
	h.red.reduce(list, &h.out, res)
	return res, nil
}

// Close releases backend-resident parameters and scratch memory. Further
// evaluations fail.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.be.Release()
}
