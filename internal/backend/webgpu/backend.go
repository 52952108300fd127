package webgpu

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// ErrPrecisionUnsupported reports a model precision WGSL cannot execute.
var ErrPrecisionUnsupported = errors.New("webgpu: float64 models are not supported on WebGPU")

// Backend executes the fitting network on a GPU through WebGPU compute
// pipelines. Weights are uploaded once at model load; every Evaluate uploads
// the per-call descriptor tensors, dispatches two passes and blocks on the
// read-back, so results are device-synchronized before the reducer runs.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	// Device-resident model parameters.
	weightsBuf *wgpu.Buffer
	biasesBuf  *wgpu.Buffer
	metaBuf    *wgpu.Buffer
	weightsLen int
	biasesLen  int
	metaLen    int
	net        *fitting.Net

	// zero is the per-type network response to an all-zero input row,
	// computed on the host in float32 and subtracted from every atom
	// energy so a vanishing environment contributes nothing beyond the
	// isolated-atom bias.
	zero []float32
}

// New creates a WebGPU backend, requesting the default high-performance
// adapter. Returns an error when no compatible GPU or native library exists.
func New() (b *Backend, err error) {
	// Recover from panic if the wgpu native library is not found.
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %w", instErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}
	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}, nil
}

// IsAvailable checks if WebGPU is usable on this host.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return false
	}
	defer instance.Release()
	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "webgpu"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return tensor.WebGPU
}

// Release frees all GPU resources.
func (b *Backend) Release() {
	b.releaseParams()
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

func (b *Backend) releaseParams() {
	if b.weightsBuf != nil {
		b.weightsBuf.Release()
		b.weightsBuf = nil
	}
	if b.biasesBuf != nil {
		b.biasesBuf.Release()
		b.biasesBuf = nil
	}
	if b.metaBuf != nil {
		b.metaBuf.Release()
		b.metaBuf = nil
	}
	b.net = nil
	b.zero = nil
}

// Upload flattens the fitting network into device buffers and the offset
// table the fitting shader walks. Only float32 models fit WGSL.
func (b *Backend) Upload(net *fitting.Net) error {
	if err := net.Validate(); err != nil {
		return err
	}
	if net.DType != tensor.Float32 {
		return ErrPrecisionUnsupported
	}
	if net.MaxWidth() > maxLayerWidth {
		return fmt.Errorf("webgpu: layer width %d exceeds shader limit %d", net.MaxWidth(), maxLayerWidth)
	}
	if net.NumLayers() > maxLayers {
		return fmt.Errorf("webgpu: %d layers exceed shader limit %d", net.NumLayers(), maxLayers)
	}

	nlayers := net.NumLayers()
	dims := net.LayerDims()

	var weights, biases []float32
	meta := make([]uint32, 0, nlayers+1+2*net.NTypes*nlayers)
	for _, d := range dims {
		meta = append(meta, uint32(d))
	}
	woffs := make([]uint32, 0, net.NTypes*nlayers)
	boffs := make([]uint32, 0, net.NTypes*nlayers)
	for t := 0; t < net.NTypes; t++ {
		for l := 0; l < nlayers; l++ {
			woffs = append(woffs, uint32(len(weights)))
			weights = append(weights, net.Weights[t][l].AsFloat32()...)
			boffs = append(boffs, uint32(len(biases)))
			biases = append(biases, net.Biases[t][l].AsFloat32()...)
		}
	}
	meta = append(meta, woffs...)
	meta = append(meta, boffs...)

	b.releaseParams()
	b.weightsBuf = b.createBuffer(f32Bytes(weights), wgpu.BufferUsageStorage)
	b.biasesBuf = b.createBuffer(f32Bytes(biases), wgpu.BufferUsageStorage)
	b.metaBuf = b.createBuffer(u32Bytes(meta), wgpu.BufferUsageStorage)
	b.weightsLen = len(weights)
	b.biasesLen = len(biases)
	b.metaLen = len(meta)
	b.net = net
	b.zero = zeroOffsets(net)
	return nil
}

// zeroOffsets runs the forward pass on an all-zero row per type, in float32
// to stay within the shader's precision class.
func zeroOffsets(net *fitting.Net) []float32 {
	dims := net.LayerDims()
	cur := make([]float32, net.MaxWidth())
	nxt := make([]float32, net.MaxWidth())
	out := make([]float32, net.NTypes)

	for t := 0; t < net.NTypes; t++ {
		for i := range cur {
			cur[i] = 0
		}
		for l := 0; l < net.NumLayers(); l++ {
			w := net.Weights[t][l].AsFloat32()
			bias := net.Biases[t][l].AsFloat32()
			in, outw := dims[l], dims[l+1]
			for o := 0; o < outw; o++ {
				z := bias[o]
				for d := 0; d < in; d++ {
					z += w[o*in+d] * cur[d]
				}
				if l+1 < net.NumLayers() {
					nxt[o] = float32(math.Tanh(float64(z)))
				} else {
					out[t] = z
				}
			}
			cur, nxt = nxt, cur
		}
	}
	return out
}

// Evaluate dispatches the fitting and pair-force passes and blocks until the
// results are read back to host memory.
func (b *Backend) Evaluate(in *descriptor.Input, out *backend.Output) error {
	if b.net == nil {
		return &backend.ExecutionError{Backend: b.Name(), Err: fmt.Errorf("no model uploaded")}
	}
	if in.EnvMat.DType() != tensor.Float32 {
		return &backend.ExecutionError{Backend: b.Name(),
			Err: fmt.Errorf("input precision %s, webgpu needs float32", in.EnvMat.DType())}
	}
	if in.NNei*4 != b.net.InDim {
		return &backend.ExecutionError{Backend: b.Name(),
			Err: fmt.Errorf("input width %d does not match model %d", in.NNei*4, b.net.InDim)}
	}

	energies, pairForce, err := b.dispatch(in)
	if err != nil {
		return &backend.ExecutionError{Backend: b.Name(), Err: err}
	}

	out.Prepare(in.NAtoms, in.NNei)
	for i := 0; i < in.NAtoms; i++ {
		// Same isolated-atom rule as the CPU reference: no neighbors means
		// the bias alone, not the network's response to an all-padding row.
		if in.List.Isolated(i) {
			out.AtomEnergy[i] = b.net.EnergyBias[in.Types[i]]
			continue
		}
		out.AtomEnergy[i] = float64(energies[i]-b.zero[in.Types[i]]) + b.net.EnergyBias[in.Types[i]]
	}
	for i, v := range pairForce {
		out.PairForce[i] = float64(v)
	}
	return nil
}

func f32Bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}

func u32Bytes(s []uint32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}
