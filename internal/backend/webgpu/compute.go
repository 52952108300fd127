package webgpu

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/deepforce-ml/deepforce/internal/descriptor"
)

// compileShader compiles WGSL shader code, caching the module by name.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, exists := b.shaders[name]; exists {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()
	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (b *Backend) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	b.mu.RLock()
	if pipeline, exists := b.pipelines[name]; exists {
		b.mu.RUnlock()
		return pipeline
	}
	b.mu.RUnlock()

	pipeline := b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()
	return pipeline
}

// createBuffer creates a GPU buffer and uploads initial data through the
// mapped-at-creation path.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()
	return buffer
}

// createUniformBuffer creates a 16-byte aligned uniform buffer.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()
	return buffer
}

// readBuffer blocks until the device has finished, then copies a storage
// buffer back to host memory through a staging buffer.
func (b *Backend) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	err := stagingBuffer.MapAsync(b.device, wgpu.MapModeRead, 0, size)
	if err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}
	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	stagingBuffer.Unmap()
	return result, nil
}

// dispatch runs the fitting pass and the pair-force pass for one evaluation
// and returns the host copies of the results.
func (b *Backend) dispatch(in *descriptor.Input) ([]float32, []float32, error) {
	natoms, nnei := in.NAtoms, in.NNei
	inDim := nnei * 4

	typesU32 := make([]uint32, natoms)
	for i, t := range in.Types {
		typesU32[i] = uint32(t)
	}

	envBuf := b.createBuffer(in.EnvMat.Data(), wgpu.BufferUsageStorage)
	defer envBuf.Release()
	typesBuf := b.createBuffer(u32Bytes(typesU32), wgpu.BufferUsageStorage)
	defer typesBuf.Release()
	derivBuf := b.createBuffer(in.EnvDeriv.Data(), wgpu.BufferUsageStorage)
	defer derivBuf.Release()

	energySize := uint64(natoms * 4)
	energyBuf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:  energySize,
	})
	defer energyBuf.Release()

	netDerivSize := uint64(natoms * inDim * 4)
	netDerivBuf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage,
		Size:  netDerivSize,
	})
	defer netDerivBuf.Release()

	pairSize := uint64(natoms * nnei * 3 * 4)
	pairBuf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:  pairSize,
	})
	defer pairBuf.Release()

	fitParams := make([]byte, 16)
	binary.LittleEndian.PutUint32(fitParams[0:4], uint32(natoms))
	binary.LittleEndian.PutUint32(fitParams[4:8], uint32(inDim))
	binary.LittleEndian.PutUint32(fitParams[8:12], uint32(b.net.NumLayers()))
	binary.LittleEndian.PutUint32(fitParams[12:16], uint32(b.net.NTypes))
	fitParamsBuf := b.createUniformBuffer(fitParams)
	defer fitParamsBuf.Release()

	pfParams := make([]byte, 16)
	binary.LittleEndian.PutUint32(pfParams[0:4], uint32(natoms))
	binary.LittleEndian.PutUint32(pfParams[4:8], uint32(nnei))
	pfParamsBuf := b.createUniformBuffer(pfParams)
	defer pfParamsBuf.Release()

	fitPipeline := b.getOrCreatePipeline("fitting", b.compileShader("fitting", fittingShader))
	pfPipeline := b.getOrCreatePipeline("pair_force", b.compileShader("pair_force", pairForceShader))

	fitLayout := fitPipeline.GetBindGroupLayout(0)
	fitBind := b.device.CreateBindGroupSimple(fitLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, envBuf, 0, uint64(in.EnvMat.ByteSize())),
		wgpu.BufferBindingEntry(1, typesBuf, 0, uint64(natoms*4)),
		wgpu.BufferBindingEntry(2, b.weightsBuf, 0, uint64(b.weightsLen*4)),
		wgpu.BufferBindingEntry(3, b.biasesBuf, 0, uint64(b.biasesLen*4)),
		wgpu.BufferBindingEntry(4, b.metaBuf, 0, uint64(b.metaLen*4)),
		wgpu.BufferBindingEntry(5, energyBuf, 0, energySize),
		wgpu.BufferBindingEntry(6, netDerivBuf, 0, netDerivSize),
		wgpu.BufferBindingEntry(7, fitParamsBuf, 0, 16),
	})
	defer fitBind.Release()

	pfLayout := pfPipeline.GetBindGroupLayout(0)
	pfBind := b.device.CreateBindGroupSimple(pfLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, netDerivBuf, 0, netDerivSize),
		wgpu.BufferBindingEntry(1, derivBuf, 0, uint64(in.EnvDeriv.ByteSize())),
		wgpu.BufferBindingEntry(2, pairBuf, 0, pairSize),
		wgpu.BufferBindingEntry(3, pfParamsBuf, 0, 16),
	})
	defer pfBind.Release()

	encoder := b.device.CreateCommandEncoder(nil)

	fitPass := encoder.BeginComputePass(nil)
	fitPass.SetPipeline(fitPipeline)
	fitPass.SetBindGroup(0, fitBind, nil)
	fitPass.DispatchWorkgroups(uint32((natoms+workgroupSize-1)/workgroupSize), 1, 1)
	fitPass.End()

	pfPass := encoder.BeginComputePass(nil)
	pfPass.SetPipeline(pfPipeline)
	pfPass.SetBindGroup(0, pfBind, nil)
	pfPass.DispatchWorkgroups(uint32((natoms*nnei+workgroupSize-1)/workgroupSize), 1, 1)
	pfPass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	energyBytes, err := b.readBuffer(energyBuf, energySize)
	if err != nil {
		return nil, nil, err
	}
	pairBytes, err := b.readBuffer(pairBuf, pairSize)
	if err != nil {
		return nil, nil, err
	}

	energies := make([]float32, natoms)
	copy(energies, unsafe.Slice((*float32)(unsafe.Pointer(&energyBytes[0])), natoms))
	pairForce := make([]float32, natoms*nnei*3)
	copy(pairForce, unsafe.Slice((*float32)(unsafe.Pointer(&pairBytes[0])), natoms*nnei*3))
	return energies, pairForce, nil
}
