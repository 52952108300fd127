// Copyright 2026 DeepForce Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu exposes the GPU compute backend built on WebGPU compute
// pipelines. WGSL has no f64, so only float32 models run here.
package webgpu

import (
	"github.com/deepforce-ml/deepforce/internal/backend/webgpu"
)

// Backend is the WebGPU compute backend.
type Backend = webgpu.Backend

// ErrPrecisionUnsupported reports a model precision WGSL cannot execute.
var ErrPrecisionUnsupported = webgpu.ErrPrecisionUnsupported

// New creates a WebGPU backend on the default high-performance adapter.
func New() (*Backend, error) {
	return webgpu.New()
}

// IsAvailable checks if WebGPU is usable on this host.
func IsAvailable() bool {
	return webgpu.IsAvailable()
}
