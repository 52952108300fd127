// Copyright 2026 DeepForce Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu exposes the reference compute backend: a pure Go forward pass
// and manual backpropagation through the fitting network, chunked across a
// worker pool.
package cpu

import (
	"github.com/deepforce-ml/deepforce/internal/backend/cpu"
	"github.com/deepforce-ml/deepforce/parallel"
)

// Backend is the CPU compute backend.
type Backend = cpu.Backend

// New creates a CPU backend using the given worker pool configuration.
func New(cfg parallel.Config) *Backend {
	return cpu.New(cfg)
}
