// Copyright 2026 DeepForce Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend defines the compute backend contract and the errors
// backends surface.
//
// Implementations:
//   - backend/cpu: pure Go reference implementation, parallelized over atoms
//   - backend/webgpu: cross-platform GPU compute via WebGPU (float32 only)
package backend

import (
	"github.com/deepforce-ml/deepforce/internal/backend"
)

// Backend evaluates the fitting network with its analytic gradient over
// assembled descriptor inputs.
type Backend = backend.Backend

// Output is the per-evaluation result a backend fills in.
type Output = backend.Output

// UnavailableError reports a compute device that cannot be used on this host.
type UnavailableError = backend.UnavailableError

// ExecutionError wraps a failure during backend execution.
type ExecutionError = backend.ExecutionError
