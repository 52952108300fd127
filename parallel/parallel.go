// Copyright 2026 DeepForce Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package parallel exposes the worker pool configuration shared by the
// neighbor pipeline and the CPU backend.
package parallel

import (
	"github.com/deepforce-ml/deepforce/internal/parallel"
)

// Config controls chunked parallel execution over atoms.
type Config = parallel.Config

// DefaultConfig enables parallelism across all CPUs.
func DefaultConfig() Config { return parallel.DefaultConfig() }

// Sequential disables parallelism; useful for reproducibility debugging.
func Sequential() Config { return parallel.Sequential() }
