// Copyright 2026 DeepForce Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model loads trained interatomic potential artifacts (.dpf files)
// and evaluates energies, forces and virials over atomic configurations.
//
// # Basic Usage
//
//	import (
//	    "github.com/deepforce-ml/deepforce/geom"
//	    "github.com/deepforce-ml/deepforce/model"
//	)
//
//	h, err := model.Load("water.dpf")
//	if err != nil { ... }
//	defer h.Close()
//
//	box, _ := geom.Orthorhombic(12.4, 12.4, 12.4)
//	res, err := h.Evaluate(positions, types, box)
//	fmt.Println(res.Energy, res.Forces)
//
// A handle is bound to one compute backend at load time (CPU by default,
// WebGPU with WithDevice(model.GPUAuto)) and admits one evaluation in
// flight; use independent handles for concurrent evaluations.
package model

import (
	"github.com/deepforce-ml/deepforce/internal/model"
	"github.com/deepforce-ml/deepforce/parallel"
)

// Handle is a loaded model bound to a compute backend.
type Handle = model.Handle

// Result holds one evaluation's outputs, indexed by the caller's atom order.
type Result = model.Result

// Option configures Load.
type Option = model.Option

// Device is a compute device preference.
type Device = model.Device

// Precision is a requested precision class.
type Precision = model.Precision

// LoadError wraps any failure to open, parse or validate an artifact.
type LoadError = model.LoadError

// PrecisionError reports a precision the artifact cannot serve on the
// requested device.
type PrecisionError = model.PrecisionError

// Device preferences.
var (
	CPU     = model.CPU
	GPUAuto = model.GPUAuto
)

// GPUIndex selects a specific WebGPU adapter.
func GPUIndex(i int) Device { return model.GPUIndex(i) }

// Precision classes.
const (
	ArtifactPrecision = model.ArtifactPrecision
	Float32           = model.Float32
	Float64           = model.Float64
)

// Load opens a .dpf artifact and binds it to a backend per the options.
func Load(path string, opts ...Option) (*Handle, error) {
	return model.Load(path, opts...)
}

// WithDevice sets the compute device preference.
func WithDevice(d Device) Option { return model.WithDevice(d) }

// WithPrecision requires a precision class.
func WithPrecision(p Precision) Option { return model.WithPrecision(p) }

// WithParallelism sets the worker pool configuration.
func WithParallelism(cfg parallel.Config) Option { return model.WithParallelism(cfg) }

// WithoutChecksum skips artifact checksum verification at load.
func WithoutChecksum() Option { return model.WithoutChecksum() }
