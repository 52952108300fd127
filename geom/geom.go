// Copyright 2026 DeepForce Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package geom describes simulation cells: a triclinic lattice with per-axis
// periodicity. A nil *Box passed to model evaluation means an isolated,
// non-periodic system.
package geom

import (
	"github.com/deepforce-ml/deepforce/internal/geom"
)

// Box is a simulation cell: a 3x3 row-major lattice (rows are the cell
// vectors a, b, c) plus per-axis periodic flags.
type Box = geom.Box

// InvalidBoxError reports a singular lattice on a periodic axis.
type InvalidBoxError = geom.InvalidBoxError

// New creates a Box from a flat row-major 3x3 lattice and periodic flags.
func New(lattice []float64, periodic [3]bool) (*Box, error) {
	return geom.New(lattice, periodic)
}

// Orthorhombic creates a fully periodic axis-aligned box.
func Orthorhombic(lx, ly, lz float64) (*Box, error) {
	return geom.Orthorhombic(lx, ly, lz)
}
