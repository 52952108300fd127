// Package geom implements the periodic simulation cell: triclinic lattice
// handling, fractional/Cartesian conversion, coordinate wrapping and the
// minimum-image convention.
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// InvalidBoxError reports a lattice that cannot support the requested
// periodicity (singular or numerically degenerate cell matrix).
type InvalidBoxError struct {
	Det float64
}

func (e *InvalidBoxError) Error() string {
	return fmt.Sprintf("geom: singular lattice matrix (det = %g) with periodic boundaries requested", e.Det)
}

// Box is a triclinic simulation cell. The lattice is stored row-major with
// rows holding the three cell vectors a, b, c, so a Cartesian position is
// frac · L for a fractional row vector frac. A nil *Box means no cell at all
// (isolated system, no boundary in any direction).
type Box struct {
	lattice  [9]float64
	inv      [9]float64
	periodic [3]bool
}

// New builds a Box from a 9-component row-major lattice and per-axis
// periodicity flags. The lattice must be non-singular when any axis is
// periodic; a fully non-periodic box accepts any lattice (it is ignored).
func New(lattice []float64, periodic [3]bool) (*Box, error) {
	if len(lattice) != 9 {
		return nil, fmt.Errorf("geom: lattice must have 9 components, got %d", len(lattice))
	}
	b := &Box{periodic: periodic}
	copy(b.lattice[:], lattice)

	if !b.Periodic() {
		return b, nil
	}

	l := mat.NewDense(3, 3, lattice)
	det := mat.Det(l)
	if math.Abs(det) < 1e-12 {
		return nil, &InvalidBoxError{Det: det}
	}
	var inv mat.Dense
	if err := inv.Inverse(l); err != nil {
		return nil, &InvalidBoxError{Det: det}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			b.inv[i*3+j] = inv.At(i, j)
		}
	}
	return b, nil
}

// Orthorhombic builds an axis-aligned fully periodic box with edge lengths
// lx, ly, lz. Convenience for tests and drivers with rectangular cells.
func Orthorhombic(lx, ly, lz float64) (*Box, error) {
	return New([]float64{lx, 0, 0, 0, ly, 0, 0, 0, lz}, [3]bool{true, true, true})
}

// Periodic reports whether any axis is periodic.
func (b *Box) Periodic() bool {
	if b == nil {
		return false
	}
	return b.periodic[0] || b.periodic[1] || b.periodic[2]
}

// PeriodicAxis reports whether axis i (0..2) is periodic.
func (b *Box) PeriodicAxis(i int) bool {
	if b == nil {
		return false
	}
	return b.periodic[i]
}

// Lattice returns the row-major cell matrix.
func (b *Box) Lattice() [9]float64 {
	return b.lattice
}

// ToFrac converts a Cartesian position to fractional coordinates.
func (b *Box) ToFrac(x, y, z float64) (u, v, w float64) {
	u = x*b.inv[0] + y*b.inv[3] + z*b.inv[6]
	v = x*b.inv[1] + y*b.inv[4] + z*b.inv[7]
	w = x*b.inv[2] + y*b.inv[5] + z*b.inv[8]
	return
}

// ToCart converts fractional coordinates to a Cartesian position.
func (b *Box) ToCart(u, v, w float64) (x, y, z float64) {
	x = u*b.lattice[0] + v*b.lattice[3] + w*b.lattice[6]
	y = u*b.lattice[1] + v*b.lattice[4] + w*b.lattice[7]
	z = u*b.lattice[2] + v*b.lattice[5] + w*b.lattice[8]
	return
}

// Shift returns the Cartesian translation for an integer lattice shift
// (n, m, k): n·a + m·b + k·c.
func (b *Box) Shift(n, m, k int) [3]float64 {
	fn, fm, fk := float64(n), float64(m), float64(k)
	return [3]float64{
		fn*b.lattice[0] + fm*b.lattice[3] + fk*b.lattice[6],
		fn*b.lattice[1] + fm*b.lattice[4] + fk*b.lattice[7],
		fn*b.lattice[2] + fm*b.lattice[5] + fk*b.lattice[8],
	}
}

// Wrap maps every position in the flat Nx3 slice into the primary cell along
// periodic axes; non-periodic axes are left untouched. It returns, per atom,
// the integer lattice shift that was applied (useful to undo the wrap).
func (b *Box) Wrap(coords []float64) [][3]int {
	n := len(coords) / 3
	shifts := make([][3]int, n)
	if !b.Periodic() {
		return shifts
	}
	for i := 0; i < n; i++ {
		x, y, z := coords[3*i], coords[3*i+1], coords[3*i+2]
		u, v, w := b.ToFrac(x, y, z)
		f := [3]float64{u, v, w}
		for ax := 0; ax < 3; ax++ {
			if !b.periodic[ax] {
				continue
			}
			s := math.Floor(f[ax])
			f[ax] -= s
			shifts[i][ax] = -int(s)
		}
		coords[3*i], coords[3*i+1], coords[3*i+2] = b.ToCart(f[0], f[1], f[2])
	}
	return shifts
}

// MinImage returns the minimum-image displacement from position a to b using
// the full triclinic lattice. Only periodic axes are reduced.
func (b *Box) MinImage(ax, ay, az, bx, by, bz float64) [3]float64 {
	dx, dy, dz := bx-ax, by-ay, bz-az
	if !b.Periodic() {
		return [3]float64{dx, dy, dz}
	}
	u, v, w := b.ToFrac(dx, dy, dz)
	f := [3]float64{u, v, w}
	for i := 0; i < 3; i++ {
		if b.periodic[i] {
			f[i] -= math.Round(f[i])
		}
	}
	x, y, z := b.ToCart(f[0], f[1], f[2])
	return [3]float64{x, y, z}
}

// FaceDistances returns the perpendicular width of the cell along each
// lattice direction: volume divided by the area of the opposing face. The
// neighbor builder uses these to decide how many image shells a cutoff needs.
func (b *Box) FaceDistances() [3]float64 {
	a := [3]float64{b.lattice[0], b.lattice[1], b.lattice[2]}
	bb := [3]float64{b.lattice[3], b.lattice[4], b.lattice[5]}
	c := [3]float64{b.lattice[6], b.lattice[7], b.lattice[8]}
	vol := math.Abs(dot(cross(a, bb), c))
	return [3]float64{
		vol / norm(cross(bb, c)),
		vol / norm(cross(c, a)),
		vol / norm(cross(a, bb)),
	}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}
