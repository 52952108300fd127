package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/deepforce-ml/deepforce/geom"
)

// Frame is one configuration read from an extended-XYZ file.
type Frame struct {
	Symbols []string
	Coords  []float64 // flat Nx3
	Lattice []float64 // row-major 3x3, nil for non-periodic frames
}

// readFrames parses an extended-XYZ trajectory: per frame an atom count
// line, a comment line (optionally carrying Lattice="ax ay az bx ... cz"),
// then one "symbol x y z" line per atom. Extra per-atom columns are ignored.
func readFrames(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames []Frame
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0

	for sc.Scan() {
		line++
		head := strings.TrimSpace(sc.Text())
		if head == "" {
			continue
		}
		natoms, err := strconv.Atoi(head)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: expected atom count, got %q", path, line, head)
		}

		if !sc.Scan() {
			return nil, fmt.Errorf("%s:%d: missing comment line", path, line)
		}
		line++
		lattice, err := parseLattice(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}

		frame := Frame{
			Symbols: make([]string, 0, natoms),
			Coords:  make([]float64, 0, 3*natoms),
			Lattice: lattice,
		}
		for i := 0; i < natoms; i++ {
			if !sc.Scan() {
				return nil, fmt.Errorf("%s:%d: frame truncated after %d of %d atoms", path, line, i, natoms)
			}
			line++
			fields := strings.Fields(sc.Text())
			if len(fields) < 4 {
				return nil, fmt.Errorf("%s:%d: expected \"symbol x y z\"", path, line)
			}
			frame.Symbols = append(frame.Symbols, fields[0])
			for ax := 1; ax <= 3; ax++ {
				v, err := strconv.ParseFloat(fields[ax], 64)
				if err != nil {
					return nil, fmt.Errorf("%s:%d: bad coordinate %q", path, line, fields[ax])
				}
				frame.Coords = append(frame.Coords, v)
			}
		}
		frames = append(frames, frame)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// parseLattice extracts the 9 Lattice components from an extended-XYZ
// comment line, or nil when the frame carries no lattice.
func parseLattice(comment string) ([]float64, error) {
	idx := strings.Index(comment, `Lattice="`)
	if idx < 0 {
		return nil, nil
	}
	rest := comment[idx+len(`Lattice="`):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return nil, fmt.Errorf("unterminated Lattice attribute")
	}
	fields := strings.Fields(rest[:end])
	if len(fields) != 9 {
		return nil, fmt.Errorf("Lattice has %d components, want 9", len(fields))
	}
	lattice := make([]float64, 9)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad Lattice component %q", f)
		}
		lattice[i] = v
	}
	return lattice, nil
}

// typeIndices maps element symbols onto the model's type indices.
func (f *Frame) typeIndices(typeMap []string) ([]int32, error) {
	lookup := make(map[string]int32, len(typeMap))
	for i, name := range typeMap {
		lookup[name] = int32(i)
	}
	types := make([]int32, len(f.Symbols))
	for i, sym := range f.Symbols {
		t, ok := lookup[sym]
		if !ok {
			return nil, fmt.Errorf("element %q not in model type map %v", sym, typeMap)
		}
		types[i] = t
	}
	return types, nil
}

// box builds the periodic cell for the frame, nil when non-periodic.
func (f *Frame) box() (*geom.Box, error) {
	if f.Lattice == nil {
		return nil, nil
	}
	return geom.New(f.Lattice, [3]bool{true, true, true})
}
