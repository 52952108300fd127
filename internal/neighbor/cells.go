package neighbor

import "math"

// cellGrid bins extended atoms into an axis-aligned grid with cell edge at
// least rcut, so every neighbor of an atom lies in its own or one of the 26
// surrounding cells. Atoms within a cell form an intrusive linked list
// (head per cell, next per atom), which keeps rebuilds allocation-free once
// the buffers are warm.
type cellGrid struct {
	origin [3]float64
	size   [3]float64
	dims   [3]int
	head   []int32
	next   []int32
}

func (g *cellGrid) build(coords []float64, n int, rcut float64) {
	for d := 0; d < 3; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			v := coords[3*i+d]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		extent := hi - lo
		dims := int(extent / rcut)
		if dims < 1 {
			dims = 1
		}
		g.origin[d] = lo
		g.dims[d] = dims
		g.size[d] = extent / float64(dims)
		if g.size[d] <= 0 {
			g.size[d] = rcut
		}
	}

	ncells := g.dims[0] * g.dims[1] * g.dims[2]
	if cap(g.head) < ncells {
		g.head = make([]int32, ncells)
	}
	g.head = g.head[:ncells]
	for i := range g.head {
		g.head[i] = -1
	}
	if cap(g.next) < n {
		g.next = make([]int32, n)
	}
	g.next = g.next[:n]

	for i := 0; i < n; i++ {
		c := g.cellIndex(coords[3*i], coords[3*i+1], coords[3*i+2])
		g.next[i] = g.head[c]
		g.head[c] = int32(i)
	}
}

func (g *cellGrid) coord(d int, v float64) int {
	c := int((v - g.origin[d]) / g.size[d])
	if c < 0 {
		c = 0
	}
	if c >= g.dims[d] {
		c = g.dims[d] - 1
	}
	return c
}

func (g *cellGrid) cellIndex(x, y, z float64) int {
	cx := g.coord(0, x)
	cy := g.coord(1, y)
	cz := g.coord(2, z)
	return (cx*g.dims[1]+cy)*g.dims[2] + cz
}

// visitNeighborhood calls f with the head of every cell in the 3x3x3 block
// around the cell containing (x, y, z), clipped at the grid boundary.
func (g *cellGrid) visitNeighborhood(x, y, z float64, f func(head int32)) {
	cx := g.coord(0, x)
	cy := g.coord(1, y)
	cz := g.coord(2, z)
	for dx := -1; dx <= 1; dx++ {
		nx := cx + dx
		if nx < 0 || nx >= g.dims[0] {
			continue
		}
		for dy := -1; dy <= 1; dy++ {
			ny := cy + dy
			if ny < 0 || ny >= g.dims[1] {
				continue
			}
			for dz := -1; dz <= 1; dz++ {
				nz := cz + dz
				if nz < 0 || nz >= g.dims[2] {
					continue
				}
				f(g.head[(nx*g.dims[1]+ny)*g.dims[2]+nz])
			}
		}
	}
}
