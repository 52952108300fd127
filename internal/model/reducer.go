package model

import (
	"github.com/deepforce-ml/deepforce/internal/backend"
	"github.com/deepforce-ml/deepforce/internal/neighbor"
	"github.com/deepforce-ml/deepforce/internal/parallel"
)

// reducer scatters the backend's pair-force table onto per-atom forces and
// accumulates the virial. Each worker writes into its own full-length force
// partial because a neighbor pair can land on any atom; partials are merged
// in worker order after the parallel region, so results are stable for a
// fixed worker configuration.
type reducer struct {
	cfg parallel.Config

	forces  [][]float64
	virials [][9]float64
}

func (r *reducer) prepare(n int) {
	workers := r.cfg.NumWorkers
	if !r.cfg.Enabled || workers < 1 {
		workers = 1
	}
	if len(r.forces) < workers {
		r.forces = append(r.forces, make([][]float64, workers-len(r.forces))...)
		r.virials = make([][9]float64, workers)
	}
	for w := 0; w < workers; w++ {
		if cap(r.forces[w]) < 3*n {
			r.forces[w] = make([]float64, 3*n)
		}
		r.forces[w] = r.forces[w][:3*n]
		for i := range r.forces[w] {
			r.forces[w][i] = 0
		}
		r.virials[w] = [9]float64{}
	}
}

func (r *reducer) reduce(list *neighbor.List, out *backend.Output, res *Result) {
	n := list.NReal
	nnei := list.NNei
	r.prepare(n)

	for _, e := range out.AtomEnergy[:n] {
		res.Energy += e
	}

	parallel.ForWorkers(n, func(worker, start, end int) {
		f := r.forces[worker]
		v := &r.virials[worker]
		for i := start; i < end; i++ {
			for k := 0; k < nnei; k++ {
				slot := i*nnei + k
				j := list.Idx[slot]
				if j == neighbor.PadIndex {
					continue
				}
				fx := out.PairForce[3*slot]
				fy := out.PairForce[3*slot+1]
				fz := out.PairForce[3*slot+2]

				// Newton's third law: dE_i/dx_ij pulls i and pushes the
				// neighbor's originating real atom.
				f[3*i] -= fx
				f[3*i+1] -= fy
				f[3*i+2] -= fz
				jr, _ := list.Ext.Resolve(j)
				f[3*jr] += fx
				f[3*jr+1] += fy
				f[3*jr+2] += fz

				x := list.Vec[3*slot : 3*slot+3]
				fv := [3]float64{fx, fy, fz}
				for a := 0; a < 3; a++ {
					for b := 0; b < 3; b++ {
						v[a*3+b] -= 0.5 * (x[a]*fv[b] + fv[a]*x[b])
					}
				}
			}
		}
	}, r.cfg)

	for w := range r.forces {
		if len(r.forces[w]) == 0 {
			continue
		}
		for i := range res.Forces {
			res.Forces[i] += r.forces[w][i]
		}
		for c := 0; c < 9; c++ {
			res.Virial[c] += r.virials[w][c]
		}
	}
}
