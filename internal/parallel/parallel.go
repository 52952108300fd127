// Package parallel provides the shared-memory worker pool used to spread
// per-atom work (neighbor search, descriptor assembly, network evaluation)
// across CPU cores.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 16, // A handful of atoms amortizes goroutine overhead.
	}
}

// Sequential returns a config that forces single-threaded execution.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForWorkers splits [0, n) into at most cfg.NumWorkers contiguous chunks and
// calls f(worker, start, end) once per chunk, where worker is a stable index
// in [0, NumWorkers). Callers that accumulate into shared output keep one
// partial accumulator per worker index and merge after the call returns.
func ForWorkers(n int, f func(worker, start, end int), cfg Config) {
	workers := cfg.NumWorkers
	if !cfg.Enabled || workers < 2 || n < 2*cfg.MinChunkSize {
		f(0, 0, n)
		return
	}
	chunkSize := max((n+workers-1)/workers, cfg.MinChunkSize)

	var wg sync.WaitGroup
	worker := 0
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(w, s, e int) {
			defer wg.Done()
			f(w, s, e)
		}(worker, start, end)
		worker++
	}
	wg.Wait()
}
