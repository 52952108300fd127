package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/deepforce-ml/deepforce/model"
	"github.com/deepforce-ml/deepforce/parallel"
)

// runConfig is the TOML run configuration for the eval command.
type runConfig struct {
	Frames    string `toml:"frames"`    // extended-XYZ trajectory
	Device    string `toml:"device"`    // cpu (default), gpu or gpu:<index>
	Precision string `toml:"precision"` // artifact (default), float32 or float64
	Workers   int    `toml:"workers"`   // 0 = all CPUs, 1 = sequential
}

func loadRunConfig(path string) (runConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return runConfig{}, err
	}
	defer f.Close()

	var cfg runConfig
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return runConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Frames == "" {
		return runConfig{}, fmt.Errorf("%s: frames is required", path)
	}
	return cfg, nil
}

// options maps the run configuration onto model load options.
func (c runConfig) options() ([]model.Option, error) {
	var opts []model.Option

	switch {
	case c.Device == "" || c.Device == "cpu":
	case c.Device == "gpu":
		opts = append(opts, model.WithDevice(model.GPUAuto))
	case strings.HasPrefix(c.Device, "gpu:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(c.Device, "gpu:"))
		if err != nil {
			return nil, fmt.Errorf("bad device %q", c.Device)
		}
		opts = append(opts, model.WithDevice(model.GPUIndex(idx)))
	default:
		return nil, fmt.Errorf("bad device %q (want cpu, gpu or gpu:<index>)", c.Device)
	}

	switch c.Precision {
	case "", "artifact":
	case "float32":
		opts = append(opts, model.WithPrecision(model.Float32))
	case "float64":
		opts = append(opts, model.WithPrecision(model.Float64))
	default:
		return nil, fmt.Errorf("bad precision %q (want artifact, float32 or float64)", c.Precision)
	}

	switch {
	case c.Workers < 0:
		return nil, fmt.Errorf("bad workers %d", c.Workers)
	case c.Workers == 1:
		opts = append(opts, model.WithParallelism(parallel.Sequential()))
	case c.Workers > 1:
		cfg := parallel.DefaultConfig()
		cfg.NumWorkers = c.Workers
		opts = append(opts, model.WithParallelism(cfg))
	}
	return opts, nil
}
