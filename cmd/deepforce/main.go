// Command deepforce evaluates trained interatomic potentials over atomic
// configurations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/deepforce-ml/deepforce/internal/artifact"
	"github.com/deepforce-ml/deepforce/model"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("deepforce %s\n", version)
	case "info":
		err = runInfo(os.Args[2:])
	case "eval":
		err = runEval(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "deepforce: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("deepforce - machine-learned interatomic potential runtime")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version              Show version")
	fmt.Println("  info <model.dpf>     Print artifact header and tensor table")
	fmt.Println("  eval -m <model.dpf> -c <run.toml>")
	fmt.Println("                       Evaluate energy, forces and virial over frames")
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: deepforce info <model.dpf>")
	}
	h, err := artifact.ReadHeader(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("format version: %d\n", h.FormatVersion)
	fmt.Printf("runtime:        %s\n", h.RuntimeVersion)
	fmt.Printf("created:        %s\n", h.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("type map:       %v\n", h.Model.TypeMap)
	fmt.Printf("rcut:           %g\n", h.Model.Rcut)
	fmt.Printf("rcut_smth:      %g\n", h.Model.RcutSmth)
	fmt.Printf("sel:            %v\n", h.Model.Sel)
	fmt.Printf("precision:      %s\n", h.Model.Precision)
	fmt.Printf("neurons:        %v\n", h.Model.Neurons)
	fmt.Printf("energy bias:    %v\n", h.Model.EnergyBias)
	fmt.Printf("tensors:        %d\n", len(h.Tensors))
	for _, t := range h.Tensors {
		fmt.Printf("  %-28s %-8s %-14v offset=%-10d size=%d\n",
			t.Name, t.DType, t.Shape, t.Offset, t.Size)
	}
	return nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	modelPath := fs.String("m", "", "model artifact (.dpf)")
	cfgPath := fs.String("c", "", "run configuration (TOML)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath == "" || *cfgPath == "" {
		return fmt.Errorf("usage: deepforce eval -m <model.dpf> -c <run.toml>")
	}

	cfg, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	opts, err := cfg.options()
	if err != nil {
		return err
	}

	h, err := model.Load(*modelPath, opts...)
	if err != nil {
		return err
	}
	defer h.Close()

	frames, err := readFrames(cfg.Frames)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%s holds no frames", cfg.Frames)
	}

	for fi, frame := range frames {
		types, err := frame.typeIndices(h.TypeMap())
		if err != nil {
			return fmt.Errorf("frame %d: %w", fi, err)
		}
		box, err := frame.box()
		if err != nil {
			return fmt.Errorf("frame %d: %w", fi, err)
		}

		res, err := h.Evaluate(frame.Coords, types, box)
		if err != nil {
			return fmt.Errorf("frame %d: %w", fi, err)
		}
		printResult(fi, &frame, res)
	}
	return nil
}

func printResult(fi int, frame *Frame, res *model.Result) {
	fmt.Printf("frame %d: %d atoms\n", fi, len(frame.Symbols))
	fmt.Printf("energy: %.10f\n", res.Energy)
	fmt.Println("forces:")
	for i, sym := range frame.Symbols {
		fmt.Printf("  %-4s % .10f % .10f % .10f\n",
			sym, res.Forces[3*i], res.Forces[3*i+1], res.Forces[3*i+2])
	}
	fmt.Println("virial:")
	for a := 0; a < 3; a++ {
		fmt.Printf("  % .10f % .10f % .10f\n",
			res.Virial[3*a], res.Virial[3*a+1], res.Virial[3*a+2])
	}
}
