// Package artifact implements the .dpf model file format: a binary container
// with a JSON header describing the model hyperparameters and a 64-byte
// aligned tensor data section holding the normalization statistics and the
// fitting-network parameters.
package artifact

import (
	"fmt"
	"time"

	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// Format constants.
const (
	MagicBytes        = "DPFM"
	FormatVersionV1   = 1    // v1: no checksum
	FormatVersionV2   = 2    // v2: fixed 64-byte header with SHA-256 checksum
	HeaderAlignment   = 64   // tensor data section alignment
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size
	ChecksumOffsetV2  = 0x20 // checksum offset in the v2 fixed header
)

// runtimeVersion is stamped into every artifact this runtime writes.
const runtimeVersion = "0.1.0"

// Data type string constants used in the JSON header.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
)

// Well-known tensor names in the data section.
const (
	TensorAvg = "davg"
	TensorStd = "dstd"
)

// Header is the JSON header of a .dpf file.
type Header struct {
	FormatVersion  int          `json:"format_version"`
	RuntimeVersion string       `json:"runtime_version"`
	CreatedAt      time.Time    `json:"created_at"`
	Model          ModelMeta    `json:"model"`
	Tensors        []TensorMeta `json:"tensors"`
}

// ModelMeta carries the hyperparameters the runtime needs to rebuild the
// evaluation pipeline exactly as it was exported.
type ModelMeta struct {
	TypeMap    []string  `json:"type_map"`        // element name per type index
	Rcut       float64   `json:"rcut"`            // neighbor cutoff radius
	RcutSmth   float64   `json:"rcut_smth"`       // smoothing onset radius
	Sel        []int     `json:"sel"`             // neighbor slot budget per type
	Precision  string    `json:"precision"`       // float32 or float64
	Neurons    []int     `json:"fitting_neurons"` // hidden layer widths
	EnergyBias []float64 `json:"energy_bias"`     // isolated-atom energy per type
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

// WeightName returns the data-section name of a per-type layer weight.
func WeightName(typ, layer int) string {
	return tensorName("weight", typ, layer)
}

// BiasName returns the data-section name of a per-type layer bias.
func BiasName(typ, layer int) string {
	return tensorName("bias", typ, layer)
}

func tensorName(kind string, typ, layer int) string {
	return fmt.Sprintf("fitting.%d.%d.%s", typ, layer, kind)
}

func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float64:
		return DTypeFloat64
	default:
		return "unknown"
	}
}

func stringToDType(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat64:
		return tensor.Float64, true
	default:
		return 0, false
	}
}
