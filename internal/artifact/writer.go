package artifact

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// WriteOptions configures Save.
type WriteOptions struct {
	Version int // FormatVersionV1 or FormatVersionV2; zero means v2
}

// Save writes the model to path in the current format version (v2, with a
// SHA-256 checksum over the tensor data section).
func Save(path string, m *Model) error {
	return SaveWithOptions(path, m, WriteOptions{Version: FormatVersionV2})
}

// SaveWithOptions writes the model in an explicit format version.
func SaveWithOptions(path string, m *Model, opts WriteOptions) error {
	if opts.Version == 0 {
		opts.Version = FormatVersionV2
	}
	if opts.Version != FormatVersionV1 && opts.Version != FormatVersionV2 {
		return fmt.Errorf("artifact: cannot write format version %d", opts.Version)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	header, data, err := encode(m, opts.Version)
	if err != nil {
		return err
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("artifact: failed to marshal header: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("artifact: failed to create file: %w", err)
	}
	defer file.Close()

	switch opts.Version {
	case FormatVersionV1:
		err = writeV1(file, headerJSON, data)
	case FormatVersionV2:
		err = writeV2(file, headerJSON, data)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// encode lays the model tensors into one data section, each aligned to
// HeaderAlignment, and builds the matching header.
func encode(m *Model, version int) (*Header, []byte, error) {
	header := &Header{
		FormatVersion:  version,
		RuntimeVersion: runtimeVersion,
		CreatedAt:      time.Now().UTC(),
		Model: ModelMeta{
			TypeMap:    m.TypeMap,
			Rcut:       m.Rcut,
			RcutSmth:   m.RcutSmth,
			Sel:        m.Sel,
			Precision:  dtypeToString(m.Net.DType),
			Neurons:    m.Net.Hidden,
			EnergyBias: m.Net.EnergyBias,
		},
	}

	var data []byte
	appendTensor := func(name string, dtype tensor.DataType, shape []int, raw []byte) {
		if pad := (HeaderAlignment - len(data)%HeaderAlignment) % HeaderAlignment; pad > 0 {
			data = append(data, make([]byte, pad)...)
		}
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtypeToString(dtype),
			Shape:  shape,
			Offset: int64(len(data)),
			Size:   int64(len(raw)),
		})
		data = append(data, raw...)
	}

	ntypes := len(m.TypeMap)
	statShape := []int{ntypes, m.NNei() * 4}
	appendTensor(TensorAvg, tensor.Float64, statShape, f64Bytes(m.Stats.Avg))
	appendTensor(TensorStd, tensor.Float64, statShape, f64Bytes(m.Stats.Std))

	for t := 0; t < ntypes; t++ {
		for l := 0; l < m.Net.NumLayers(); l++ {
			w := m.Net.Weights[t][l]
			appendTensor(WeightName(t, l), w.DType(), w.Shape(), w.Data())
			b := m.Net.Biases[t][l]
			appendTensor(BiasName(t, l), b.DType(), b.Shape(), b.Data())
		}
	}
	return header, data, nil
}

// writeV1 layout: magic(4) version(4) flags(4) headerSize(8) headerJSON
// padding-to-64 data.
func writeV1(file *os.File, headerJSON, data []byte) error {
	if _, err := file.WriteString(MagicBytes); err != nil {
		return fmt.Errorf("artifact: failed to write magic bytes: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(FormatVersionV1)); err != nil {
		return fmt.Errorf("artifact: failed to write version: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(0)); err != nil {
		return fmt.Errorf("artifact: failed to write flags: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("artifact: failed to write header size: %w", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		return fmt.Errorf("artifact: failed to write header: %w", err)
	}
	pos := int64(4+4+4+8) + int64(len(headerJSON))
	if err := writePadding(file, pos); err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("artifact: failed to write tensor data: %w", err)
	}
	return nil
}

// writeV2 layout: fixed 64-byte header, headerJSON, padding-to-64, data.
//
// Fixed header:
//
//	0x00-0x03 magic "DPFM"
//	0x04-0x07 version (2)
//	0x08-0x0B flags (0)
//	0x0C-0x0F reserved
//	0x10-0x17 header size
//	0x18-0x1F data size
//	0x20-0x3F SHA-256 checksum of the data section
func writeV2(file *os.File, headerJSON, data []byte) error {
	fixed := make([]byte, FixedHeaderSizeV2)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[0x04:], uint32(FormatVersionV2))
	binary.LittleEndian.PutUint64(fixed[0x10:], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[0x18:], uint64(len(data)))
	sum := sha256.Sum256(data)
	copy(fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], sum[:])

	if _, err := file.Write(fixed); err != nil {
		return fmt.Errorf("artifact: failed to write fixed header: %w", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		return fmt.Errorf("artifact: failed to write header: %w", err)
	}
	pos := int64(FixedHeaderSizeV2) + int64(len(headerJSON))
	if err := writePadding(file, pos); err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("artifact: failed to write tensor data: %w", err)
	}
	return nil
}

func writePadding(file *os.File, pos int64) error {
	padding := (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
	if padding == 0 {
		return nil
	}
	if _, err := file.Write(make([]byte, padding)); err != nil {
		return fmt.Errorf("artifact: failed to write padding: %w", err)
	}
	return nil
}

func f64Bytes(s []float64) []byte {
	buf := make([]byte, len(s)*8)
	for i, v := range s {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}
