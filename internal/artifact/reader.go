package artifact

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/deepforce-ml/deepforce/internal/descriptor"
	"github.com/deepforce-ml/deepforce/internal/fitting"
	"github.com/deepforce-ml/deepforce/internal/tensor"
)

// MaxHeaderSize bounds the JSON header so a corrupt size field cannot force
// a huge allocation.
const MaxHeaderSize = 16 * 1024 * 1024

// ReadOptions configures Load.
type ReadOptions struct {
	SkipChecksum bool // skip v2 checksum verification
}

// Load reads a .dpf file and reconstructs the model, verifying the checksum
// on v2 files.
func Load(path string) (*Model, error) {
	return LoadWithOptions(path, ReadOptions{})
}

// ReadHeader parses only the header of a .dpf file: magic, version, the
// JSON header and the tensor table. The data section is not read and the
// checksum is not verified.
func ReadHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to open file: %w", err)
	}
	defer file.Close()

	r := &reader{file: file, opts: ReadOptions{SkipChecksum: true}}
	if err := r.parse(); err != nil {
		return nil, err
	}
	h := r.header
	return &h, nil
}

// LoadWithOptions reads a .dpf file with explicit options.
func LoadWithOptions(path string, opts ReadOptions) (*Model, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to open file: %w", err)
	}
	defer file.Close()

	r := &reader{file: file, opts: opts}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r.decode()
}

type reader struct {
	file       *os.File
	opts       ReadOptions
	header     Header
	version    uint32
	dataOffset int64
	dataSize   int64
	checksum   [ChecksumSize]byte
}

func (r *reader) parse() error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r.file, magic); err != nil {
		return fmt.Errorf("artifact: failed to read magic bytes: %w", err)
	}
	if string(magic) != MagicBytes {
		return ErrInvalidMagic
	}
	if err := binary.Read(r.file, binary.LittleEndian, &r.version); err != nil {
		return fmt.Errorf("artifact: failed to read version: %w", err)
	}

	switch r.version {
	case FormatVersionV1:
		if err := r.parseV1(); err != nil {
			return err
		}
	case FormatVersionV2:
		if err := r.parseV2(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.version)
	}

	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("artifact: failed to stat file: %w", err)
	}
	fileDataSize := info.Size() - r.dataOffset
	if fileDataSize < 0 {
		return &ValidationError{Type: "truncated_file",
			Details: fmt.Sprintf("data section starts at %d past file size %d", r.dataOffset, info.Size())}
	}
	if r.version == FormatVersionV1 {
		r.dataSize = fileDataSize
	} else if r.dataSize > fileDataSize {
		return &ValidationError{Type: "truncated_file",
			Details: fmt.Sprintf("header claims %d data bytes, file holds %d", r.dataSize, fileDataSize)}
	}

	if err := validateTensorOffsets(r.header.Tensors, r.dataSize); err != nil {
		return err
	}
	if r.version == FormatVersionV2 && !r.opts.SkipChecksum {
		if err := r.verifyChecksum(); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) parseV1() error {
	var flags uint32
	if err := binary.Read(r.file, binary.LittleEndian, &flags); err != nil {
		return fmt.Errorf("artifact: failed to read flags: %w", err)
	}
	var headerSize uint64
	if err := binary.Read(r.file, binary.LittleEndian, &headerSize); err != nil {
		return fmt.Errorf("artifact: failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	if err := r.readHeaderJSON(headerSize); err != nil {
		return err
	}
	pos := int64(4+4+4+8) + int64(headerSize)
	r.dataOffset = pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
	return nil
}

func (r *reader) parseV2() error {
	fixed := make([]byte, FixedHeaderSizeV2)
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("artifact: failed to seek: %w", err)
	}
	if _, err := io.ReadFull(r.file, fixed); err != nil {
		return fmt.Errorf("artifact: failed to read fixed header: %w", err)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[0x10:])
	if headerSize > MaxHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	r.dataSize = int64(binary.LittleEndian.Uint64(fixed[0x18:]))
	copy(r.checksum[:], fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	if err := r.readHeaderJSON(headerSize); err != nil {
		return err
	}
	pos := int64(FixedHeaderSizeV2) + int64(headerSize)
	r.dataOffset = pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
	return nil
}

func (r *reader) readHeaderJSON(size uint64) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.file, buf); err != nil {
		return fmt.Errorf("artifact: failed to read header: %w", err)
	}
	if err := json.Unmarshal(buf, &r.header); err != nil {
		return fmt.Errorf("artifact: failed to parse header: %w", err)
	}
	return nil
}

func (r *reader) verifyChecksum() error {
	if _, err := r.file.Seek(r.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("artifact: failed to seek: %w", err)
	}
	h := sha256.New()
	if _, err := io.CopyN(h, r.file, r.dataSize); err != nil {
		return fmt.Errorf("artifact: failed to hash data section: %w", err)
	}
	var sum [ChecksumSize]byte
	copy(sum[:], h.Sum(nil))
	if sum != r.checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// readTensor reads one tensor's bytes from the data section.
func (r *reader) readTensor(meta TensorMeta) ([]byte, error) {
	buf := make([]byte, meta.Size)
	if _, err := r.file.ReadAt(buf, r.dataOffset+meta.Offset); err != nil {
		return nil, fmt.Errorf("artifact: failed to read tensor %s: %w", meta.Name, err)
	}
	return buf, nil
}

// decode rebuilds the Model from the parsed header and the data section.
func (r *reader) decode() (*Model, error) {
	hm := r.header.Model
	dtype, ok := stringToDType(hm.Precision)
	if !ok {
		return nil, &ValidationError{Type: "bad_precision", Details: hm.Precision}
	}

	m := &Model{
		TypeMap:  hm.TypeMap,
		Rcut:     hm.Rcut,
		RcutSmth: hm.RcutSmth,
		Sel:      hm.Sel,
	}
	ntypes := len(hm.TypeMap)

	net, err := fitting.New(m.NNei()*4, hm.Neurons, ntypes, dtype)
	if err != nil {
		return nil, err
	}
	if len(hm.EnergyBias) != ntypes {
		return nil, &ValidationError{Type: "bad_hyperparameters",
			Details: fmt.Sprintf("%d energy biases for %d types", len(hm.EnergyBias), ntypes)}
	}
	copy(net.EnergyBias, hm.EnergyBias)
	m.Net = net

	byName := make(map[string]TensorMeta, len(r.header.Tensors))
	for _, t := range r.header.Tensors {
		byName[t.Name] = t
	}

	avg, err := r.loadStat(byName, TensorAvg, ntypes*m.NNei()*4)
	if err != nil {
		return nil, err
	}
	std, err := r.loadStat(byName, TensorStd, ntypes*m.NNei()*4)
	if err != nil {
		return nil, err
	}
	m.Stats = &descriptor.Stats{Avg: avg, Std: std}

	for t := 0; t < ntypes; t++ {
		for l := 0; l < net.NumLayers(); l++ {
			if err := r.fill(byName, WeightName(t, l), net.Weights[t][l]); err != nil {
				return nil, err
			}
			if err := r.fill(byName, BiasName(t, l), net.Biases[t][l]); err != nil {
				return nil, err
			}
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// loadStat reads a float64 statistics tensor of the expected element count.
func (r *reader) loadStat(byName map[string]TensorMeta, name string, want int) ([]float64, error) {
	meta, ok := byName[name]
	if !ok {
		return nil, &ValidationError{Type: "missing_tensor", Tensor: name, Details: "not in data section"}
	}
	if meta.DType != DTypeFloat64 {
		return nil, &ValidationError{Type: "dtype_mismatch", Tensor: name,
			Details: fmt.Sprintf("got %s, want %s", meta.DType, DTypeFloat64)}
	}
	if meta.Size != int64(want)*8 {
		return nil, &ValidationError{Type: "size_mismatch", Tensor: name,
			Details: fmt.Sprintf("got %d bytes, want %d", meta.Size, want*8)}
	}
	buf, err := r.readTensor(meta)
	if err != nil {
		return nil, err
	}
	out := make([]float64, want)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// fill copies a parameter tensor's bytes into the destination allocated by
// fitting.New, after checking dtype and size.
func (r *reader) fill(byName map[string]TensorMeta, name string, dst *tensor.RawTensor) error {
	meta, ok := byName[name]
	if !ok {
		return &ValidationError{Type: "missing_tensor", Tensor: name, Details: "not in data section"}
	}
	if meta.DType != dtypeToString(dst.DType()) {
		return &ValidationError{Type: "dtype_mismatch", Tensor: name,
			Details: fmt.Sprintf("got %s, want %s", meta.DType, dst.DType())}
	}
	if meta.Size != int64(dst.ByteSize()) {
		return &ValidationError{Type: "size_mismatch", Tensor: name,
			Details: fmt.Sprintf("got %d bytes, want %d", meta.Size, dst.ByteSize())}
	}
	buf, err := r.readTensor(meta)
	if err != nil {
		return err
	}
	copy(dst.Data(), buf)
	return nil
}

// validateTensorOffsets rejects overlapping or out-of-bounds tensor regions
// before any data is read.
func validateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{Type: "negative_offset", Tensor: t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size)}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{Type: "out_of_bounds", Tensor: t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data size %d", t.Offset, t.Size, dataSize)}
		}
		if i+1 < len(sorted) {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{Type: "offset_overlap", Tensor: t.Name, Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size)}
			}
		}
	}
	return nil
}
