package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Reader reads tensors from SafeTensors data.
type Reader struct {
	r          io.ReaderAt
	closer     io.Closer
	header     Header
	dataOffset int64
	dataSize   int64
}

// Open opens a SafeTensors file.
func Open(path string) (*Reader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	r, err := NewReader(file, info.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = file
	return r, nil
}

// NewReader parses and validates the header of size bytes of SafeTensors
// data read from r.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	var prefix [8]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	headerSize := binary.LittleEndian.Uint64(prefix[:])
	if headerSize > MaxHeaderSize || int64(headerSize) > size-8 { //nolint:gosec // G115: bounded by MaxHeaderSize
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := r.ReadAt(headerBytes, 8); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by MaxHeaderSize
	dataSize := size - dataOffset
	if err := ValidateHeader(&header, dataSize); err != nil {
		return nil, err
	}

	return &Reader{
		r:          r,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   dataSize,
	}, nil
}

// Close closes the underlying file, if the Reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (r *Reader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in sorted order.
func (r *Reader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *Reader) TensorInfo(name string) (TensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return info, nil
}

// ReadTensorData reads the stored bytes of a tensor.
func (r *Reader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.r.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor reads a tensor and decodes it to its in-memory dtype.
func (r *Reader) LoadTensor(name string, backend tensor.Backend) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	dtype, err := loadedDType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	// Scalars are stored with shape [].
	shape := tensor.Shape(info.Shape)
	if len(shape) == 0 {
		shape = tensor.Shape{1}
	}
	raw, err := tensor.NewRaw(shape, dtype, backend.Device())
	if err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}
	decode(raw, info.DType, data)
	return raw, nil
}

func decode(raw *tensor.RawTensor, stored DType, data []byte) {
	switch stored {
	case F16:
		out := raw.AsFloat32()
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
		}
	case BF16:
		copy(raw.AsFloat32(), bfloat16.DecodeFloat32(data))
	case F64:
		out := raw.AsFloat32()
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
		}
	case I64:
		out := raw.AsInt32()
		for i := range out {
			out[i] = int32(int64(binary.LittleEndian.Uint64(data[8*i:]))) //nolint:gosec // G115: counters and labels fit in int32
		}
	default:
		copy(raw.Data(), data)
	}
}

// ReadStateDict loads every tensor in the file.
func (r *Reader) ReadStateDict(backend tensor.Backend) (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, name := range r.TensorNames() {
		raw, err := r.LoadTensor(name, backend)
		if err != nil {
			return nil, err
		}
		stateDict[name] = raw
	}
	return stateDict, nil
}

// VerifyChecksum checks the data section against the stored SHA-256.
// Files without a checksum pass.
func (r *Reader) VerifyChecksum() error {
	stored, ok := r.header.Metadata[ChecksumKey]
	if !ok {
		return nil
	}
	sum, err := ComputeChecksumReader(io.NewSectionReader(r.r, r.dataOffset, r.dataSize))
	if err != nil {
		return fmt.Errorf("failed to read data section: %w", err)
	}
	return ValidateChecksum(sum, stored)
}

// ReadFile opens path, verifies its checksum and loads every tensor.
func ReadFile(path string, backend tensor.Backend) (map[string]*tensor.RawTensor, map[string]string, error) {
	r, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = r.Close() // Best effort close
	}()

	if err := r.VerifyChecksum(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	stateDict, err := r.ReadStateDict(backend)
	if err != nil {
		return nil, nil, err
	}
	return stateDict, r.Metadata(), nil
}
