package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/x448/float16"

	"github.com/born-ml/deeplab/internal/tensor"
)

// WriteOptions controls how tensors are stored.
type WriteOptions struct {
	// HalfPrecision stores float32 tensors as F16.
	HalfPrecision bool
}

// Writer writes SafeTensors data to an io.Writer.
type Writer struct {
	w    io.Writer
	opts WriteOptions
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer, opts WriteOptions) *Writer {
	return &Writer{w: w, opts: opts}
}

// WriteStateDict writes every tensor of stateDict, sorted by name, with the
// given metadata. The SHA-256 of the data section is added to the metadata
// under ChecksumKey.
func (w *Writer) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{
		Metadata: make(map[string]string, len(metadata)+1),
		Tensors:  make(map[string]TensorInfo, len(names)),
	}
	for k, v := range metadata {
		header.Metadata[k] = v
	}

	payloads := make([][]byte, len(names))
	hash := sha256.New()
	var offset int64
	for i, name := range names {
		raw := stateDict[name]
		dtype, err := storedDType(raw.DType(), w.opts.HalfPrecision)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		payloads[i] = encode(raw, dtype)
		_, _ = hash.Write(payloads[i])

		size := int64(len(payloads[i]))
		header.Tensors[name] = TensorInfo{
			DType:       dtype,
			Shape:       append([]int(nil), raw.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	header.Metadata[ChecksumKey] = hex.EncodeToString(hash.Sum(nil))

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, name := range names {
		if _, err := w.w.Write(payloads[i]); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// encode returns the little-endian payload of raw stored as dtype.
func encode(raw *tensor.RawTensor, dtype DType) []byte {
	if dtype != F16 {
		return raw.Data()
	}
	values := raw.AsFloat32()
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
	}
	return out
}

// WriteFile writes stateDict to path. The file is written to a temporary
// name in the same directory and renamed into place, so an interrupted save
// never leaves a truncated checkpoint behind.
func WriteFile(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string, opts WriteOptions) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name()) // no-op after a successful rename
	}()

	if err := NewWriter(tmp, opts).WriteStateDict(stateDict, metadata); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}
