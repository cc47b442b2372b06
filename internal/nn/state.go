package nn

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/deeplab/internal/tensor"
)

// State dict errors.
var (
	ErrMissingKeys    = errors.New("missing keys in state dict")
	ErrUnexpectedKeys = errors.New("unexpected keys in state dict")
	ErrShapeMismatch  = errors.New("shape mismatch in state dict")
)

// StateDict returns every parameter and buffer of m keyed by its name.
// The tensors are shared with the module, not copied.
func StateDict[B tensor.Backend](m Module[B]) map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for _, p := range m.Parameters() {
		sd[p.Name()] = p.Tensor().Raw()
	}
	for _, b := range Buffers(m) {
		sd[b.Name()] = b.Tensor().Raw()
	}
	return sd
}

// LoadStateDict copies tensors from sd into m's parameters and buffers.
//
// Every tensor of m must be present with the same shape. With strict set,
// keys in sd that m does not own are an error as well.
func LoadStateDict[B tensor.Backend](m Module[B], sd map[string]*tensor.RawTensor, strict bool) error {
	own := StateDict(m)

	var missing []string
	for name, dst := range own {
		src, ok := sd[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !src.Shape().Equal(dst.Shape()) {
			return fmt.Errorf("%w: %s has %v, model expects %v", ErrShapeMismatch, name, src.Shape(), dst.Shape())
		}
		if err := dst.CopyFrom(src); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingKeys, strings.Join(missing, ", "))
	}

	if strict {
		var unexpected []string
		for name := range sd {
			if _, ok := own[name]; !ok {
				unexpected = append(unexpected, name)
			}
		}
		if len(unexpected) > 0 {
			sort.Strings(unexpected)
			return fmt.Errorf("%w: %s", ErrUnexpectedKeys, strings.Join(unexpected, ", "))
		}
	}
	return nil
}

// NumParameters returns the number of trainable scalars in m.
func NumParameters[B tensor.Backend](m Module[B]) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}
