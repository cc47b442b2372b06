// Package tensor provides the core tensor types used by the segmentation stack.
//
// A Tensor pairs a RawTensor (shape, dtype, contiguous row-major storage)
// with the Backend that computes on it. Layers and losses work on
// Tensor[float32, B]; ground-truth masks and predictions use Tensor[int32, B].
package tensor

// DType is a constraint for supported tensor element types.
type DType interface {
	~float32 | ~int32 | ~uint8
}

// DataType is the runtime element type of a RawTensor.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Int32
	Uint8
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Uint8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

func inferDataType[T DType]() DataType {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	case uint8:
		return Uint8
	default:
		panic("unsupported type")
	}
}
