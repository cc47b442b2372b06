package tensor

import (
	"math"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	t := tensor.Zeros[float32](Shape{3, 4}, backend)
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	raw, err := NewRaw(shape, inferDataType[T](), b.Device())
	if err != nil {
		panic(err)
	}
	return New[T, B](raw, b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, T(1), b)
}

// Randn creates a float32 tensor with values drawn from N(0, 1).
// Uses the Box-Muller transform.
func Randn[B Backend](shape Shape, b B) *Tensor[float32, B] {
	return RandnWith(shape, b, nil)
}

// RandnWith is like Randn but draws from rng (global source when nil).
func RandnWith[B Backend](shape Shape, b B, rng *rand.Rand) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()

	float := rand.Float64 //nolint:gosec // G404: weight init and test data, not security sensitive
	if rng != nil {
		float = rng.Float64
	}

	for i := 0; i < len(data); i += 2 {
		u1 := 1 - float() // (0, 1], avoids log(0)
		u2 := float()
		r := math.Sqrt(-2.0 * math.Log(u1))
		data[i] = float32(r * math.Cos(2.0*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = float32(r * math.Sin(2.0*math.Pi*u2))
		}
	}
	return t
}
