package tensor

import (
	"math"
	"math/rand/v2"
)

// RandN creates a float32 tensor filled with standard-normal values.
//
// Uses the Box-Muller transform over a PCG source seeded with seed, so the same
// seed always produces the same tensor.
func RandN(shape Shape, seed uint64) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G404: statistical filler values, not security sensitive
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := t.AsFloat32()
	for i := 0; i < len(data); i += 2 {
		u1 := 1 - rng.Float64() // (0, 1]: keeps Log finite
		u2 := rng.Float64()
		r := math.Sqrt(-2.0 * math.Log(u1))
		data[i] = float32(r * math.Cos(2.0*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = float32(r * math.Sin(2.0*math.Pi*u2))
		}
	}
	return t, nil
}

// Full creates a float32 tensor with every element set to value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// Scalar creates a rank-0 float32 tensor.
func Scalar(value float32) *RawTensor {
	t, _ := Full(Shape{}, value)
	return t
}

// Int64Vector creates a rank-1 int64 tensor.
func Int64Vector(values ...int64) *RawTensor {
	t, _ := FromInt64(Shape{len(values)}, values)
	return t
}
