package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Float16ToFloat32 converts an IEEE 754 half precision value to float32.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := int32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF

	var bits uint32
	switch exp {
	case 0:
		if mant == 0 {
			bits = sign << 31
			break
		}
		// Subnormal: shift until the implicit bit appears.
		exp = 1
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x3FF
		bits = sign<<31 | uint32(exp+127-15)<<23 | mant<<13
	case 0x1F:
		bits = sign<<31 | 0x7F800000 | mant<<13
	default:
		bits = sign<<31 | uint32(exp+127-15)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

// BFloat16ToFloat32 converts a bfloat16 value to float32.
func BFloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// WidenToFloat32 decodes little-endian 16-bit floats into a float32 tensor.
// bfloat selects bfloat16 instead of IEEE half precision.
func WidenToFloat32(shape Shape, data []byte, bfloat bool) (*RawTensor, error) {
	n := shape.NumElements()
	if len(data) != n*2 {
		return nil, fmt.Errorf("half precision data size mismatch: got %d bytes, want %d", len(data), n*2)
	}
	out, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	dst := out.AsFloat32()
	for i := range dst {
		v := binary.LittleEndian.Uint16(data[i*2:])
		if bfloat {
			dst[i] = BFloat16ToFloat32(v)
		} else {
			dst[i] = Float16ToFloat32(v)
		}
	}
	return out, nil
}
