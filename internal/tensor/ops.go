package tensor

import (
	"fmt"
	"math"
)

// BinaryOp selects the element-wise operation applied by Binary.
type BinaryOp int

// Element-wise binary operations.
const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
)

// String returns the ONNX operator name.
func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpMul:
		return "Mul"
	case OpDiv:
		return "Div"
	case OpPow:
		return "Pow"
	default:
		return "Unknown"
	}
}

// Transpose permutes the dimensions of t. An empty perm reverses them.
func Transpose(t *RawTensor, perm []int) (*RawTensor, error) {
	rank := len(t.shape)
	if len(perm) == 0 {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("transpose: perm %v does not match rank %d", perm, rank)
	}

	seen := make([]bool, rank)
	outShape := make(Shape, rank)
	inStrides := t.shape.ComputeStrides()
	srcStrides := make([]int, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("transpose: invalid perm %v", perm)
		}
		seen[p] = true
		outShape[i] = t.shape[p]
		srcStrides[i] = inStrides[p]
	}

	out, err := NewRaw(outShape, t.dtype)
	if err != nil {
		return nil, err
	}

	es := t.dtype.Size()
	idx := make([]int, rank)
	src := 0
	n := outShape.NumElements()
	for dst := 0; dst < n; dst++ {
		copy(out.data[dst*es:(dst+1)*es], t.data[src*es:(src+1)*es])
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			src += srcStrides[d]
			if idx[d] < outShape[d] {
				break
			}
			src -= srcStrides[d] * outShape[d]
			idx[d] = 0
		}
	}
	return out, nil
}

// Binary applies op element-wise with NumPy broadcasting.
// Both operands must share a dtype; float32 and int64 are supported.
func Binary(op BinaryOp, a, b *RawTensor) (*RawTensor, error) {
	if a.dtype != b.dtype {
		return nil, fmt.Errorf("%s: dtype mismatch %s vs %s", op, a.dtype, b.dtype)
	}
	outShape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := NewRaw(outShape, a.dtype)
	if err != nil {
		return nil, err
	}

	aStrides := broadcastStrides(a.shape, outShape)
	bStrides := broadcastStrides(b.shape, outShape)

	switch a.dtype {
	case Float32:
		av, bv, ov := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()
		f, err := float32Op(op)
		if err != nil {
			return nil, err
		}
		walkBroadcast(outShape, aStrides, bStrides, func(dst, ai, bi int) {
			ov[dst] = f(av[ai], bv[bi])
		})
	case Int64:
		av, bv, ov := a.AsInt64(), b.AsInt64(), out.AsInt64()
		f, err := int64Op(op)
		if err != nil {
			return nil, err
		}
		walkBroadcast(outShape, aStrides, bStrides, func(dst, ai, bi int) {
			ov[dst] = f(av[ai], bv[bi])
		})
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %s", op, a.dtype)
	}
	return out, nil
}

// Map applies f to every element of a float32 tensor.
func Map(t *RawTensor, f func(float32) float32) (*RawTensor, error) {
	if t.dtype != Float32 {
		return nil, fmt.Errorf("map: unsupported dtype %s", t.dtype)
	}
	out := t.Clone()
	data := out.AsFloat32()
	for i, v := range data {
		data[i] = f(v)
	}
	return out, nil
}

// Cast converts t to dtype. Float to integer conversion truncates toward zero.
func Cast(t *RawTensor, dtype DataType) (*RawTensor, error) {
	if t.dtype == dtype {
		return t.Clone(), nil
	}
	out, err := NewRaw(t.shape, dtype)
	if err != nil {
		return nil, err
	}
	switch {
	case t.dtype == Float32 && dtype == Int64:
		src, dst := t.AsFloat32(), out.AsInt64()
		for i, v := range src {
			dst[i] = int64(v)
		}
	case t.dtype == Int64 && dtype == Float32:
		src, dst := t.AsInt64(), out.AsFloat32()
		for i, v := range src {
			dst[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("cast: %s to %s not supported", t.dtype, dtype)
	}
	return out, nil
}

// Concat joins tensors along axis. All other dimensions must match.
func Concat(ts []*RawTensor, axis int) (*RawTensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat: no inputs")
	}
	first := ts[0]
	axis, err := NormalizeAxis(axis, len(first.shape))
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}

	outShape := first.shape.Clone()
	outShape[axis] = 0
	for _, t := range ts {
		if t.dtype != first.dtype || len(t.shape) != len(first.shape) {
			return nil, fmt.Errorf("concat: incompatible input %v %s", t.shape, t.dtype)
		}
		for d := range t.shape {
			if d != axis && t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("concat: dimension %d mismatch: %v vs %v", d, t.shape, first.shape)
			}
		}
		outShape[axis] += t.shape[axis]
	}

	out, err := NewRaw(outShape, first.dtype)
	if err != nil {
		return nil, err
	}

	outer := Shape(first.shape[:axis]).NumElements()
	es := first.dtype.Size()
	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range ts {
			chunk := Shape(t.shape[axis:]).NumElements() * es
			copy(out.data[pos:pos+chunk], t.data[o*chunk:(o+1)*chunk])
			pos += chunk
		}
	}
	return out, nil
}

// broadcastStrides returns element strides of shape viewed as outShape,
// with zero stride on broadcast dimensions.
func broadcastStrides(shape, outShape Shape) []int {
	strides := make([]int, len(outShape))
	own := shape.ComputeStrides()
	offset := len(outShape) - len(shape)
	for i := range shape {
		if shape[i] != 1 || outShape[offset+i] == 1 {
			strides[offset+i] = own[i]
		}
	}
	return strides
}

// walkBroadcast visits every output element with the matching operand offsets.
func walkBroadcast(outShape Shape, aStrides, bStrides []int, visit func(dst, ai, bi int)) {
	rank := len(outShape)
	idx := make([]int, rank)
	ai, bi := 0, 0
	n := outShape.NumElements()
	for dst := 0; dst < n; dst++ {
		visit(dst, ai, bi)
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			ai += aStrides[d]
			bi += bStrides[d]
			if idx[d] < outShape[d] {
				break
			}
			ai -= aStrides[d] * outShape[d]
			bi -= bStrides[d] * outShape[d]
			idx[d] = 0
		}
	}
}

func float32Op(op BinaryOp) (func(x, y float32) float32, error) {
	switch op {
	case OpAdd:
		return func(x, y float32) float32 { return x + y }, nil
	case OpSub:
		return func(x, y float32) float32 { return x - y }, nil
	case OpMul:
		return func(x, y float32) float32 { return x * y }, nil
	case OpDiv:
		return func(x, y float32) float32 { return x / y }, nil
	case OpPow:
		return func(x, y float32) float32 { return float32(math.Pow(float64(x), float64(y))) }, nil
	default:
		return nil, fmt.Errorf("unsupported float32 op %d", int(op))
	}
}

func int64Op(op BinaryOp) (func(x, y int64) int64, error) {
	switch op {
	case OpAdd:
		return func(x, y int64) int64 { return x + y }, nil
	case OpSub:
		return func(x, y int64) int64 { return x - y }, nil
	case OpMul:
		return func(x, y int64) int64 { return x * y }, nil
	case OpDiv:
		return func(x, y int64) int64 {
			if y == 0 {
				return 0
			}
			return x / y
		}, nil
	default:
		return nil, fmt.Errorf("unsupported int64 op %s", op)
	}
}
