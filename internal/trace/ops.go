package trace

import (
	"fmt"

	"github.com/born-ml/segport/internal/onnx"
	"github.com/born-ml/segport/internal/tensor"
)

// Resize attributes used for every upsampling in the graph.
const (
	ResizeMode           = "linear"
	ResizeCoordTransform = "pytorch_half_pixel"
)

func (t *Tracer) elementwise(opType string, a, b Value) Value {
	if t.failed(a, b) {
		return Value{}
	}
	if a.DType != b.DType {
		return t.fail(fmt.Errorf("%s: dtype mismatch %s vs %s", opType, a.DType, b.DType))
	}
	shape, err := tensor.BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return t.fail(fmt.Errorf("%s: %w", opType, err))
	}
	return t.node(opType, []string{a.Name, b.Name}, shape, a.DType)
}

// Add records a + b with broadcasting.
func (t *Tracer) Add(a, b Value) Value { return t.elementwise("Add", a, b) }

// Sub records a - b with broadcasting.
func (t *Tracer) Sub(a, b Value) Value { return t.elementwise("Sub", a, b) }

// Mul records a * b with broadcasting.
func (t *Tracer) Mul(a, b Value) Value { return t.elementwise("Mul", a, b) }

// Div records a / b with broadcasting.
func (t *Tracer) Div(a, b Value) Value { return t.elementwise("Div", a, b) }

// Pow records a ** b with broadcasting.
func (t *Tracer) Pow(a, b Value) Value { return t.elementwise("Pow", a, b) }

func (t *Tracer) unary(opType string, x Value, attrs ...onnx.AttributeProto) Value {
	if t.failed(x) {
		return Value{}
	}
	return t.node(opType, []string{x.Name}, x.Shape.Clone(), x.DType, attrs...)
}

// Sqrt records an element-wise square root.
func (t *Tracer) Sqrt(x Value) Value { return t.unary("Sqrt", x) }

// Erf records the element-wise error function.
func (t *Tracer) Erf(x Value) Value { return t.unary("Erf", x) }

// Relu records max(x, 0).
func (t *Tracer) Relu(x Value) Value { return t.unary("Relu", x) }

// Softmax records a softmax over axis.
func (t *Tracer) Softmax(x Value, axis int) Value {
	if t.failed(x) {
		return Value{}
	}
	if _, err := tensor.NormalizeAxis(axis, len(x.Shape)); err != nil {
		return t.fail(fmt.Errorf("softmax: %w", err))
	}
	return t.unary("Softmax", x, onnx.AttrInt("axis", int64(axis)))
}

// Dropout records an inference-irrelevant dropout node. Only traced when a
// model runs in training mode.
func (t *Tracer) Dropout(x Value, ratio float32) Value {
	if t.failed(x) {
		return Value{}
	}
	r := t.Scalar(ratio)
	return t.node("Dropout", []string{x.Name, r.Name}, x.Shape.Clone(), x.DType)
}

// MatMul records a batched matrix product with NumPy broadcasting of the
// leading dimensions. Both operands must have rank >= 2.
func (t *Tracer) MatMul(a, b Value) Value {
	if t.failed(a, b) {
		return Value{}
	}
	ra, rb := len(a.Shape), len(b.Shape)
	if ra < 2 || rb < 2 {
		return t.fail(fmt.Errorf("matmul: operands must have rank >= 2, got %v and %v", a.Shape, b.Shape))
	}
	if a.Shape[ra-1] != b.Shape[rb-2] {
		return t.fail(fmt.Errorf("matmul: inner dimensions differ: %v x %v", a.Shape, b.Shape))
	}
	batch, err := tensor.BroadcastShapes(a.Shape[:ra-2], b.Shape[:rb-2])
	if err != nil {
		return t.fail(fmt.Errorf("matmul: %w", err))
	}
	shape := append(batch, a.Shape[ra-2], b.Shape[rb-1])
	return t.node("MatMul", []string{a.Name, b.Name}, shape, a.DType)
}

// ConvOptions configures a 2-D convolution. The kernel size comes from the
// weight shape; padding is symmetric.
type ConvOptions struct {
	Stride int
	Pad    int
	Group  int
}

// Conv records a 2-D convolution of x [N,C,H,W] with w [M,C/group,kH,kW].
// bias may be the zero Value.
func (t *Tracer) Conv(x, w, bias Value, opts ConvOptions) Value {
	if t.failed(x, w) {
		return Value{}
	}
	if opts.Stride <= 0 {
		opts.Stride = 1
	}
	if opts.Group <= 0 {
		opts.Group = 1
	}
	if len(x.Shape) != 4 || len(w.Shape) != 4 {
		return t.fail(fmt.Errorf("conv: expected 4-D input and weight, got %v and %v", x.Shape, w.Shape))
	}
	n, c, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	m, cg, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2], w.Shape[3]
	if c != cg*opts.Group || m%opts.Group != 0 {
		return t.fail(fmt.Errorf("conv: %d input channels do not match weight %v with group %d", c, w.Shape, opts.Group))
	}

	outH := (h+2*opts.Pad-kh)/opts.Stride + 1
	outW := (wd+2*opts.Pad-kw)/opts.Stride + 1
	if outH <= 0 || outW <= 0 {
		return t.fail(fmt.Errorf("conv: kernel %dx%d does not fit input %dx%d", kh, kw, h, wd))
	}

	inputs := []string{x.Name, w.Name}
	if bias.Valid() {
		if len(bias.Shape) != 1 || bias.Shape[0] != m {
			return t.fail(fmt.Errorf("conv: bias shape %v does not match %d output channels", bias.Shape, m))
		}
		inputs = append(inputs, bias.Name)
	}

	p := int64(opts.Pad)
	s := int64(opts.Stride)
	return t.node("Conv", inputs, tensor.Shape{n, m, outH, outW}, x.DType,
		onnx.AttrInts("dilations", 1, 1),
		onnx.AttrInt("group", int64(opts.Group)),
		onnx.AttrInts("kernel_shape", int64(kh), int64(kw)),
		onnx.AttrInts("pads", p, p, p, p),
		onnx.AttrInts("strides", s, s),
	)
}

// BatchNorm records inference-mode batch normalization over channel axis 1.
func (t *Tracer) BatchNorm(x, scale, bias, mean, variance Value, eps float32) Value {
	if t.failed(x, scale, bias, mean, variance) {
		return Value{}
	}
	if len(x.Shape) < 2 {
		return t.fail(fmt.Errorf("batchnorm: input rank %d < 2", len(x.Shape)))
	}
	c := x.Shape[1]
	for _, p := range []Value{scale, bias, mean, variance} {
		if p.Shape.NumElements() != c {
			return t.fail(fmt.Errorf("batchnorm: parameter %s has shape %v, want [%d]", p.Name, p.Shape, c))
		}
	}
	return t.node("BatchNormalization",
		[]string{x.Name, scale.Name, bias.Name, mean.Name, variance.Name},
		x.Shape.Clone(), x.DType,
		onnx.AttrFloat("epsilon", eps),
		onnx.AttrFloat("momentum", 0.9),
	)
}

// ReduceMean records a mean over axes (opset 13 attribute form).
func (t *Tracer) ReduceMean(x Value, axes []int, keepDims bool) Value {
	if t.failed(x) {
		return Value{}
	}
	rank := len(x.Shape)
	reduce := make(map[int]bool, len(axes))
	attr := make([]int64, len(axes))
	for i, a := range axes {
		n, err := tensor.NormalizeAxis(a, rank)
		if err != nil {
			return t.fail(fmt.Errorf("reducemean: %w", err))
		}
		reduce[n] = true
		attr[i] = int64(a)
	}

	shape := make(tensor.Shape, 0, rank)
	for i, d := range x.Shape {
		switch {
		case !reduce[i]:
			shape = append(shape, d)
		case keepDims:
			shape = append(shape, 1)
		}
	}
	keep := int64(0)
	if keepDims {
		keep = 1
	}
	return t.unaryShape("ReduceMean", x, shape, onnx.AttrInts("axes", attr...), onnx.AttrInt("keepdims", keep))
}

func (t *Tracer) unaryShape(opType string, x Value, shape tensor.Shape, attrs ...onnx.AttributeProto) Value {
	return t.node(opType, []string{x.Name}, shape, x.DType, attrs...)
}

// Transpose records a permutation of x's dimensions.
func (t *Tracer) Transpose(x Value, perm ...int) Value {
	if t.failed(x) {
		return Value{}
	}
	rank := len(x.Shape)
	if len(perm) != rank {
		return t.fail(fmt.Errorf("transpose: perm %v does not match rank %d", perm, rank))
	}
	seen := make([]bool, rank)
	shape := make(tensor.Shape, rank)
	attr := make([]int64, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return t.fail(fmt.Errorf("transpose: invalid perm %v", perm))
		}
		seen[p] = true
		shape[i] = x.Shape[p]
		attr[i] = int64(p)
	}
	return t.unaryShape("Transpose", x, shape, onnx.AttrInts("perm", attr...))
}

// Reshape records a reshape to target, where 0 copies the input dimension
// and -1 is inferred. Using 0 for the batch axis keeps the graph valid for any
// batch size.
func (t *Tracer) Reshape(x Value, target ...int64) Value {
	if t.failed(x) {
		return Value{}
	}
	shape, err := tensor.ResolveReshape(x.Shape, target)
	if err != nil {
		return t.fail(err)
	}
	s := t.Ints(target...)
	return t.node("Reshape", []string{x.Name, s.Name}, shape, x.DType)
}

// Concat records a concatenation along axis.
func (t *Tracer) Concat(axis int, xs ...Value) Value {
	if t.failed(xs...) {
		return Value{}
	}
	if len(xs) == 0 {
		return t.fail(fmt.Errorf("concat: no inputs"))
	}
	first := xs[0]
	ax, err := tensor.NormalizeAxis(axis, len(first.Shape))
	if err != nil {
		return t.fail(fmt.Errorf("concat: %w", err))
	}
	shape := first.Shape.Clone()
	shape[ax] = 0
	names := make([]string, len(xs))
	for i, x := range xs {
		if x.DType != first.DType || len(x.Shape) != len(first.Shape) {
			return t.fail(fmt.Errorf("concat: incompatible input %s %v", x.Name, x.Shape))
		}
		for d := range x.Shape {
			if d != ax && x.Shape[d] != first.Shape[d] {
				return t.fail(fmt.Errorf("concat: dimension %d mismatch: %v vs %v", d, x.Shape, first.Shape))
			}
		}
		shape[ax] += x.Shape[ax]
		names[i] = x.Name
	}
	return t.node("Concat", names, shape, first.DType, onnx.AttrInt("axis", int64(axis)))
}

// Shape records the runtime shape of x as a 1-D int64 tensor.
func (t *Tracer) Shape(x Value) Value {
	if t.failed(x) {
		return Value{}
	}
	return t.node("Shape", []string{x.Name}, tensor.Shape{len(x.Shape)}, tensor.Int64)
}

// Slice records x[starts:ends] along axes with unit steps, clamping indices
// the way ONNX does.
func (t *Tracer) Slice(x Value, starts, ends, axes []int64) Value {
	if t.failed(x) {
		return Value{}
	}
	if len(starts) != len(ends) || len(starts) != len(axes) {
		return t.fail(fmt.Errorf("slice: starts, ends and axes lengths differ"))
	}
	shape := x.Shape.Clone()
	for i, a := range axes {
		ax, err := tensor.NormalizeAxis(int(a), len(shape))
		if err != nil {
			return t.fail(fmt.Errorf("slice: %w", err))
		}
		dim := int64(x.Shape[ax])
		start := clampIndex(starts[i], dim)
		end := clampIndex(ends[i], dim)
		if end <= start {
			return t.fail(fmt.Errorf("slice: empty range [%d:%d] on axis %d", starts[i], ends[i], a))
		}
		shape[ax] = int(end - start)
	}
	s, e, a := t.Ints(starts...), t.Ints(ends...), t.Ints(axes...)
	return t.node("Slice", []string{x.Name, s.Name, e.Name, a.Name}, shape, x.DType)
}

func clampIndex(i, dim int64) int64 {
	if i < 0 {
		i += dim
	}
	return max(0, min(i, dim))
}

// Resize records a bilinear resize of x [N,C,H,W] to [N,C,h,w].
// The target size is built from the runtime shape of x so the batch and
// channel dimensions stay dynamic.
func (t *Tracer) Resize(x Value, h, w int) Value {
	if t.failed(x) {
		return Value{}
	}
	if len(x.Shape) != 4 {
		return t.fail(fmt.Errorf("resize: expected 4-D input, got %v", x.Shape))
	}
	if h <= 0 || w <= 0 {
		return t.fail(fmt.Errorf("resize: invalid target size %dx%d", h, w))
	}
	lead := t.Slice(t.Shape(x), []int64{0}, []int64{2}, []int64{0})
	sizes := t.Concat(0, lead, t.Ints(int64(h), int64(w)))
	if t.err != nil {
		return Value{}
	}
	shape := tensor.Shape{x.Shape[0], x.Shape[1], h, w}
	return t.node("Resize", []string{x.Name, "", "", sizes.Name}, shape, x.DType,
		onnx.AttrString("coordinate_transformation_mode", ResizeCoordTransform),
		onnx.AttrString("mode", ResizeMode),
	)
}
