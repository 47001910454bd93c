package operators

import (
	"fmt"
	"math"

	"github.com/born-ml/segport/internal/tensor"
)

// registerMathOps adds arithmetic operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", binaryHandler(tensor.OpAdd))
	r.Register("Sub", binaryHandler(tensor.OpSub))
	r.Register("Mul", binaryHandler(tensor.OpMul))
	r.Register("Div", binaryHandler(tensor.OpDiv))
	r.Register("Pow", handlePow)
	r.Register("Sqrt", unaryHandler("sqrt", func(x float32) float32 {
		return float32(math.Sqrt(float64(x)))
	}))
	r.Register("Neg", unaryHandler("neg", func(x float32) float32 { return -x }))
}

func binaryHandler(op tensor.BinaryOp) OpHandler {
	return func(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if err := requireInputs(op.String(), inputs, 2); err != nil {
			return nil, err
		}
		return single(tensor.Binary(op, inputs[0], inputs[1]))
	}
}

// handlePow allows a float base with an integer exponent, as ONNX does.
func handlePow(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Pow", inputs, 2); err != nil {
		return nil, err
	}
	base, exp := inputs[0], inputs[1]
	if base.DType() != exp.DType() {
		var err error
		exp, err = tensor.Cast(exp, base.DType())
		if err != nil {
			return nil, fmt.Errorf("pow: %w", err)
		}
	}
	if base.DType() != tensor.Float32 {
		return nil, fmt.Errorf("pow: unsupported dtype %s", base.DType())
	}
	return single(tensor.Binary(tensor.OpPow, base, exp))
}

func unaryHandler(name string, f func(float32) float32) OpHandler {
	return func(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if err := requireInputs(name, inputs, 1); err != nil {
			return nil, err
		}
		return single(tensor.Map(inputs[0], f))
	}
}
