// Package nn implements the neural network layers SegFormer is built from.
//
// Layers hold host weights loaded from a checkpoint and emit their computation
// into a trace.Tracer. Every layer decomposes into ONNX opset 13 primitives:
//   - Linear: MatMul with a transposed weight, plus bias
//   - LayerNorm: ReduceMean / Sub / Pow / Sqrt / Div, then affine
//   - Conv2d, BatchNorm2d: Conv and BatchNormalization nodes
//   - GELU: the exact erf formulation
//   - Dropout: recorded only while training
package nn

import (
	"fmt"

	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

// Module is the base interface for all neural network components.
type Module interface {
	// Forward records the module's computation on x and returns its output.
	Forward(tr *trace.Tracer, x trace.Value) trace.Value

	// Parameters returns the weights owned by the module.
	Parameters() []*Parameter
}

// Parameter is a named weight tensor. Name is the checkpoint key and becomes
// the ONNX initializer name.
type Parameter struct {
	Name   string
	Tensor *tensor.RawTensor
}

// Value records the parameter in tr.
func (p *Parameter) Value(tr *trace.Tracer) trace.Value {
	return tr.Param(p.Name, p.Tensor)
}

// StateDict maps checkpoint keys to weights.
type StateDict map[string]*tensor.RawTensor

// Param looks up name and checks its shape. A nil want skips the check.
func (sd StateDict) Param(name string, want tensor.Shape) (*Parameter, error) {
	t, ok := sd[name]
	if !ok {
		return nil, fmt.Errorf("missing weight %q", name)
	}
	if t.DType() != tensor.Float32 {
		return nil, fmt.Errorf("weight %q has dtype %s, want float32", name, t.DType())
	}
	if want != nil && !t.Shape().Equal(want) {
		return nil, fmt.Errorf("weight %q has shape %v, want %v", name, t.Shape(), want)
	}
	return &Parameter{Name: name, Tensor: t}, nil
}

// CollectParameters flattens the parameters of mods.
func CollectParameters(mods ...Module) []*Parameter {
	var params []*Parameter
	for _, m := range mods {
		params = append(params, m.Parameters()...)
	}
	return params
}
