package operators

import (
	"fmt"

	"github.com/born-ml/segport/internal/tensor"
)

// ONNX element types accepted by Cast's "to" attribute.
const (
	castFloat = 1
	castInt64 = 7
)

// registerUtilityOps adds pass-through and conversion operators.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Cast", handleCast)
}

func handleIdentity(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("identity", inputs, 1); err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{inputs[0]}, nil
}

func handleCast(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("cast", inputs, 1); err != nil {
		return nil, err
	}
	var to tensor.DataType
	switch v := GetAttrInt(node, "to", 0); v {
	case castFloat:
		to = tensor.Float32
	case castInt64:
		to = tensor.Int64
	default:
		return nil, fmt.Errorf("cast: unsupported target type %d", v)
	}
	return single(tensor.Cast(inputs[0], to))
}
