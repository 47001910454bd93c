package operators

import (
	"fmt"
	"sort"

	"github.com/born-ml/segport/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Reshape", handleReshape)
	r.Register("Transpose", handleTranspose)
	r.Register("Squeeze", handleSqueeze)
	r.Register("Unsqueeze", handleUnsqueeze)
	r.Register("Concat", handleConcat)
	r.Register("Shape", handleShape)
}

func handleReshape(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("reshape", inputs, 2); err != nil {
		return nil, err
	}
	if inputs[1].DType() != tensor.Int64 {
		return nil, fmt.Errorf("reshape: shape input must be int64, got %s", inputs[1].DType())
	}

	newShape, err := tensor.ResolveReshape(inputs[0].Shape(), inputs[1].AsInt64())
	if err != nil {
		return nil, err
	}
	return single(inputs[0].Clone().Reshape(newShape))
}

func handleTranspose(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("transpose", inputs, 1); err != nil {
		return nil, err
	}

	perm := GetAttrInts(node, "perm")
	axes := make([]int, len(perm))
	for i, v := range perm {
		axes[i] = int(v)
	}
	return single(tensor.Transpose(inputs[0], axes))
}

// handleSqueeze follows opset 13, where axes is an optional second input.
func handleSqueeze(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("squeeze", inputs, 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	rank := len(in.Shape())

	drop := make(map[int]bool)
	if len(inputs) >= 2 && inputs[1] != nil {
		for _, a := range inputs[1].AsInt64() {
			axis, err := tensor.NormalizeAxis(int(a), rank)
			if err != nil {
				return nil, fmt.Errorf("squeeze: %w", err)
			}
			if in.Shape()[axis] != 1 {
				return nil, fmt.Errorf("squeeze: axis %d has size %d", axis, in.Shape()[axis])
			}
			drop[axis] = true
		}
	} else {
		for i, d := range in.Shape() {
			if d == 1 {
				drop[i] = true
			}
		}
	}

	newShape := make(tensor.Shape, 0, rank)
	for i, d := range in.Shape() {
		if !drop[i] {
			newShape = append(newShape, d)
		}
	}
	return single(in.Clone().Reshape(newShape))
}

// handleUnsqueeze follows opset 13, where axes is a required second input.
func handleUnsqueeze(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("unsqueeze", inputs, 2); err != nil {
		return nil, err
	}
	in := inputs[0]
	outRank := len(in.Shape()) + inputs[1].NumElements()

	axes := make([]int, 0, inputs[1].NumElements())
	for _, a := range inputs[1].AsInt64() {
		axis, err := tensor.NormalizeAxis(int(a), outRank)
		if err != nil {
			return nil, fmt.Errorf("unsqueeze: %w", err)
		}
		axes = append(axes, axis)
	}
	sort.Ints(axes)

	newShape := make(tensor.Shape, 0, outRank)
	src := 0
	for i := 0; i < outRank; i++ {
		if len(axes) > 0 && axes[0] == i {
			newShape = append(newShape, 1)
			axes = axes[1:]
			continue
		}
		newShape = append(newShape, in.Shape()[src])
		src++
	}
	return single(in.Clone().Reshape(newShape))
}

func handleConcat(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("concat", inputs, 1); err != nil {
		return nil, err
	}
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("concat: input %d is missing", i)
		}
	}
	return single(tensor.Concat(inputs, int(GetAttrInt(node, "axis", 0))))
}

func handleShape(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("shape", inputs, 1); err != nil {
		return nil, err
	}
	dims := inputs[0].Shape().Int64s()
	return []*tensor.RawTensor{tensor.Int64Vector(dims...)}, nil
}
