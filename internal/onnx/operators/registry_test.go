package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/segport/internal/tensor"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	foldable := []string{
		"Add", "Sub", "Mul", "Div", "Pow", "Sqrt",
		"Transpose", "Reshape", "Unsqueeze", "Squeeze", "Concat",
		"Identity", "Cast",
	}
	for _, op := range foldable {
		_, ok := r.Get(op)
		assert.True(t, ok, "expected operator %s to be registered", op)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("Conv")
	assert.False(t, ok)

	_, err := r.Execute(&Node{OpType: "Conv"}, nil)
	assert.ErrorContains(t, err, "unsupported operator")
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("MyCustomOp", func(_ *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return nil, nil
	})

	_, ok := r.Get("MyCustomOp")
	assert.True(t, ok)
	assert.Contains(t, r.SupportedOps(), "MyCustomOp")
}

func TestTransposeWeight(t *testing.T) {
	r := NewRegistry()
	w, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	out, err := r.Execute(&Node{
		OpType:     "Transpose",
		Attributes: []Attribute{{Name: "perm", Ints: []int64{1, 0}}},
	}, []*tensor.RawTensor{w})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, tensor.Shape{3, 2}, out[0].Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out[0].AsFloat32())
}

func TestReshapeCopiesZeroAndInfers(t *testing.T) {
	r := NewRegistry()
	x, err := tensor.NewRaw(tensor.Shape{2, 3, 4}, tensor.Float32)
	require.NoError(t, err)

	out, err := r.Execute(&Node{OpType: "Reshape"}, []*tensor.RawTensor{x, tensor.Int64Vector(0, -1)})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 12}, out[0].Shape())

	_, err = r.Execute(&Node{OpType: "Reshape"}, []*tensor.RawTensor{x, tensor.Int64Vector(5, -1)})
	assert.Error(t, err)
}

func TestUnsqueezeSqueeze(t *testing.T) {
	r := NewRegistry()
	x, err := tensor.FromFloat32(tensor.Shape{3}, []float32{1, 2, 3})
	require.NoError(t, err)

	up, err := r.Execute(&Node{OpType: "Unsqueeze"}, []*tensor.RawTensor{x, tensor.Int64Vector(0, 2)})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 1}, up[0].Shape())

	down, err := r.Execute(&Node{OpType: "Squeeze"}, []*tensor.RawTensor{up[0], nil})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, down[0].Shape())
	assert.Equal(t, []float32{1, 2, 3}, down[0].AsFloat32())
}

func TestArithmeticBroadcast(t *testing.T) {
	r := NewRegistry()
	a, err := tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 4, 9, 16})
	require.NoError(t, err)

	sqrt, err := r.Execute(&Node{OpType: "Sqrt"}, []*tensor.RawTensor{a})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, sqrt[0].AsFloat32())

	sum, err := r.Execute(&Node{OpType: "Add"}, []*tensor.RawTensor{sqrt[0], tensor.Scalar(1)})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 4, 5}, sum[0].AsFloat32())

	sq, err := r.Execute(&Node{OpType: "Pow"}, []*tensor.RawTensor{sum[0], tensor.Scalar(2)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{4, 9, 16, 25}, sq[0].AsFloat32(), 1e-5)
}

func TestConcatInt64(t *testing.T) {
	r := NewRegistry()
	out, err := r.Execute(&Node{OpType: "Concat"}, []*tensor.RawTensor{
		tensor.Int64Vector(1, 3), tensor.Int64Vector(128, 128),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 128, 128}, out[0].AsInt64())
}

func TestCast(t *testing.T) {
	r := NewRegistry()
	out, err := r.Execute(&Node{
		OpType:     "Cast",
		Attributes: []Attribute{{Name: "to", I: castInt64}},
	}, []*tensor.RawTensor{tensor.Scalar(2.7)})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, out[0].AsInt64())
}
