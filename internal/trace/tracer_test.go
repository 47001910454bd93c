package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/segport/internal/onnx"
	"github.com/born-ml/segport/internal/tensor"
)

func TestConvShapeInference(t *testing.T) {
	tr := New("test")
	x := tr.Input("pixel_values", tensor.Shape{1, 3, 512, 512})
	w, err := tensor.NewRaw(tensor.Shape{64, 3, 7, 7}, tensor.Float32)
	require.NoError(t, err)

	y := tr.Conv(x, tr.Param("proj.weight", w), Value{}, ConvOptions{Stride: 4, Pad: 3})
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 64, 128, 128}, y.Shape)

	_, ok := tr.nodes[0].Attr("strides")
	assert.True(t, ok)
}

func TestDepthwiseConv(t *testing.T) {
	tr := New("test")
	x := tr.Input("x", tensor.Shape{1, 8, 16, 16})
	w, _ := tensor.NewRaw(tensor.Shape{8, 1, 3, 3}, tensor.Float32)
	b, _ := tensor.NewRaw(tensor.Shape{8}, tensor.Float32)

	y := tr.Conv(x, tr.Param("w", w), tr.Param("b", b), ConvOptions{Pad: 1, Group: 8})
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 8, 16, 16}, y.Shape)
	assert.Len(t, tr.nodes[0].Inputs, 3)
}

func TestConvChannelMismatch(t *testing.T) {
	tr := New("test")
	x := tr.Input("x", tensor.Shape{1, 4, 8, 8})
	w, _ := tensor.NewRaw(tensor.Shape{2, 3, 1, 1}, tensor.Float32)

	y := tr.Conv(x, tr.Param("w", w), Value{}, ConvOptions{})
	assert.False(t, y.Valid())
	assert.Error(t, tr.Err())

	// Errors are sticky.
	z := tr.Relu(x)
	assert.False(t, z.Valid())
	_, err := tr.Model(ModelOptions{})
	assert.Error(t, err)
}

func TestMatMulBroadcast(t *testing.T) {
	tr := New("test")
	q := tr.Input("q", tensor.Shape{1, 2, 100, 32})
	k := tr.Input("k", tensor.Shape{1, 2, 32, 25})

	s := tr.MatMul(q, k)
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 2, 100, 25}, s.Shape)

	w := tr.Input("w", tensor.Shape{32, 64})
	y := tr.MatMul(tr.Input("x", tensor.Shape{1, 100, 32}), w)
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 100, 64}, y.Shape)
}

func TestReshapeTransposeReduce(t *testing.T) {
	tr := New("test")
	x := tr.Input("x", tensor.Shape{1, 64, 32, 32})

	seq := tr.Transpose(tr.Reshape(x, 0, 64, -1), 0, 2, 1)
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 1024, 64}, seq.Shape)

	m := tr.ReduceMean(seq, []int{-1}, true)
	assert.Equal(t, tensor.Shape{1, 1024, 1}, m.Shape)

	m2 := tr.ReduceMean(seq, []int{1}, false)
	assert.Equal(t, tensor.Shape{1, 64}, m2.Shape)

	heads := tr.Reshape(seq, 0, 1024, 2, 32)
	assert.Equal(t, tensor.Shape{1, 1024, 2, 32}, heads.Shape)

	tr.Reshape(seq, 0, 1000, -1)
	assert.Error(t, tr.Err())
}

func TestResizeUsesRuntimeShape(t *testing.T) {
	tr := New("test")
	x := tr.Input("x", tensor.Shape{1, 16, 8, 8})

	y := tr.Resize(x, 32, 32)
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 16, 32, 32}, y.Shape)

	counts := tr.OpCounts()
	assert.Equal(t, 1, counts["Shape"])
	assert.Equal(t, 1, counts["Slice"])
	assert.Equal(t, 1, counts["Concat"])
	assert.Equal(t, 1, counts["Resize"])

	resize := tr.nodes[len(tr.nodes)-1]
	require.Len(t, resize.Inputs, 4)
	assert.Equal(t, "", resize.Inputs[1])
	assert.Equal(t, "", resize.Inputs[2])
	mode, ok := resize.Attr("mode")
	require.True(t, ok)
	assert.Equal(t, "linear", string(mode.S))
}

func TestSliceClamps(t *testing.T) {
	tr := New("test")
	x := tr.Input("x", tensor.Shape{4, 10})
	y := tr.Slice(x, []int64{-3}, []int64{100}, []int64{1})
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{4, 3}, y.Shape)
}

func TestConcatAndSoftmax(t *testing.T) {
	tr := New("test")
	a := tr.Input("a", tensor.Shape{1, 4, 8, 8})
	b := tr.Input("b", tensor.Shape{1, 6, 8, 8})

	c := tr.Concat(1, a, b)
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 10, 8, 8}, c.Shape)

	s := tr.Softmax(c, -1)
	assert.Equal(t, c.Shape, s.Shape)

	tr.Concat(1, a, tr.Input("bad", tensor.Shape{1, 4, 4, 8}))
	assert.Error(t, tr.Err())
}

func TestModelInterfaces(t *testing.T) {
	tr := New("segformer")
	x := tr.Input("pixel_values", tensor.Shape{1, 3, 64, 64})
	y := tr.Relu(x)
	out := tr.Output(y, "logits")
	require.NoError(t, tr.Err())
	assert.Equal(t, "logits", out.Name)

	m, err := tr.Model(ModelOptions{
		ProducerName: "segport",
		Metadata:     map[string]string{"model_id": "m", "a": "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(IRVersion), m.IRVersion)
	require.Len(t, m.OpsetImport, 1)
	assert.Equal(t, int64(OpsetVersion), m.OpsetImport[0].Version)
	assert.Equal(t, "a", m.MetadataProps[0].Key)

	require.Len(t, m.Graph.Inputs, 1)
	dims := m.Graph.Inputs[0].Type.TensorType.Shape.Dims
	assert.Equal(t, BatchDim, dims[0].DimParam)
	assert.Equal(t, int64(3), dims[1].DimValue)

	require.Len(t, m.Graph.Outputs, 1)
	assert.Equal(t, "logits", m.Graph.Outputs[0].Name)
	assert.Equal(t, int32(onnx.TensorProtoFloat), m.Graph.Outputs[0].Type.TensorType.ElemType)
	assert.Equal(t, []string{"logits"}, m.Graph.Nodes[0].Outputs)
}

func TestModelRequiresOutput(t *testing.T) {
	tr := New("g")
	tr.Input("x", tensor.Shape{1})
	_, err := tr.Model(ModelOptions{})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestParamDeduplicates(t *testing.T) {
	tr := New("g")
	w, _ := tensor.NewRaw(tensor.Shape{2}, tensor.Float32)
	a := tr.Param("w", w)
	b := tr.Param("w", w)
	assert.Equal(t, a, b)
	assert.Len(t, tr.inits, 1)

	tr.Param("missing", nil)
	assert.Error(t, tr.Err())
}

func TestDropoutNode(t *testing.T) {
	tr := New("g")
	x := tr.Input("x", tensor.Shape{1, 4})
	y := tr.Dropout(x, 0.1)
	require.NoError(t, tr.Err())
	assert.Equal(t, x.Shape, y.Shape)
	assert.Equal(t, 1, tr.OpCounts()["Dropout"])
}
