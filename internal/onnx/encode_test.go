package onnx

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/segport/internal/tensor"
)

func sampleModel(t *testing.T) *ModelProto {
	t.Helper()
	w, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	return &ModelProto{
		IRVersion:       7,
		OpsetImport:     []OperatorSetID{{Version: 13}},
		ProducerName:    "segport",
		ProducerVersion: "dev",
		Graph: &GraphProto{
			Name: "segformer",
			Nodes: []NodeProto{
				{
					Name:    "MatMul_0",
					OpType:  "MatMul",
					Inputs:  []string{"x", "w"},
					Outputs: []string{"y"},
				},
				{
					Name:    "Resize_1",
					OpType:  "Resize",
					Inputs:  []string{"y", "", "", "sizes"},
					Outputs: []string{"z"},
					Attributes: []AttributeProto{
						AttrString("mode", "linear"),
						AttrInts("axes", 0, -1),
						AttrFloat("epsilon", 1e-6),
						AttrInt("group", 64),
					},
				},
			},
			Initializers: []TensorProto{
				NewTensorProto("w", w),
				NewTensorProto("sizes", tensor.Int64Vector(1, 3, 128, 128)),
			},
			Inputs:  []ValueInfoProto{NewValueInfo("x", TensorProtoFloat, []int64{1, 4, 2}, map[int]string{0: "batch_size"})},
			Outputs: []ValueInfoProto{NewValueInfo("z", TensorProtoFloat, []int64{1, 4, 3}, map[int]string{0: "batch_size"})},
		},
		MetadataProps: []StringStringEntry{{Key: "model_id", Value: "leftattention/segformer-b4-wall"}},
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	m := sampleModel(t)

	data, err := Marshal(m)
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)

	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeMatchesMarshal(t *testing.T) {
	m := sampleModel(t)

	want, err := Marshal(m)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Encode(&buf, m)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), n)
	assert.Equal(t, want, buf.Bytes())
}

func TestEncodeWithoutGraph(t *testing.T) {
	_, err := Encode(&bytes.Buffer{}, &ModelProto{IRVersion: 7})
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	data, err := Marshal(sampleModel(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.IRVersion)
	assert.Equal(t, "batch_size", m.Graph.Inputs[0].Type.TensorType.Shape.Dims[0].DimParam)
	assert.True(t, m.Graph.Inputs[0].Type.TensorType.Shape.Dims[0].IsDynamic())

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}

func TestParseUnpackedRepeatedFields(t *testing.T) {
	// Attribute "axes" with ints written one tag per element.
	var attr []byte
	attr = protowire.AppendTag(attr, 1, protowire.BytesType)
	attr = protowire.AppendString(attr, "axes")
	for _, v := range []int64{2, 3} {
		attr = protowire.AppendTag(attr, 8, protowire.VarintType)
		attr = protowire.AppendVarint(attr, uint64(v))
	}
	attr = protowire.AppendTag(attr, 7, protowire.Fixed32Type)
	attr = protowire.AppendFixed32(attr, math.Float32bits(0.5))
	attr = protowire.AppendTag(attr, 20, protowire.VarintType)
	attr = protowire.AppendVarint(attr, AttributeProtoInts)

	var node []byte
	node = protowire.AppendTag(node, 4, protowire.BytesType)
	node = protowire.AppendString(node, "ReduceMean")
	node = protowire.AppendTag(node, 5, protowire.BytesType)
	node = protowire.AppendBytes(node, attr)

	var graph []byte
	graph = protowire.AppendTag(graph, 1, protowire.BytesType)
	graph = protowire.AppendBytes(graph, node)

	var model []byte
	model = protowire.AppendTag(model, 1, protowire.VarintType)
	model = protowire.AppendVarint(model, 7)
	// Unknown field that must be skipped.
	model = protowire.AppendTag(model, 99, protowire.BytesType)
	model = protowire.AppendString(model, "ignored")
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	m, err := Parse(model)
	require.NoError(t, err)
	require.Len(t, m.Graph.Nodes, 1)
	a, ok := m.Graph.Nodes[0].Attr("axes")
	require.True(t, ok)
	assert.Equal(t, []int64{2, 3}, a.Ints)
	assert.Equal(t, []float32{0.5}, a.Floats)
}

func TestParseMalformed(t *testing.T) {
	data, err := Marshal(sampleModel(t))
	require.NoError(t, err)

	_, err = Parse(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTensorProtoToRawTensor(t *testing.T) {
	tp := TensorProto{Name: "legacy", DataType: TensorProtoFloat, Dims: []int64{2}, FloatData: []float32{1.5, -2}}
	rt, err := tp.ToRawTensor()
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, rt.AsFloat32())

	_, err = (&TensorProto{Name: "str", DataType: TensorProtoString}).ToRawTensor()
	assert.Error(t, err)
}
