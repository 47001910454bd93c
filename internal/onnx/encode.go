package onnx

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxModelSize is the largest model a single protobuf message can hold.
const MaxModelSize = math.MaxInt32

// ErrModelTooLarge is returned when the encoded model exceeds MaxModelSize.
var ErrModelTooLarge = errors.New("encoded model exceeds the 2GiB protobuf limit")

// Marshal encodes m in protobuf wire format.
func Marshal(m *ModelProto) ([]byte, error) {
	graph := appendGraph(nil, m.Graph)
	b := appendModelHeader(nil, m)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, graph)
	if len(b) > MaxModelSize {
		return nil, ErrModelTooLarge
	}
	return b, nil
}

// Encode streams m to w and returns the number of bytes written.
// The graph (which carries the weights) is written without re-copying it into
// the model envelope.
func Encode(w io.Writer, m *ModelProto) (int64, error) {
	if m.Graph == nil {
		return 0, fmt.Errorf("model has no graph")
	}
	graph := appendGraph(nil, m.Graph)

	head := appendModelHeader(nil, m)
	head = protowire.AppendTag(head, 7, protowire.BytesType)
	head = protowire.AppendVarint(head, uint64(len(graph)))
	if int64(len(head))+int64(len(graph)) > MaxModelSize {
		return 0, ErrModelTooLarge
	}

	n, err := w.Write(head)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write model header: %w", err)
	}
	g, err := w.Write(graph)
	if err != nil {
		return int64(n + g), fmt.Errorf("failed to write graph: %w", err)
	}
	return int64(n + g), nil
}

// appendModelHeader appends every ModelProto field except the graph.
func appendModelHeader(b []byte, m *ModelProto) []byte {
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, uint64(m.ModelVersion))
	b = appendStringField(b, 6, m.DocString)
	for i := range m.OpsetImport {
		op := &m.OpsetImport[i]
		var sub []byte
		sub = appendStringField(sub, 1, op.Domain)
		sub = appendVarintField(sub, 2, uint64(op.Version))
		b = appendMessage(b, 8, sub)
	}
	for _, e := range m.MetadataProps {
		b = appendMessage(b, 14, appendEntry(nil, e))
	}
	return b
}

func appendGraph(b []byte, g *GraphProto) []byte {
	if g == nil {
		return b
	}
	for i := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendStringField(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, appendValueInfo(nil, &g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, appendValueInfo(nil, &g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, appendValueInfo(nil, &g.ValueInfo[i]))
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	// Empty input names are meaningful (omitted optional inputs), so always emit them.
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendStringField(b, 6, n.DocString)
	b = appendStringField(b, 7, n.Domain)
	return b
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, appendTensor(nil, a.T))
		}
	case AttributeProtoFloats:
		var packed []byte
		for _, f := range a.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 7, packed)
	case AttributeProtoInts:
		var packed []byte
		for _, v := range a.Ints {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 8, packed)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	}
	b = appendStringField(b, 13, a.DocString)
	b = appendVarintField(b, 20, uint64(a.Type))
	return b
}

func appendTensor(b []byte, t *TensorProto) []byte {
	if len(t.Dims) > 0 {
		var packed []byte
		for _, d := range t.Dims {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		b = appendMessage(b, 1, packed)
	}
	b = appendVarintField(b, 2, uint64(t.DataType))
	if len(t.FloatData) > 0 {
		var packed []byte
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 5, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 7, packed)
	}
	b = appendStringField(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	b = appendStringField(b, 12, t.DocString)
	return b
}

func appendValueInfo(b []byte, v *ValueInfoProto) []byte {
	b = appendStringField(b, 1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		tt := v.Type.TensorType
		var tensorType []byte
		tensorType = appendVarintField(tensorType, 1, uint64(tt.ElemType))
		if tt.Shape != nil {
			var shape []byte
			for _, d := range tt.Shape.Dims {
				var dim []byte
				if d.DimParam != "" {
					dim = appendStringField(dim, 2, d.DimParam)
				} else {
					dim = protowire.AppendTag(dim, 1, protowire.VarintType)
					dim = protowire.AppendVarint(dim, uint64(d.DimValue))
				}
				shape = appendMessage(shape, 1, dim)
			}
			tensorType = appendMessage(tensorType, 2, shape)
		}
		typ := appendMessage(nil, 1, tensorType)
		b = appendMessage(b, 2, typ)
	}
	b = appendStringField(b, 3, v.DocString)
	return b
}

func appendEntry(b []byte, e StringStringEntry) []byte {
	b = appendStringField(b, 1, e.Key)
	b = appendStringField(b, 2, e.Value)
	return b
}

// appendMessage appends an embedded message (or packed field) even when empty,
// since presence of a sub-message is significant.
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendStringField skips empty strings, matching proto3 default semantics.
func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendVarintField skips zero values, matching proto3 default semantics.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
