package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed reports a truncated or otherwise invalid protobuf stream.
var ErrMalformed = errors.New("malformed ONNX protobuf")

// ParseFile reads and decodes an ONNX model from disk.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX model from its wire-format bytes.
// Initializer raw data aliases data.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.IRVersion = int64(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			return consumeString(b, &m.ProducerName)
		case num == 3 && typ == protowire.BytesType:
			return consumeString(b, &m.ProducerVersion)
		case num == 4 && typ == protowire.BytesType:
			return consumeString(b, &m.Domain)
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ModelVersion = int64(v)
			return n, nil
		case num == 6 && typ == protowire.BytesType:
			return consumeString(b, &m.DocString)
		case num == 7 && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			g, err := parseGraph(msg)
			if err != nil {
				return n, fmt.Errorf("graph: %w", err)
			}
			m.Graph = g
			return n, nil
		case num == 8 && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			op, err := parseOpset(msg)
			if err != nil {
				return n, fmt.Errorf("opset_import: %w", err)
			}
			m.OpsetImport = append(m.OpsetImport, op)
			return n, nil
		case num == 14 && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			e, err := parseEntry(msg)
			if err != nil {
				return n, fmt.Errorf("metadata_props: %w", err)
			}
			m.MetadataProps = append(m.MetadataProps, e)
			return n, nil
		}
		return skip, nil
	})
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrMalformed)
	}
	return m, nil
}

func parseGraph(data []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skip, nil
		}
		switch num {
		case 1:
			msg, n := protowire.ConsumeBytes(b)
			node, err := parseNode(msg)
			if err != nil {
				return n, fmt.Errorf("node: %w", err)
			}
			g.Nodes = append(g.Nodes, node)
			return n, nil
		case 2:
			return consumeString(b, &g.Name)
		case 5:
			msg, n := protowire.ConsumeBytes(b)
			t, err := parseTensor(msg)
			if err != nil {
				return n, fmt.Errorf("initializer: %w", err)
			}
			g.Initializers = append(g.Initializers, t)
			return n, nil
		case 10:
			return consumeString(b, &g.DocString)
		case 11, 12, 13:
			msg, n := protowire.ConsumeBytes(b)
			vi, err := parseValueInfo(msg)
			if err != nil {
				return n, fmt.Errorf("value info: %w", err)
			}
			switch num {
			case 11:
				g.Inputs = append(g.Inputs, vi)
			case 12:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
			return n, nil
		}
		return skip, nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func parseNode(data []byte) (NodeProto, error) {
	var node NodeProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skip, nil
		}
		switch num {
		case 1:
			var s string
			n, err := consumeString(b, &s)
			node.Inputs = append(node.Inputs, s)
			return n, err
		case 2:
			var s string
			n, err := consumeString(b, &s)
			node.Outputs = append(node.Outputs, s)
			return n, err
		case 3:
			return consumeString(b, &node.Name)
		case 4:
			return consumeString(b, &node.OpType)
		case 5:
			msg, n := protowire.ConsumeBytes(b)
			attr, err := parseAttribute(msg)
			if err != nil {
				return n, fmt.Errorf("attribute: %w", err)
			}
			node.Attributes = append(node.Attributes, attr)
			return n, nil
		case 6:
			return consumeString(b, &node.DocString)
		case 7:
			return consumeString(b, &node.Domain)
		}
		return skip, nil
	})
	return node, err
}

func parseAttribute(data []byte) (AttributeProto, error) {
	var attr AttributeProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, &attr.Name)
		case 2:
			if typ != protowire.Fixed32Type {
				return skip, nil
			}
			v, n := protowire.ConsumeFixed32(b)
			attr.F = math.Float32frombits(v)
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			attr.I = int64(v)
			return n, nil
		case 4:
			msg, n := protowire.ConsumeBytes(b)
			attr.S = msg
			return n, nil
		case 5:
			msg, n := protowire.ConsumeBytes(b)
			t, err := parseTensor(msg)
			if err != nil {
				return n, err
			}
			attr.T = &t
			return n, nil
		case 7:
			return consumeFloats(typ, b, &attr.Floats)
		case 8:
			return consumeInts(typ, b, &attr.Ints)
		case 9:
			msg, n := protowire.ConsumeBytes(b)
			attr.Strings = append(attr.Strings, msg)
			return n, nil
		case 13:
			return consumeString(b, &attr.DocString)
		case 20:
			v, n := protowire.ConsumeVarint(b)
			attr.Type = int32(v)
			return n, nil
		}
		return skip, nil
	})
	return attr, err
}

func parseTensor(data []byte) (TensorProto, error) {
	var t TensorProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInts(typ, b, &t.Dims)
		case 2:
			v, n := protowire.ConsumeVarint(b)
			t.DataType = int32(v)
			return n, nil
		case 4:
			return consumeFloats(typ, b, &t.FloatData)
		case 5:
			var vals []int64
			n, err := consumeInts(typ, b, &vals)
			for _, v := range vals {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
			return n, err
		case 7:
			return consumeInts(typ, b, &t.Int64Data)
		case 8:
			return consumeString(b, &t.Name)
		case 9:
			msg, n := protowire.ConsumeBytes(b)
			t.RawData = msg
			return n, nil
		case 12:
			return consumeString(b, &t.DocString)
		}
		return skip, nil
	})
	return t, err
}

func parseValueInfo(data []byte) (ValueInfoProto, error) {
	var vi ValueInfoProto
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, &vi.Name)
		case 2:
			msg, n := protowire.ConsumeBytes(b)
			tp, err := parseTypeProto(msg)
			if err != nil {
				return n, err
			}
			vi.Type = tp
			return n, nil
		case 3:
			return consumeString(b, &vi.DocString)
		}
		return skip, nil
	})
	return vi, err
}

func parseTypeProto(data []byte) (*TypeProto, error) {
	tp := &TypeProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return skip, nil
		}
		msg, n := protowire.ConsumeBytes(b)
		tt := &TensorTypeProto{}
		err := walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n := protowire.ConsumeVarint(b)
				tt.ElemType = int32(v)
				return n, nil
			case 2:
				shapeMsg, n := protowire.ConsumeBytes(b)
				shape, err := parseShape(shapeMsg)
				if err != nil {
					return n, err
				}
				tt.Shape = shape
				return n, nil
			}
			return skip, nil
		})
		tp.TensorType = tt
		return n, err
	})
	return tp, err
}

func parseShape(data []byte) (*TensorShapeProto, error) {
	shape := &TensorShapeProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return skip, nil
		}
		msg, n := protowire.ConsumeBytes(b)
		var dim DimensionProto
		err := walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n := protowire.ConsumeVarint(b)
				dim.DimValue = int64(v)
				return n, nil
			case 2:
				return consumeString(b, &dim.DimParam)
			}
			return skip, nil
		})
		shape.Dims = append(shape.Dims, dim)
		return n, err
	})
	return shape, err
}

func parseOpset(data []byte) (OperatorSetID, error) {
	var op OperatorSetID
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, &op.Domain)
		case 2:
			v, n := protowire.ConsumeVarint(b)
			op.Version = int64(v)
			return n, nil
		}
		return skip, nil
	})
	return op, err
}

func parseEntry(data []byte) (StringStringEntry, error) {
	var e StringStringEntry
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, &e.Key)
		case 2:
			return consumeString(b, &e.Value)
		}
		return skip, nil
	})
	return e, err
}

// skip tells walk to discard a field the caller does not handle.
const skip = math.MinInt

// fieldFunc handles one field whose tag has already been consumed. It returns
// the number of bytes used, or skip.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates over the fields of a message.
func walk(data []byte, fn fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		used, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if used == skip {
			used = protowire.ConsumeFieldValue(num, typ, data)
		}
		if used < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(used))
		}
		data = data[used:]
	}
	return nil
}

func consumeString(b []byte, dst *string) (int, error) {
	s, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = s
	}
	return n, nil
}

// consumeInts accepts both packed and unpacked encodings of a repeated int64.
func consumeInts(typ protowire.Type, b []byte, dst *[]int64) (int, error) {
	if typ == protowire.VarintType {
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*dst = append(*dst, int64(v))
		}
		return n, nil
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return m, nil
		}
		*dst = append(*dst, int64(v))
		packed = packed[m:]
	}
	return n, nil
}

// consumeFloats accepts both packed and unpacked encodings of a repeated float.
func consumeFloats(typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n >= 0 {
			*dst = append(*dst, math.Float32frombits(v))
		}
		return n, nil
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed32(packed)
		if m < 0 {
			return m, nil
		}
		*dst = append(*dst, math.Float32frombits(v))
		packed = packed[m:]
	}
	return n, nil
}
