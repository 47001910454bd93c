package onnx

import (
	"fmt"

	"github.com/born-ml/segport/internal/tensor"
)

// ONNX protobuf data structures (hand-written mirror of onnx.proto).

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7 for opset 13)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Tool name
	ProducerVersion string              // Tool version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
	ValueInfo    []ValueInfoProto // Intermediate tensor info
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "MatMul", "Relu")
	Inputs     []string         // Input tensor names, "" for an omitted optional input
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string           // Node description
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string    // Tensor name
	DataType  int32     // Element data type
	Dims      []int64   // Tensor shape
	RawData   []byte    // Raw little-endian data (what the encoder emits)
	FloatData []float32 // Float32 data (legacy, accepted by the parser)
	Int32Data []int32   // Int32 data (legacy, accepted by the parser)
	Int64Data []int64   // Int64 data (legacy, accepted by the parser)
	DocString string    // Tensor description
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name      string     // Tensor name
	Type      *TypeProto // Tensor type information
	DocString string     // Description
}

// TypeProto describes tensor type.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto describes a single dimension. Exactly one of DimValue and
// DimParam is meaningful; DimParam marks a dynamic axis.
type DimensionProto struct {
	DimValue int64  // Static dimension value (e.g., 512)
	DimParam string // Dynamic dimension name (e.g., "batch_size")
}

// IsDynamic reports whether the dimension is symbolic.
func (d DimensionProto) IsDynamic() bool {
	return d.DimParam != ""
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name      string
	Type      int32
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	DocString string
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1  // float32
	TensorProtoUint8     = 2  // uint8
	TensorProtoInt8      = 3  // int8
	TensorProtoUint16    = 4  // uint16
	TensorProtoInt16     = 5  // int16
	TensorProtoInt32     = 6  // int32
	TensorProtoInt64     = 7  // int64
	TensorProtoString    = 8  // string
	TensorProtoBool      = 9  // bool
	TensorProtoFloat16   = 10 // float16
	TensorProtoDouble    = 11 // float64
	TensorProtoUint32    = 12 // uint32
	TensorProtoUint64    = 13 // uint64
	TensorProtoBfloat16  = 16 // bfloat16
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// DataTypeOf maps a tensor.DataType to its ONNX element type.
func DataTypeOf(dt tensor.DataType) int32 {
	switch dt {
	case tensor.Float32:
		return TensorProtoFloat
	case tensor.Float64:
		return TensorProtoDouble
	case tensor.Int32:
		return TensorProtoInt32
	case tensor.Int64:
		return TensorProtoInt64
	case tensor.Uint8:
		return TensorProtoUint8
	case tensor.Bool:
		return TensorProtoBool
	default:
		return TensorProtoUndefined
	}
}

// TensorDataType maps an ONNX element type to tensor.DataType.
func TensorDataType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported ONNX data type %d", onnxType)
	}
}

// NewTensorProto wraps a RawTensor as an initializer. The data is shared.
func NewTensorProto(name string, t *tensor.RawTensor) TensorProto {
	return TensorProto{
		Name:     name,
		DataType: DataTypeOf(t.DType()),
		Dims:     t.Shape().Int64s(),
		RawData:  t.Data(),
	}
}

// ToRawTensor converts an initializer to a RawTensor, accepting both raw and
// legacy typed data fields.
func (tp *TensorProto) ToRawTensor() (*tensor.RawTensor, error) {
	dtype, err := TensorDataType(tp.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", tp.Name, err)
	}
	shape := tensor.ShapeOf(tp.Dims)

	//nolint:gocritic // ifElseChain: checking mutually exclusive data fields.
	if len(tp.RawData) > 0 {
		return tensor.FromBytes(shape, dtype, tp.RawData)
	} else if len(tp.FloatData) > 0 {
		return tensor.FromFloat32(shape, tp.FloatData)
	} else if len(tp.Int64Data) > 0 {
		return tensor.FromInt64(shape, tp.Int64Data)
	}
	return tensor.NewRaw(shape, dtype)
}

// NewValueInfo describes a float tensor interface. Dimensions listed in dynamic
// (by index) are emitted as symbolic dims named by the map value.
func NewValueInfo(name string, elemType int32, dims []int64, dynamic map[int]string) ValueInfoProto {
	shape := &TensorShapeProto{Dims: make([]DimensionProto, len(dims))}
	for i, d := range dims {
		if param, ok := dynamic[i]; ok {
			shape.Dims[i] = DimensionProto{DimParam: param}
			continue
		}
		shape.Dims[i] = DimensionProto{DimValue: d}
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: elemType, Shape: shape}},
	}
}

// Attribute constructors.

// AttrInt builds an INT attribute.
func AttrInt(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// AttrInts builds an INTS attribute.
func AttrInts(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// AttrFloat builds a FLOAT attribute.
func AttrFloat(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// AttrString builds a STRING attribute.
func AttrString(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// Attr returns the named attribute of n, if present.
func (n *NodeProto) Attr(name string) (*AttributeProto, bool) {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i], true
		}
	}
	return nil, false
}
