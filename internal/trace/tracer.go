package trace

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/segport/internal/onnx"
	"github.com/born-ml/segport/internal/tensor"
)

// Exported graph conventions.
const (
	OpsetVersion = 13
	IRVersion    = 7

	// BatchDim names the symbolic leading dimension of every graph interface.
	BatchDim = "batch_size"
)

// ErrNoOutput is returned by Model when no output has been declared.
var ErrNoOutput = errors.New("graph has no outputs")

// Value is a symbolic tensor flowing through the traced graph.
type Value struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DataType
}

// Valid reports whether v refers to a recorded tensor.
func (v Value) Valid() bool {
	return v.Name != ""
}

// Tracer accumulates nodes and initializers for a single graph.
// It is not safe for concurrent use.
type Tracer struct {
	name   string
	nodes  []onnx.NodeProto
	inits  []onnx.TensorProto
	inputs []Value
	outs   []Value

	params   map[string]Value
	names    map[string]bool
	counters map[string]int
	err      error
}

// New creates an empty tracer for a graph called name.
func New(name string) *Tracer {
	return &Tracer{
		name:     name,
		params:   make(map[string]Value),
		names:    make(map[string]bool),
		counters: make(map[string]int),
	}
}

// Err returns the first error recorded by any operation.
func (t *Tracer) Err() error {
	return t.err
}

// NumNodes returns the number of recorded nodes.
func (t *Tracer) NumNodes() int {
	return len(t.nodes)
}

// OpCounts returns how many nodes of each operator type were recorded.
func (t *Tracer) OpCounts() map[string]int {
	counts := make(map[string]int)
	for i := range t.nodes {
		counts[t.nodes[i].OpType]++
	}
	return counts
}

// Fail records err as the tracer's error unless an earlier one is set.
// Layers use it to report invalid inputs they detect themselves.
func (t *Tracer) Fail(err error) {
	t.fail(err)
}

// fail records err unless an earlier error is already set.
func (t *Tracer) fail(err error) Value {
	if t.err == nil {
		t.err = err
	}
	return Value{}
}

// failed reports whether tracing already failed or any input is invalid.
func (t *Tracer) failed(vals ...Value) bool {
	if t.err != nil {
		return true
	}
	for _, v := range vals {
		if !v.Valid() {
			t.fail(errors.New("operation on an invalid value"))
			return true
		}
	}
	return false
}

// Input declares a graph input. Its leading dimension is exported as BatchDim.
func (t *Tracer) Input(name string, shape tensor.Shape) Value {
	if t.err != nil {
		return Value{}
	}
	if err := shape.Validate(); err != nil {
		return t.fail(fmt.Errorf("input %s: %w", name, err))
	}
	if t.names[name] {
		return t.fail(fmt.Errorf("input %s: name already in use", name))
	}
	t.names[name] = true
	v := Value{Name: name, Shape: shape.Clone(), DType: tensor.Float32}
	t.inputs = append(t.inputs, v)
	return v
}

// Param records a named weight as an initializer. Recording the same name
// twice returns the first Value.
func (t *Tracer) Param(name string, w *tensor.RawTensor) Value {
	if t.err != nil {
		return Value{}
	}
	if v, ok := t.params[name]; ok {
		return v
	}
	if w == nil {
		return t.fail(fmt.Errorf("parameter %s is missing", name))
	}
	if t.names[name] {
		return t.fail(fmt.Errorf("parameter %s: name already in use", name))
	}
	t.names[name] = true
	t.inits = append(t.inits, onnx.NewTensorProto(name, w))
	v := Value{Name: name, Shape: w.Shape().Clone(), DType: w.DType()}
	t.params[name] = v
	return v
}

// Const records an anonymous constant.
func (t *Tracer) Const(w *tensor.RawTensor) Value {
	if t.err != nil {
		return Value{}
	}
	name := t.unique("const")
	t.inits = append(t.inits, onnx.NewTensorProto(name, w))
	return Value{Name: name, Shape: w.Shape().Clone(), DType: w.DType()}
}

// Scalar records a float32 scalar constant.
func (t *Tracer) Scalar(v float32) Value {
	return t.Const(tensor.Scalar(v))
}

// Ints records a 1-D int64 constant.
func (t *Tracer) Ints(values ...int64) Value {
	return t.Const(tensor.Int64Vector(values...))
}

// Output marks v as a graph output called name. The producing node is
// rewired to write name directly.
func (t *Tracer) Output(v Value, name string) Value {
	if t.failed(v) {
		return Value{}
	}
	if t.names[name] && name != v.Name {
		return t.fail(fmt.Errorf("output %s: name already in use", name))
	}
	produced := false
	for i := range t.nodes {
		for j, in := range t.nodes[i].Inputs {
			if in == v.Name {
				t.nodes[i].Inputs[j] = name
			}
		}
		for j, out := range t.nodes[i].Outputs {
			if out == v.Name {
				t.nodes[i].Outputs[j] = name
				produced = true
			}
		}
	}
	if !produced {
		return t.fail(fmt.Errorf("output %s: %s is not produced by any node", name, v.Name))
	}
	delete(t.names, v.Name)
	t.names[name] = true
	out := Value{Name: name, Shape: v.Shape.Clone(), DType: v.DType}
	t.outs = append(t.outs, out)
	return out
}

// ModelOptions describes the model envelope.
type ModelOptions struct {
	ProducerName    string
	ProducerVersion string
	DocString       string
	Metadata        map[string]string
}

// Model assembles the recorded graph into an ONNX model (opset 13, IR 7).
// The leading dimension of every input and output is symbolic.
func (t *Tracer) Model(opts ModelOptions) (*onnx.ModelProto, error) {
	if t.err != nil {
		return nil, t.err
	}
	if len(t.outs) == 0 {
		return nil, ErrNoOutput
	}

	g := &onnx.GraphProto{
		Name:         t.name,
		Nodes:        t.nodes,
		Initializers: t.inits,
	}
	batch := map[int]string{0: BatchDim}
	for _, in := range t.inputs {
		g.Inputs = append(g.Inputs, onnx.NewValueInfo(in.Name, onnx.DataTypeOf(in.DType), in.Shape.Int64s(), batch))
	}
	for _, out := range t.outs {
		g.Outputs = append(g.Outputs, onnx.NewValueInfo(out.Name, onnx.DataTypeOf(out.DType), out.Shape.Int64s(), batch))
	}

	keys := make([]string, 0, len(opts.Metadata))
	for k := range opts.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	props := make([]onnx.StringStringEntry, 0, len(keys))
	for _, k := range keys {
		props = append(props, onnx.StringStringEntry{Key: k, Value: opts.Metadata[k]})
	}

	return &onnx.ModelProto{
		IRVersion:       IRVersion,
		OpsetImport:     []onnx.OperatorSetID{{Version: OpsetVersion}},
		ProducerName:    opts.ProducerName,
		ProducerVersion: opts.ProducerVersion,
		DocString:       opts.DocString,
		Graph:           g,
		MetadataProps:   props,
	}, nil
}

// node appends an operator node and returns its single output.
func (t *Tracer) node(opType string, inputs []string, shape tensor.Shape, dtype tensor.DataType, attrs ...onnx.AttributeProto) Value {
	name := t.unique(opType)
	out := name + "_output_0"
	t.names[out] = true
	t.nodes = append(t.nodes, onnx.NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    []string{out},
		Attributes: attrs,
	})
	return Value{Name: out, Shape: shape, DType: dtype}
}

func (t *Tracer) unique(prefix string) string {
	for {
		name := fmt.Sprintf("%s_%d", prefix, t.counters[prefix])
		t.counters[prefix]++
		if !t.names[name] {
			t.names[name] = true
			return name
		}
	}
}
