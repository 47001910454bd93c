// Package trace records a model's forward pass as an ONNX graph.
//
// A Tracer hands out symbolic Values that carry a name, a shape and an
// element type but no data. Every operation appends one ONNX node, infers the
// output shape from its inputs and returns the new Value, so a model written
// against the Tracer produces the exported graph and the exact output shape in
// the same pass, without evaluating a single activation.
//
// Errors are sticky: the first failing operation is remembered, later
// operations return zero Values, and Err or Model reports it.
//
//	tr := trace.New("segformer")
//	x := tr.Input("pixel_values", tensor.Shape{1, 3, 512, 512})
//	y := tr.Relu(x)
//	tr.Output(y, "logits")
//	model, err := tr.Model(trace.ModelOptions{})
package trace
