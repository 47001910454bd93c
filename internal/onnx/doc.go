// Package onnx builds, encodes and parses ONNX models.
//
// ONNX (Open Neural Network Exchange) is a protobuf-based format describing a
// computation graph: nodes, named inputs/outputs with shapes and initializer
// tensors. This package holds plain Go structs mirroring onnx.proto and encodes
// them with google.golang.org/protobuf/encoding/protowire, so no generated code
// is required.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto, ValueInfoProto: the model
//   - Encode / Marshal: wire-format serialization
//   - Parse / ParseFile: wire-format decoding, used to load artifacts back
//   - FoldConstants: pre-computes constant sub-graphs and fuses Conv+BatchNormalization
//
// Example usage:
//
//	model, err := onnx.ParseFile("segformer-b4-wall.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, in := range model.Graph.Inputs {
//	    fmt.Println(in.Name, in.Type.TensorType.Shape.Dims)
//	}
package onnx
