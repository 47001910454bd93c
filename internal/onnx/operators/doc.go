// Package operators evaluates ONNX operators on host tensors.
//
// The exporter uses it to pre-compute sub-graphs whose inputs are all
// initializers (weight transposes, reshape targets, scalar arithmetic), so the
// published model only carries the work that depends on pixel_values.
//
// Supported operators:
//   - Math: Add, Sub, Mul, Div, Pow, Sqrt, Neg
//   - Shape: Transpose, Reshape, Unsqueeze, Squeeze, Concat, Shape
//   - Utility: Identity, Cast
package operators
