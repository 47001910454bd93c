package nn

import (
	"fmt"

	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//
// The transpose of W is recorded as its own node on a constant, so constant
// folding turns it into a pre-transposed initializer.
type Linear struct {
	InFeatures  int
	OutFeatures int
	Weight      *Parameter // [out_features, in_features]
	Bias        *Parameter // [out_features]
}

// NewLinear loads prefix.weight and prefix.bias from sd.
func NewLinear(sd StateDict, prefix string, inFeatures, outFeatures int) (*Linear, error) {
	w, err := sd.Param(prefix+".weight", tensor.Shape{outFeatures, inFeatures})
	if err != nil {
		return nil, err
	}
	b, err := sd.Param(prefix+".bias", tensor.Shape{outFeatures})
	if err != nil {
		return nil, err
	}
	return &Linear{InFeatures: inFeatures, OutFeatures: outFeatures, Weight: w, Bias: b}, nil
}

// Forward computes x @ W.T + b.
func (l *Linear) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	if x.Valid() && x.Shape[len(x.Shape)-1] != l.InFeatures {
		tr.Fail(fmt.Errorf("linear %s: input %v does not end in %d features", l.Weight.Name, x.Shape, l.InFeatures))
		return trace.Value{}
	}
	wt := tr.Transpose(l.Weight.Value(tr), 1, 0)
	return tr.Add(tr.MatMul(x, wt), l.Bias.Value(tr))
}

// Parameters returns the weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}
