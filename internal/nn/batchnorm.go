package nn

import (
	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

// BatchNorm2D applies batch normalization with running statistics
// (inference mode) over the channel axis of NCHW input.
type BatchNorm2D struct {
	Weight      *Parameter
	Bias        *Parameter
	RunningMean *Parameter
	RunningVar  *Parameter
	Epsilon     float32
}

// NewBatchNorm2D loads weight, bias, running_mean and running_var under prefix.
func NewBatchNorm2D(sd StateDict, prefix string, channels int, epsilon float32) (*BatchNorm2D, error) {
	shape := tensor.Shape{channels}
	bn := &BatchNorm2D{Epsilon: epsilon}
	for _, p := range []struct {
		dst  **Parameter
		name string
	}{
		{&bn.Weight, "weight"},
		{&bn.Bias, "bias"},
		{&bn.RunningMean, "running_mean"},
		{&bn.RunningVar, "running_var"},
	} {
		param, err := sd.Param(prefix+"."+p.name, shape)
		if err != nil {
			return nil, err
		}
		*p.dst = param
	}
	return bn, nil
}

// Forward records a BatchNormalization node.
func (bn *BatchNorm2D) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	return tr.BatchNorm(x,
		bn.Weight.Value(tr), bn.Bias.Value(tr),
		bn.RunningMean.Value(tr), bn.RunningVar.Value(tr),
		bn.Epsilon)
}

// Parameters returns the affine parameters and running statistics.
func (bn *BatchNorm2D) Parameters() []*Parameter {
	return []*Parameter{bn.Weight, bn.Bias, bn.RunningMean, bn.RunningVar}
}
