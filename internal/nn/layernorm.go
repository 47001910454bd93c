package nn

import (
	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

// LayerNorm applies Layer Normalization along the last dimension.
//
// Formula: Y = gamma * (X - mean(X)) / sqrt(var(X) + eps) + beta
type LayerNorm struct {
	Gamma   *Parameter // scale [d_model]
	Beta    *Parameter // shift [d_model]
	Epsilon float32
}

// NewLayerNorm loads prefix.weight and prefix.bias from sd.
func NewLayerNorm(sd StateDict, prefix string, size int, epsilon float32) (*LayerNorm, error) {
	g, err := sd.Param(prefix+".weight", tensor.Shape{size})
	if err != nil {
		return nil, err
	}
	b, err := sd.Param(prefix+".bias", tensor.Shape{size})
	if err != nil {
		return nil, err
	}
	return &LayerNorm{Gamma: g, Beta: b, Epsilon: epsilon}, nil
}

// Forward normalizes x over its last axis.
func (ln *LayerNorm) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	mean := tr.ReduceMean(x, []int{-1}, true)
	centered := tr.Sub(x, mean)
	variance := tr.ReduceMean(tr.Pow(centered, tr.Scalar(2)), []int{-1}, true)
	std := tr.Sqrt(tr.Add(variance, tr.Scalar(ln.Epsilon)))
	normed := tr.Div(centered, std)
	return tr.Add(tr.Mul(normed, ln.Gamma.Value(tr)), ln.Beta.Value(tr))
}

// Parameters returns gamma and beta.
func (ln *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{ln.Gamma, ln.Beta}
}
