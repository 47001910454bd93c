package nn

import (
	"math"

	"github.com/born-ml/segport/internal/trace"
)

// GELU is the exact Gaussian Error Linear Unit:
//
//	GELU(x) = 0.5 * x * (1 + erf(x / sqrt(2)))
type GELU struct{}

// Forward records GELU.
func (GELU) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	e := tr.Erf(tr.Div(x, tr.Scalar(math.Sqrt2)))
	return tr.Mul(tr.Mul(x, tr.Add(e, tr.Scalar(1))), tr.Scalar(0.5))
}

// Parameters returns nil.
func (GELU) Parameters() []*Parameter { return nil }

// ReLU applies max(0, x).
type ReLU struct{}

// Forward records ReLU.
func (ReLU) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	return tr.Relu(x)
}

// Parameters returns nil.
func (ReLU) Parameters() []*Parameter { return nil }

// Dropout zeroes activations with probability P while training and is the
// identity otherwise. Inference graphs contain no Dropout nodes.
type Dropout struct {
	P        float32
	Training bool
}

// Forward records a Dropout node only in training mode.
func (d *Dropout) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	if !d.Training || d.P == 0 {
		return x
	}
	return tr.Dropout(x, d.P)
}

// Parameters returns nil.
func (d *Dropout) Parameters() []*Parameter { return nil }
