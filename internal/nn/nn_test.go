package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

func zeros(t *testing.T, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape), tensor.Float32)
	require.NoError(t, err)
	return r
}

func TestLinear(t *testing.T) {
	sd := StateDict{
		"fc.weight": zeros(t, 16, 8),
		"fc.bias":   zeros(t, 16),
	}
	l, err := NewLinear(sd, "fc", 8, 16)
	require.NoError(t, err)
	assert.Len(t, l.Parameters(), 2)

	tr := trace.New("g")
	y := l.Forward(tr, tr.Input("x", tensor.Shape{1, 10, 8}))
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 10, 16}, y.Shape)

	counts := tr.OpCounts()
	assert.Equal(t, 1, counts["Transpose"])
	assert.Equal(t, 1, counts["MatMul"])
	assert.Equal(t, 1, counts["Add"])
}

func TestLinearWrongInput(t *testing.T) {
	sd := StateDict{"fc.weight": zeros(t, 4, 8), "fc.bias": zeros(t, 4)}
	l, err := NewLinear(sd, "fc", 8, 4)
	require.NoError(t, err)

	tr := trace.New("g")
	l.Forward(tr, tr.Input("x", tensor.Shape{1, 10, 5}))
	assert.Error(t, tr.Err())
}

func TestStateDictParam(t *testing.T) {
	sd := StateDict{"w": zeros(t, 2, 3)}

	_, err := sd.Param("missing", nil)
	assert.ErrorContains(t, err, "missing weight")

	_, err = sd.Param("w", tensor.Shape{3, 2})
	assert.ErrorContains(t, err, "shape")

	p, err := sd.Param("w", nil)
	require.NoError(t, err)
	assert.Equal(t, "w", p.Name)

	sd["ids"] = tensor.Int64Vector(1, 2)
	_, err = sd.Param("ids", nil)
	assert.ErrorContains(t, err, "dtype")
}

func TestLayerNormDecomposition(t *testing.T) {
	sd := StateDict{"ln.weight": zeros(t, 32), "ln.bias": zeros(t, 32)}
	ln, err := NewLayerNorm(sd, "ln", 32, 1e-6)
	require.NoError(t, err)

	tr := trace.New("g")
	y := ln.Forward(tr, tr.Input("x", tensor.Shape{1, 49, 32}))
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 49, 32}, y.Shape)

	counts := tr.OpCounts()
	assert.Equal(t, 2, counts["ReduceMean"])
	assert.Equal(t, 1, counts["Sub"])
	assert.Equal(t, 1, counts["Pow"])
	assert.Equal(t, 1, counts["Sqrt"])
	assert.Equal(t, 1, counts["Div"])
	assert.Equal(t, 1, counts["Mul"])
	assert.Equal(t, 2, counts["Add"])
}

func TestConv2DAndBatchNorm(t *testing.T) {
	sd := StateDict{
		"conv.weight":     zeros(t, 8, 4, 1, 1),
		"bn.weight":       zeros(t, 8),
		"bn.bias":         zeros(t, 8),
		"bn.running_mean": zeros(t, 8),
		"bn.running_var":  zeros(t, 8),
	}
	conv, err := NewConv2D(sd, "conv", Conv2DConfig{InChannels: 4, OutChannels: 8, Kernel: 1})
	require.NoError(t, err)
	assert.Len(t, conv.Parameters(), 1)

	bn, err := NewBatchNorm2D(sd, "bn", 8, 1e-5)
	require.NoError(t, err)
	assert.Len(t, bn.Parameters(), 4)

	tr := trace.New("g")
	y := bn.Forward(tr, conv.Forward(tr, tr.Input("x", tensor.Shape{1, 4, 16, 16})))
	require.NoError(t, tr.Err())
	assert.Equal(t, tensor.Shape{1, 8, 16, 16}, y.Shape)

	_, err = NewConv2D(sd, "conv", Conv2DConfig{InChannels: 4, OutChannels: 8, Kernel: 1, Bias: true})
	assert.Error(t, err)
}

func TestGELU(t *testing.T) {
	tr := trace.New("g")
	x := tr.Input("x", tensor.Shape{1, 4})
	y := GELU{}.Forward(tr, x)
	require.NoError(t, tr.Err())
	assert.Equal(t, x.Shape, y.Shape)

	counts := tr.OpCounts()
	assert.Equal(t, 1, counts["Erf"])
	assert.Equal(t, 1, counts["Div"])
	assert.Equal(t, 2, counts["Mul"])
	assert.Equal(t, 1, counts["Add"])
}

func TestDropoutOnlyWhileTraining(t *testing.T) {
	tr := trace.New("g")
	x := tr.Input("x", tensor.Shape{1, 4})

	d := &Dropout{P: 0.1}
	assert.Equal(t, x, d.Forward(tr, x))
	assert.Zero(t, tr.NumNodes())

	d.Training = true
	y := d.Forward(tr, x)
	assert.NotEqual(t, x.Name, y.Name)
	assert.Equal(t, 1, tr.OpCounts()["Dropout"])
}
