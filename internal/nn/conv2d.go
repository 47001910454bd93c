package nn

import (
	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

// Conv2D is a 2-D convolution over NCHW input.
//
// Weight shape: [out_channels, in_channels/groups, kernel, kernel].
type Conv2D struct {
	Weight *Parameter
	Bias   *Parameter // nil when the layer has no bias
	Opts   trace.ConvOptions
}

// Conv2DConfig describes a convolution to load.
type Conv2DConfig struct {
	InChannels  int
	OutChannels int
	Kernel      int
	Stride      int
	Padding     int
	Groups      int
	Bias        bool
}

// NewConv2D loads prefix.weight (and prefix.bias when cfg.Bias) from sd.
func NewConv2D(sd StateDict, prefix string, cfg Conv2DConfig) (*Conv2D, error) {
	groups := max(cfg.Groups, 1)
	w, err := sd.Param(prefix+".weight", tensor.Shape{cfg.OutChannels, cfg.InChannels / groups, cfg.Kernel, cfg.Kernel})
	if err != nil {
		return nil, err
	}
	c := &Conv2D{
		Weight: w,
		Opts:   trace.ConvOptions{Stride: max(cfg.Stride, 1), Pad: cfg.Padding, Group: groups},
	}
	if cfg.Bias {
		if c.Bias, err = sd.Param(prefix+".bias", tensor.Shape{cfg.OutChannels}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Forward records the convolution.
func (c *Conv2D) Forward(tr *trace.Tracer, x trace.Value) trace.Value {
	var bias trace.Value
	if c.Bias != nil {
		bias = c.Bias.Value(tr)
	}
	return tr.Conv(x, c.Weight.Value(tr), bias, c.Opts)
}

// Parameters returns the weight and, if present, the bias.
func (c *Conv2D) Parameters() []*Parameter {
	if c.Bias == nil {
		return []*Parameter{c.Weight}
	}
	return []*Parameter{c.Weight, c.Bias}
}
