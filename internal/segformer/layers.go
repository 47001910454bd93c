package segformer

import (
	"fmt"
	"math"

	"github.com/born-ml/segport/internal/nn"
	"github.com/born-ml/segport/internal/trace"
)

// patchEmbed is an overlapping patch embedding: a strided convolution
// followed by LayerNorm over the flattened sequence.
type patchEmbed struct {
	proj *nn.Conv2D
	norm *nn.LayerNorm
}

func newPatchEmbed(sd nn.StateDict, prefix string, in, out, patch, stride int) (*patchEmbed, error) {
	proj, err := nn.NewConv2D(sd, prefix+".proj", nn.Conv2DConfig{
		InChannels:  in,
		OutChannels: out,
		Kernel:      patch,
		Stride:      stride,
		Padding:     patch / 2,
		Bias:        true,
	})
	if err != nil {
		return nil, err
	}
	norm, err := nn.NewLayerNorm(sd, prefix+".layer_norm", out, LayerNormEps)
	if err != nil {
		return nil, err
	}
	return &patchEmbed{proj: proj, norm: norm}, nil
}

// forward maps [B,C,H,W] to a [B,h*w,out] sequence and returns h and w.
func (p *patchEmbed) forward(tr *trace.Tracer, x trace.Value) (trace.Value, int, int) {
	y := p.proj.Forward(tr, x)
	if !y.Valid() {
		return y, 0, 0
	}
	c, h, w := y.Shape[1], y.Shape[2], y.Shape[3]
	seq := tr.Transpose(tr.Reshape(y, 0, int64(c), -1), 0, 2, 1)
	return p.norm.Forward(tr, seq), h, w
}

func (p *patchEmbed) parameters() []*nn.Parameter {
	return nn.CollectParameters(p.proj, p.norm)
}

// selfAttention is efficient self-attention: keys and values come from a
// sequence spatially reduced by a strided convolution when srRatio > 1.
type selfAttention struct {
	hidden, heads int
	query         *nn.Linear
	key           *nn.Linear
	value         *nn.Linear
	sr            *nn.Conv2D
	srNorm        *nn.LayerNorm
	dense         *nn.Linear
	probsDrop     *nn.Dropout
	outDrop       *nn.Dropout
}

func newSelfAttention(sd nn.StateDict, prefix string, hidden, heads, srRatio int, cfg *Config) (*selfAttention, error) {
	a := &selfAttention{
		hidden:    hidden,
		heads:     heads,
		probsDrop: &nn.Dropout{P: cfg.AttentionProbsDropoutProb},
		outDrop:   &nn.Dropout{P: cfg.HiddenDropoutProb},
	}
	var err error
	for _, l := range []struct {
		dst  **nn.Linear
		name string
	}{
		{&a.query, ".attention.self.query"},
		{&a.key, ".attention.self.key"},
		{&a.value, ".attention.self.value"},
		{&a.dense, ".attention.output.dense"},
	} {
		if *l.dst, err = nn.NewLinear(sd, prefix+l.name, hidden, hidden); err != nil {
			return nil, err
		}
	}
	if srRatio > 1 {
		a.sr, err = nn.NewConv2D(sd, prefix+".attention.self.sr", nn.Conv2DConfig{
			InChannels:  hidden,
			OutChannels: hidden,
			Kernel:      srRatio,
			Stride:      srRatio,
			Bias:        true,
		})
		if err != nil {
			return nil, err
		}
		if a.srNorm, err = nn.NewLayerNorm(sd, prefix+".attention.self.layer_norm", hidden, LayerNormEps); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// splitHeads reshapes [B,N,C] to [B,heads,N,C/heads].
func (a *selfAttention) splitHeads(tr *trace.Tracer, x trace.Value) trace.Value {
	return tr.Transpose(tr.Reshape(x, 0, 0, int64(a.heads), int64(a.hidden/a.heads)), 0, 2, 1, 3)
}

func (a *selfAttention) forward(tr *trace.Tracer, x trace.Value, h, w int) trace.Value {
	q := a.splitHeads(tr, a.query.Forward(tr, x))

	kv := x
	if a.sr != nil {
		spatial := tr.Reshape(tr.Transpose(x, 0, 2, 1), 0, int64(a.hidden), int64(h), int64(w))
		reduced := a.sr.Forward(tr, spatial)
		kv = a.srNorm.Forward(tr, tr.Transpose(tr.Reshape(reduced, 0, int64(a.hidden), -1), 0, 2, 1))
	}
	k := a.splitHeads(tr, a.key.Forward(tr, kv))
	v := a.splitHeads(tr, a.value.Forward(tr, kv))

	headDim := a.hidden / a.heads
	scores := tr.Div(tr.MatMul(q, tr.Transpose(k, 0, 1, 3, 2)), tr.Scalar(float32(math.Sqrt(float64(headDim)))))
	probs := a.probsDrop.Forward(tr, tr.Softmax(scores, -1))
	ctx := tr.Reshape(tr.Transpose(tr.MatMul(probs, v), 0, 2, 1, 3), 0, 0, int64(a.hidden))
	return a.outDrop.Forward(tr, a.dense.Forward(tr, ctx))
}

func (a *selfAttention) parameters() []*nn.Parameter {
	mods := []nn.Module{a.query, a.key, a.value}
	if a.sr != nil {
		mods = append(mods, a.sr, a.srNorm)
	}
	return nn.CollectParameters(append(mods, a.dense)...)
}

// mixFFN is dense -> 3x3 depthwise conv -> GELU -> dense.
type mixFFN struct {
	hidden int
	dense1 *nn.Linear
	dwconv *nn.Conv2D
	dense2 *nn.Linear
	drop   *nn.Dropout
}

func newMixFFN(sd nn.StateDict, prefix string, in, hidden int, cfg *Config) (*mixFFN, error) {
	dense1, err := nn.NewLinear(sd, prefix+".mlp.dense1", in, hidden)
	if err != nil {
		return nil, err
	}
	dwconv, err := nn.NewConv2D(sd, prefix+".mlp.dwconv.dwconv", nn.Conv2DConfig{
		InChannels:  hidden,
		OutChannels: hidden,
		Kernel:      3,
		Stride:      1,
		Padding:     1,
		Groups:      hidden,
		Bias:        true,
	})
	if err != nil {
		return nil, err
	}
	dense2, err := nn.NewLinear(sd, prefix+".mlp.dense2", hidden, in)
	if err != nil {
		return nil, err
	}
	return &mixFFN{
		hidden: hidden,
		dense1: dense1,
		dwconv: dwconv,
		dense2: dense2,
		drop:   &nn.Dropout{P: cfg.HiddenDropoutProb},
	}, nil
}

func (f *mixFFN) forward(tr *trace.Tracer, x trace.Value, h, w int) trace.Value {
	y := f.dense1.Forward(tr, x)
	spatial := tr.Reshape(tr.Transpose(y, 0, 2, 1), 0, int64(f.hidden), int64(h), int64(w))
	conv := f.dwconv.Forward(tr, spatial)
	y = tr.Transpose(tr.Reshape(conv, 0, int64(f.hidden), -1), 0, 2, 1)
	y = f.drop.Forward(tr, nn.GELU{}.Forward(tr, y))
	return f.drop.Forward(tr, f.dense2.Forward(tr, y))
}

func (f *mixFFN) parameters() []*nn.Parameter {
	return nn.CollectParameters(f.dense1, f.dwconv, f.dense2)
}

// block is one transformer layer of an encoder stage.
type block struct {
	norm1    *nn.LayerNorm
	attn     *selfAttention
	norm2    *nn.LayerNorm
	ffn      *mixFFN
	dropPath *nn.Dropout
}

func newBlock(sd nn.StateDict, prefix string, stage int, dropPath float32, cfg *Config) (*block, error) {
	hidden := cfg.HiddenSizes[stage]
	norm1, err := nn.NewLayerNorm(sd, prefix+".layer_norm_1", hidden, LayerNormEps)
	if err != nil {
		return nil, err
	}
	attn, err := newSelfAttention(sd, prefix, hidden, cfg.NumAttentionHeads[stage], cfg.SRRatios[stage], cfg)
	if err != nil {
		return nil, err
	}
	norm2, err := nn.NewLayerNorm(sd, prefix+".layer_norm_2", hidden, LayerNormEps)
	if err != nil {
		return nil, err
	}
	ffn, err := newMixFFN(sd, prefix, hidden, cfg.MLPHidden(stage), cfg)
	if err != nil {
		return nil, err
	}
	return &block{norm1: norm1, attn: attn, norm2: norm2, ffn: ffn, dropPath: &nn.Dropout{P: dropPath}}, nil
}

func (b *block) forward(tr *trace.Tracer, x trace.Value, h, w int) trace.Value {
	x = tr.Add(b.dropPath.Forward(tr, b.attn.forward(tr, b.norm1.Forward(tr, x), h, w)), x)
	return tr.Add(b.dropPath.Forward(tr, b.ffn.forward(tr, b.norm2.Forward(tr, x), h, w)), x)
}

func (b *block) dropouts() []*nn.Dropout {
	return []*nn.Dropout{b.attn.probsDrop, b.attn.outDrop, b.ffn.drop, b.dropPath}
}

func (b *block) parameters() []*nn.Parameter {
	params := b.norm1.Parameters()
	params = append(params, b.attn.parameters()...)
	params = append(params, b.norm2.Parameters()...)
	return append(params, b.ffn.parameters()...)
}

// decodeHead is the all-MLP decoder: per-stage projections upsampled to the
// first stage's resolution, fused by a 1x1 conv, then classified per pixel.
type decodeHead struct {
	linearC    []*nn.Linear
	fuse       *nn.Conv2D
	batchNorm  *nn.BatchNorm2D
	drop       *nn.Dropout
	classifier *nn.Conv2D
}

func newDecodeHead(sd nn.StateDict, cfg *Config) (*decodeHead, error) {
	d := cfg.DecoderHiddenSize
	head := &decodeHead{drop: &nn.Dropout{P: cfg.ClassifierDropoutProb}}
	for i, hidden := range cfg.HiddenSizes {
		l, err := nn.NewLinear(sd, fmt.Sprintf("decode_head.linear_c.%d.proj", i), hidden, d)
		if err != nil {
			return nil, err
		}
		head.linearC = append(head.linearC, l)
	}
	var err error
	head.fuse, err = nn.NewConv2D(sd, "decode_head.linear_fuse", nn.Conv2DConfig{
		InChannels:  d * cfg.NumEncoderBlocks,
		OutChannels: d,
		Kernel:      1,
	})
	if err != nil {
		return nil, err
	}
	if head.batchNorm, err = nn.NewBatchNorm2D(sd, "decode_head.batch_norm", d, BatchNormEps); err != nil {
		return nil, err
	}
	head.classifier, err = nn.NewConv2D(sd, "decode_head.classifier", nn.Conv2DConfig{
		InChannels:  d,
		OutChannels: cfg.NumLabels,
		Kernel:      1,
		Bias:        true,
	})
	if err != nil {
		return nil, err
	}
	return head, nil
}

func (d *decodeHead) forward(tr *trace.Tracer, features []trace.Value) trace.Value {
	if len(features) == 0 || !features[0].Valid() {
		tr.Fail(fmt.Errorf("decode head: no encoder features"))
		return trace.Value{}
	}
	h, w := features[0].Shape[2], features[0].Shape[3]

	upsampled := make([]trace.Value, len(features))
	for i, f := range features {
		if !f.Valid() {
			return trace.Value{}
		}
		c, fh, fw := f.Shape[1], f.Shape[2], f.Shape[3]
		seq := tr.Transpose(tr.Reshape(f, 0, int64(c), -1), 0, 2, 1)
		proj := tr.Transpose(d.linearC[i].Forward(tr, seq), 0, 2, 1)
		spatial := tr.Reshape(proj, 0, -1, int64(fh), int64(fw))
		upsampled[len(features)-1-i] = tr.Resize(spatial, h, w)
	}

	x := d.fuse.Forward(tr, tr.Concat(1, upsampled...))
	x = nn.ReLU{}.Forward(tr, d.batchNorm.Forward(tr, x))
	return d.classifier.Forward(tr, d.drop.Forward(tr, x))
}

func (d *decodeHead) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, l := range d.linearC {
		params = append(params, l.Parameters()...)
	}
	return append(params, nn.CollectParameters(d.fuse, d.batchNorm, d.classifier)...)
}
