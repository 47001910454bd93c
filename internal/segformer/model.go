// Package segformer implements the SegFormer semantic segmentation network
// (hierarchical Mix Transformer encoder with an all-MLP decode head) on top of
// the traced layers in package nn.
//
// A Model is built from a parsed config.json and a checkpoint; Forward records
// the full network for a [B,3,H,W] input and yields logits of shape
// [B,num_labels,H/4,W/4].
package segformer

import (
	"fmt"

	"github.com/born-ml/segport/internal/nn"
	"github.com/born-ml/segport/internal/trace"
)

// Model is a SegFormer network with loaded weights.
type Model struct {
	Config *Config

	embeds    []*patchEmbed
	stages    [][]*block
	norms     []*nn.LayerNorm
	head      *decodeHead
	dropouts  []*nn.Dropout
	training  bool
	numParams int
}

// New builds a model from cfg and a state dict keyed by checkpoint names
// (segformer.encoder.*, decode_head.*). Every weight the network needs must be
// present with the expected shape. New models start in training mode, like a
// freshly constructed framework module; call Eval before exporting.
func New(cfg *Config, sd nn.StateDict) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{Config: cfg, training: true}

	total := 0
	for _, d := range cfg.Depths {
		total += d
	}
	cur := 0
	in := cfg.NumChannels
	for i := 0; i < cfg.NumEncoderBlocks; i++ {
		hidden := cfg.HiddenSizes[i]
		embed, err := newPatchEmbed(sd, fmt.Sprintf("segformer.encoder.patch_embeddings.%d", i),
			in, hidden, cfg.PatchSizes[i], cfg.Strides[i])
		if err != nil {
			return nil, err
		}
		m.embeds = append(m.embeds, embed)

		var blocks []*block
		for j := 0; j < cfg.Depths[i]; j++ {
			b, err := newBlock(sd, fmt.Sprintf("segformer.encoder.block.%d.%d", i, j), i, dropPathRate(cfg, cur, total), cfg)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
			m.dropouts = append(m.dropouts, b.dropouts()...)
			cur++
		}
		m.stages = append(m.stages, blocks)

		norm, err := nn.NewLayerNorm(sd, fmt.Sprintf("segformer.encoder.layer_norm.%d", i), hidden, LayerNormEps)
		if err != nil {
			return nil, err
		}
		m.norms = append(m.norms, norm)
		in = hidden
	}

	head, err := newDecodeHead(sd, cfg)
	if err != nil {
		return nil, err
	}
	m.head = head
	m.dropouts = append(m.dropouts, head.drop)

	for _, p := range m.Parameters() {
		m.numParams += p.Tensor.NumElements()
	}
	m.setTraining(true)
	return m, nil
}

// dropPathRate returns the stochastic depth rate of block cur out of total,
// increasing linearly from 0 to cfg.DropPathRate.
func dropPathRate(cfg *Config, cur, total int) float32 {
	if total <= 1 {
		return 0
	}
	return cfg.DropPathRate * float32(cur) / float32(total-1)
}

// Eval switches the model to inference mode. Dropout and stochastic depth
// become the identity and are absent from traced graphs.
func (m *Model) Eval() {
	m.setTraining(false)
}

// Train switches the model to training mode.
func (m *Model) Train() {
	m.setTraining(true)
}

// Training reports whether the model is in training mode.
func (m *Model) Training() bool {
	return m.training
}

func (m *Model) setTraining(on bool) {
	m.training = on
	for _, d := range m.dropouts {
		d.Training = on
	}
}

// NumLabels returns the number of segmentation classes.
func (m *Model) NumLabels() int {
	return m.Config.NumLabels
}

// Labels returns the class names ordered by class index.
func (m *Model) Labels() []string {
	return m.Config.Labels()
}

// OutputSize returns the spatial size of the logits for an h x w input.
func (m *Model) OutputSize(h, w int) (int, int) {
	return m.Config.OutputSize(h, w)
}

// NumParameters returns the total number of weight elements.
func (m *Model) NumParameters() int {
	return m.numParams
}

// Parameters returns every weight of the network.
func (m *Model) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for i := range m.embeds {
		params = append(params, m.embeds[i].parameters()...)
		for _, b := range m.stages[i] {
			params = append(params, b.parameters()...)
		}
		params = append(params, m.norms[i].Parameters()...)
	}
	return append(params, m.head.parameters()...)
}

// Forward records the network for pixel values x of shape [B,C,H,W] and
// returns the logits.
func (m *Model) Forward(tr *trace.Tracer, x trace.Value) (trace.Value, error) {
	if x.Valid() && (len(x.Shape) != 4 || x.Shape[1] != m.Config.NumChannels) {
		return trace.Value{}, fmt.Errorf("segformer: input shape %v, want [B,%d,H,W]", x.Shape, m.Config.NumChannels)
	}

	features := make([]trace.Value, 0, len(m.embeds))
	hidden := x
	for i, embed := range m.embeds {
		seq, h, w := embed.forward(tr, hidden)
		for _, b := range m.stages[i] {
			seq = b.forward(tr, seq, h, w)
		}
		seq = m.norms[i].Forward(tr, seq)
		hidden = tr.Transpose(tr.Reshape(seq, 0, int64(h), int64(w), int64(m.Config.HiddenSizes[i])), 0, 3, 1, 2)
		features = append(features, hidden)
	}

	logits := m.head.forward(tr, features)
	if err := tr.Err(); err != nil {
		return trace.Value{}, fmt.Errorf("segformer: %w", err)
	}
	return logits, nil
}
