package segformer

import (
	"fmt"
	"sort"

	"github.com/born-ml/segport/internal/tensor"
)

// ExpectedWeights returns the name and shape of every weight a model built
// from cfg reads from its checkpoint.
func ExpectedWeights(cfg *Config) map[string]tensor.Shape {
	w := make(map[string]tensor.Shape)
	linear := func(prefix string, in, out int) {
		w[prefix+".weight"] = tensor.Shape{out, in}
		w[prefix+".bias"] = tensor.Shape{out}
	}
	norm := func(prefix string, size int) {
		w[prefix+".weight"] = tensor.Shape{size}
		w[prefix+".bias"] = tensor.Shape{size}
	}

	in := cfg.NumChannels
	for i := 0; i < cfg.NumEncoderBlocks; i++ {
		c := cfg.HiddenSizes[i]
		pe := fmt.Sprintf("segformer.encoder.patch_embeddings.%d", i)
		w[pe+".proj.weight"] = tensor.Shape{c, in, cfg.PatchSizes[i], cfg.PatchSizes[i]}
		w[pe+".proj.bias"] = tensor.Shape{c}
		norm(pe+".layer_norm", c)

		for j := 0; j < cfg.Depths[i]; j++ {
			b := fmt.Sprintf("segformer.encoder.block.%d.%d", i, j)
			norm(b+".layer_norm_1", c)
			linear(b+".attention.self.query", c, c)
			linear(b+".attention.self.key", c, c)
			linear(b+".attention.self.value", c, c)
			if sr := cfg.SRRatios[i]; sr > 1 {
				w[b+".attention.self.sr.weight"] = tensor.Shape{c, c, sr, sr}
				w[b+".attention.self.sr.bias"] = tensor.Shape{c}
				norm(b+".attention.self.layer_norm", c)
			}
			linear(b+".attention.output.dense", c, c)
			norm(b+".layer_norm_2", c)

			hidden := cfg.MLPHidden(i)
			linear(b+".mlp.dense1", c, hidden)
			w[b+".mlp.dwconv.dwconv.weight"] = tensor.Shape{hidden, 1, 3, 3}
			w[b+".mlp.dwconv.dwconv.bias"] = tensor.Shape{hidden}
			linear(b+".mlp.dense2", hidden, c)
		}
		norm(fmt.Sprintf("segformer.encoder.layer_norm.%d", i), c)
		linear(fmt.Sprintf("decode_head.linear_c.%d.proj", i), c, cfg.DecoderHiddenSize)
		in = c
	}

	d := cfg.DecoderHiddenSize
	w["decode_head.linear_fuse.weight"] = tensor.Shape{d, d * cfg.NumEncoderBlocks, 1, 1}
	norm("decode_head.batch_norm", d)
	w["decode_head.batch_norm.running_mean"] = tensor.Shape{d}
	w["decode_head.batch_norm.running_var"] = tensor.Shape{d}
	w["decode_head.classifier.weight"] = tensor.Shape{cfg.NumLabels, d, 1, 1}
	w["decode_head.classifier.bias"] = tensor.Shape{cfg.NumLabels}
	return w
}

// UnusedWeights returns the sorted checkpoint keys a model built from cfg
// does not read.
func UnusedWeights(cfg *Config, names []string) []string {
	want := ExpectedWeights(cfg)
	var unused []string
	for _, n := range names {
		if _, ok := want[n]; !ok {
			unused = append(unused, n)
		}
	}
	sort.Strings(unused)
	return unused
}
