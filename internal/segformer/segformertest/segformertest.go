// Package segformertest provides small SegFormer configurations and random
// checkpoints for tests.
package segformertest

import (
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/segport/internal/loader"
	"github.com/born-ml/segport/internal/nn"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/tensor"
)

// TinyConfigJSON is a two-stage SegFormer config.json with four labels.
const TinyConfigJSON = `{
  "model_type": "segformer",
  "architectures": ["SegformerForSemanticSegmentation"],
  "num_channels": 3,
  "num_encoder_blocks": 2,
  "depths": [1, 1],
  "hidden_sizes": [8, 16],
  "num_attention_heads": [1, 2],
  "sr_ratios": [2, 1],
  "patch_sizes": [7, 3],
  "strides": [4, 2],
  "mlp_ratios": [2, 2],
  "decoder_hidden_size": 16,
  "hidden_act": "gelu",
  "hidden_dropout_prob": 0.1,
  "attention_probs_dropout_prob": 0.1,
  "classifier_dropout_prob": 0.1,
  "drop_path_rate": 0.1,
  "layer_norm_eps": 1e-6,
  "id2label": {"0": "background", "1": "wall", "2": "floor", "3": "ceiling"},
  "label2id": {"background": 0, "wall": 1, "floor": 2, "ceiling": 3}
}`

// TinyPreprocessorJSON is a preprocessor_config.json for a 512x512 input.
const TinyPreprocessorJSON = `{
  "image_processor_type": "SegformerImageProcessor",
  "size": {"height": 512, "width": 512},
  "do_resize": true,
  "do_rescale": true,
  "rescale_factor": 0.00392156862745098,
  "do_normalize": true,
  "image_mean": [0.485, 0.456, 0.406],
  "image_std": [0.229, 0.224, 0.225]
}`

// TinyConfig parses TinyConfigJSON.
func TinyConfig() *segformer.Config {
	cfg, err := segformer.ParseConfig([]byte(TinyConfigJSON))
	if err != nil {
		panic(err)
	}
	return cfg
}

// TinyConfigWith returns TinyConfigJSON with the given top-level fields
// replaced. A nil value removes the field.
func TinyConfigWith(overrides map[string]any) []byte {
	var doc map[string]any
	if err := json.Unmarshal([]byte(TinyConfigJSON), &doc); err != nil {
		panic(err)
	}
	for k, v := range overrides {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// RandomStateDict returns a checkpoint for cfg with normally distributed
// weights. Each tensor is seeded from its name, so the result is stable.
func RandomStateDict(cfg *segformer.Config) nn.StateDict {
	sd := make(nn.StateDict)
	for name, shape := range segformer.ExpectedWeights(cfg) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(name))
		t, err := tensor.RandN(shape, h.Sum64())
		if err != nil {
			panic(err)
		}
		sd[name] = t
	}
	// Running variance must stay positive.
	for name, t := range sd {
		if strings.HasSuffix(name, "running_var") {
			v, _ := tensor.Full(t.Shape(), 1)
			sd[name] = v
		}
	}
	return sd
}

// TinyModel builds an eval-mode model from TinyConfig and random weights.
func TinyModel() *segformer.Model {
	cfg := TinyConfig()
	m, err := segformer.New(cfg, RandomStateDict(cfg))
	if err != nil {
		panic(err)
	}
	m.Eval()
	return m
}

// WriteRepo lays out a model repository in dir: config.json,
// preprocessor_config.json and model.safetensors holding random weights for
// TinyConfig.
func WriteRepo(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, segformer.ConfigFileName), []byte(TinyConfigJSON), 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, preprocess.FileName), []byte(TinyPreprocessorJSON), 0o600); err != nil {
		return err
	}
	return loader.WriteSafeTensors(filepath.Join(dir, loader.SingleFileName), RandomStateDict(TinyConfig()), map[string]string{"format": "pt"})
}
