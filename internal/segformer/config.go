package segformer

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ConfigFileName is the name of the model configuration in a repository.
const ConfigFileName = "config.json"

// Defaults applied when config.json leaves a field out.
const (
	DefaultNumChannels = 3
	DefaultNumLabels   = 2
	DefaultActivation  = "gelu"

	// LayerNormEps is the epsilon of every LayerNorm in the network. The
	// reference modules construct their LayerNorms with the framework default
	// rather than config.layer_norm_eps.
	LayerNormEps = 1e-5

	// BatchNormEps is the epsilon of the decode head's BatchNorm.
	BatchNormEps = 1e-5
)

//go:embed schema.json
var schemaJSON string

var configSchema = jsonschema.MustCompileString("config.json", schemaJSON)

// ErrInvalidConfig is returned for config.json documents that do not describe
// a SegFormer model.
var ErrInvalidConfig = errors.New("invalid segformer configuration")

// Config holds the architecture hyper-parameters of a SegFormer model.
type Config struct {
	NumChannels       int       `json:"num_channels"`
	NumEncoderBlocks  int       `json:"num_encoder_blocks"`
	Depths            []int     `json:"depths"`
	HiddenSizes       []int     `json:"hidden_sizes"`
	NumAttentionHeads []int     `json:"num_attention_heads"`
	SRRatios          []int     `json:"sr_ratios"`
	PatchSizes        []int     `json:"patch_sizes"`
	Strides           []int     `json:"strides"`
	MLPRatios         []float64 `json:"mlp_ratios"`
	DecoderHiddenSize int       `json:"decoder_hidden_size"`
	HiddenAct         string    `json:"hidden_act"`

	HiddenDropoutProb         float32 `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float32 `json:"attention_probs_dropout_prob"`
	ClassifierDropoutProb     float32 `json:"classifier_dropout_prob"`
	DropPathRate              float32 `json:"drop_path_rate"`
	LayerNormEps              float64 `json:"layer_norm_eps"`

	NumLabels int               `json:"num_labels"`
	ID2Label  map[string]string `json:"id2label"`
}

// ParseConfig validates data against the SegFormer schema, applies defaults
// and checks that the per-stage lists agree.
func ParseConfig(data []byte) (*Config, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := configSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NumChannels == 0 {
		c.NumChannels = DefaultNumChannels
	}
	if c.NumEncoderBlocks == 0 {
		c.NumEncoderBlocks = len(c.Depths)
	}
	if c.HiddenAct == "" {
		c.HiddenAct = DefaultActivation
	}
	if c.NumLabels == 0 {
		c.NumLabels = len(c.ID2Label)
	}
	if c.NumLabels == 0 {
		c.NumLabels = DefaultNumLabels
	}
}

// Validate checks the structural consistency of the configuration.
func (c *Config) Validate() error {
	n := c.NumEncoderBlocks
	lists := map[string]int{
		"depths":              len(c.Depths),
		"hidden_sizes":        len(c.HiddenSizes),
		"num_attention_heads": len(c.NumAttentionHeads),
		"sr_ratios":           len(c.SRRatios),
		"patch_sizes":         len(c.PatchSizes),
		"strides":             len(c.Strides),
		"mlp_ratios":          len(c.MLPRatios),
	}
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if lists[name] != n {
			return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidConfig, name, lists[name], n)
		}
	}

	for i := 0; i < n; i++ {
		if c.HiddenSizes[i]%c.NumAttentionHeads[i] != 0 {
			return fmt.Errorf("%w: stage %d hidden size %d is not divisible by %d heads",
				ErrInvalidConfig, i, c.HiddenSizes[i], c.NumAttentionHeads[i])
		}
		if c.MLPRatios[i] <= 0 {
			return fmt.Errorf("%w: stage %d mlp ratio %v", ErrInvalidConfig, i, c.MLPRatios[i])
		}
	}
	if c.HiddenAct != DefaultActivation {
		return fmt.Errorf("%w: unsupported activation %q", ErrInvalidConfig, c.HiddenAct)
	}
	if c.NumLabels <= 0 {
		return fmt.Errorf("%w: num_labels must be positive, got %d", ErrInvalidConfig, c.NumLabels)
	}
	return nil
}

// MLPHidden returns the MixFFN hidden size of stage i.
func (c *Config) MLPHidden(i int) int {
	return int(float64(c.HiddenSizes[i]) * c.MLPRatios[i])
}

// Labels returns the class names ordered by class index. Indices missing from
// id2label are named by their number.
func (c *Config) Labels() []string {
	labels := make([]string, c.NumLabels)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}
	for k, v := range c.ID2Label {
		i, err := strconv.Atoi(k)
		if err == nil && i >= 0 && i < len(labels) {
			labels[i] = v
		}
	}
	return labels
}

// OutputSize returns the spatial size of the logits for an h x w input: the
// resolution after the first overlapping patch embedding.
func (c *Config) OutputSize(h, w int) (int, int) {
	k, s := c.PatchSizes[0], c.Strides[0]
	pad := k / 2
	return (h+2*pad-k)/s + 1, (w+2*pad-k)/s + 1
}
