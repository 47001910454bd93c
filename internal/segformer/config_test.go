package segformer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/segformer/segformertest"
)

func TestParseConfig(t *testing.T) {
	cfg := segformertest.TinyConfig()
	assert.Equal(t, 3, cfg.NumChannels)
	assert.Equal(t, 2, cfg.NumEncoderBlocks)
	assert.Equal(t, 4, cfg.NumLabels)
	assert.Equal(t, "gelu", cfg.HiddenAct)
	assert.Equal(t, 16, cfg.MLPHidden(0))
	assert.Equal(t, []string{"background", "wall", "floor", "ceiling"}, cfg.Labels())
}

func TestParseConfigDefaults(t *testing.T) {
	data := segformertest.TinyConfigWith(map[string]any{
		"num_channels":       nil,
		"num_encoder_blocks": nil,
		"hidden_act":         nil,
	})
	cfg, err := segformer.ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, segformer.DefaultNumChannels, cfg.NumChannels)
	assert.Equal(t, 2, cfg.NumEncoderBlocks)
	assert.Equal(t, segformer.DefaultActivation, cfg.HiddenAct)
}

func TestParseConfigNumLabelsFallback(t *testing.T) {
	data := segformertest.TinyConfigWith(map[string]any{"id2label": nil, "label2id": nil})
	cfg, err := segformer.ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, segformer.DefaultNumLabels, cfg.NumLabels)
	assert.Equal(t, []string{"0", "1"}, cfg.Labels())

	data = segformertest.TinyConfigWith(map[string]any{"num_labels": 6})
	cfg, err = segformer.ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.NumLabels)
	assert.Equal(t, []string{"background", "wall", "floor", "ceiling", "4", "5"}, cfg.Labels())
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"wrong model type", map[string]any{"model_type": "vit"}},
		{"missing depths", map[string]any{"depths": nil}},
		{"list length mismatch", map[string]any{"strides": []int{4}}},
		{"heads do not divide hidden", map[string]any{"num_attention_heads": []int{3, 2}}},
		{"unsupported activation", map[string]any{"hidden_act": "relu"}},
		{"dropout out of range", map[string]any{"hidden_dropout_prob": 1.5}},
		{"non numeric label key", map[string]any{"id2label": map[string]string{"wall": "0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := segformer.ParseConfig(segformertest.TinyConfigWith(tt.overrides))
			assert.ErrorIs(t, err, segformer.ErrInvalidConfig)
		})
	}

	_, err := segformer.ParseConfig([]byte("{"))
	assert.ErrorIs(t, err, segformer.ErrInvalidConfig)
}

func TestOutputSize(t *testing.T) {
	cfg := segformertest.TinyConfig()
	tests := []struct{ h, w, oh, ow int }{
		{512, 512, 128, 128},
		{256, 320, 64, 80},
		{30, 30, 8, 8},
	}
	for _, tt := range tests {
		oh, ow := cfg.OutputSize(tt.h, tt.w)
		assert.Equal(t, tt.oh, oh)
		assert.Equal(t, tt.ow, ow)
	}
}
