package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HF_ENDPOINT", "")

	cfg, err := Load()
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want, cfg)
	assert.Equal(t, "leftattention/segformer-b4-wall", cfg.ModelID)
	assert.Equal(t, "segformer-b4-wall.onnx", cfg.OutputPath)
	assert.Equal(t, 10*time.Minute, cfg.FetchTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SEGPORT_MODEL_ID", "org/other")
	t.Setenv("SEGPORT_OUTPUT_PATH", "/tmp/out.onnx")
	t.Setenv("SEGPORT_FETCH_TIMEOUT", "90s")
	t.Setenv("SEGPORT_SEED", "42")
	t.Setenv("SEGPORT_LANGUAGE", "ru")
	t.Setenv("SEGPORT_LOG_LEVEL", "debug")
	t.Setenv("SEGPORT_LOG_FILE", "/tmp/segport.log")
	t.Setenv("SEGPORT_CACHE_DIR", "/tmp/cache")
	t.Setenv("HF_TOKEN", "hf_secret")
	t.Setenv("HF_ENDPOINT", "https://mirror.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "org/other", cfg.ModelID)
	assert.Equal(t, "/tmp/out.onnx", cfg.OutputPath)
	assert.Equal(t, 90*time.Second, cfg.FetchTimeout)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, "ru", cfg.Language)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/segport.log", cfg.Log.File)
	assert.Equal(t, "/tmp/cache", cfg.Hub.CacheDir)
	assert.Equal(t, "hf_secret", cfg.Hub.Token)
	assert.Equal(t, "https://mirror.example", cfg.Hub.Endpoint)
}

func TestPrefixedTokenWins(t *testing.T) {
	t.Setenv("SEGPORT_HUB_TOKEN", "mine")
	t.Setenv("HF_TOKEN", "global")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mine", cfg.Hub.Token)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"SEGPORT_FETCH_TIMEOUT": "soon",
		"SEGPORT_MODEL_ID":      "../escape",
		"SEGPORT_LANGUAGE":      "de",
		"SEGPORT_LOG_LEVEL":     "chatty",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(c *Config){
		"empty output":     func(c *Config) { c.OutputPath = "" },
		"zero timeout":     func(c *Config) { c.FetchTimeout = 0 },
		"empty revision":   func(c *Config) { c.Revision = "" },
		"empty cache":      func(c *Config) { c.Hub.CacheDir = "" },
		"empty model":      func(c *Config) { c.ModelID = "" },
		"missing endpoint": func(c *Config) { c.Hub.Endpoint = "" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, Default().Validate())
}
