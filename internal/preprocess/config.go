// Package preprocess reads a model's image preprocessing configuration
// (preprocessor_config.json on the Hugging Face Hub).
//
// Only the input geometry influences the export. The normalization constants
// are carried along so they can be documented next to the artifact.
package preprocess

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FileName is the name of the configuration file in a model repository.
const FileName = "preprocessor_config.json"

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("preprocessor_config.json", schemaJSON)

// ErrInvalidConfig is returned for documents that do not match the schema.
var ErrInvalidConfig = errors.New("invalid preprocessor configuration")

// Config is the subset of an image processor configuration the exporter uses.
// Height and Width are nil when the document does not specify them.
// InvalidSize holds the offending size value when it is not an integer
// (for example 512.5 or "512"); callers reject such geometry.
type Config struct {
	Height      *int
	Width       *int
	InvalidSize string

	ImageMean     []float64
	ImageStd      []float64
	RescaleFactor float64
	DoResize      bool
	DoRescale     bool
	DoNormalize   bool
	ProcessorType string
}

type rawConfig struct {
	Size          json.RawMessage `json:"size"`
	ImageMean     []float64       `json:"image_mean"`
	ImageStd      []float64       `json:"image_std"`
	RescaleFactor float64         `json:"rescale_factor"`
	DoResize      bool            `json:"do_resize"`
	DoRescale     bool            `json:"do_rescale"`
	DoNormalize   bool            `json:"do_normalize"`
	ProcessorType string          `json:"image_processor_type"`
	Extractor     string          `json:"feature_extractor_type"`
}

type sizeObject struct {
	Height json.RawMessage `json:"height"`
	Width  json.RawMessage `json:"width"`
}

// Parse validates data against the preprocessor schema and decodes it.
// A bare integer size means a square input. Size values are decoded
// leniently: a value that is not an integer is reported through
// Config.InvalidSize instead of an error.
func Parse(data []byte) (*Config, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := &Config{
		ImageMean:     raw.ImageMean,
		ImageStd:      raw.ImageStd,
		RescaleFactor: raw.RescaleFactor,
		DoResize:      raw.DoResize,
		DoRescale:     raw.DoRescale,
		DoNormalize:   raw.DoNormalize,
		ProcessorType: raw.ProcessorType,
	}
	if cfg.ProcessorType == "" {
		cfg.ProcessorType = raw.Extractor
	}

	if isNull(raw.Size) {
		return cfg, nil
	}
	var obj sizeObject
	if raw.Size[0] != '{' || json.Unmarshal(raw.Size, &obj) != nil {
		square, ok := dimension(raw.Size)
		if !ok {
			cfg.InvalidSize = "size=" + string(raw.Size)
			return cfg, nil
		}
		cfg.Height, cfg.Width = square, square
		return cfg, nil
	}
	var ok bool
	if cfg.Height, ok = dimension(obj.Height); !ok {
		cfg.InvalidSize = "height=" + string(obj.Height)
		cfg.Height = nil
	}
	if cfg.Width, ok = dimension(obj.Width); !ok {
		if cfg.InvalidSize == "" {
			cfg.InvalidSize = "width=" + string(obj.Width)
		}
		cfg.Width = nil
	}
	return cfg, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// dimension decodes an integral JSON number. Absent and null values yield
// (nil, true).
func dimension(raw json.RawMessage) (*int, bool) {
	if isNull(raw) {
		return nil, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil, false
	}
	n := int(f)
	return &n, true
}
