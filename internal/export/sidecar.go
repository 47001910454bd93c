package export

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/born-ml/segport/internal/onnx"
)

// SidecarSuffix is appended to the artifact path to name its description.
const SidecarSuffix = ".yaml"

// TensorSpec describes a graph input or output. Shape entries are integers
// for fixed dimensions and strings for symbolic ones.
type TensorSpec struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	Shape []any  `yaml:"shape"`
}

// Normalization records how images must be prepared before inference.
type Normalization struct {
	ImageMean     []float64 `yaml:"image_mean,omitempty"`
	ImageStd      []float64 `yaml:"image_std,omitempty"`
	RescaleFactor float64   `yaml:"rescale_factor,omitempty"`
	DoRescale     bool      `yaml:"do_rescale"`
	DoNormalize   bool      `yaml:"do_normalize"`
}

// GraphSummary counts what ended up in the exported graph.
type GraphSummary struct {
	Nodes        int            `yaml:"nodes"`
	Initializers int            `yaml:"initializers"`
	Folded       int            `yaml:"folded"`
	Fused        int            `yaml:"fused"`
	Pruned       int            `yaml:"pruned"`
	Ops          map[string]int `yaml:"ops"`
}

// Sidecar is the YAML description written next to the artifact.
type Sidecar struct {
	Model         string         `yaml:"model"`
	Artifact      string         `yaml:"artifact"`
	SizeBytes     int64          `yaml:"size_bytes"`
	SHA256        string         `yaml:"sha256"`
	Opset         int64          `yaml:"opset"`
	IRVersion     int64          `yaml:"ir_version"`
	Inputs        []TensorSpec   `yaml:"inputs"`
	Outputs       []TensorSpec   `yaml:"outputs"`
	NumLabels     int            `yaml:"num_labels"`
	ID2Label      map[int]string `yaml:"id2label"`
	Normalization Normalization  `yaml:"normalization"`
	Graph         GraphSummary   `yaml:"graph"`
	RunID         string         `yaml:"run_id,omitempty"`
	CreatedAt     time.Time      `yaml:"created_at"`
}

// Encode writes s as YAML.
func (s *Sidecar) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return enc.Close()
}

// ReadSidecar loads the description written for an artifact.
func ReadSidecar(path string) (*Sidecar, error) {
	//nolint:gosec // G304: path is the sidecar of an artifact this tool wrote.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Sidecar
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", path, err)
	}
	return &s, nil
}

// specsOf converts graph interfaces to TensorSpecs.
func specsOf(infos []onnx.ValueInfoProto) []TensorSpec {
	specs := make([]TensorSpec, 0, len(infos))
	for _, vi := range infos {
		spec := TensorSpec{Name: vi.Name}
		if vi.Type != nil && vi.Type.TensorType != nil {
			tt := vi.Type.TensorType
			if dt, err := onnx.TensorDataType(tt.ElemType); err == nil {
				spec.DType = dt.String()
			} else {
				spec.DType = strconv.Itoa(int(tt.ElemType))
			}
			if tt.Shape != nil {
				for _, d := range tt.Shape.Dims {
					if d.IsDynamic() {
						spec.Shape = append(spec.Shape, d.DimParam)
					} else {
						spec.Shape = append(spec.Shape, int(d.DimValue))
					}
				}
			}
		}
		specs = append(specs, spec)
	}
	return specs
}
