package loader

import (
	"fmt"
	"strings"

	"github.com/born-ml/segport/internal/tensor"
)

// ArchitectureSegFormer is the model_type of SegFormer checkpoints.
const ArchitectureSegFormer = "segformer"

// WeightMapper maps checkpoint weight names to the names the graph uses.
type WeightMapper interface {
	// MapName converts a checkpoint weight name. ok is false for weights the
	// exported graph does not use.
	MapName(name string) (mapped string, ok bool)

	// Architecture returns the architecture name.
	Architecture() string
}

// SegFormerMapper normalizes SegformerForSemanticSegmentation checkpoints:
//   - module.segformer.encoder.* -> segformer.encoder.* (DataParallel wrapper)
//   - encoder.* -> segformer.encoder.* (bare encoder)
//   - *.num_batches_tracked is dropped (training-only counter)
type SegFormerMapper struct{}

// NewSegFormerMapper creates a SegFormer weight mapper.
func NewSegFormerMapper() *SegFormerMapper {
	return &SegFormerMapper{}
}

// MapName converts a SegFormer checkpoint name.
func (m *SegFormerMapper) MapName(name string) (string, bool) {
	name = strings.TrimPrefix(name, "module.")
	if strings.HasSuffix(name, ".num_batches_tracked") {
		return "", false
	}
	if strings.HasPrefix(name, "encoder.") {
		return "segformer." + name, true
	}
	return name, true
}

// Architecture returns "segformer".
func (m *SegFormerMapper) Architecture() string {
	return ArchitectureSegFormer
}

// MapWeights renames every weight with m. Two source names mapping to the same
// target is an error.
func MapWeights(m WeightMapper, weights map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor, len(weights))
	from := make(map[string]string, len(weights))
	for name, t := range weights {
		mapped, ok := m.MapName(name)
		if !ok {
			continue
		}
		if prev, dup := from[mapped]; dup {
			return nil, fmt.Errorf("%s: weights %s and %s both map to %s", m.Architecture(), prev, name, mapped)
		}
		from[mapped] = name
		out[mapped] = t
	}
	return out, nil
}
