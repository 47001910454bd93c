package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/born-ml/segport/internal/parallel"
	"github.com/born-ml/segport/internal/tensor"
)

// Conventional checkpoint file names on the Hugging Face Hub.
const (
	SingleFileName = "model.safetensors"
	IndexFileName  = "model.safetensors.index.json"
)

// ShardIndex is the content of model.safetensors.index.json.
type ShardIndex struct {
	Metadata  map[string]any    `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

// ParseShardIndex decodes a sharded checkpoint index.
func ParseShardIndex(data []byte) (*ShardIndex, error) {
	var idx ShardIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse shard index: %w", err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("shard index has an empty weight_map")
	}
	for name, file := range idx.WeightMap {
		if file == "" || filepath.Base(file) != file {
			return nil, fmt.Errorf("shard index maps %s to invalid file %q", name, file)
		}
	}
	return &idx, nil
}

// Shards returns the sorted, de-duplicated shard file names.
func (idx *ShardIndex) Shards() []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range idx.WeightMap {
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files
}

// LoadSharded reads the tensors listed in the index at indexPath from shard
// files in the same directory. Every tensor the index names must be present
// in the shard it points to.
func LoadSharded(indexPath string) (map[string]*tensor.RawTensor, error) {
	//nolint:gosec // G304: path points into the local model cache.
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard index: %w", err)
	}
	idx, err := ParseShardIndex(data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(indexPath)
	shards := idx.Shards()
	parts := make([]map[string]*tensor.RawTensor, len(shards))
	err = parallel.ForEach(len(shards), func(i int) error {
		part, err := LoadSafeTensors(filepath.Join(dir, shards[i]))
		if err != nil {
			return err
		}
		parts[i] = part
		return nil
	}, parallel.DefaultConfig())
	if err != nil {
		return nil, err
	}

	weights := make(map[string]*tensor.RawTensor, len(idx.WeightMap))
	for i, shard := range shards {
		for name, t := range parts[i] {
			if idx.WeightMap[name] == shard {
				weights[name] = t
			}
		}
	}

	for name, shard := range idx.WeightMap {
		if _, ok := weights[name]; !ok {
			return nil, fmt.Errorf("tensor %s missing from shard %s", name, shard)
		}
	}
	return weights, nil
}
