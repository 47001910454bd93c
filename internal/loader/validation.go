package loader

import (
	"fmt"
	"sort"
	"strings"
)

// Header limits.
const (
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// ValidationError describes a malformed SafeTensors header.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds"
	Tensor  string // Primary tensor name involved
	Tensor2 string // Secondary tensor name (for overlap errors)
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// dtypeSize returns the element size in bytes of a SafeTensors dtype.
func dtypeSize(dtype SafeTensorsDType) (int64, bool) {
	switch dtype {
	case SafeTensorsF16, SafeTensorsBF16:
		return 2, true
	case SafeTensorsF32, SafeTensorsI32:
		return 4, true
	case SafeTensorsF64, SafeTensorsI64:
		return 8, true
	case SafeTensorsU8, SafeTensorsBool:
		return 1, true
	default:
		return 0, false
	}
}

// validateHeader checks tensor names, sizes and offsets against the data
// section so a malformed file is rejected before any tensor is read.
func validateHeader(h *SafeTensorsHeader, dataSize int64) error {
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	type span struct {
		name       string
		begin, end int64
	}
	spans := make([]span, 0, len(h.Tensors))
	for name, info := range h.Tensors {
		if len(name) > MaxTensorNameLen || strings.Contains(name, "\x00") {
			return &ValidationError{Type: "invalid_name", Tensor: name, Details: "name too long or contains a null byte"}
		}

		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  name,
				Details: fmt.Sprintf("offsets [%d, %d]", begin, end),
			}
		}
		if end > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  name,
				Details: fmt.Sprintf("end %d > data_size %d", end, dataSize),
			}
		}

		if size, ok := dtypeSize(info.DType); ok {
			want := size
			for _, d := range info.Shape {
				want *= int64(d)
			}
			if want != end-begin {
				return &ValidationError{
					Type:    "size_mismatch",
					Tensor:  name,
					Details: fmt.Sprintf("%s %v needs %d bytes, offsets span %d", info.DType, info.Shape, want, end-begin),
				}
			}
		}
		spans = append(spans, span{name: name, begin: begin, end: end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].begin < spans[j].begin })
	for i := 0; i+1 < len(spans); i++ {
		if spans[i].end > spans[i+1].begin {
			return &ValidationError{
				Type:    "offset_overlap",
				Tensor:  spans[i].name,
				Tensor2: spans[i+1].name,
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
					spans[i].begin, spans[i].end, spans[i+1].begin, spans[i+1].end),
			}
		}
	}
	return nil
}
