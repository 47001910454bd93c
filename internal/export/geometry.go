package export

import (
	"fmt"

	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/tensor"
)

// Input geometry used when the preprocessing configuration leaves a
// dimension out.
const (
	DefaultHeight   = 512
	DefaultWidth    = 512
	DefaultChannels = 3
)

// Geometry is the spatial size of the traced input.
type Geometry struct {
	Height int
	Width  int
}

// Shape returns the dummy input shape [1, 3, Height, Width].
func (g Geometry) Shape() tensor.Shape {
	return tensor.Shape{1, DefaultChannels, g.Height, g.Width}
}

// ResolveGeometry reads height and width from pre, substituting the defaults
// for absent values. A nil pre is treated as an empty configuration.
// Non-integer and non-positive values fail with ErrInvalidInputGeometry.
func ResolveGeometry(pre *preprocess.Config) (Geometry, error) {
	g := Geometry{Height: DefaultHeight, Width: DefaultWidth}
	if pre != nil {
		if pre.InvalidSize != "" {
			return Geometry{}, fmt.Errorf("%w: %s is not an integer", ErrInvalidInputGeometry, pre.InvalidSize)
		}
		if pre.Height != nil {
			g.Height = *pre.Height
		}
		if pre.Width != nil {
			g.Width = *pre.Width
		}
	}
	if g.Height <= 0 || g.Width <= 0 {
		return Geometry{}, fmt.Errorf("%w: height=%d width=%d", ErrInvalidInputGeometry, g.Height, g.Width)
	}
	return g, nil
}

// DummyInput synthesizes a [1, 3, h, w] float32 tensor of standard normal
// values. Its content only drives tracing.
func DummyInput(g Geometry, seed uint64) (*tensor.RawTensor, error) {
	return tensor.RandN(g.Shape(), seed)
}
