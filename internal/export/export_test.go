package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/segport/internal/onnx"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/segformer/segformertest"
	"github.com/born-ml/segport/internal/serialization"
	"github.com/born-ml/segport/internal/trace"
)

func squarePre(size int) *preprocess.Config {
	return &preprocess.Config{Height: intPtr(size), Width: intPtr(size)}
}

func newExporter(t *testing.T) (*Exporter, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "segformer-b4-wall.onnx")
	return New(Options{OutputPath: out, ModelID: "org/tiny", Seed: 7, RunID: "run-1"}), out
}

func dims(t *testing.T, vi onnx.ValueInfoProto) []onnx.DimensionProto {
	t.Helper()
	require.NotNil(t, vi.Type)
	require.NotNil(t, vi.Type.TensorType)
	require.NotNil(t, vi.Type.TensorType.Shape)
	return vi.Type.TensorType.Shape.Dims
}

func TestExport(t *testing.T) {
	e, out := newExporter(t)

	res, err := e.Export(context.Background(), segformertest.TinyModel(), squarePre(512))
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.Positive(t, res.Size)
	assert.Equal(t, Geometry{512, 512}, res.Geometry)
	assert.Equal(t, []any{"batch_size", 3, 512, 512}, res.Input.Shape)
	assert.Equal(t, []any{"batch_size", 4, 128, 128}, res.Output.Shape)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, res.Size, info.Size())

	model, err := onnx.ParseFile(out)
	require.NoError(t, err)
	assert.Equal(t, int64(trace.IRVersion), model.IRVersion)
	require.Len(t, model.OpsetImport, 1)
	assert.Equal(t, int64(13), model.OpsetImport[0].Version)

	require.Len(t, model.Graph.Inputs, 1)
	require.Len(t, model.Graph.Outputs, 1)
	assert.Equal(t, InputName, model.Graph.Inputs[0].Name)
	assert.Equal(t, OutputName, model.Graph.Outputs[0].Name)

	wantIn := []onnx.DimensionProto{{DimParam: "batch_size"}, {DimValue: 3}, {DimValue: 512}, {DimValue: 512}}
	if diff := cmp.Diff(wantIn, dims(t, model.Graph.Inputs[0])); diff != "" {
		t.Errorf("input dims mismatch (-want +got):\n%s", diff)
	}
	wantOut := []onnx.DimensionProto{{DimParam: "batch_size"}, {DimValue: 4}, {DimValue: 128}, {DimValue: 128}}
	if diff := cmp.Diff(wantOut, dims(t, model.Graph.Outputs[0])); diff != "" {
		t.Errorf("output dims mismatch (-want +got):\n%s", diff)
	}

	for i := range model.Graph.Nodes {
		op := model.Graph.Nodes[i].OpType
		assert.NotEqual(t, "Dropout", op)
		assert.NotEqual(t, "BatchNormalization", op, "batch norm is fused into the preceding conv")
	}
	assert.Equal(t, 1, res.Stats.Fused)
	assert.Positive(t, res.Stats.Folded, "weight transposes are folded")

	meta := map[string]string{}
	for _, p := range model.MetadataProps {
		meta[p.Key] = p.Value
	}
	assert.Equal(t, "org/tiny", meta["model_id"])
	assert.Equal(t, "4", meta["num_labels"])
	assert.Equal(t, "128", meta["output_height"])
	assert.Equal(t, `{"0":"background","1":"wall","2":"floor","3":"ceiling"}`, meta["id2label"])
}

func TestExportDeterministicInterfaces(t *testing.T) {
	m := segformertest.TinyModel()
	var got [][]onnx.ValueInfoProto
	for i := 0; i < 2; i++ {
		e, out := newExporter(t)
		_, err := e.Export(context.Background(), m, squarePre(256))
		require.NoError(t, err)
		model, err := onnx.ParseFile(out)
		require.NoError(t, err)
		got = append(got, append(model.Graph.Inputs, model.Graph.Outputs...))
	}
	if diff := cmp.Diff(got[0], got[1]); diff != "" {
		t.Errorf("declared interfaces differ between exports (-first +second):\n%s", diff)
	}
}

func TestExportEmptyPreprocessing(t *testing.T) {
	e, _ := newExporter(t)
	res, err := e.Export(context.Background(), segformertest.TinyModel(), &preprocess.Config{})
	require.NoError(t, err)
	assert.Equal(t, []any{"batch_size", 3, 512, 512}, res.Input.Shape)
}

func TestExportSidecar(t *testing.T) {
	e, out := newExporter(t)
	pre, err := preprocess.Parse([]byte(segformertest.TinyPreprocessorJSON))
	require.NoError(t, err)

	res, err := e.Export(context.Background(), segformertest.TinyModel(), pre)
	require.NoError(t, err)
	assert.Equal(t, out+SidecarSuffix, res.SidecarPath)

	s, err := ReadSidecar(res.SidecarPath)
	require.NoError(t, err)
	assert.Equal(t, "org/tiny", s.Model)
	assert.Equal(t, res.Size, s.SizeBytes)
	assert.Equal(t, int64(13), s.Opset)
	assert.Equal(t, 4, s.NumLabels)
	assert.Equal(t, "wall", s.ID2Label[1])
	assert.Equal(t, []float64{0.485, 0.456, 0.406}, s.Normalization.ImageMean)
	assert.True(t, s.Normalization.DoNormalize)
	require.Len(t, s.Outputs, 1)
	assert.Equal(t, []any{"batch_size", 4, 128, 128}, s.Outputs[0].Shape)
	assert.Equal(t, "run-1", s.RunID)

	sum, err := serialization.ComputeChecksumFile(out)
	require.NoError(t, err)
	assert.Equal(t, serialization.FormatChecksum(sum), s.SHA256)
}

func TestExportSidecarFailureIsNotFatal(t *testing.T) {
	e, out := newExporter(t)
	// A directory at the sidecar path makes the rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(out+SidecarSuffix, "blocker"), 0o755))

	res, err := e.Export(context.Background(), segformertest.TinyModel(), squarePre(64))
	require.NoError(t, err)
	assert.Empty(t, res.SidecarPath)
	_, err = os.Stat(out)
	assert.NoError(t, err)
}

type failingModel struct {
	training bool
}

func (f failingModel) Forward(*trace.Tracer, trace.Value) (trace.Value, error) {
	return trace.Value{}, errors.New("unsupported layer")
}

func (failingModel) Labels() []string { return []string{"a"} }

func (f failingModel) Training() bool { return f.training }

func (failingModel) OutputSize(h, w int) (int, int) { return h, w }

// wrongSizeModel traces correctly but expects a different logits resolution.
type wrongSizeModel struct {
	*segformer.Model
}

func (wrongSizeModel) OutputSize(h, w int) (int, int) { return h, w }

func TestExportFailures(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	training := segformertest.TinyModel()
	training.Train()

	tests := []struct {
		name string
		ctx  context.Context
		m    Model
		out  func(dir string) string
	}{
		{"trace error", context.Background(), failingModel{}, nil},
		{"training mode", context.Background(), training, nil},
		{"unexpected output size", context.Background(), wrongSizeModel{segformertest.TinyModel()}, nil},
		{"canceled", canceled, segformertest.TinyModel(), nil},
		{"missing directory", context.Background(), segformertest.TinyModel(), func(dir string) string {
			return filepath.Join(dir, "missing", "model.onnx")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "model.onnx")
			if tt.out != nil {
				out = tt.out(dir)
			}
			e := New(Options{OutputPath: out})

			_, err := e.Export(tt.ctx, tt.m, squarePre(64))
			require.ErrorIs(t, err, ErrExportFailed)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			for _, entry := range entries {
				assert.True(t, entry.IsDir(), "unexpected file %s", entry.Name())
			}
		})
	}
}

func TestExportInvalidGeometry(t *testing.T) {
	e, out := newExporter(t)
	_, err := e.Export(context.Background(), segformertest.TinyModel(), &preprocess.Config{Height: intPtr(0)})
	require.ErrorIs(t, err, ErrInvalidInputGeometry)
	assert.NotErrorIs(t, err, ErrExportFailed)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

// TestExportGraphBatchIndependent checks the structure that lets the graph run
// with any batch size: nodes are topologically ordered, Reshape targets copy
// the batch axis with 0 and Resize sizes are computed from the runtime shape.
func TestExportGraphBatchIndependent(t *testing.T) {
	e, out := newExporter(t)
	_, err := e.Export(context.Background(), segformertest.TinyModel(), squarePre(64))
	require.NoError(t, err)

	model, err := onnx.ParseFile(out)
	require.NoError(t, err)
	g := model.Graph

	initializers := make(map[string]*onnx.TensorProto, len(g.Initializers))
	for i := range g.Initializers {
		initializers[g.Initializers[i].Name] = &g.Initializers[i]
	}
	defined := make(map[string]bool)
	for _, in := range g.Inputs {
		defined[in.Name] = true
	}
	for name := range initializers {
		defined[name] = true
	}

	reshapes, resizes := 0, 0
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for _, in := range n.Inputs {
			if in != "" {
				assert.True(t, defined[in], "node %s (%s) reads %s before it is produced", n.Name, n.OpType, in)
			}
		}
		for _, o := range n.Outputs {
			assert.False(t, defined[o], "value %s produced twice", o)
			defined[o] = true
		}

		switch n.OpType {
		case "Reshape":
			reshapes++
			require.Len(t, n.Inputs, 2)
			target, ok := initializers[n.Inputs[1]]
			require.True(t, ok, "reshape %s target is not constant", n.Name)
			raw, err := target.ToRawTensor()
			require.NoError(t, err)
			shape := raw.AsInt64()
			require.NotEmpty(t, shape)
			assert.Equal(t, int64(0), shape[0], "reshape %s target %v fixes the batch axis", n.Name, shape)
		case "Resize":
			resizes++
			require.Len(t, n.Inputs, 4)
			_, constant := initializers[n.Inputs[3]]
			assert.False(t, constant, "resize %s has constant sizes", n.Name)
		}
	}
	assert.Positive(t, reshapes)
	assert.Positive(t, resizes)
	for _, o := range g.Outputs {
		assert.True(t, defined[o.Name], "graph output %s is never produced", o.Name)
	}
}
