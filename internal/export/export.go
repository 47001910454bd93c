// Package export turns a loaded SegFormer model into an ONNX artifact.
//
// Export resolves the input geometry, synthesizes a dummy input, traces the
// model's forward pass, folds constant sub-graphs and atomically publishes the
// encoded model. The graph has one input, pixel_values [batch_size,3,H,W],
// and one output, logits [batch_size,num_labels,H_out,W_out]. A YAML sidecar
// describing the artifact is written next to it.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/born-ml/segport/internal/onnx"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/serialization"
	"github.com/born-ml/segport/internal/tensor"
	"github.com/born-ml/segport/internal/trace"
)

// Interface names of the exported graph.
const (
	InputName    = "pixel_values"
	OutputName   = "logits"
	ProducerName = "segport"
	GraphName    = "segformer"
)

var (
	// ErrInvalidInputGeometry is returned when the preprocessing configuration
	// yields a non-positive input size.
	ErrInvalidInputGeometry = errors.New("invalid input geometry")

	// ErrExportFailed wraps every failure to trace, encode or write the graph.
	ErrExportFailed = errors.New("export failed")
)

// Model is a network that can be traced.
type Model interface {
	Forward(tr *trace.Tracer, x trace.Value) (trace.Value, error)
	Labels() []string
	Training() bool
	// OutputSize is the expected logits resolution for an h x w input.
	OutputSize(h, w int) (int, int)
}

// Options configures an Exporter.
type Options struct {
	OutputPath      string
	ModelID         string
	Seed            uint64
	ProducerVersion string
	RunID           string
	// SkipSidecar disables the YAML description.
	SkipSidecar bool
	Logger      *slog.Logger
}

// Result describes a published artifact.
type Result struct {
	Path        string
	SidecarPath string
	Size        int64
	Checksum    [32]byte
	Geometry    Geometry
	Input       TensorSpec
	Output      TensorSpec
	Stats       onnx.FoldStats
	Nodes       int
}

// Exporter writes ONNX artifacts.
type Exporter struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// New creates an Exporter.
func New(opts Options) *Exporter {
	e := &Exporter{opts: opts, log: opts.Logger, now: time.Now}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.opts.ProducerVersion == "" {
		e.opts.ProducerVersion = "dev"
	}
	return e
}

// Export traces m for the geometry described by pre and publishes the graph
// at the configured output path. Geometry problems return
// ErrInvalidInputGeometry; every other failure wraps ErrExportFailed and
// leaves no partial file behind.
func (e *Exporter) Export(ctx context.Context, m Model, pre *preprocess.Config) (*Result, error) {
	geom, err := ResolveGeometry(pre)
	if err != nil {
		return nil, err
	}
	res, err := e.export(ctx, m, pre, geom)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return res, nil
}

func (e *Exporter) export(ctx context.Context, m Model, pre *preprocess.Config, geom Geometry) (*Result, error) {
	if e.opts.OutputPath == "" {
		return nil, serialization.ErrEmptyPath
	}
	if m.Training() {
		return nil, errors.New("model is in training mode")
	}

	dummy, err := DummyInput(geom, e.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create dummy input: %w", err)
	}
	e.log.Info("Tracing model", "input", InputName, "shape", dummy.Shape())

	model, err := e.trace(m, dummy, geom, pre)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := onnx.FoldConstants(model.Graph)
	if err != nil {
		return nil, fmt.Errorf("constant folding: %w", err)
	}
	e.log.Info("Graph optimized",
		"nodes", len(model.Graph.Nodes),
		"folded", stats.Folded,
		"fused", stats.Fused,
		"pruned", stats.Pruned)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pub, err := serialization.Publish(e.opts.OutputPath, func(w io.Writer) error {
		_, err := onnx.Encode(w, model)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Path:     pub.Path,
		Size:     pub.Size,
		Checksum: pub.Checksum,
		Geometry: geom,
		Input:    specsOf(model.Graph.Inputs)[0],
		Output:   specsOf(model.Graph.Outputs)[0],
		Stats:    stats,
		Nodes:    len(model.Graph.Nodes),
	}
	e.log.Info("Model exported",
		"path", res.Path,
		"bytes", res.Size,
		"sha256", serialization.FormatChecksum(res.Checksum),
		"input", res.Input.Shape,
		"output", res.Output.Shape)

	if !e.opts.SkipSidecar {
		e.writeSidecar(res, model, m, pre, stats)
	}
	return res, nil
}

// trace records m's forward pass for a batch of one dummy image.
func (e *Exporter) trace(m Model, dummy *tensor.RawTensor, geom Geometry, pre *preprocess.Config) (*onnx.ModelProto, error) {
	tr := trace.New(GraphName)
	x := tr.Input(InputName, dummy.Shape())
	logits, err := m.Forward(tr, x)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	if len(logits.Shape) != 4 {
		return nil, fmt.Errorf("tracing: logits shape %v, want rank 4", logits.Shape)
	}
	if oh, ow := m.OutputSize(geom.Height, geom.Width); logits.Shape[2] != oh || logits.Shape[3] != ow {
		return nil, fmt.Errorf("tracing: logits are %dx%d, want %dx%d", logits.Shape[2], logits.Shape[3], oh, ow)
	}
	tr.Output(logits, OutputName)
	e.log.Debug("Forward pass traced", "nodes", tr.NumNodes(), "ops", tr.OpCounts())

	model, err := tr.Model(trace.ModelOptions{
		ProducerName:    ProducerName,
		ProducerVersion: e.opts.ProducerVersion,
		DocString:       fmt.Sprintf("%s exported for semantic segmentation", e.opts.ModelID),
		Metadata:        e.metadata(m, geom, logits.Shape, pre),
	})
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}
	return model, nil
}

func (e *Exporter) metadata(m Model, geom Geometry, out tensor.Shape, pre *preprocess.Config) map[string]string {
	labels := m.Labels()
	meta := map[string]string{
		"model_id":      e.opts.ModelID,
		"num_labels":    strconv.Itoa(len(labels)),
		"input_height":  strconv.Itoa(geom.Height),
		"input_width":   strconv.Itoa(geom.Width),
		"output_height": strconv.Itoa(out[2]),
		"output_width":  strconv.Itoa(out[3]),
	}
	if b, err := json.Marshal(id2label(labels)); err == nil {
		meta["id2label"] = string(b)
	}
	if pre != nil {
		if b, err := json.Marshal(pre.ImageMean); err == nil && len(pre.ImageMean) > 0 {
			meta["image_mean"] = string(b)
		}
		if b, err := json.Marshal(pre.ImageStd); err == nil && len(pre.ImageStd) > 0 {
			meta["image_std"] = string(b)
		}
	}
	if e.opts.RunID != "" {
		meta["run_id"] = e.opts.RunID
	}
	return meta
}

// writeSidecar publishes the YAML description. Failures are logged only.
func (e *Exporter) writeSidecar(res *Result, model *onnx.ModelProto, m Model, pre *preprocess.Config, stats onnx.FoldStats) {
	ops := make(map[string]int)
	for i := range model.Graph.Nodes {
		ops[model.Graph.Nodes[i].OpType]++
	}
	labels := m.Labels()
	s := &Sidecar{
		Model:     e.opts.ModelID,
		Artifact:  res.Path,
		SizeBytes: res.Size,
		SHA256:    serialization.FormatChecksum(res.Checksum),
		Opset:     trace.OpsetVersion,
		IRVersion: trace.IRVersion,
		Inputs:    specsOf(model.Graph.Inputs),
		Outputs:   specsOf(model.Graph.Outputs),
		NumLabels: len(labels),
		ID2Label:  id2label(labels),
		Graph: GraphSummary{
			Nodes:        len(model.Graph.Nodes),
			Initializers: len(model.Graph.Initializers),
			Folded:       stats.Folded,
			Fused:        stats.Fused,
			Pruned:       stats.Pruned,
			Ops:          ops,
		},
		RunID:     e.opts.RunID,
		CreatedAt: e.now().UTC().Truncate(time.Second),
	}
	if pre != nil {
		s.Normalization = Normalization{
			ImageMean:     pre.ImageMean,
			ImageStd:      pre.ImageStd,
			RescaleFactor: pre.RescaleFactor,
			DoRescale:     pre.DoRescale,
			DoNormalize:   pre.DoNormalize,
		}
	}

	path := res.Path + SidecarSuffix
	if _, err := serialization.Publish(path, s.Encode); err != nil {
		e.log.Warn("Failed to write artifact description", "path", path, "error", err)
		return
	}
	res.SidecarPath = path
}

func id2label(labels []string) map[int]string {
	m := make(map[int]string, len(labels))
	for i, l := range labels {
		m[i] = l
	}
	return m
}
