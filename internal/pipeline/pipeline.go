// Package pipeline runs a conversion end to end: fetch the model, export it
// and verify the artifact. Failures are classified into Kinds that map to
// process exit codes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/born-ml/segport/internal/export"
	"github.com/born-ml/segport/internal/fetch"
	"github.com/born-ml/segport/internal/logger"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/verify"
)

// Fetcher resolves a model identifier to a model in eval mode.
type Fetcher interface {
	Fetch(ctx context.Context, modelID string) (*segformer.Model, *preprocess.Config, error)
}

// Exporter writes the artifact for a model.
type Exporter interface {
	Export(ctx context.Context, m export.Model, pre *preprocess.Config) (*export.Result, error)
}

// Observer is told about progress. It must not affect control flow.
type Observer interface {
	Fetching(modelID string)
	Fetched(m *segformer.Model, pre *preprocess.Config)
	Exporting(g export.Geometry)
	Exported(res *export.Result)
	Failed(err error)
}

// Options configures a Pipeline.
type Options struct {
	ModelID    string
	OutputPath string
	Fetcher    Fetcher
	Exporter   Exporter
	// Verify inspects the artifact; verify.Verify when nil.
	Verify   func(path string) (verify.Report, error)
	Observer Observer
}

// Pipeline converts one model.
type Pipeline struct {
	modelID  string
	output   string
	fetcher  Fetcher
	exporter Exporter
	verify   func(string) (verify.Report, error)
	obs      Observer
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		modelID:  opts.ModelID,
		output:   opts.OutputPath,
		fetcher:  opts.Fetcher,
		exporter: opts.Exporter,
		verify:   opts.Verify,
		obs:      opts.Observer,
	}
	if p.verify == nil {
		p.verify = verify.Verify
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	return p
}

// Run executes fetch, export and verify in order. The returned error, if any,
// is a *Error. Progress is logged to the logger carried by ctx.
func (p *Pipeline) Run(ctx context.Context) (*export.Result, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	res, err := p.run(ctx)
	if err != nil {
		log.Error("Conversion failed", "model", p.modelID, "kind", KindOf(err), "error", err)
		p.obs.Failed(err)
		return nil, err
	}
	log.Info("Conversion finished", "model", p.modelID, "path", res.Path, "elapsed", time.Since(start).Round(time.Millisecond))
	p.obs.Exported(res)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*export.Result, error) {
	p.obs.Fetching(p.modelID)
	model, pre, err := p.fetcher.Fetch(ctx, p.modelID)
	if err != nil {
		return nil, &Error{Kind: classify(err), Op: "fetch", Err: err}
	}
	p.obs.Fetched(model, pre)

	geom, err := export.ResolveGeometry(pre)
	if err != nil {
		return nil, &Error{Kind: InvalidInputGeometry, Op: "export", Err: err}
	}
	p.obs.Exporting(geom)

	res, err := p.exporter.Export(ctx, model, pre)
	if err != nil {
		return nil, &Error{Kind: classify(err), Op: "export", Err: err}
	}

	report, err := p.verify(p.output)
	if err != nil {
		return nil, &Error{Kind: VerificationFailed, Op: "verify", Err: err}
	}
	if !report.OK() {
		return nil, &Error{
			Kind: VerificationFailed,
			Op:   "verify",
			Err:  fmt.Errorf("%s: exists=%t size=%d", p.output, report.Exists, report.Size),
		}
	}
	if res.Path == p.output && res.Checksum != ([32]byte{}) {
		if err := verify.Checksum(p.output, res.Checksum); err != nil {
			return nil, &Error{Kind: VerificationFailed, Op: "verify", Err: err}
		}
	}
	return res, nil
}

// classify maps the stage sentinel in err's chain to a Kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, fetch.ErrResourceUnavailable):
		return ResourceUnavailable
	case errors.Is(err, export.ErrInvalidInputGeometry):
		return InvalidInputGeometry
	case errors.Is(err, export.ErrExportFailed):
		return ExportFailed
	default:
		return KindUnknown
	}
}

type nopObserver struct{}

func (nopObserver) Fetching(string) {}

func (nopObserver) Fetched(*segformer.Model, *preprocess.Config) {}

func (nopObserver) Exporting(export.Geometry) {}

func (nopObserver) Exported(*export.Result) {}

func (nopObserver) Failed(error) {}
