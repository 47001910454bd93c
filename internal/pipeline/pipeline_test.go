package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/segport/internal/export"
	"github.com/born-ml/segport/internal/fetch"
	"github.com/born-ml/segport/internal/hub"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/segformer/segformertest"
	"github.com/born-ml/segport/internal/verify"
)

type fakeFetcher struct {
	pre *preprocess.Config
	err error
}

func (f fakeFetcher) Fetch(context.Context, string) (*segformer.Model, *preprocess.Config, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	pre := f.pre
	if pre == nil {
		pre = &preprocess.Config{}
	}
	return segformertest.TinyModel(), pre, nil
}

type fakeExporter struct {
	res *export.Result
	err error
}

func (f fakeExporter) Export(context.Context, export.Model, *preprocess.Config) (*export.Result, error) {
	return f.res, f.err
}

type recorder struct {
	events []string
	failed error
}

func (r *recorder) Fetching(id string) { r.events = append(r.events, "fetching "+id) }

func (r *recorder) Fetched(m *segformer.Model, _ *preprocess.Config) {
	r.events = append(r.events, fmt.Sprintf("fetched %d", m.NumLabels()))
}

func (r *recorder) Exporting(g export.Geometry) {
	r.events = append(r.events, fmt.Sprintf("exporting %dx%d", g.Height, g.Width))
}

func (r *recorder) Exported(*export.Result) { r.events = append(r.events, "exported") }

func (r *recorder) Failed(err error) {
	r.events = append(r.events, "failed")
	r.failed = err
}

func intPtr(v int) *int { return &v }

func TestRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "segformer-b4-wall.onnx")
	rec := &recorder{}
	p := New(Options{
		ModelID:    "org/tiny",
		OutputPath: out,
		Fetcher:    fakeFetcher{pre: &preprocess.Config{Height: intPtr(128), Width: intPtr(128)}},
		Exporter:   export.New(export.Options{OutputPath: out, ModelID: "org/tiny"}),
		Observer:   rec,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ExitCode(err))
	assert.Equal(t, out, res.Path)
	assert.Equal(t, []any{"batch_size", 4, 32, 32}, res.Output.Shape)
	assert.Equal(t, []string{"fetching org/tiny", "fetched 4", "exporting 128x128", "exported"}, rec.events)

	r, err := verify.Verify(out)
	require.NoError(t, err)
	assert.True(t, r.OK())
}

func TestRunFailures(t *testing.T) {
	missing := &export.Result{Path: "nowhere.onnx"}

	tests := []struct {
		name     string
		fetcher  fakeFetcher
		exporter Exporter
		verifyFn func(string) (verify.Report, error)
		kind     Kind
		sentinel error
		code     int
	}{
		{
			name:     "fetch",
			fetcher:  fakeFetcher{err: fmt.Errorf("%w: org/tiny: connection refused", fetch.ErrResourceUnavailable)},
			kind:     ResourceUnavailable,
			sentinel: ErrResourceUnavailable,
			code:     2,
		},
		{
			name:     "geometry",
			fetcher:  fakeFetcher{pre: &preprocess.Config{Height: intPtr(-1)}},
			kind:     InvalidInputGeometry,
			sentinel: ErrInvalidInputGeometry,
			code:     3,
		},
		{
			name:     "export",
			exporter: fakeExporter{err: fmt.Errorf("%w: tracing: boom", export.ErrExportFailed)},
			kind:     ExportFailed,
			sentinel: ErrExportFailed,
			code:     4,
		},
		{
			name:     "artifact missing",
			exporter: fakeExporter{res: missing},
			kind:     VerificationFailed,
			sentinel: ErrVerificationFailed,
			code:     5,
		},
		{
			name:     "verify error",
			exporter: fakeExporter{res: missing},
			verifyFn: func(string) (verify.Report, error) { return verify.Report{}, errors.New("permission denied") },
			kind:     VerificationFailed,
			sentinel: ErrVerificationFailed,
			code:     5,
		},
		{
			name:     "unclassified",
			exporter: fakeExporter{err: errors.New("surprise")},
			kind:     KindUnknown,
			code:     1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "model.onnx")
			exporter := tt.exporter
			if exporter == nil {
				exporter = export.New(export.Options{OutputPath: out})
			}
			rec := &recorder{}
			p := New(Options{
				ModelID:    "org/tiny",
				OutputPath: out,
				Fetcher:    tt.fetcher,
				Exporter:   exporter,
				Verify:     tt.verifyFn,
				Observer:   rec,
			})

			res, err := p.Run(context.Background())
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.code, ExitCode(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, err, rec.failed)
			assert.Equal(t, "failed", rec.events[len(rec.events)-1])

			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no artifact on failure")
		})
	}
}

func TestRunNonIntegerInputSize(t *testing.T) {
	const model = "org/tiny-segformer"
	for _, size := range []string{
		`{"height": 512.5, "width": 512}`,
		`{"height": "512", "width": 512}`,
	} {
		t.Run(size, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, segformertest.WriteRepo(dir))
			require.NoError(t, os.WriteFile(filepath.Join(dir, preprocess.FileName), []byte(`{"size": `+size+`}`), 0o600))

			prefix := "/" + model + "/resolve/main/"
			mux := http.NewServeMux()
			mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
			srv := httptest.NewServer(mux)
			defer srv.Close()

			out := filepath.Join(t.TempDir(), "model.onnx")
			p := New(Options{
				ModelID:    model,
				OutputPath: out,
				Fetcher:    fetch.New(hub.NewClient(hub.Options{Endpoint: srv.URL, CacheDir: t.TempDir()}), fetch.Options{}),
				Exporter:   export.New(export.Options{OutputPath: out, ModelID: model}),
			})

			_, err := p.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, InvalidInputGeometry, KindOf(err))
			assert.Equal(t, 3, ExitCode(err))
			assert.ErrorIs(t, err, ErrInvalidInputGeometry)
			assert.NotErrorIs(t, err, ErrResourceUnavailable)
		})
	}
}

func TestRunChecksumMismatch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(out, []byte("onnx"), 0o600))

	p := New(Options{
		OutputPath: out,
		Fetcher:    fakeFetcher{},
		Exporter:   fakeExporter{res: &export.Result{Path: out, Checksum: [32]byte{1}}},
	})
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("%w: boom", export.ErrExportFailed)
	err := error(&Error{Kind: ExportFailed, Op: "export", Err: cause})

	assert.ErrorIs(t, err, ErrExportFailed)
	assert.ErrorIs(t, err, export.ErrExportFailed)
	assert.NotErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, "export: ExportFailed: export failed: boom", err.Error())
	assert.Equal(t, "VerificationFailed", ErrVerificationFailed.Error())

	wrapped := fmt.Errorf("run: %w", err)
	assert.Equal(t, ExportFailed, KindOf(wrapped))
	assert.Equal(t, 4, ExitCode(wrapped))
	assert.Equal(t, 1, ExitCode(errors.New("config")))
}
