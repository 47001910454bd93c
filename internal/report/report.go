// Package report prints human readable progress of a conversion in English
// or Russian.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/born-ml/segport/internal/export"
	"github.com/born-ml/segport/internal/pipeline"
	"github.com/born-ml/segport/internal/preprocess"
	"github.com/born-ml/segport/internal/segformer"
	"github.com/born-ml/segport/internal/serialization"
)

// Language selects the message catalog.
type Language string

// Supported languages.
const (
	English Language = "en"
	Russian Language = "ru"
)

// ParseLanguage accepts "en" or "ru" in any case.
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalog[l]; !ok {
		return "", fmt.Errorf("unsupported language %q (want en or ru)", s)
	}
	return l, nil
}

// Reporter writes status text. It implements pipeline.Observer.
type Reporter struct {
	w   io.Writer
	msg messages
}

var _ pipeline.Observer = (*Reporter)(nil)

// New returns a Reporter writing to w. Unknown languages fall back to English.
func New(w io.Writer, lang Language) *Reporter {
	msg, ok := catalog[lang]
	if !ok {
		msg = catalog[English]
	}
	return &Reporter{w: w, msg: msg}
}

func (r *Reporter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *Reporter) line(s string) {
	_, _ = fmt.Fprintln(r.w, s)
}

// Fetching announces the download.
func (r *Reporter) Fetching(modelID string) {
	r.printf(r.msg.loading, modelID)
}

// Fetched prints model information.
func (r *Reporter) Fetched(m *segformer.Model, pre *preprocess.Config) {
	r.line(r.msg.loaded)
	r.line(r.msg.modelInfo)
	r.printf(r.msg.numClasses, m.NumLabels())
	r.printf(r.msg.inputSize, r.describeSize(pre))
}

// Exporting prints the dummy input shape.
func (r *Reporter) Exporting(g export.Geometry) {
	r.line(r.msg.exporting)
	r.printf(r.msg.inputTensor, formatDims(g.Shape()))
}

// Exported prints the result and the next steps.
func (r *Reporter) Exported(res *export.Result) {
	r.printf(r.msg.outputTensor, formatDims(res.Output.Shape))
	r.line(r.msg.success)
	r.printf(r.msg.file, res.Path)
	r.printf(r.msg.size, float64(res.Size)/(1024*1024), r.msg.unitMegabytes)
	r.printf(r.msg.checksum, serialization.FormatChecksum(res.Checksum))
	r.line("")
	r.line(r.msg.nextSteps)
	r.printf(r.msg.stepCopy, res.Path)
	r.line(r.msg.stepSelect)
	r.line(r.msg.stepRun)
}

// Failed prints the error and hints matching its kind.
func (r *Reporter) Failed(err error) {
	kind := pipeline.KindOf(err)
	if kind == pipeline.VerificationFailed {
		r.line(r.msg.notCreated)
	}
	r.printf(r.msg.failed, err)
	r.line(r.msg.tryHeader)
	for _, hint := range r.hints(kind) {
		r.line(hint)
	}
}

func (r *Reporter) hints(kind pipeline.Kind) []string {
	switch kind {
	case pipeline.ResourceUnavailable:
		return []string{r.msg.hintNetwork, r.msg.hintToken, r.msg.hintModelID}
	case pipeline.InvalidInputGeometry:
		return []string{r.msg.hintGeometry}
	case pipeline.ExportFailed, pipeline.VerificationFailed:
		return []string{r.msg.hintDisk, r.msg.hintRerun}
	default:
		return []string{r.msg.hintRerun}
	}
}

func (r *Reporter) describeSize(pre *preprocess.Config) string {
	if pre == nil || (pre.Height == nil && pre.Width == nil) {
		return r.msg.sizeUnset
	}
	var parts []string
	if pre.Height != nil {
		parts = append(parts, fmt.Sprintf("height=%d", *pre.Height))
	}
	if pre.Width != nil {
		parts = append(parts, fmt.Sprintf("width=%d", *pre.Width))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatDims[T any](dims []T) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
