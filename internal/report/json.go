package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/wsitile/internal/model"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// This is a convenience wrapper for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in JSON format.
func (w *JSONWriter) Write(report *model.BatchReport) (int, error) {
	return w.writeJSON(report)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Trailing newline for terminal output.
	data = append(data, '\n')

	return w.output.Write(data)
}

// JSONReport wraps a batch report with tool metadata.
type JSONReport struct {
	// Version is the wsitile version that generated this report.
	Version string `json:"version"`

	// Report is the batch report.
	Report *model.BatchReport `json:"report"`

	// Summary holds the outcome counts for quick access.
	Summary Summary `json:"summary"`
}

// Summary is the outcome tally of a batch report.
type Summary struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	TilesWritten int `json:"tiles_written"`
	Classified   int `json:"classified"`
}

// NewSummary tallies report.
func NewSummary(report *model.BatchReport) Summary {
	return Summary{
		Total:        report.Total(),
		Succeeded:    report.Count(model.OutcomeSuccess),
		Skipped:      report.Count(model.OutcomeSkipped),
		Failed:       report.Count(model.OutcomeFailed),
		TilesWritten: report.TilesWritten(),
		Classified:   bucketTotal(report),
	}
}

// NewJSONReport creates a JSONReport wrapper with version information.
func NewJSONReport(report *model.BatchReport, version string) *JSONReport {
	return &JSONReport{
		Version: version,
		Report:  report,
		Summary: NewSummary(report),
	}
}

// FullJSONWriter outputs reports with the metadata wrapper.
type FullJSONWriter struct {
	*JSONWriter

	// version is the wsitile version string.
	version string
}

// NewFullJSONWriter creates a writer for reports with metadata.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the report wrapped with metadata.
func (w *FullJSONWriter) Write(report *model.BatchReport) (int, error) {
	return w.writeJSON(NewJSONReport(report, w.version))
}
