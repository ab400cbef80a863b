package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/wsitile/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with nothing to list are shown.
	showEmpty bool

	// verbose lists every unit instead of only the skipped and failed ones.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables a line for every unit.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.BatchReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	w.writeBuckets(&sb, report)
	w.writeUnits(&sb, report)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeHeader writes the run information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.BatchReport) {
	title := "WSITILE " + strings.ToUpper(string(report.Kind)) + " REPORT"
	pad := max(0, (70-len(title))/2)

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat(" ", pad) + title + "\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Input:    %s\n", report.Input)
	fmt.Fprintf(sb, "Output:   %s\n", report.Output)
	if report.Kind == model.RunTile && report.Scale > 0 {
		fmt.Fprintf(sb, "Scale:    %s\n", model.FormatScale(report.Scale))
	}
	fmt.Fprintf(sb, "Started:  %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Elapsed:  %s\n", FormatDuration(report.Elapsed()))
	fmt.Fprintf(sb, "Status:   %s\n", statusText(report))
	sb.WriteString("\n")
}

// writeSummary writes the outcome counts.
func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.BatchReport) {
	section(sb, "SUMMARY")

	fmt.Fprintf(sb, "  UNITS:    %s\n", w.number(report.Total()))
	fmt.Fprintf(sb, "  SUCCESS:  %s\n", w.number(report.Count(model.OutcomeSuccess)))
	fmt.Fprintf(sb, "  SKIPPED:  %s\n", w.number(report.Count(model.OutcomeSkipped)))
	fmt.Fprintf(sb, "  FAILED:   %s\n", w.number(report.Count(model.OutcomeFailed)))
	if report.Kind == model.RunTile {
		fmt.Fprintf(sb, "  TILES:    %s\n", w.number(report.TilesWritten()))
	}
	sb.WriteString("\n")
}

// writeBuckets writes the per-bucket histogram.
func (w *SimpleWriter) writeBuckets(sb *strings.Builder, report *model.BatchReport) {
	total := bucketTotal(report)
	if total == 0 && !w.showEmpty {
		return
	}

	section(sb, "BUCKETS")

	if total == 0 {
		sb.WriteString("  No tiles classified\n\n")
		return
	}

	for _, name := range report.BucketNames() {
		n := report.Buckets[name]
		fmt.Fprintf(sb, "  %-8s %10s  (%s)\n", name, w.number(n), w.percent(n, total))
	}
	fmt.Fprintf(sb, "  %-8s %10s\n", "TOTAL", w.number(total))
	sb.WriteString("\n")
}

// writeUnits lists skipped and failed units, or every unit when verbose.
func (w *SimpleWriter) writeUnits(sb *strings.Builder, report *model.BatchReport) {
	var units []model.Outcome
	for _, o := range report.Outcomes {
		if w.verbose || o.Status != model.OutcomeSuccess {
			units = append(units, o)
		}
	}
	if len(units) == 0 && !w.showEmpty {
		return
	}

	if w.verbose {
		section(sb, "UNITS")
	} else {
		section(sb, "SKIPPED AND FAILED")
	}

	if len(units) == 0 {
		sb.WriteString("  None\n\n")
		return
	}

	for _, o := range units {
		sb.WriteString(FormatOutcome(o))
		sb.WriteString("\n")
		if o.Reason != "" {
			fmt.Fprintf(sb, "      %s\n", oneLine(o.Reason))
		}
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

// FormatOutcome renders the progress line of one unit:
// "[index] unit | status | elapsed", with the tile count or bucket appended
// when known.
func FormatOutcome(o model.Outcome) string {
	line := fmt.Sprintf("  [%d] %s | %s | %s", o.Index, o.Unit, o.Status, FormatDuration(o.Elapsed))
	switch {
	case o.Tiles > 0:
		line += fmt.Sprintf(" | %d tiles", o.Tiles)
	case o.Bucket != "":
		line += fmt.Sprintf(" | %d nuclei -> %s", o.Count, o.Bucket)
	}
	return line
}
