package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/wsitile/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.BatchReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writeBuckets(md, report)
	w.writeUnits(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the run information table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.BatchReport) {
	md.H1("wsitile " + Title(string(report.Kind)) + " Report")
	md.PlainText("")

	rows := [][]string{
		{"Input", "`" + report.Input + "`"},
		{"Output", "`" + report.Output + "`"},
	}
	if report.Kind == model.RunTile && report.Scale > 0 {
		rows = append(rows, []string{"Scale", model.FormatScale(report.Scale)})
	}
	rows = append(rows,
		[]string{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		[]string{"Elapsed", FormatDuration(report.Elapsed())},
		[]string{"Status", w.getStatusText(report)},
	)

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// getStatusText returns the status text based on report state.
func (w *MarkdownWriter) getStatusText(report *model.BatchReport) string {
	switch {
	case report.Cancelled:
		return "⚠️ " + statusText(report)
	case report.Count(model.OutcomeFailed) > 0:
		return "❌ " + statusText(report)
	default:
		return "✅ " + statusText(report)
	}
}

// writeSummary writes the outcome table and an alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.BatchReport) {
	md.H2("Summary")
	md.PlainText("")

	rows := [][]string{
		{"✅ Success", w.number(report.Count(model.OutcomeSuccess))},
		{"⏭️ Skipped", w.number(report.Count(model.OutcomeSkipped))},
		{"❌ Failed", w.number(report.Count(model.OutcomeFailed))},
		{"**Total**", "**" + w.number(report.Total()) + "**"},
	}
	if report.Kind == model.RunTile {
		rows = append(rows, []string{"Tiles written", w.number(report.TilesWritten())})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	switch {
	case report.Cancelled:
		md.Warningf("The run was cancelled after %d unit(s). Files already written were kept.", report.Total())
	case report.Count(model.OutcomeFailed) > 0:
		md.Cautionf("%d unit(s) failed. See the table below for the reasons.", report.Count(model.OutcomeFailed))
	case report.Count(model.OutcomeSkipped) > 0:
		md.Notef("%d unit(s) were skipped.", report.Count(model.OutcomeSkipped))
	default:
		md.Tip("Every unit was processed.")
	}
	md.PlainText("")
}

// writeBuckets writes the bucket table and pie chart.
func (w *MarkdownWriter) writeBuckets(md *markdown.Markdown, report *model.BatchReport) {
	total := bucketTotal(report)
	if total == 0 {
		return
	}

	md.H2("Nucleus Count Buckets")
	md.PlainText("")

	rows := make([][]string, 0, len(report.Buckets))
	for _, name := range report.BucketNames() {
		n := report.Buckets[name]
		rows = append(rows, []string{"`" + name + "`", w.number(n), w.percent(n, total)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Bucket", "Tiles", "Share"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writePieChart(md, report)
}

// writePieChart writes a mermaid pie chart of the bucket distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.BatchReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Tiles per Bucket"),
		piechart.WithShowData(true),
	)

	for _, name := range report.BucketNames() {
		if n := report.Buckets[name]; n > 0 {
			chart.LabelAndIntValue(name, uint64(n))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeUnits writes one table row per unit.
func (w *MarkdownWriter) writeUnits(md *markdown.Markdown, report *model.BatchReport) {
	md.H2("Units")
	md.PlainText("")

	if len(report.Outcomes) == 0 {
		md.PlainText("No units were processed.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Outcomes))
	for i, o := range report.Outcomes {
		detail := "-"
		switch {
		case o.Tiles > 0:
			detail = w.number(o.Tiles) + " tiles"
		case o.Bucket != "":
			detail = strconv.Itoa(o.Count) + " → `" + o.Bucket + "`"
		}
		reason := "-"
		if o.Reason != "" {
			reason = truncateString(oneLine(o.Reason), 60)
		}
		rows[i] = []string{
			strconv.Itoa(o.Index),
			truncateString(o.Unit, 50),
			o.Status.String(),
			FormatDuration(o.Elapsed),
			detail,
			reason,
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"#", "Unit", "Status", "Elapsed", "Result", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by wsitile*")
}
