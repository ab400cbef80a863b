package report

import (
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/wsitile/internal/model"
)

// Writer defines the interface for report output.
// Implementations write batch results in various formats.
//
// The same run can be written to stdout and to a report file in any format.
type Writer interface {
	// Write outputs the report to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.BatchReport) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *model.BatchReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output  io.Writer
	printer *message.Printer
}

// newBaseWriter creates a baseWriter with the given output destination.
// Numbers are grouped the English way (12,345).
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{
		output:  output,
		printer: message.NewPrinter(language.English),
	}
}

// number formats n with digit grouping.
func (b baseWriter) number(n int) string {
	return b.printer.Sprintf("%d", n)
}

// percent formats part/total as a percentage with one decimal.
func (b baseWriter) percent(part, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return b.printer.Sprintf("%.1f%%", float64(part)*100/float64(total))
}

var titleCaser = cases.Title(language.English)

// Title returns s with each word capitalized, e.g. "tile" -> "Tile".
func Title(s string) string {
	return titleCaser.String(s)
}

// bucketTotal returns the number of classified tiles in the report.
func bucketTotal(report *model.BatchReport) int {
	n := 0
	for _, c := range report.Buckets {
		n += c
	}
	return n
}

// statusText describes how the run ended.
func statusText(report *model.BatchReport) string {
	switch {
	case report.Cancelled:
		return "Cancelled (partial results)"
	case report.Count(model.OutcomeFailed) > 0:
		return "Completed with failures"
	default:
		return "Complete"
	}
}

// FormatDuration rounds d for display: milliseconds below one second,
// otherwise tenths of a second.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// oneLine collapses newlines so reasons fit in a table cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
