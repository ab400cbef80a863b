package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// phiKeys contains attribute keys that always carry patient-identifying data.
// Slide metadata from scanners and LIS exports uses these names.
var phiKeys = map[string]bool{
	"patient":      true,
	"patient_id":   true,
	"patientid":    true,
	"patient_name": true,
	"patientname":  true,
	"mrn":          true,
	"dob":          true,
	"birthdate":    true,
	"birth_date":   true,
	"accession":    true,
	"accession_id": true,
	"ssn":          true,
	"physician":    true,
}

// phiKeywords are matched as substrings of lower-cased keys.
// "dob" and "ssn" are left out because they occur inside ordinary words.
var phiKeywords = []string{
	"patient", "accession", "birth", "mrn",
}

// phiPatterns match values that identify a patient whatever the key.
var phiPatterns = []*regexp.Regexp{
	// US social security number
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),

	// Medical record number with its label
	regexp.MustCompile(`(?i)\bMRN\s*[:#=-]?\s*\d{5,}\b`),

	// Surgical pathology accession, e.g. S12-34567
	regexp.MustCompile(`\b[A-Z]{1,3}\d{2}-\d{3,7}\b`),

	// Labelled fields in scanner image descriptions
	regexp.MustCompile(`(?i)\b(patient|dob|date of birth)\s*[:=]`),
}

// MaskValue is the string used to replace redacted values.
const MaskValue = "***REDACTED***"

// RedactingHandler wraps an slog.Handler and masks patient-identifying
// attribute values before the record reaches the underlying handler.
//
// Packages log through a plain *slog.Logger; text and JSON output are
// redacted alike.
type RedactingHandler struct {
	handler slog.Handler
}

// NewRedactingHandler creates a new RedactingHandler wrapping the given handler.
// If handler is nil, slog.Default().Handler() is used.
func NewRedactingHandler(handler slog.Handler) *RedactingHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &RedactingHandler{handler: handler}
}

// Enabled reports whether the underlying handler handles records at level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle redacts the record's attributes and passes it on.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

// WithAttrs returns a new handler with the given attributes redacted and added.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(clean)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			clean[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}

	if isPHIKey(a.Key) {
		return slog.String(a.Key, MaskValue)
	}

	// Errors and Stringers are resolved so their text is checked too.
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		if IsPHIValue(v.String()) {
			return slog.String(a.Key, MaskValue)
		}
	case slog.KindAny:
		if err, ok := v.Any().(error); ok && IsPHIValue(err.Error()) {
			return slog.String(a.Key, MaskValue)
		}
	}
	return a
}

func isPHIKey(key string) bool {
	k := strings.ToLower(key)
	if phiKeys[k] {
		return true
	}
	for _, kw := range phiKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

// IsPHIValue reports whether value looks like it identifies a patient.
func IsPHIValue(value string) bool {
	for _, p := range phiPatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// Redact returns MaskValue when key or value identifies a patient and
// value otherwise. It applies the logger's rules to text printed outside
// of slog, such as slide properties shown by the inspect command.
func Redact(key, value string) string {
	if isPHIKey(key) || IsPHIValue(value) {
		return MaskValue
	}
	return value
}

func level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// NewLogger creates a text slog.Logger that redacts patient data.
// verbose selects slog.LevelDebug; otherwise only warnings and errors are written.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level(verbose)})
	return slog.New(NewRedactingHandler(h))
}

// NewJSONLogger is NewLogger with JSON output, for log aggregation.
func NewJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level(verbose)})
	return slog.New(NewRedactingHandler(h))
}
