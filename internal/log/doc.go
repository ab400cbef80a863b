// Package log builds the slog loggers used by wsitile.
//
// Slide files carry scanner metadata, and in some archives the image
// description or file name still holds patient identifiers. The
// RedactingHandler masks such values before they are written:
//   - attributes named like patient, mrn, dob or accession
//   - values that look like a social security number, a labelled medical
//     record number or a surgical pathology accession number
//
// Usage:
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	logger.Warn("skipping slide", "slide", path, "error", err)
//
// Verbose loggers write Debug and above; otherwise only warnings and errors.
package log
