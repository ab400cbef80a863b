package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate and File.Validate.
//
// Each message names the flag to fix. Match with errors.Is.
var (
	// ErrNoInput is returned when neither --input nor a positional argument
	// names a slide, tile or directory.
	ErrNoInput = errors.New("no input specified: use --input")

	// ErrNoOutput is returned when no output directory is given.
	ErrNoOutput = errors.New("no output directory specified: use --output")

	// ErrInvalidScale is returned when the scale is zero, negative or not finite.
	ErrInvalidScale = errors.New("invalid scale: must be a positive number")

	// ErrInvalidLimit is returned when the per-slide tile limit is negative.
	// Use 0 for no limit.
	ErrInvalidLimit = errors.New("invalid tile count: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrUnsupportedFormat is returned when the tile format is neither png nor tiff.
	ErrUnsupportedFormat = errors.New("unsupported tile format: must be png or tiff")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
