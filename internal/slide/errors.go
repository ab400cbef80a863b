package slide

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrInvalidScale is returned when a resize factor is not a positive finite number.
	ErrInvalidScale = errors.New("invalid scale: must be a positive finite number")

	// ErrNotTIFF is returned when the file does not start with a TIFF or BigTIFF header.
	ErrNotTIFF = errors.New("not a TIFF file")

	// ErrUnsupported is returned for TIFF layouts this package cannot decode
	// (for example 16-bit samples or planar configuration 2).
	ErrUnsupported = errors.New("unsupported TIFF layout")

	// ErrCorrupt is returned when the TIFF structure is inconsistent.
	ErrCorrupt = errors.New("corrupt TIFF structure")

	// ErrClosed is returned when reading from a closed slide.
	ErrClosed = errors.New("slide is closed")
)

// UnreadableError is returned when a slide cannot be opened or a block of it
// cannot be decoded. The slide should be skipped.
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("unreadable slide %s: %v", e.Path, e.Err)
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// RegionOutOfBoundsError is returned when a requested region is empty or not
// fully inside the (scaled) slide.
type RegionOutOfBoundsError struct {
	Region image.Rectangle
	Bounds image.Rectangle
}

func (e *RegionOutOfBoundsError) Error() string {
	return fmt.Sprintf("region %v is outside slide bounds %v", e.Region, e.Bounds)
}

// checkRegion validates r against a w x h image.
func checkRegion(r image.Rectangle, w, h int) error {
	bounds := image.Rect(0, 0, w, h)
	if r.Empty() || !r.In(bounds) {
		return &RegionOutOfBoundsError{Region: r, Bounds: bounds}
	}
	return nil
}
