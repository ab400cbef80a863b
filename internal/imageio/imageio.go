// Package imageio reads and writes the tile image files produced and consumed
// by wsitile.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // classify accepts JPEG tiles
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp" // classify accepts BMP tiles
	"golang.org/x/image/tiff"

	"github.com/nao1215/wsitile/internal/locator"
)

// Format is an output image format.
type Format string

const (
	// PNG is lossless and the default tile format.
	PNG Format = "png"
	// TIFF is written with Deflate compression and a horizontal predictor.
	TIFF Format = "tiff"
)

// ErrUnsupportedFormat is returned for output formats other than png and tiff.
var ErrUnsupportedFormat = errors.New("unsupported image format: must be png or tiff")

// inputExts lists the file extensions Decode understands.
var inputExts = []string{".png", ".tif", ".tiff", ".jpg", ".jpeg", ".bmp"}

// ParseFormat parses a format name. "tif" is accepted as an alias of "tiff".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return PNG, nil
	case "tif", "tiff":
		return TIFF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Ext returns the file extension for the format, without a leading dot.
func (f Format) Ext() string {
	if f == TIFF {
		return "tif"
	}
	return "png"
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case PNG:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		return enc.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
}

// Save writes img to path in format f. A partially written file is removed.
func Save(path string, img image.Image, f Format) (err error) {
	file, err := os.Create(path) //nolint:gosec // output path is built from the configured output directory
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return Encode(file, img, f)
}

// Load decodes the image file at path.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // input path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// IsImage reports whether name has an extension Load can decode.
func IsImage(name string) bool {
	return slices.Contains(inputExts, strings.ToLower(filepath.Ext(name)))
}

// ListImages returns the image files directly inside dir, sorted by name.
// Subdirectories and hidden "._" files are ignored.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), locator.HiddenPrefix) || !IsImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// ToRGBA returns img as an *image.RGBA with bounds starting at (0,0),
// converting (and copying) only when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}
