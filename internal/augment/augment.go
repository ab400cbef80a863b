// Package augment multiplies a tile dataset by writing rotated and mirrored
// copies of every tile.
package augment

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nao1215/wsitile/internal/imageio"
)

// DefaultSize is the edge length a tile must have to be augmented.
const DefaultSize = 1024

// Variant is one transformed copy of an image.
type Variant struct {
	// Suffix is appended to the file stem: "90" or "flip_90".
	Suffix string

	// Degrees is the clockwise rotation.
	Degrees int

	// Flipped reports whether the image was mirrored left to right first.
	Flipped bool

	Image image.Image
}

// ShapeMismatchError is returned for images whose size differs from the
// expected square. The image is skipped.
type ShapeMismatchError struct {
	Path string
	Got  image.Point
	Want image.Point
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("skipping %s: size %dx%d, want %dx%d", e.Path, e.Got.X, e.Got.Y, e.Want.X, e.Want.Y)
}

// Rotations returns img rotated clockwise by 0, 90, 180 and 270 degrees.
func Rotations(img image.Image) [4]image.Image {
	return [4]image.Image{
		img,
		imaging.Rotate270(img), // imaging rotates counter-clockwise
		imaging.Rotate180(img),
		imaging.Rotate90(img),
	}
}

// Variants returns the four clockwise rotations of img followed, when flip
// is set, by the four rotations of its left-right mirror image.
func Variants(img image.Image, flip bool) []Variant {
	out := make([]Variant, 0, 8)
	for i, r := range Rotations(img) {
		out = append(out, Variant{Suffix: fmt.Sprint(90 * i), Degrees: 90 * i, Image: r})
	}
	if !flip {
		return out
	}
	for i, r := range Rotations(imaging.FlipH(img)) {
		out = append(out, Variant{Suffix: fmt.Sprintf("flip_%d", 90*i), Degrees: 90 * i, Flipped: true, Image: r})
	}
	return out
}

// Augmenter writes the variants of square tiles of one size.
type Augmenter struct {
	outDir string
	size   int
	flip   bool
}

// New returns an Augmenter writing into outDir. Only images of size x size
// pixels are augmented.
func New(outDir string, size int, flip bool) (*Augmenter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid augmentation size %d: must be positive", size)
	}
	return &Augmenter{outDir: outDir, size: size, flip: flip}, nil
}

// Augment loads the image at path and writes its variants as
// <stem>_<suffix>.<ext>. It returns the written paths.
func (a *Augmenter) Augment(path string) ([]string, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return nil, err
	}
	got := img.Bounds().Size()
	if want := image.Pt(a.size, a.size); got != want {
		return nil, &ShapeMismatchError{Path: path, Got: got, Want: want}
	}

	format, err := imageio.ParseFormat(filepath.Ext(path))
	if err != nil {
		format = imageio.PNG
	}
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	variants := Variants(img, a.flip)
	written := make([]string, 0, len(variants))
	for _, v := range variants {
		out := filepath.Join(a.outDir, fmt.Sprintf("%s_%s.%s", stem, v.Suffix, format.Ext()))
		if err := imageio.Save(out, v.Image, format); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", out, err)
		}
		written = append(written, out)
	}
	return written, nil
}
