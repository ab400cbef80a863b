package model

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// DefaultTileSize is the edge length of the square tiles produced by a run.
const DefaultTileSize = 1024

// TileSpec is the fixed tile size applied uniformly across all slides in a run.
type TileSpec struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultTileSpec returns the 1024x1024 tile size.
func DefaultTileSpec() TileSpec {
	return TileSpec{Width: DefaultTileSize, Height: DefaultTileSize}
}

// Validate reports whether both dimensions are positive.
func (s TileSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid tile size %dx%d: both dimensions must be positive", s.Width, s.Height)
	}
	return nil
}

// Origin is the top-left corner of a tile in the scaled slide's coordinate space.
type Origin struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect returns the rectangle covered by a tile of the given size at this origin.
func (o Origin) Rect(spec TileSpec) image.Rectangle {
	return image.Rect(o.X, o.Y, o.X+spec.Width, o.Y+spec.Height)
}

// String returns "(x,y)".
func (o Origin) String() string {
	return "(" + strconv.Itoa(o.X) + "," + strconv.Itoa(o.Y) + ")"
}

// Tile is a decoded pixel block cut from a slide.
// A Tile is never modified after extraction; writers and classifiers only read it.
type Tile struct {
	// Slide is the slide identifier (file name without extension).
	Slide string `json:"slide"`

	// Scale is the factor the slide was resized by before extraction.
	Scale float64 `json:"scale"`

	// Origin is the tile position in the scaled slide.
	Origin Origin `json:"origin"`

	// Image holds exactly TileSpec pixels with bounds starting at (0,0).
	Image *image.RGBA `json:"-"`
}

// BaseName returns "<slide>_x<scale>_<x>_<y>", the file name of the tile without extension.
func (t *Tile) BaseName() string {
	return fmt.Sprintf("%s_x%s_%d_%d", t.Slide, FormatScale(t.Scale), t.Origin.X, t.Origin.Y)
}

// Size returns the pixel dimensions of the tile image.
func (t *Tile) Size() (int, int) {
	if t.Image == nil {
		return 0, 0
	}
	b := t.Image.Bounds()
	return b.Dx(), b.Dy()
}

// FormatScale renders a scale factor the way tile names have always carried it:
// the shortest decimal form, with integral values keeping a trailing ".0".
func FormatScale(scale float64) string {
	s := strconv.FormatFloat(scale, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// ValidScale reports whether scale is a usable resize factor.
func ValidScale(scale float64) bool {
	return scale > 0 && !math.IsInf(scale, 0) && !math.IsNaN(scale)
}
