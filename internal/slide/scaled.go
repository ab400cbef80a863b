package slide

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Scaled is a lazy, uniformly scaled view of a Slide. Nothing is resampled
// until Region is called, and then only the requested area.
type Scaled struct {
	slide  *Slide
	scale  float64
	width  int
	height int

	// level is the pyramid level regions are resampled from.
	level int

	// sx and sy map level coordinates to scaled coordinates.
	sx, sy float64
}

func newScaled(s *Slide, scale float64) *Scaled {
	w0, h0 := s.Dimensions()
	v := &Scaled{
		slide:  s,
		scale:  scale,
		width:  int(math.Round(float64(w0) * scale)),
		height: int(math.Round(float64(h0) * scale)),
	}

	// Resample from the smallest level that still has at least the target
	// resolution.
	for i, l := range s.levels {
		if float64(l.width) >= float64(w0)*scale && float64(l.height) >= float64(h0)*scale {
			v.level = i
		}
	}
	l := s.levels[v.level]
	v.sx = scale * float64(w0) / float64(l.width)
	v.sy = scale * float64(h0) / float64(l.height)
	return v
}

// Dimensions returns the scaled size: the native size times the scale,
// rounded to the nearest pixel.
func (v *Scaled) Dimensions() (width, height int) {
	return v.width, v.height
}

// Scale returns the factor this view was created with.
func (v *Scaled) Scale() float64 {
	return v.scale
}

// SourceLevel returns the index of the pyramid level regions are read from.
func (v *Scaled) SourceLevel() int {
	return v.level
}

// Region returns a fresh copy of the scaled pixels in r, with bounds
// (0,0)-(r.Dx(),r.Dy()). r must lie within the scaled dimensions.
func (v *Scaled) Region(r image.Rectangle) (*image.RGBA, error) {
	if err := checkRegion(r, v.width, v.height); err != nil {
		return nil, err
	}
	if v.level == 0 && v.sx == 1 && v.sy == 1 {
		return v.slide.Region(r)
	}

	l := v.slide.levels[v.level]
	mx := int(math.Ceil(2*math.Max(1, 1/v.sx))) + 1
	my := int(math.Ceil(2*math.Max(1, 1/v.sy))) + 1
	need := image.Rect(
		int(math.Floor(float64(r.Min.X)/v.sx))-mx,
		int(math.Floor(float64(r.Min.Y)/v.sy))-my,
		int(math.Ceil(float64(r.Max.X)/v.sx))+mx,
		int(math.Ceil(float64(r.Max.Y)/v.sy))+my,
	)
	clamped := need.Intersect(image.Rect(0, 0, l.width, l.height))
	src, err := v.slide.readLevel(v.level, clamped)
	if err != nil {
		return nil, err
	}
	if clamped != need {
		src = extendEdges(src, need)
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	s2d := f64.Aff3{
		v.sx, 0, -float64(r.Min.X),
		0, v.sy, -float64(r.Min.Y),
	}
	draw.CatmullRom.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// extendEdges returns a copy of src grown to bounds, filling the new area by
// repeating the nearest edge pixel. Sample points that round to the slide
// border then still find source pixels.
func extendEdges(src *image.RGBA, bounds image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(bounds)
	sb := src.Rect
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		sy := min(max(y, sb.Min.Y), sb.Max.Y-1)
		srow := src.Pix[src.PixOffset(sb.Min.X, sy) : src.PixOffset(sb.Min.X, sy)+4*sb.Dx()]
		drow := dst.Pix[dst.PixOffset(bounds.Min.X, y) : dst.PixOffset(bounds.Min.X, y)+4*bounds.Dx()]

		left := sb.Min.X - bounds.Min.X
		copy(drow[4*left:], srow)
		for x := 0; x < left; x++ {
			copy(drow[4*x:4*x+4], srow[:4])
		}
		last := srow[len(srow)-4:]
		for x := left + sb.Dx(); x < bounds.Dx(); x++ {
			copy(drow[4*x:4*x+4], last)
		}
	}
	return dst
}
