package nucleus

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Deconvolver separates an RGB image into per-stain intensity channels.
type Deconvolver struct {
	// q is the inverse of the normalized stain matrix.
	q *mat.Dense
}

// sdaLUT maps an 8-bit intensity to its optical density on a 0-255 scale.
var sdaLUT = func() [256]float64 {
	var lut [256]float64
	for i := range lut {
		lut[i] = -math.Log(math.Max(float64(i), 1)/255) * 255 / math.Log(255)
	}
	return lut
}()

// NewDeconvolver builds a Deconvolver for the given stain columns.
func NewDeconvolver(stains [3]Stain) (*Deconvolver, error) {
	w := StainMatrix(stains)
	var q mat.Dense
	if err := q.Inverse(w); err != nil {
		return nil, fmt.Errorf("%w: stain matrix is singular: %v", ErrInvalidParams, err)
	}
	return &Deconvolver{q: &q}, nil
}

// StainMatrix returns the 3x3 matrix whose columns are the unit-length stain
// vectors. A Null third stain is replaced by the unit cross product of the
// first two.
func StainMatrix(stains [3]Stain) *mat.Dense {
	cols := [3]*mat.VecDense{}
	for i := 0; i < 2; i++ {
		cols[i] = unit(mat.NewVecDense(3, stains[i][:]))
	}
	if stains[2] == Null {
		a, b := cols[0], cols[1]
		cols[2] = unit(mat.NewVecDense(3, []float64{
			a.AtVec(1)*b.AtVec(2) - a.AtVec(2)*b.AtVec(1),
			a.AtVec(2)*b.AtVec(0) - a.AtVec(0)*b.AtVec(2),
			a.AtVec(0)*b.AtVec(1) - a.AtVec(1)*b.AtVec(0),
		}))
	} else {
		cols[2] = unit(mat.NewVecDense(3, stains[2][:]))
	}

	w := mat.NewDense(3, 3, nil)
	for j, c := range cols {
		w.SetCol(j, c.RawVector().Data)
	}
	return w
}

func unit(v *mat.VecDense) *mat.VecDense {
	n := mat.Norm(v, 2)
	if n == 0 {
		return v
	}
	var u mat.VecDense
	u.ScaleVec(1/n, v)
	return &u
}

// Channel returns the intensity image of stain k (0, 1 or 2): 255 where the
// stain is absent, darker where it is dense.
func (d *Deconvolver) Channel(img image.Image, k int) *image.Gray {
	src := toRGBA(img)
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	q0, q1, q2 := d.q.At(k, 0), d.q.At(k, 1), d.q.At(k, 2)

	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[4*x : 4*x+3]
			s := q0*sdaLUT[p[0]] + q1*sdaLUT[p[1]] + q2*sdaLUT[p[2]]
			v := math.Pow(255, 1-s/255)
			dst[x] = uint8(math.Min(255, math.Max(0, v)))
		}
	}
	return out
}

// toRGBA returns img as an *image.RGBA anchored at (0,0).
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}
