//go:build gocv

package nucleus

import (
	"context"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// DoGCounter counts nuclei as difference-of-Gaussians blobs with OpenCV.
// It reports itself as not safe for concurrent use, so Guard serializes it.
type DoGCounter struct {
	params Params
	deconv *Deconvolver
}

// NewDoGCounter validates p and returns an OpenCV-backed counter.
func NewDoGCounter(p Params) (*DoGCounter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d, err := NewDeconvolver(p.Stains)
	if err != nil {
		return nil, err
	}
	return &DoGCounter{params: p, deconv: d}, nil
}

// ConcurrentSafe reports false.
func (c *DoGCounter) ConcurrentSafe() bool {
	return false
}

// Count returns the number of nuclei in img.
func (c *DoGCounter) Count(ctx context.Context, img image.Image) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	hema := c.deconv.Channel(img, 0)
	src, err := gocv.ImageGrayToMatGray(hema)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	// Foreground: nuclear stain darker than the threshold, holes filled,
	// objects smaller than MinArea dropped.
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(src, &mask, float32(math.Ceil(c.params.ForegroundThreshold)-1), 255, gocv.ThresholdBinaryInv)

	objects := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer objects.Close()

	filled := gocv.NewMatWithSize(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	defer filled.Close()
	var kept []int
	for i := 0; i < objects.Size(); i++ {
		if gocv.ContourArea(objects.At(i)) >= float64(c.params.MinArea) {
			gocv.DrawContours(&filled, objects, i, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Blob response: stain strength filtered at the two radius scales.
	strength := gocv.NewMat()
	defer strength.Close()
	gocv.BitwiseNot(src, &strength)
	strengthF := gocv.NewMat()
	defer strengthF.Close()
	strength.ConvertTo(&strengthF, gocv.MatTypeCV32F)

	fine := gocv.NewMat()
	defer fine.Close()
	coarse := gocv.NewMat()
	defer coarse.Close()
	sMin := float64(c.params.MinRadius) * math.Sqrt2
	sMax := float64(c.params.MaxRadius) * math.Sqrt2
	gocv.GaussianBlur(strengthF, &fine, image.Point{}, sMin, sMin, gocv.BorderDefault)
	gocv.GaussianBlur(strengthF, &coarse, image.Point{}, sMax, sMax, gocv.BorderDefault)

	dog := gocv.NewMat()
	defer dog.Close()
	gocv.Subtract(fine, coarse, &dog)

	// Seeds: positive local maxima inside kept objects.
	r := c.params.LocalMaxRadius
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{2*r + 1, 2*r + 1})
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(dog, &dilated, kernel)

	peaks := gocv.NewMat()
	defer peaks.Close()
	gocv.Compare(dog, dilated, &peaks, gocv.CompareEQ)

	positive := gocv.NewMat()
	defer positive.Close()
	gocv.Threshold(dog, &positive, 0, 255, gocv.ThresholdBinary)
	positive8 := gocv.NewMat()
	defer positive8.Close()
	positive.ConvertTo(&positive8, gocv.MatTypeCV8U)

	gocv.BitwiseAnd(peaks, positive8, &peaks)
	gocv.BitwiseAnd(peaks, filled, &peaks)

	seeds := gocv.FindContours(peaks, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer seeds.Close()

	count := 0
	for _, i := range kept {
		object := objects.At(i)
		n := 0
		for j := 0; j < seeds.Size(); j++ {
			seed := seeds.At(j)
			if seed.Size() == 0 {
				continue
			}
			if gocv.PointPolygonTest(object, seed.At(0), false) >= 0 {
				n++
			}
		}
		count += max(1, n)
	}
	return count, nil
}
