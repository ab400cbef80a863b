package nucleus

import (
	"context"
	"image"
)

// DeconvolutionCounter is the pure Go Counter. It is safe for concurrent use.
//
// Objects smaller than MinArea are dropped. MaxRadius bounds a single
// nucleus, the mean of MinRadius and MaxRadius splits larger clumps, and
// LocalMaxRadius caps the split count.
type DeconvolutionCounter struct {
	params Params
	deconv *Deconvolver
}

// NewDeconvolutionCounter validates p and returns a counter using it.
func NewDeconvolutionCounter(p Params) (*DeconvolutionCounter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d, err := NewDeconvolver(p.Stains)
	if err != nil {
		return nil, err
	}
	return &DeconvolutionCounter{params: p, deconv: d}, nil
}

// Params returns the thresholds the counter was built with.
func (c *DeconvolutionCounter) Params() Params {
	return c.params
}

// ConcurrentSafe reports true; the counter holds no mutable state.
func (c *DeconvolutionCounter) ConcurrentSafe() bool {
	return true
}

// Count returns the number of nuclei in img.
func (c *DeconvolutionCounter) Count(ctx context.Context, img image.Image) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mask := c.ForegroundMask(img)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b := img.Bounds()
	count := 0
	for _, area := range componentAreas(mask, b.Dx(), b.Dy()) {
		if area < c.params.MinArea {
			continue
		}
		count += c.params.nuclei(area)
	}
	return count, nil
}

// ForegroundMask returns the hole-filled nuclear stain mask of img in
// row-major order.
func (c *DeconvolutionCounter) ForegroundMask(img image.Image) []bool {
	hema := c.deconv.Channel(img, 0)
	w, h := hema.Rect.Dx(), hema.Rect.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask[y*w+x] = float64(hema.Pix[y*hema.Stride+x]) < c.params.ForegroundThreshold
		}
	}
	fillHoles(mask, w, h)
	return mask
}

// fillHoles sets every background pixel that is not 4-connected to the image
// border.
func fillHoles(mask []bool, w, h int) {
	outside := make([]bool, len(mask))
	stack := make([]int, 0, 2*(w+h))
	push := func(i int) {
		if !mask[i] && !outside[i] {
			outside[i] = true
			stack = append(stack, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(i - 1)
		}
		if x < w-1 {
			push(i + 1)
		}
		if y > 0 {
			push(i - w)
		}
		if y < h-1 {
			push(i + w)
		}
	}

	for i := range mask {
		if !outside[i] {
			mask[i] = true
		}
	}
}

// componentAreas returns the pixel count of every 8-connected foreground
// region, in scan order of each region's first pixel.
func componentAreas(mask []bool, w, h int) []int {
	seen := make([]bool, len(mask))
	var areas []int
	var stack []int

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		area := 0
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			x, y := i%w, i/w
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		areas = append(areas, area)
	}
	return areas
}
