package nucleus

import (
	"errors"
	"fmt"
	"math"
)

// Stain is the RGB optical density vector of one stain.
type Stain [3]float64

// Reference stain vectors.
var (
	Hematoxylin = Stain{0.65, 0.70, 0.29}
	Eosin       = Stain{0.07, 0.99, 0.11}
	DAB         = Stain{0.27, 0.57, 0.78}
	Null        = Stain{0, 0, 0}
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid nucleus counting parameters")

// Params holds the fixed thresholds of nucleus counting. Params is a value
// type; counters copy it on construction.
type Params struct {
	// Stains are the columns of the stain matrix. The first column must be
	// the nuclear stain. A Null third column is replaced by the complement
	// of the first two.
	Stains [3]Stain

	// ForegroundThreshold is the maximum nuclear stain intensity (0-255,
	// darker is more stain) of a foreground pixel.
	ForegroundThreshold float64

	// MinRadius and MaxRadius bound the expected nucleus radius in pixels.
	MinRadius int
	MaxRadius int

	// LocalMaxRadius is the search radius for blob centres. Two centres are
	// never closer than this, so it also caps how many nuclei one clump
	// can hold.
	LocalMaxRadius int

	// MinArea is the smallest object, in pixels, that counts as a nucleus.
	MinArea int
}

// DefaultParams returns the thresholds used for H&E tiles at 0.5x of 40x
// magnification.
func DefaultParams() Params {
	return Params{
		Stains:              [3]Stain{Hematoxylin, Eosin, Null},
		ForegroundThreshold: 60,
		MinRadius:           10,
		MaxRadius:           15,
		LocalMaxRadius:      10,
		MinArea:             80,
	}
}

// Validate checks that the parameters describe a usable configuration.
func (p Params) Validate() error {
	if p.Stains[0] == Null || p.Stains[1] == Null {
		return fmt.Errorf("%w: the first two stains must be non-zero", ErrInvalidParams)
	}
	if p.ForegroundThreshold <= 0 || p.ForegroundThreshold > 255 {
		return fmt.Errorf("%w: foreground threshold %v is outside (0,255]", ErrInvalidParams, p.ForegroundThreshold)
	}
	if p.MinRadius <= 0 || p.MaxRadius < p.MinRadius {
		return fmt.Errorf("%w: radius range [%d,%d]", ErrInvalidParams, p.MinRadius, p.MaxRadius)
	}
	if p.LocalMaxRadius <= 0 {
		return fmt.Errorf("%w: local maximum radius %d", ErrInvalidParams, p.LocalMaxRadius)
	}
	if p.MinArea < 0 {
		return fmt.Errorf("%w: minimum area %d", ErrInvalidParams, p.MinArea)
	}
	return nil
}

// meanRadius is the expected nucleus radius.
func (p Params) meanRadius() float64 {
	return float64(p.MinRadius+p.MaxRadius) / 2
}

// nuclei estimates how many nuclei a foreground object of area pixels holds.
// An object no larger than a disc of MaxRadius is one nucleus. A larger
// clump is divided by the area of a disc of the mean radius, and the result
// is capped by the number of discs of LocalMaxRadius that fit in the clump.
func (p Params) nuclei(area int) int {
	a := float64(area)
	r := float64(p.MaxRadius)
	if a <= math.Pi*r*r {
		return 1
	}
	n := int(math.Round(a / (math.Pi * p.meanRadius() * p.meanRadius())))
	l := float64(p.LocalMaxRadius)
	n = min(n, int(a/(math.Pi*l*l)))
	return max(1, n)
}
