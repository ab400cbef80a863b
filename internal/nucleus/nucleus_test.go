package nucleus

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	nucleusColor = color.RGBA{R: 30, G: 26, B: 99, A: 255}
	eosinColor   = color.RGBA{R: 230, G: 120, B: 200, A: 255}
)

// tissue returns a w x h eosin-coloured tile.
func tissue(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = eosinColor.R, eosinColor.G, eosinColor.B, eosinColor.A
	}
	return img
}

// disk paints a filled disk, leaving pixels closer than hole to the centre
// untouched.
func disk(img *image.RGBA, cx, cy, r, hole int) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			d := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			if d <= r*r && d >= hole*hole && (image.Point{X: x, Y: y}).In(img.Rect) {
				img.SetRGBA(x, y, nucleusColor)
			}
		}
	}
}

func newCounter(t *testing.T) *DeconvolutionCounter {
	t.Helper()
	c, err := NewDeconvolutionCounter(DefaultParams())
	if err != nil {
		t.Fatalf("NewDeconvolutionCounter() error = %v", err)
	}
	return c
}

// TestParamsValidate tests parameter validation.
func TestParamsValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("DefaultParams().Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{name: "null nuclear stain", modify: func(p *Params) { p.Stains[0] = Null }},
		{name: "zero threshold", modify: func(p *Params) { p.ForegroundThreshold = 0 }},
		{name: "threshold above 255", modify: func(p *Params) { p.ForegroundThreshold = 300 }},
		{name: "inverted radius range", modify: func(p *Params) { p.MinRadius, p.MaxRadius = 15, 10 }},
		{name: "zero local max radius", modify: func(p *Params) { p.LocalMaxRadius = 0 }},
		{name: "negative area", modify: func(p *Params) { p.MinArea = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultParams()
			tt.modify(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

// TestStainMatrix tests normalization and the complement column.
func TestStainMatrix(t *testing.T) {
	t.Parallel()

	w := StainMatrix(DefaultParams().Stains)
	for j := 0; j < 3; j++ {
		if n := mat.Norm(w.ColView(j), 2); math.Abs(n-1) > 1e-9 {
			t.Errorf("column %d norm = %v, want 1", j, n)
		}
	}
	for j := 0; j < 2; j++ {
		if d := mat.Dot(w.ColView(j), w.ColView(2)); math.Abs(d) > 1e-9 {
			t.Errorf("complement column is not orthogonal to column %d: dot = %v", j, d)
		}
	}

	dab := StainMatrix([3]Stain{Hematoxylin, Eosin, DAB})
	if got := dab.At(2, 2); math.Abs(got-0.78/math.Sqrt(0.27*0.27+0.57*0.57+0.78*0.78)) > 1e-9 {
		t.Errorf("explicit third stain was not kept: got %v", got)
	}
}

// TestChannel tests the hematoxylin channel of known colours.
func TestChannel(t *testing.T) {
	t.Parallel()

	d, err := NewDeconvolver(DefaultParams().Stains)
	if err != nil {
		t.Fatalf("NewDeconvolver() error = %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.SetRGBA(1, 0, nucleusColor)
	img.SetRGBA(2, 0, eosinColor)

	hema := d.Channel(img, 0)
	if got := hema.GrayAt(0, 0).Y; got != 255 {
		t.Errorf("white hematoxylin intensity = %d, want 255", got)
	}
	if got := hema.GrayAt(1, 0).Y; got >= 60 {
		t.Errorf("nucleus hematoxylin intensity = %d, want < 60", got)
	}
	if got := hema.GrayAt(2, 0).Y; got < 200 {
		t.Errorf("eosin hematoxylin intensity = %d, want >= 200", got)
	}
}

// TestCount tests counting on synthetic tiles.
func TestCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		paint func(*image.RGBA)
		want  int
	}{
		{name: "empty tissue", paint: func(*image.RGBA) {}, want: 0},
		{
			name: "separate nuclei",
			paint: func(img *image.RGBA) {
				disk(img, 30, 30, 12, 0)
				disk(img, 90, 40, 12, 0)
				disk(img, 60, 100, 12, 0)
			},
			want: 3,
		},
		{
			name:  "debris below minimum area",
			paint: func(img *image.RGBA) { disk(img, 64, 64, 3, 0) },
			want:  0,
		},
		{
			name: "touching pair is split",
			paint: func(img *image.RGBA) {
				disk(img, 50, 64, 12, 0)
				disk(img, 66, 64, 12, 0)
			},
			want: 2,
		},
		{
			name:  "hollow nucleus counts once",
			paint: func(img *image.RGBA) { disk(img, 64, 64, 13, 6) },
			want:  1,
		},
	}

	c := newCounter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			img := tissue(128, 128)
			tt.paint(img)
			got, err := c.Count(context.Background(), img)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}

			again, err := c.Count(context.Background(), img)
			if err != nil || again != got {
				t.Errorf("second Count() = %d, %v, want %d (deterministic)", again, err, got)
			}
		})
	}
}

// TestForegroundMaskFillsHoles tests hole filling.
func TestForegroundMaskFillsHoles(t *testing.T) {
	t.Parallel()

	img := tissue(64, 64)
	disk(img, 32, 32, 13, 6)
	mask := newCounter(t).ForegroundMask(img)
	if !mask[32*64+32] {
		t.Error("centre of a hollow nucleus is not foreground")
	}
	if mask[0] {
		t.Error("corner background is foreground")
	}
}

// TestCountCancelled tests that a cancelled context stops counting.
func TestCountCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newCounter(t).Count(ctx, tissue(16, 16)); !errors.Is(err, context.Canceled) {
		t.Errorf("Count() error = %v, want context.Canceled", err)
	}
}

// TestCountSubImage tests images whose bounds do not start at the origin.
func TestCountSubImage(t *testing.T) {
	t.Parallel()

	img := tissue(200, 200)
	disk(img, 150, 150, 12, 0)
	sub := img.SubImage(image.Rect(100, 100, 200, 200))

	got, err := newCounter(t).Count(context.Background(), sub)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

// TestCountRadiusBounds tests how the radius parameters split clumps.
func TestCountRadiusBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Params)
		radius int
		want   int
	}{
		{name: "large clump split by mean radius", modify: func(*Params) {}, radius: 30, want: 6},
		{name: "local max radius caps the split", modify: func(p *Params) { p.LocalMaxRadius = 20 }, radius: 30, want: 2},
		{
			name:   "object within max radius counts once",
			modify: func(p *Params) { p.MinRadius = 5 },
			radius: 14,
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := DefaultParams()
			tt.modify(&p)
			c, err := NewDeconvolutionCounter(p)
			if err != nil {
				t.Fatalf("NewDeconvolutionCounter() error = %v", err)
			}
			img := tissue(128, 128)
			disk(img, 64, 64, tt.radius, 0)
			got, err := c.Count(context.Background(), img)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestGuard tests that unsafe counters are serialized.
func TestGuard(t *testing.T) {
	t.Parallel()

	safe := newCounter(t)
	if Guard(safe) != Counter(safe) {
		t.Error("Guard() wrapped a concurrency-safe counter")
	}

	var inFlight, peak atomic.Int32
	unsafe := CounterFunc(func(_ context.Context, _ image.Image) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return 7, nil
	})

	g := Guard(unsafe)
	if Guard(g) != g {
		t.Error("Guard() wrapped an already guarded counter twice")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, err := g.Count(context.Background(), nil); err != nil || n != 7 {
				t.Errorf("Count() = %d, %v", n, err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrent calls = %d, want 1", peak.Load())
	}
}

// TestDefault tests that the build's default counter is usable.
func TestDefault(t *testing.T) {
	t.Parallel()

	c, err := Default(DefaultParams())
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	img := tissue(64, 64)
	disk(img, 32, 32, 12, 0)
	n, err := Guard(c).Count(context.Background(), img)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	bad := DefaultParams()
	bad.MinArea = -5
	if _, err := Default(bad); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Default() error = %v, want ErrInvalidParams", err)
	}
}
