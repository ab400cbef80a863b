package imageio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 33, 17))
	for y := 0; y < 17; y++ {
		for x := 0; x < 33; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(7 * x), G: uint8(11 * y), B: uint8(x + y), A: 255})
		}
	}
	return img
}

// TestParseFormat tests format name parsing.
func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "png", want: PNG},
		{in: "PNG", want: PNG},
		{in: "tif", want: TIFF},
		{in: ".tiff", want: TIFF},
		{in: "jpeg", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

// TestSaveLoad tests that written tiles read back unchanged.
func TestSaveLoad(t *testing.T) {
	t.Parallel()

	for _, f := range []Format{PNG, TIFF} {
		t.Run(string(f), func(t *testing.T) {
			t.Parallel()

			src := testImage()
			path := filepath.Join(t.TempDir(), "tile."+f.Ext())
			if err := Save(path, src, f); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			img, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			got := ToRGBA(img)
			if got.Bounds() != src.Bounds() {
				t.Fatalf("bounds = %v, want %v", got.Bounds(), src.Bounds())
			}
			for y := 0; y < 17; y++ {
				for x := 0; x < 33; x++ {
					if got.RGBAAt(x, y) != src.RGBAAt(x, y) {
						t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got.RGBAAt(x, y), src.RGBAAt(x, y))
					}
				}
			}
		})
	}
}

// TestSaveFailure tests that a failed save reports an error.
func TestSaveFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "tile.png")
	if err := Save(path, testImage(), PNG); err == nil {
		t.Error("Save() into a missing directory should fail")
	}
}

// TestLoadErrors tests decoding failures.
func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	garbage := filepath.Join(dir, "tile.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := Load(garbage); err == nil {
		t.Error("Load() of garbage should fail")
	}
	if _, err := Load(filepath.Join(dir, "missing.png")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() of missing file error = %v, want os.ErrNotExist", err)
	}
}

// TestIsImage tests extension detection.
func TestIsImage(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"a.png": true, "a.TIF": true, "a.tiff": true, "a.jpg": true, "a.bmp": true,
		"a.txt": false, "png": false, "a.yaml": false,
	} {
		if got := IsImage(name); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", name, got, want)
		}
	}
}

// TestListImages tests directory listing.
func TestListImages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png", "._a.png", "notes.txt", "c.tif"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0750); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	got, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), filepath.Join(dir, "c.tif")}
	if !slices.Equal(got, want) {
		t.Errorf("ListImages() = %v, want %v", got, want)
	}

	if _, err := ListImages(filepath.Join(dir, "missing")); err == nil {
		t.Error("ListImages() of a missing directory should fail")
	}
}

// TestToRGBA tests conversion and rebasing.
func TestToRGBA(t *testing.T) {
	t.Parallel()

	src := testImage()
	if ToRGBA(src) != src {
		t.Error("ToRGBA() copied an image that needed no conversion")
	}

	sub := src.SubImage(image.Rect(10, 5, 20, 15))
	got := ToRGBA(sub)
	if got.Bounds() != image.Rect(0, 0, 10, 10) {
		t.Fatalf("bounds = %v, want (0,0)-(10,10)", got.Bounds())
	}
	if got.RGBAAt(0, 0) != src.RGBAAt(10, 5) {
		t.Errorf("pixel (0,0) = %v, want %v", got.RGBAAt(0, 0), src.RGBAAt(10, 5))
	}

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.Pix[0] = 128
	if c := ToRGBA(gray).RGBAAt(0, 0); c != (color.RGBA{R: 128, G: 128, B: 128, A: 255}) {
		t.Errorf("converted gray pixel = %v", c)
	}
}
