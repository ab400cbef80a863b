package main

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/nao1215/wsitile/internal/imageio"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// filled returns a w x h image of one colour.
func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// writeSlide encodes a blank w x h stripped TIFF slide named name in dir.
func writeSlide(t *testing.T, dir, name string, w, h int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create slide: %v", err)
	}
	if err := tiff.Encode(f, filled(w, h, white), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		t.Fatalf("failed to encode slide: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close slide: %v", err)
	}
	return path
}

// writeTile saves a blank size x size PNG tile named name in dir.
func writeTile(t *testing.T, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := imageio.Save(path, filled(size, size, white), imageio.PNG); err != nil {
		t.Fatalf("failed to write tile: %v", err)
	}
	return path
}

// writeFile writes raw bytes, for corrupt inputs.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// executeCmd runs the root command with args and returns its stdout.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}
