package tiler

import (
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/nao1215/wsitile/internal/imageio"
	"github.com/nao1215/wsitile/internal/model"
)

// RegionReader reads a rectangle of scaled slide pixels.
// *slide.Scaled satisfies it.
type RegionReader interface {
	Region(r image.Rectangle) (*image.RGBA, error)
}

// Extract reads the tile at origin from src.
func Extract(src RegionReader, origin model.Origin, spec model.TileSpec, slideName string, scale float64) (*model.Tile, error) {
	img, err := src.Region(origin.Rect(spec))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() != spec.Width || img.Bounds().Dy() != spec.Height {
		return nil, fmt.Errorf("region at %s is %dx%d, want %dx%d",
			origin, img.Bounds().Dx(), img.Bounds().Dy(), spec.Width, spec.Height)
	}
	return &model.Tile{
		Slide:  slideName,
		Scale:  scale,
		Origin: origin,
		Image:  img,
	}, nil
}

// WriteError is returned when a tile cannot be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write tile %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer saves tiles into one output directory.
type Writer struct {
	dir    string
	format imageio.Format
}

// NewWriter returns a Writer for dir. The directory must already exist.
func NewWriter(dir string, format imageio.Format) (*Writer, error) {
	if _, err := imageio.ParseFormat(string(format)); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, format: format}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the file a tile is written to.
func (w *Writer) Path(tile *model.Tile) string {
	return filepath.Join(w.dir, tile.BaseName()+"."+w.format.Ext())
}

// Save writes tile and returns its path.
func (w *Writer) Save(tile *model.Tile) (string, error) {
	path := w.Path(tile)
	if err := imageio.Save(path, tile.Image, w.format); err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	return path, nil
}

// Digest returns the hex BLAKE2b-256 digest of the file at path.
func Digest(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path was produced by Save
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
