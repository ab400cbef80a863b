package slide

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheBlocks is the number of decoded blocks a Slide keeps in memory.
const DefaultCacheBlocks = 64

// blockKey identifies one decoded block of one level.
type blockKey struct {
	level int
	index int
}

// Slide is a lazily decoded whole-slide image.
//
// Open parses only the TIFF directory structure. Pixel data
// is read block by block (TIFF tiles or strips) when a region that needs it
// is requested, so a gigapixel slide never has to fit in memory.
type Slide struct {
	// path is the file the slide was opened from.
	path string

	// file is the open handle; ReadAt on it is safe for concurrent use.
	file *os.File

	// tf is the parsed TIFF structure.
	tf *tiffFile

	// levels holds the full-resolution image first, then reduced levels in
	// decreasing size.
	levels []*level

	// cache holds recently decoded blocks.
	cache *lru.Cache[blockKey, *image.RGBA]

	// logger receives block decode diagnostics at debug level.
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// options collects Open settings.
type options struct {
	cacheBlocks int
	logger      *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithCacheBlocks sets how many decoded blocks are cached. Values below one
// are replaced by one.
func WithCacheBlocks(n int) Option {
	return func(o *options) {
		o.cacheBlocks = n
	}
}

// WithLogger sets the logger used for decode diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open opens the slide at path. It reads the header and directory chain only.
// Any failure is reported as *UnreadableError.
func Open(path string, opts ...Option) (*Slide, error) {
	o := options{cacheBlocks: DefaultCacheBlocks}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheBlocks < 1 {
		o.cacheBlocks = 1
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	f, err := os.Open(path) //nolint:gosec // path comes from the slide locator or the user
	if err != nil {
		return nil, &UnreadableError{Path: path, Err: err}
	}

	s, err := newSlide(path, f, o)
	if err != nil {
		_ = f.Close()
		return nil, &UnreadableError{Path: path, Err: err}
	}
	return s, nil
}

func newSlide(path string, f *os.File, o options) (*Slide, error) {
	tf, err := parseTIFF(f)
	if err != nil {
		return nil, err
	}

	base, err := tf.newLevel(0)
	if err != nil {
		return nil, err
	}
	levels := []*level{base}
	for i := 1; i < len(tf.dirs); i++ {
		if !isReducedLevel(tf, i, levels[len(levels)-1], base) {
			continue
		}
		l, err := tf.newLevel(i)
		if err != nil {
			// Label and macro images may use layouts we cannot decode;
			// they are not needed for tiling.
			o.logger.Debug("skipping pyramid candidate", "path", path, "ifd", i, "error", err)
			continue
		}
		levels = append(levels, l)
	}

	cache, err := lru.New[blockKey, *image.RGBA](o.cacheBlocks)
	if err != nil {
		return nil, err
	}

	return &Slide{
		path:   path,
		file:   f,
		tf:     tf,
		levels: levels,
		cache:  cache,
		logger: o.logger,
	}, nil
}

// isReducedLevel reports whether IFD i looks like a lower-resolution copy of
// the base image: tiled, strictly smaller than the previous level, with the
// same aspect ratio within one percent and not flagged as a separate image.
func isReducedLevel(tf *tiffFile, i int, prev, base *level) bool {
	d := tf.dirs[i]
	if _, ok := d.entries[tagTileWidth]; !ok {
		return false
	}
	if kind, err := tf.lookupUint(d, tagNewSubfileType, 0); err != nil || kind&^1 != 0 {
		return false
	}
	w, err := tf.lookupUint(d, tagImageWidth, 0)
	if err != nil || w == 0 || int(w) >= prev.width {
		return false
	}
	h, err := tf.lookupUint(d, tagImageLength, 0)
	if err != nil || h == 0 || int(h) >= prev.height {
		return false
	}
	baseAspect := float64(base.width) / float64(base.height)
	aspect := float64(w) / float64(h)
	return math.Abs(aspect-baseAspect)/baseAspect < 0.01
}

// Path returns the file path the slide was opened from.
func (s *Slide) Path() string {
	return s.path
}

// Name returns the slide identifier used in tile names: the file base name
// without its extension.
func (s *Slide) Name() string {
	base := filepath.Base(s.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Dimensions returns the native (unscaled) size of the full-resolution image.
func (s *Slide) Dimensions() (width, height int) {
	return s.levels[0].width, s.levels[0].height
}

// Level describes one resolution level of the slide.
type Level struct {
	Index       int
	IFD         int
	Width       int
	Height      int
	Tiled       bool
	BlockWidth  int
	BlockHeight int
	Compression string
	Downsample  float64
}

// Levels lists the resolution levels, full resolution first.
func (s *Slide) Levels() []Level {
	out := make([]Level, len(s.levels))
	for i, l := range s.levels {
		out[i] = Level{
			Index:       i,
			IFD:         l.ifd,
			Width:       l.width,
			Height:      l.height,
			Tiled:       l.tiled,
			BlockWidth:  l.blockW,
			BlockHeight: l.blockH,
			Compression: compressionName(l.compression),
			Downsample:  float64(s.levels[0].width) / float64(l.width),
		}
	}
	return out
}

// Region returns a fresh copy of the full-resolution pixels in r. The result
// has bounds (0,0)-(r.Dx(),r.Dy()).
func (s *Slide) Region(r image.Rectangle) (*image.RGBA, error) {
	base := s.levels[0]
	if err := checkRegion(r, base.width, base.height); err != nil {
		return nil, err
	}
	img, err := s.readLevel(0, r)
	if err != nil {
		return nil, err
	}
	img.Rect = img.Rect.Sub(img.Rect.Min)
	return img, nil
}

// Resize returns a lazy view of the slide scaled by scale.
func (s *Slide) Resize(scale float64) (*Scaled, error) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	return newScaled(s, scale), nil
}

// Close releases the file handle. Reads after Close fail with ErrClosed.
func (s *Slide) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.Purge()
	return s.file.Close()
}

// readLevel composes the pixels of r (which must lie inside level li) from
// the blocks that intersect it. The result keeps r's coordinates.
func (s *Slide) readLevel(li int, r image.Rectangle) (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	l := s.levels[li]
	dst := image.NewRGBA(r)
	for _, i := range l.blocksFor(r) {
		blk, err := s.block(li, i)
		if err != nil {
			return nil, &UnreadableError{Path: s.path, Err: err}
		}
		inter := r.Intersect(blk.Rect)
		draw.Draw(dst, inter, blk, inter.Min, draw.Src)
	}
	return dst, nil
}

// block returns decoded block i of level li, decoding it on a cache miss.
func (s *Slide) block(li, i int) (*image.RGBA, error) {
	key := blockKey{level: li, index: i}
	if blk, ok := s.cache.Get(key); ok {
		return blk, nil
	}
	blk, err := s.tf.decodeBlock(s.levels[li], i)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("decoded block", "slide", s.Name(), "level", li, "block", i, "rect", blk.Rect.String())
	s.cache.Add(key, blk)
	return blk, nil
}

func compressionName(c uint64) string {
	switch c {
	case compressionNone:
		return "none"
	case compressionLZW:
		return "lzw"
	case compressionJPEG:
		return "jpeg"
	case compressionDeflate, compressionDeflateZ:
		return "deflate"
	case compressionPackBits:
		return "packbits"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}
