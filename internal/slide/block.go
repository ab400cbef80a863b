package slide

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// level is one decodable image directory: the full-resolution image or a
// reduced-resolution pyramid level.
type level struct {
	ifd         int
	width       int
	height      int
	tiled       bool
	blockW      int
	blockH      int
	across      int
	down        int
	offsets     []uint64
	counts      []uint64
	compression uint64
	photometric uint64
	predictor   uint64
	spp         int
	extra       uint64
	jpegTables  []byte
}

// newLevel validates the layout of d and extracts everything needed to
// decode its blocks. It does not read pixel data.
func (tf *tiffFile) newLevel(idx int) (*level, error) {
	d := tf.dirs[idx]
	l := &level{ifd: idx}

	w, err := tf.lookupUint(d, tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	h, err := tf.lookupUint(d, tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if w == 0 || h == 0 || w > 1<<31-1 || h > 1<<31-1 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrCorrupt, w, h)
	}
	l.width, l.height = int(w), int(h)

	if l.compression, err = tf.lookupUint(d, tagCompression, compressionNone); err != nil {
		return nil, err
	}
	if l.photometric, err = tf.lookupUint(d, tagPhotometric, photometricBlackIsZero); err != nil {
		return nil, err
	}
	if l.predictor, err = tf.lookupUint(d, tagPredictor, 1); err != nil {
		return nil, err
	}
	spp, err := tf.lookupUint(d, tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp < 1 || spp > 4 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, spp)
	}
	l.spp = int(spp)

	bps, err := tf.lookupUints(d, tagBitsPerSample)
	if err != nil {
		return nil, err
	}
	for _, b := range bps {
		if b != 8 {
			return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, b)
		}
	}
	planar, err := tf.lookupUint(d, tagPlanarConfig, 1)
	if err != nil {
		return nil, err
	}
	if planar != 1 {
		return nil, fmt.Errorf("%w: planar configuration %d", ErrUnsupported, planar)
	}
	if l.predictor != 1 && l.predictor != 2 {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, l.predictor)
	}
	extra, err := tf.lookupUints(d, tagExtraSamples)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		l.extra = extra[0]
	}

	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateZ, compressionPackBits:
		switch l.photometric {
		case photometricWhiteIsZero, photometricBlackIsZero:
			if l.spp > 2 {
				return nil, fmt.Errorf("%w: grayscale with %d samples", ErrUnsupported, l.spp)
			}
		case photometricRGB:
			if l.spp < 3 {
				return nil, fmt.Errorf("%w: RGB with %d samples", ErrUnsupported, l.spp)
			}
		default:
			return nil, fmt.Errorf("%w: photometric interpretation %d", ErrUnsupported, l.photometric)
		}
	case compressionJPEG:
		if e, ok := d.entries[tagJPEGTables]; ok {
			if l.jpegTables, err = tf.valueBytes(e); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, l.compression)
	}

	if _, ok := d.entries[tagTileWidth]; ok {
		l.tiled = true
		tw, err := tf.lookupUint(d, tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := tf.lookupUint(d, tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 || th > maxBlockPixels/tw {
			return nil, fmt.Errorf("%w: tile size %dx%d", ErrCorrupt, tw, th)
		}
		l.blockW, l.blockH = int(tw), int(th)
		if l.offsets, err = tf.lookupUints(d, tagTileOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = tf.lookupUints(d, tagTileByteCounts); err != nil {
			return nil, err
		}
	} else {
		rps, err := tf.lookupUint(d, tagRowsPerStrip, h)
		if err != nil {
			return nil, err
		}
		if rps == 0 || rps > h {
			rps = h
		}
		if w*rps > maxBlockPixels {
			return nil, fmt.Errorf("%w: strip of %dx%d pixels", ErrUnsupported, w, rps)
		}
		l.blockW, l.blockH = l.width, int(rps)
		if l.offsets, err = tf.lookupUints(d, tagStripOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = tf.lookupUints(d, tagStripByteCounts); err != nil {
			return nil, err
		}
	}

	l.across = (l.width + l.blockW - 1) / l.blockW
	l.down = (l.height + l.blockH - 1) / l.blockH
	if n := l.across * l.down; len(l.offsets) < n || len(l.counts) < n {
		return nil, fmt.Errorf("%w: %d blocks expected, %d offsets and %d byte counts found",
			ErrCorrupt, n, len(l.offsets), len(l.counts))
	}
	return l, nil
}

// blockRect returns the pixel rectangle of block i in level coordinates.
// Tiles are always full size; the last strip is clipped to the image height.
func (l *level) blockRect(i int) image.Rectangle {
	col, row := i%l.across, i/l.across
	r := image.Rect(col*l.blockW, row*l.blockH, (col+1)*l.blockW, (row+1)*l.blockH)
	if !l.tiled && r.Max.Y > l.height {
		r.Max.Y = l.height
	}
	return r
}

// blocksFor returns the indices of all blocks intersecting r.
func (l *level) blocksFor(r image.Rectangle) []int {
	c0, c1 := r.Min.X/l.blockW, (r.Max.X-1)/l.blockW
	r0, r1 := r.Min.Y/l.blockH, (r.Max.Y-1)/l.blockH
	out := make([]int, 0, (c1-c0+1)*(r1-r0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			out = append(out, row*l.across+col)
		}
	}
	return out
}

// decodeBlock reads and decodes block i into an RGBA image positioned at
// the block's level coordinates.
func (tf *tiffFile) decodeBlock(l *level, i int) (*image.RGBA, error) {
	rect := l.blockRect(i)
	dst := image.NewRGBA(rect)

	if l.counts[i] == 0 {
		// Sparse block: never written by the scanner.
		draw.Draw(dst, rect, image.White, image.Point{}, draw.Src)
		return dst, nil
	}
	if l.counts[i] > maxValueBytes {
		return nil, fmt.Errorf("%w: block %d is %d bytes", ErrCorrupt, i, l.counts[i])
	}
	raw := make([]byte, l.counts[i])
	if err := tf.readAt(raw, l.offsets[i]); err != nil {
		return nil, fmt.Errorf("%w: reading block %d: %v", ErrCorrupt, i, err)
	}

	if l.compression == compressionJPEG {
		return dst, decodeJPEGBlock(dst, raw, l.jpegTables)
	}

	rowBytes := rect.Dx() * l.spp
	want := rowBytes * rect.Dy()
	data, err := decompress(l.compression, raw, want)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrCorrupt, i, err)
	}
	if len(data) < want {
		return nil, fmt.Errorf("%w: block %d has %d bytes, want %d", ErrCorrupt, i, len(data), want)
	}
	if l.predictor == 2 {
		undoPredictor(data[:want], rowBytes, l.spp)
	}
	samplesToRGBA(dst, data, l)
	return dst, nil
}

func decompress(compression uint64, raw []byte, want int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return readUpTo(rc, want)
	case compressionDeflate, compressionDeflateZ:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return readUpTo(rc, want)
	case compressionPackBits:
		return unpackBits(raw, want)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
}

// readUpTo reads at most want bytes. Encoders sometimes leave junk after the
// last row, which is ignored.
func readUpTo(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// unpackBits decodes Macintosh PackBits run-length data.
func unpackBits(src []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	for i := 0; i < len(src) && len(dst) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(src) {
				return nil, io.ErrUnexpectedEOF
			}
			dst = append(dst, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return nil, io.ErrUnexpectedEOF
			}
			for k := 0; k < 1-n; k++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}

// undoPredictor reverses horizontal differencing (predictor 2) in place.
func undoPredictor(data []byte, rowBytes, spp int) {
	for off := 0; off+rowBytes <= len(data); off += rowBytes {
		row := data[off : off+rowBytes]
		for i := spp; i < len(row); i++ {
			row[i] += row[i-spp]
		}
	}
}

// samplesToRGBA converts chunky 8-bit samples into dst.
func samplesToRGBA(dst *image.RGBA, data []byte, l *level) {
	r := dst.Rect
	w := r.Dx()
	for y := 0; y < r.Dy(); y++ {
		src := data[y*w*l.spp:]
		pix := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			s := src[x*l.spp:]
			p := pix[x*4 : x*4+4]
			switch l.spp {
			case 1, 2:
				g := s[0]
				if l.photometric == photometricWhiteIsZero {
					g = 255 - g
				}
				p[0], p[1], p[2], p[3] = g, g, g, 255
				if l.spp == 2 {
					premultiply(p, s[1], l.extra)
				}
			case 3:
				p[0], p[1], p[2], p[3] = s[0], s[1], s[2], 255
			case 4:
				p[0], p[1], p[2] = s[0], s[1], s[2]
				premultiply(p, s[3], l.extra)
			}
		}
	}
}

// premultiply stores alpha a into p, scaling colour unless the extra sample
// is already associated alpha.
func premultiply(p []byte, a byte, extra uint64) {
	p[3] = a
	if extra == 1 || a == 255 {
		return
	}
	for k := 0; k < 3; k++ {
		p[k] = byte(uint16(p[k]) * uint16(a) / 255)
	}
}

// decodeJPEGBlock decodes an abbreviated JPEG stream, splicing in the shared
// quantization and Huffman tables when the file provides them.
func decodeJPEGBlock(dst *image.RGBA, raw, tables []byte) error {
	stream := raw
	if len(tables) > 4 && len(raw) > 2 {
		stream = make([]byte, 0, len(tables)+len(raw))
		stream = append(stream, tables[:len(tables)-2]...) // drop EOI
		stream = append(stream, raw[2:]...)                // drop SOI
	}
	img, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return fmt.Errorf("%w: jpeg block: %v", ErrCorrupt, err)
	}
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
	return nil
}
