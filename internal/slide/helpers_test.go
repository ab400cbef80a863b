package slide

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

// testLevel is one image directory written by writeTiledTIFF.
type testLevel struct {
	img     *image.RGBA
	tileW   int
	tileH   int
	reduced bool
	sparse  map[int]bool
	desc    string

	// compression is the block encoding; zero means uncompressed.
	compression uint64
}

// tiffBuilder assembles a little-endian, tiled RGB TIFF or BigTIFF in
// memory.
type tiffBuilder struct {
	big  bool
	buf  []byte
	next int
}

func (b *tiffBuilder) put(pos int, v uint64, size int) {
	switch size {
	case 2:
		binary.LittleEndian.PutUint16(b.buf[pos:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b.buf[pos:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b.buf[pos:], v)
	}
}

func (b *tiffBuilder) appendBytes(data []byte) uint64 {
	off := len(b.buf)
	b.buf = append(b.buf, data...)
	if len(b.buf)%2 == 1 {
		b.buf = append(b.buf, 0)
	}
	return uint64(off)
}

type testEntry struct {
	tag  uint16
	typ  uint16
	vals []uint64
	text string
}

func (b *tiffBuilder) encodeValues(e testEntry) []byte {
	if e.typ == typeASCII {
		return append([]byte(e.text), 0)
	}
	size := int(typeSizes[e.typ])
	out := make([]byte, size*len(e.vals))
	for i, v := range e.vals {
		switch size {
		case 1:
			out[i] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(out[8*i:], v)
		}
	}
	return out
}

func (b *tiffBuilder) writeIFD(entries []testEntry) {
	inline, countSize, entrySize, ptrSize := 4, 2, 12, 4
	if b.big {
		inline, countSize, entrySize, ptrSize = 8, 8, 20, 8
	}

	values := make([][]byte, len(entries))
	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		values[i] = b.encodeValues(e)
		if len(values[i]) > inline {
			offsets[i] = b.appendBytes(values[i])
		}
	}

	start := len(b.buf)
	b.put(b.next, uint64(start), ptrSize)
	b.buf = append(b.buf, make([]byte, countSize+entrySize*len(entries)+ptrSize)...)
	b.put(start, uint64(len(entries)), countSize)
	for i, e := range entries {
		p := start + countSize + i*entrySize
		count := uint64(len(e.vals))
		if e.typ == typeASCII {
			count = uint64(len(values[i]))
		}
		b.put(p, uint64(e.tag), 2)
		b.put(p+2, uint64(e.typ), 2)
		if b.big {
			b.put(p+4, count, 8)
			p += 12
		} else {
			b.put(p+4, count, 4)
			p += 8
		}
		if len(values[i]) > inline {
			b.put(p, offsets[i], ptrSize)
		} else {
			copy(b.buf[p:], values[i])
		}
	}
	b.next = start + countSize + entrySize*len(entries)
}

// writeTiledTIFF writes levels as consecutive image directories and returns
// the file path.
func writeTiledTIFF(t *testing.T, dir, name string, big bool, levels ...testLevel) string {
	t.Helper()

	b := &tiffBuilder{big: big}
	if big {
		b.buf = []byte{'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
		b.next = 8
	} else {
		b.buf = []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
		b.next = 4
	}
	offType := uint16(typeLong)
	if big {
		offType = typeLong8
	}

	for _, lv := range levels {
		compression := lv.compression
		if compression == 0 {
			compression = compressionNone
		}
		var tables []byte

		bounds := lv.img.Bounds()
		across := (bounds.Dx() + lv.tileW - 1) / lv.tileW
		down := (bounds.Dy() + lv.tileH - 1) / lv.tileH
		var offs, counts []uint64
		for row := 0; row < down; row++ {
			for col := 0; col < across; col++ {
				if lv.sparse[row*across+col] {
					offs = append(offs, 0)
					counts = append(counts, 0)
					continue
				}
				data := tileSamples(lv.img, col, row, lv.tileW, lv.tileH)
				block, blockTables := encodeBlock(t, compression, data, lv.tileW, lv.tileH)
				if blockTables != nil {
					tables = blockTables
				}
				offs = append(offs, b.appendBytes(block))
				counts = append(counts, uint64(len(block)))
			}
		}

		subfile := uint64(0)
		if lv.reduced {
			subfile = 1
		}
		entries := []testEntry{
			{tag: tagNewSubfileType, typ: typeLong, vals: []uint64{subfile}},
			{tag: tagImageWidth, typ: typeLong, vals: []uint64{uint64(bounds.Dx())}},
			{tag: tagImageLength, typ: typeLong, vals: []uint64{uint64(bounds.Dy())}},
			{tag: tagBitsPerSample, typ: typeShort, vals: []uint64{8, 8, 8}},
			{tag: tagCompression, typ: typeShort, vals: []uint64{compression}},
			{tag: tagPhotometric, typ: typeShort, vals: []uint64{photometricRGB}},
		}
		if lv.desc != "" {
			entries = append(entries, testEntry{tag: tagImageDesc, typ: typeASCII, text: lv.desc})
		}
		entries = append(entries,
			testEntry{tag: tagSamplesPerPixel, typ: typeShort, vals: []uint64{3}},
			testEntry{tag: tagPlanarConfig, typ: typeShort, vals: []uint64{1}},
			testEntry{tag: tagTileWidth, typ: typeShort, vals: []uint64{uint64(lv.tileW)}},
			testEntry{tag: tagTileLength, typ: typeShort, vals: []uint64{uint64(lv.tileH)}},
			testEntry{tag: tagTileOffsets, typ: offType, vals: offs},
			testEntry{tag: tagTileByteCounts, typ: offType, vals: counts},
		)
		if tables != nil {
			entries = append(entries, testEntry{tag: tagJPEGTables, typ: typeUndefined, vals: byteVals(tables)})
		}
		b.writeIFD(entries)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b.buf, 0600); err != nil {
		t.Fatalf("failed to write tiff: %v", err)
	}
	return path
}

// gradient returns an opaque image whose pixels encode their coordinates.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

// uniform returns an opaque single-colour image.
func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// assertSameRegion fails unless got equals want's sub-image r, pixel for pixel.
func assertSameRegion(t *testing.T, got, want *image.RGBA, r image.Rectangle) {
	t.Helper()
	if got.Bounds().Dx() != r.Dx() || got.Bounds().Dy() != r.Dy() {
		t.Fatalf("region size = %v, want %v", got.Bounds().Size(), r.Size())
	}
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			g := got.RGBAAt(got.Bounds().Min.X+x, got.Bounds().Min.Y+y)
			w := want.RGBAAt(r.Min.X+x, r.Min.Y+y)
			if g != w {
				t.Fatalf("pixel (%d,%d) = %v, want %v", r.Min.X+x, r.Min.Y+y, g, w)
			}
		}
	}
}

// tileSamples returns the chunky RGB samples of one tile of img, padded
// with black past the image edge.
func tileSamples(img *image.RGBA, col, row, tw, th int) []byte {
	bounds := img.Bounds()
	data := make([]byte, 0, tw*th*3)
	for y := row * th; y < (row+1)*th; y++ {
		for x := col * tw; x < (col+1)*tw; x++ {
			c := color.RGBA{}
			if (image.Point{X: x, Y: y}).In(bounds) {
				c = img.RGBAAt(x, y)
			}
			data = append(data, c.R, c.G, c.B)
		}
	}
	return data
}

// encodeBlock compresses one block of chunky RGB samples. For JPEG it
// returns an abbreviated stream and the tables it needs.
func encodeBlock(t *testing.T, compression uint64, data []byte, w, h int) (block, tables []byte) {
	t.Helper()

	switch compression {
	case compressionNone:
		return data, nil
	case compressionLZW:
		var buf bytes.Buffer
		zw := lzw.NewWriter(&buf, lzw.MSB, 8)
		if _, err := zw.Write(data); err != nil {
			t.Fatalf("lzw: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("lzw: %v", err)
		}
		return buf.Bytes(), nil
	case compressionPackBits:
		return packBits(data), nil
	case compressionJPEG:
		full := encodeJPEG(t, rgbTile(data, w, h))
		return splitJPEG(t, full)
	}
	t.Fatalf("encodeBlock: unsupported compression %d", compression)
	return nil, nil
}

// rgbTile turns chunky RGB samples back into an opaque image.
func rgbTile(data []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		copy(img.Pix[4*i:], data[3*i:3*i+3])
		img.Pix[4*i+3] = 255
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	return buf.Bytes()
}

// splitJPEG moves the DQT and DHT segments of a complete JPEG stream into
// a tables-only stream, leaving an abbreviated image stream.
func splitJPEG(t *testing.T, full []byte) (abbrev, tables []byte) {
	t.Helper()

	if len(full) < 4 || full[0] != 0xFF || full[1] != 0xD8 {
		t.Fatal("splitJPEG: missing SOI")
	}
	tables = []byte{0xFF, 0xD8}
	abbrev = []byte{0xFF, 0xD8}
	i := 2
	for i+4 <= len(full) {
		if full[i] != 0xFF {
			t.Fatalf("splitJPEG: no marker at %d", i)
		}
		marker := full[i+1]
		if marker == 0xDA {
			abbrev = append(abbrev, full[i:]...)
			return abbrev, append(tables, 0xFF, 0xD9)
		}
		end := i + 2 + int(binary.BigEndian.Uint16(full[i+2:]))
		if marker == 0xDB || marker == 0xC4 {
			tables = append(tables, full[i:end]...)
		} else {
			abbrev = append(abbrev, full[i:end]...)
		}
		i = end
	}
	t.Fatal("splitJPEG: no SOS marker")
	return nil, nil
}

// packBits encodes src as PackBits, using repeat runs for three or more
// equal bytes and literal runs otherwise.
func packBits(src []byte) []byte {
	var out []byte
	for i := 0; i < len(src); {
		run := 1
		for i+run < len(src) && run < 128 && src[i+run] == src[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(int8(1-run)), src[i])
			i += run
			continue
		}
		start := i
		for i < len(src) && i-start < 128 {
			if i+2 < len(src) && src[i] == src[i+1] && src[i] == src[i+2] {
				break
			}
			i++
		}
		out = append(out, byte(i-start-1))
		out = append(out, src[start:i]...)
	}
	return out
}

func byteVals(data []byte) []uint64 {
	vals := make([]uint64, len(data))
	for i, b := range data {
		vals[i] = uint64(b)
	}
	return vals
}
