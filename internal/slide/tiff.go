package slide

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// TIFF tags used to locate and decode pixel data.
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagImageDesc       = 270
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagJPEGTables      = 347
)

// Compression schemes.
const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionJPEG     = 7
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflateZ = 32946
)

// Photometric interpretations.
const (
	photometricWhiteIsZero = 0
	photometricBlackIsZero = 1
	photometricRGB         = 2
	photometricYCbCr       = 6
)

// Field types and their sizes in bytes.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
	typeIFD       = 13
	typeLong8     = 16
	typeSLong8    = 17
	typeIFD8      = 18
)

var typeSizes = map[uint16]uint64{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4, typeSRational: 8,
	typeFloat: 4, typeDouble: 8, typeIFD: 4, typeLong8: 8, typeSLong8: 8, typeIFD8: 8,
}

// Structural limits that protect against corrupt or hostile files.
const (
	maxIFDs        = 1024
	maxIFDEntries  = 4096
	maxValueBytes  = 1 << 28
	maxBlockPixels = 1 << 28
)

// entry is one IFD field. raw holds the inline value/offset bytes.
type entry struct {
	tag   uint16
	typ   uint16
	count uint64
	raw   []byte
}

// directory is a parsed image file directory.
type directory struct {
	offset  uint64
	entries map[uint16]entry
	tags    []uint16
}

// tiffFile is the structural view of a TIFF or BigTIFF file.
type tiffFile struct {
	r     io.ReaderAt
	order binary.ByteOrder
	big   bool
	dirs  []*directory
}

// parseTIFF reads the header and the full IFD chain.
func parseTIFF(r io.ReaderAt) (*tiffFile, error) {
	var hdr [16]byte
	n, err := r.ReadAt(hdr[:], 0)
	if n < 8 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: %v", ErrNotTIFF, err)
	}

	tf := &tiffFile{r: r}
	switch string(hdr[:2]) {
	case "II":
		tf.order = binary.LittleEndian
	case "MM":
		tf.order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}

	var first uint64
	switch tf.order.Uint16(hdr[2:4]) {
	case 42:
		first = uint64(tf.order.Uint32(hdr[4:8]))
	case 43:
		if n < 16 || tf.order.Uint16(hdr[4:6]) != 8 || tf.order.Uint16(hdr[6:8]) != 0 {
			return nil, fmt.Errorf("%w: bad BigTIFF header", ErrNotTIFF)
		}
		tf.big = true
		first = tf.order.Uint64(hdr[8:16])
	default:
		return nil, ErrNotTIFF
	}

	seen := make(map[uint64]bool)
	for off := first; off != 0; {
		if seen[off] {
			return nil, fmt.Errorf("%w: IFD loop at offset %d", ErrCorrupt, off)
		}
		if len(tf.dirs) >= maxIFDs {
			return nil, fmt.Errorf("%w: more than %d IFDs", ErrCorrupt, maxIFDs)
		}
		seen[off] = true

		dir, next, err := tf.readDirectory(off)
		if err != nil {
			return nil, err
		}
		tf.dirs = append(tf.dirs, dir)
		off = next
	}

	if len(tf.dirs) == 0 {
		return nil, fmt.Errorf("%w: no image directories", ErrCorrupt)
	}
	return tf, nil
}

// readDirectory parses the IFD at off and returns the offset of the next one.
func (tf *tiffFile) readDirectory(off uint64) (*directory, uint64, error) {
	countSize, entrySize, inline := uint64(2), uint64(12), 4
	if tf.big {
		countSize, entrySize, inline = 8, 20, 8
	}

	countBuf := make([]byte, countSize)
	if err := tf.readAt(countBuf, off); err != nil {
		return nil, 0, fmt.Errorf("%w: reading IFD at %d: %v", ErrCorrupt, off, err)
	}
	var count uint64
	if tf.big {
		count = tf.order.Uint64(countBuf)
	} else {
		count = uint64(tf.order.Uint16(countBuf))
	}
	if count == 0 || count > maxIFDEntries {
		return nil, 0, fmt.Errorf("%w: IFD at %d has %d entries", ErrCorrupt, off, count)
	}

	buf := make([]byte, count*entrySize+uint64(inline))
	if err := tf.readAt(buf, off+countSize); err != nil {
		return nil, 0, fmt.Errorf("%w: reading IFD entries at %d: %v", ErrCorrupt, off, err)
	}

	dir := &directory{offset: off, entries: make(map[uint16]entry, count)}
	for i := uint64(0); i < count; i++ {
		b := buf[i*entrySize : (i+1)*entrySize]
		e := entry{
			tag: tf.order.Uint16(b[0:2]),
			typ: tf.order.Uint16(b[2:4]),
		}
		if tf.big {
			e.count = tf.order.Uint64(b[4:12])
			e.raw = b[12:20]
		} else {
			e.count = uint64(tf.order.Uint32(b[4:8]))
			e.raw = b[8:12]
		}
		if _, dup := dir.entries[e.tag]; !dup {
			dir.tags = append(dir.tags, e.tag)
		}
		dir.entries[e.tag] = e
	}

	tail := buf[count*entrySize:]
	var next uint64
	if tf.big {
		next = tf.order.Uint64(tail)
	} else {
		next = uint64(tf.order.Uint32(tail))
	}
	return dir, next, nil
}

// readAt fills b from offset off.
func (tf *tiffFile) readAt(b []byte, off uint64) error {
	if off > math.MaxInt64 {
		return ErrCorrupt
	}
	n, err := tf.r.ReadAt(b, int64(off))
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// valueBytes returns the raw bytes of an entry's value, following the offset when
// the value does not fit inline.
func (tf *tiffFile) valueBytes(e entry) ([]byte, error) {
	size, ok := typeSizes[e.typ]
	if !ok {
		return nil, fmt.Errorf("%w: tag %d has unknown type %d", ErrCorrupt, e.tag, e.typ)
	}
	if e.count > maxValueBytes/size {
		return nil, fmt.Errorf("%w: tag %d value too large", ErrCorrupt, e.tag)
	}
	total := size * e.count
	if total <= uint64(len(e.raw)) {
		return e.raw[:total], nil
	}

	var off uint64
	if tf.big {
		off = tf.order.Uint64(e.raw)
	} else {
		off = uint64(tf.order.Uint32(e.raw))
	}
	buf := make([]byte, total)
	if err := tf.readAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: reading tag %d: %v", ErrCorrupt, e.tag, err)
	}
	return buf, nil
}

// uints decodes an unsigned integer entry of any integral type.
func (tf *tiffFile) uints(e entry) ([]uint64, error) {
	b, err := tf.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(b[i])
		case typeShort:
			out[i] = uint64(tf.order.Uint16(b[2*i:]))
		case typeLong, typeIFD:
			out[i] = uint64(tf.order.Uint32(b[4*i:]))
		case typeLong8, typeIFD8:
			out[i] = tf.order.Uint64(b[8*i:])
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", ErrCorrupt, e.tag, e.typ)
		}
	}
	return out, nil
}

// ascii decodes an ASCII entry, dropping the trailing NUL.
func (tf *tiffFile) ascii(e entry) (string, error) {
	b, err := tf.valueBytes(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// lookupUint returns the first value of an integer tag, or def when absent.
func (tf *tiffFile) lookupUint(d *directory, tag uint16, def uint64) (uint64, error) {
	e, ok := d.entries[tag]
	if !ok || e.count == 0 {
		return def, nil
	}
	v, err := tf.uints(e)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// lookupUints returns all values of an integer tag, or nil when absent.
func (tf *tiffFile) lookupUints(d *directory, tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	return tf.uints(e)
}
