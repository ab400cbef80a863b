package slide

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

// Property is one metadata field of the slide.
type Property struct {
	Tag   uint16 `json:"tag,omitempty"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AperioPrefix prefixes properties parsed from an Aperio ImageDescription.
const AperioPrefix = "aperio."

// maxListedValues caps how many values of a multi-valued tag are printed.
const maxListedValues = 8

var (
	tagIndexOnce sync.Once
	tagIndex     *exif.TagIndex
	tagIndexMu   sync.Mutex
)

// tiffOnlyTags names tags that go-exif does not index for IFD0.
var tiffOnlyTags = map[uint16]string{
	tagNewSubfileType:  "NewSubfileType",
	tagTileWidth:       "TileWidth",
	tagTileLength:      "TileLength",
	tagTileOffsets:     "TileOffsets",
	tagTileByteCounts:  "TileByteCounts",
	tagPredictor:       "Predictor",
	tagExtraSamples:    "ExtraSamples",
	tagJPEGTables:      "JPEGTables",
	tagPlanarConfig:    "PlanarConfiguration",
	tagRowsPerStrip:    "RowsPerStrip",
	tagStripOffsets:    "StripOffsets",
	tagStripByteCounts: "StripByteCounts",
}

// tagName resolves a TIFF tag number to its standard name.
func tagName(id uint16) string {
	tagIndexOnce.Do(func() {
		tagIndex = exif.NewTagIndex()
	})

	tagIndexMu.Lock()
	it, err := tagIndex.Get(exifcommon.IfdStandardIfdIdentity, id)
	tagIndexMu.Unlock()
	if err == nil && it != nil {
		return it.Name
	}
	if name, ok := tiffOnlyTags[id]; ok {
		return name
	}
	return fmt.Sprintf("Tag0x%04X", id)
}

// Properties returns every field of the first image directory, in file
// order, followed by the key/value pairs of an Aperio ImageDescription.
func (s *Slide) Properties() []Property {
	d := s.tf.dirs[0]
	props := make([]Property, 0, len(d.tags))
	for _, id := range d.tags {
		e := d.entries[id]
		props = append(props, Property{
			Tag:   id,
			Name:  tagName(id),
			Value: s.tf.formatValue(e),
		})
	}
	return append(props, parseAperio(s.Description())...)
}

// Description returns the ImageDescription of the first directory, or "".
func (s *Slide) Description() string {
	e, ok := s.tf.dirs[0].entries[tagImageDesc]
	if !ok || e.typ != typeASCII {
		return ""
	}
	desc, err := s.tf.ascii(e)
	if err != nil {
		return ""
	}
	return desc
}

// parseAperio extracts "key = value" pairs from an Aperio description of the
// form "Aperio Image Library v10.0.51\r\n46920x33014 [...] |AppMag = 20|MPP = 0.499".
func parseAperio(desc string) []Property {
	if !strings.HasPrefix(desc, "Aperio") {
		return nil
	}
	parts := strings.Split(desc, "|")
	var props []Property
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		props = append(props, Property{
			Name:  AperioPrefix + key,
			Value: strings.TrimSpace(value),
		})
	}
	return props
}

// formatValue renders an entry for display. Undecodable values are shown
// as a byte count.
func (tf *tiffFile) formatValue(e entry) string {
	switch e.typ {
	case typeASCII:
		v, err := tf.ascii(e)
		if err != nil {
			return "<unreadable>"
		}
		return v
	case typeByte, typeShort, typeLong, typeLong8, typeIFD, typeIFD8:
		if e.tag == tagJPEGTables {
			break
		}
		v, err := tf.uints(e)
		if err != nil {
			return "<unreadable>"
		}
		return joinValues(len(v), func(i int) string { return strconv.FormatUint(v[i], 10) })
	case typeRational, typeSRational:
		b, err := tf.valueBytes(e)
		if err != nil {
			return "<unreadable>"
		}
		return joinValues(int(e.count), func(i int) string {
			num, den := tf.order.Uint32(b[8*i:]), tf.order.Uint32(b[8*i+4:])
			if e.typ == typeSRational {
				return fmt.Sprintf("%d/%d", int32(num), int32(den))
			}
			return fmt.Sprintf("%d/%d", num, den)
		})
	}
	size := typeSizes[e.typ]
	return fmt.Sprintf("<%d bytes>", size*e.count)
}

func joinValues(n int, format func(int) string) string {
	shown := min(n, maxListedValues)
	vals := make([]string, shown)
	for i := range vals {
		vals[i] = format(i)
	}
	out := strings.Join(vals, " ")
	if n > shown {
		out += fmt.Sprintf(" ... (%d values)", n)
	}
	return out
}
