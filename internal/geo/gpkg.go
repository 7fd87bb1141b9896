package geo

import (
	"encoding/binary"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// envelope sizes indexed by the GeoPackage envelope contents indicator
var gpkgEnvelopeSizes = [...]int{0, 32, 48, 48, 64}

// ParseGPKGBinary decodes a GeoPackage geometry blob: a "GP" header, an optional
// envelope and a standard WKB body. It returns the geometry and the header SRS id.
func ParseGPKGBinary(b []byte) (geom.Geometry, int32, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return geom.Geometry{}, 0, fmt.Errorf("%w: missing GeoPackage header", ErrInvalidWKB)
	}
	flags := b[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(b[4:8]))

	indicator := int(flags>>1) & 0x07
	if indicator >= len(gpkgEnvelopeSizes) {
		return geom.Geometry{}, 0, fmt.Errorf("%w: envelope indicator %d", ErrInvalidWKB, indicator)
	}
	offset := 8 + gpkgEnvelopeSizes[indicator]
	if len(b) < offset {
		return geom.Geometry{}, 0, ErrInvalidWKB
	}

	// Flag bit 4 marks an empty geometry; the WKB body still follows.
	g, err := geom.UnmarshalWKB(b[offset:])
	if err != nil {
		return geom.Geometry{}, 0, fmt.Errorf("%w: %v", ErrInvalidWKB, err)
	}
	return g, srsID, nil
}
