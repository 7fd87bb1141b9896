package geo

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

const (
	ewkbSRIDFlag = 0x20000000
	ewkbZFlag    = 0x80000000
	ewkbMFlag    = 0x40000000
)

// ErrInvalidWKB is returned for truncated or malformed binary geometries.
var ErrInvalidWKB = errors.New("invalid WKB")

// StripEWKB converts PostGIS extended WKB into ISO WKB. The embedded SRID, if
// any, is returned alongside. Plain WKB passes through with srid 0.
func StripEWKB(b []byte) (wkb []byte, srid int, err error) {
	if len(b) < 5 {
		return nil, 0, ErrInvalidWKB
	}
	var order binary.ByteOrder
	switch b[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return nil, 0, fmt.Errorf("%w: byte order marker %d", ErrInvalidWKB, b[0])
	}

	typ := order.Uint32(b[1:5])
	if typ&(ewkbSRIDFlag|ewkbZFlag|ewkbMFlag) == 0 {
		return b, 0, nil
	}

	rest := b[5:]
	if typ&ewkbSRIDFlag != 0 {
		if len(rest) < 4 {
			return nil, 0, ErrInvalidWKB
		}
		srid = int(order.Uint32(rest[:4]))
		rest = rest[4:]
	}

	// ISO WKB encodes dimensionality as +1000/+2000/+3000 on the type code.
	iso := typ &^ (ewkbSRIDFlag | ewkbZFlag | ewkbMFlag)
	switch {
	case typ&ewkbZFlag != 0 && typ&ewkbMFlag != 0:
		iso += 3000
	case typ&ewkbZFlag != 0:
		iso += 1000
	case typ&ewkbMFlag != 0:
		iso += 2000
	}
	if iso%1000 > 3 && typ&(ewkbZFlag|ewkbMFlag) != 0 {
		// Multi geometries repeat a header per member; PostGIS never sets the
		// SRID flag there but does set Z/M, so they need rewriting as well.
		return nil, 0, fmt.Errorf("%w: multi geometries with Z/M flags are not supported", ErrInvalidWKB)
	}

	out := make([]byte, 0, 5+len(rest))
	out = append(out, b[0], 0, 0, 0, 0)
	order.PutUint32(out[1:5], iso)
	out = append(out, rest...)
	return out, srid, nil
}

// DecodeStored turns a value read from a geometry column into a geometry. It
// accepts raw (E)WKB and hex encoded (E)WKB, which is how PostGIS returns it.
func DecodeStored(src any) (geom.Geometry, int, error) {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return geom.Geometry{}, 0, nil
	default:
		return geom.Geometry{}, 0, fmt.Errorf("unsupported geometry column value %T", src)
	}
	if len(raw) == 0 {
		return geom.Geometry{}, 0, nil
	}
	if raw[0] == '0' {
		dec := make([]byte, hex.DecodedLen(len(raw)))
		if _, err := hex.Decode(dec, raw); err != nil {
			return geom.Geometry{}, 0, fmt.Errorf("%w: %v", ErrInvalidWKB, err)
		}
		raw = dec
	}
	wkb, srid, err := StripEWKB(raw)
	if err != nil {
		return geom.Geometry{}, 0, err
	}
	g, err := geom.UnmarshalWKB(wkb)
	if err != nil {
		return geom.Geometry{}, 0, fmt.Errorf("%w: %v", ErrInvalidWKB, err)
	}
	return g, srid, nil
}
