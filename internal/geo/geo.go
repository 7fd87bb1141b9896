package geo

import (
	"errors"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Geometries are stored in EPSG:4326 and travel as WKB. Sources are assumed to be
// in 4326 already; the only transform offered is Web Mercator back to 4326.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// XYFromTuple parses a single "long,lat" or "long,lat,elev" tuple. Anything after
// the second component is ignored.
func XYFromTuple(tuple string) (geom.XY, error) {
	parts := strings.Split(strings.TrimSpace(tuple), ",")
	if len(parts) < 2 {
		return geom.XY{}, ErrInvalidCoordinates
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geom.XY{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geom.XY{}, ErrInvalidCoordinates
	}
	return geom.XY{X: long, Y: lat}, nil
}

// ParseCoordinates parses KML coordinate text: whitespace separated tuples.
func ParseCoordinates(text string) ([]geom.XY, error) {
	tuples := strings.Fields(text)
	if len(tuples) == 0 {
		return nil, ErrInvalidCoordinates
	}
	out := make([]geom.XY, 0, len(tuples))
	for _, t := range tuples {
		xy, err := XYFromTuple(t)
		if err != nil {
			return nil, err
		}
		out = append(out, xy)
	}
	return out, nil
}

// IsWebMercator reports whether a CRS name or WKT projection string refers to
// EPSG:3857 or one of its aliases.
func IsWebMercator(name string) bool {
	n := strings.ToLower(name)
	for _, alias := range []string{"3857", "900913", "3785", "web_mercator", "pseudo-mercator", "pseudo_mercator"} {
		if strings.Contains(n, alias) {
			return true
		}
	}
	return false
}

// WebMercatorToWGS84 reprojects every vertex of g from EPSG:3857 to EPSG:4326.
func WebMercatorToWGS84(g geom.Geometry) geom.Geometry {
	f := wgs84.EPSG().Transform(3857, 4326)
	return MapXY(g, func(xy geom.XY) geom.XY {
		x, y, _ := f(xy.X, xy.Y, 0)
		return geom.XY{X: x, Y: y}
	})
}
