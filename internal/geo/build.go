package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// PointFromXY builds a 2D point.
func PointFromXY(xy geom.XY) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: xy, Type: geom.DimXY})
}

// LineStringFromXYs builds a 2D line string from an ordered list of vertices.
func LineStringFromXYs(xys []geom.XY) (geom.LineString, error) {
	if len(xys) < 2 {
		return geom.LineString{}, fmt.Errorf("line string must have at least 2 points, got %d", len(xys))
	}
	return geom.NewLineString(sequenceOf(xys)), nil
}

// PolygonFromRing builds a 2D polygon from its outer ring. An open ring is closed.
func PolygonFromRing(ring []geom.XY) (geom.Polygon, error) {
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring[:len(ring):len(ring)], ring[0])
	}
	if len(ring) < 4 {
		return geom.Polygon{}, fmt.Errorf("polygon ring must have at least 4 points, got %d", len(ring))
	}
	return geom.NewPolygon([]geom.LineString{geom.NewLineString(sequenceOf(ring))}), nil
}

// PolygonsFromRings groups shapefile-style rings into polygons: a clockwise
// ring starts a new polygon, a counter-clockwise ring is a hole of the
// polygon before it. A leading hole is promoted to an outer ring.
func PolygonsFromRings(rings [][]geom.XY) ([]geom.Polygon, error) {
	var groups [][]geom.LineString
	for i, ring := range rings {
		if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
			ring = append(ring[:len(ring):len(ring)], ring[0])
		}
		if len(ring) < 4 {
			return nil, fmt.Errorf("ring %d must have at least 4 points, got %d", i, len(ring))
		}
		ls := geom.NewLineString(sequenceOf(ring))
		if signedArea(ring) < 0 || len(groups) == 0 {
			groups = append(groups, []geom.LineString{ls})
			continue
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], ls)
	}
	polys := make([]geom.Polygon, len(groups))
	for i, g := range groups {
		polys[i] = geom.NewPolygon(g)
	}
	return polys, nil
}

// signedArea is positive for counter-clockwise rings.
func signedArea(ring []geom.XY) float64 {
	var sum float64
	for i := 0; i+1 < len(ring); i++ {
		sum += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return sum / 2
}

func sequenceOf(xys []geom.XY) geom.Sequence {
	flat := make([]float64, 0, len(xys)*2)
	for _, xy := range xys {
		flat = append(flat, xy.X, xy.Y)
	}
	return geom.NewSequence(flat, geom.DimXY)
}

func xysOf(seq geom.Sequence) []geom.XY {
	out := make([]geom.XY, seq.Length())
	for i := range out {
		out[i] = seq.GetXY(i)
	}
	return out
}

// MapXY rebuilds g as a 2D geometry with fn applied to every vertex. Geometry
// collections and empty geometries are returned unchanged.
func MapXY(g geom.Geometry, fn func(geom.XY) geom.XY) geom.Geometry {
	if g.IsEmpty() {
		return g
	}
	mapSeq := func(seq geom.Sequence) geom.Sequence {
		xys := xysOf(seq)
		for i := range xys {
			xys[i] = fn(xys[i])
		}
		return sequenceOf(xys)
	}
	mapLS := func(ls geom.LineString) geom.LineString {
		return geom.NewLineString(mapSeq(ls.Coordinates()))
	}
	mapPoly := func(p geom.Polygon) geom.Polygon {
		rings := []geom.LineString{mapLS(p.ExteriorRing())}
		for i := 0; i < p.NumInteriorRings(); i++ {
			rings = append(rings, mapLS(p.InteriorRingN(i)))
		}
		return geom.NewPolygon(rings)
	}

	if pt, ok := g.AsPoint(); ok {
		xy, ok := pt.XY()
		if !ok {
			return g
		}
		return PointFromXY(fn(xy)).AsGeometry()
	}
	if ls, ok := g.AsLineString(); ok {
		return mapLS(ls).AsGeometry()
	}
	if p, ok := g.AsPolygon(); ok {
		return mapPoly(p).AsGeometry()
	}
	if mp, ok := g.AsMultiPoint(); ok {
		pts := make([]geom.Point, 0, mp.NumPoints())
		for i := 0; i < mp.NumPoints(); i++ {
			if xy, ok := mp.PointN(i).XY(); ok {
				pts = append(pts, PointFromXY(fn(xy)))
			}
		}
		return geom.NewMultiPoint(pts).AsGeometry()
	}
	if mls, ok := g.AsMultiLineString(); ok {
		lss := make([]geom.LineString, mls.NumLineStrings())
		for i := range lss {
			lss[i] = mapLS(mls.LineStringN(i))
		}
		return geom.NewMultiLineString(lss).AsGeometry()
	}
	if mp, ok := g.AsMultiPolygon(); ok {
		polys := make([]geom.Polygon, mp.NumPolygons())
		for i := range polys {
			polys[i] = mapPoly(mp.PolygonN(i))
		}
		return geom.NewMultiPolygon(polys).AsGeometry()
	}
	return g
}
