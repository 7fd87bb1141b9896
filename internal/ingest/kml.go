package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/geo"
	"github.com/webgis/backend/pkg/core"
)

// kmlNode is a generic XML element; names are compared by local name so
// namespace prefixes do not matter.
type kmlNode struct {
	XMLName xml.Name
	Text    string    `xml:",chardata"`
	Nodes   []kmlNode `xml:",any"`
}

func (n *kmlNode) child(local string) *kmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// path follows a chain of child names.
func (n *kmlNode) path(locals ...string) *kmlNode {
	cur := n
	for _, l := range locals {
		if cur = cur.child(l); cur == nil {
			return nil
		}
	}
	return cur
}

var errNoKML = errors.New("archive contains no .kml member")

type kmzDecoder struct {
	opts Options
}

func (d *kmzDecoder) Decode(ctx context.Context, data []byte, _ string) ([]core.RawFeature, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}
	member := firstMember(zr, ".kml")
	if member == nil {
		return nil, errNoKML
	}
	doc, err := readMember(member, d.opts.decompressLimit())
	if err != nil {
		return nil, err
	}
	return d.decodeKML(ctx, doc)
}

func (d *kmzDecoder) decodeKML(ctx context.Context, doc []byte) ([]core.RawFeature, error) {
	var root kmlNode
	if err := xml.NewDecoder(bytes.NewReader(doc)).Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid KML: %w", err)
	}
	w := &kmlWalker{ctx: ctx, maxDepth: d.opts.MaxKMLDepth, opts: d.opts}
	if w.maxDepth <= 0 {
		w.maxDepth = defaultMaxKMLDepth
	}
	if err := w.walk(&root, 0); err != nil {
		return nil, err
	}
	if w.dropped > 0 {
		w.opts.logger().Debug("KML placemarks dropped", "dropped", w.dropped, "kept", len(w.out))
	}
	return w.out, nil
}

type kmlWalker struct {
	ctx      context.Context
	maxDepth int
	opts     Options
	out      []core.RawFeature
	dropped  int
}

// walk visits Placemarks in document order, descending into Document and
// Folder containers up to maxDepth levels.
func (w *kmlWalker) walk(n *kmlNode, depth int) error {
	if depth > w.maxDepth {
		return fmt.Errorf("KML nesting deeper than %d levels", w.maxDepth)
	}
	for i := range n.Nodes {
		c := &n.Nodes[i]
		switch c.XMLName.Local {
		case "Placemark":
			if err := w.ctx.Err(); err != nil {
				return err
			}
			w.placemark(c)
		case "Document", "Folder":
			if err := w.walk(c, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *kmlWalker) placemark(pm *kmlNode) {
	props := map[string]any{}
	if name := pm.child("name"); name != nil {
		props["name"] = strings.TrimSpace(name.Text)
	}

	g, ok, err := placemarkGeometry(pm)
	if err != nil {
		w.dropped++
		w.opts.logger().Debug("Dropping placemark", "name", props["name"], "error", err)
		return
	}
	if !ok {
		w.dropped++
		w.opts.logger().Debug("Dropping placemark without geometry", "name", props["name"])
		return
	}
	w.out = append(w.out, core.RawFeature{Geometry: g, Properties: props})
}

// placemarkGeometry applies the Point, LineString, Polygon, MultiGeometry
// branches in that order; the first element present decides.
func placemarkGeometry(pm *kmlNode) (geom.Geometry, bool, error) {
	if n := pm.child("Point"); n != nil {
		return pointGeometry(n)
	}
	if n := pm.child("LineString"); n != nil {
		return lineGeometry(n)
	}
	if n := pm.child("Polygon"); n != nil {
		return polygonGeometry(n)
	}
	if n := pm.child("MultiGeometry"); n != nil {
		return multiGeometry(n)
	}
	return geom.Geometry{}, false, nil
}

func coordinates(n *kmlNode) ([]geom.XY, error) {
	c := n.child("coordinates")
	if c == nil {
		return nil, fmt.Errorf("%w: %s has no coordinates", ErrGeometry, n.XMLName.Local)
	}
	xys, err := geo.ParseCoordinates(c.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	return xys, nil
}

func pointGeometry(n *kmlNode) (geom.Geometry, bool, error) {
	xys, err := coordinates(n)
	if err != nil {
		return geom.Geometry{}, false, err
	}
	return geo.PointFromXY(xys[0]).AsGeometry(), true, nil
}

func lineGeometry(n *kmlNode) (geom.Geometry, bool, error) {
	xys, err := coordinates(n)
	if err != nil {
		return geom.Geometry{}, false, err
	}
	ls, err := geo.LineStringFromXYs(xys)
	if err != nil {
		return geom.Geometry{}, false, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	return ls.AsGeometry(), true, nil
}

// polygonGeometry reads the outer ring only; holes are not kept.
func polygonGeometry(n *kmlNode) (geom.Geometry, bool, error) {
	ring := n.path("outerBoundaryIs", "LinearRing")
	if ring == nil {
		return geom.Geometry{}, false, nil
	}
	xys, err := coordinates(ring)
	if err != nil {
		return geom.Geometry{}, false, err
	}
	poly, err := geo.PolygonFromRing(xys)
	if err != nil {
		return geom.Geometry{}, false, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	return poly.AsGeometry(), true, nil
}

// multiGeometry builds a Multi* geometry when every child has the same kind.
// Mixed kinds give no geometry. Nested MultiGeometry children are skipped.
func multiGeometry(n *kmlNode) (geom.Geometry, bool, error) {
	var parts []geom.Geometry
	for i := range n.Nodes {
		c := &n.Nodes[i]
		var (
			g   geom.Geometry
			ok  bool
			err error
		)
		switch c.XMLName.Local {
		case "Point":
			g, ok, err = pointGeometry(c)
		case "LineString":
			g, ok, err = lineGeometry(c)
		case "Polygon":
			g, ok, err = polygonGeometry(c)
		default:
			continue
		}
		if err != nil {
			return geom.Geometry{}, false, err
		}
		if ok {
			parts = append(parts, g)
		}
	}
	if len(parts) == 0 {
		return geom.Geometry{}, false, nil
	}

	kind := parts[0].Type()
	for _, p := range parts[1:] {
		if p.Type() != kind {
			return geom.Geometry{}, false, nil
		}
	}

	switch kind {
	case geom.TypePoint:
		pts := make([]geom.Point, len(parts))
		for i, p := range parts {
			pts[i], _ = p.AsPoint()
		}
		return geom.NewMultiPoint(pts).AsGeometry(), true, nil
	case geom.TypeLineString:
		lss := make([]geom.LineString, len(parts))
		for i, p := range parts {
			lss[i], _ = p.AsLineString()
		}
		return geom.NewMultiLineString(lss).AsGeometry(), true, nil
	default:
		polys := make([]geom.Polygon, len(parts))
		for i, p := range parts {
			polys[i], _ = p.AsPolygon()
		}
		return geom.NewMultiPolygon(polys).AsGeometry(), true, nil
	}
}
