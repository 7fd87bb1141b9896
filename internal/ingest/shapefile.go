package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/geo"
	"github.com/webgis/backend/pkg/core"
)

var (
	errNoShp      = errors.New("archive contains no .shp member")
	errCorruptShp = errors.New("corrupt .shp file")
)

const (
	shpHeaderLen = 100
	shpFileCode  = 9994
)

// shapefile members that are looked up by lower-case extension next to the .shp.
var shpSidecars = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

type shapefileDecoder struct {
	opts Options
}

// Decode extracts the archive into its own temporary directory and reads the
// first .shp member with its .dbf attributes. The directory is removed before
// Decode returns.
func (d *shapefileDecoder) Decode(ctx context.Context, data []byte, _ string) ([]core.RawFeature, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}
	member := firstMember(zr, ".shp")
	if member == nil {
		return nil, errNoShp
	}

	dir, err := os.MkdirTemp(d.opts.TempDir, "shp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := extractAll(zr, dir, d.opts.decompressLimit()); err != nil {
		return nil, err
	}
	shpPath, err := lowerSidecars(filepath.Join(dir, filepath.FromSlash(member.Name)))
	if err != nil {
		return nil, err
	}
	if err := checkShpHeader(shpPath); err != nil {
		return nil, err
	}
	reproject := d.opts.ReprojectWebMercator && prjIsWebMercator(shpPath)

	return d.readShapefile(ctx, shpPath, reproject)
}

// lowerSidecars renames the members sharing the .shp base name to lower-case
// extensions, which is what shp.Open looks for, and returns the new .shp path.
func lowerSidecars(shpPath string) (string, error) {
	dir := filepath.Dir(shpPath)
	base := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		lower := strings.ToLower(ext)
		if e.IsDir() || ext == lower || strings.TrimSuffix(name, ext) != base {
			continue
		}
		if !slices.Contains(shpSidecars, lower) {
			continue
		}
		target := filepath.Join(dir, base+lower)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), target); err != nil {
			return "", fmt.Errorf("rename %s: %w", name, err)
		}
	}
	return filepath.Join(dir, base+".shp"), nil
}

// checkShpHeader rejects a .shp whose main header is missing, has the wrong
// file code or declares more bytes than the file holds. shp.Open ignores all
// three and would report zero records.
func checkShpHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	var head [shpHeaderLen]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return fmt.Errorf("%w: header truncated at %d bytes", errCorruptShp, info.Size())
	}
	if code := int32(binary.BigEndian.Uint32(head[0:4])); code != shpFileCode {
		return fmt.Errorf("%w: file code %d", errCorruptShp, code)
	}
	// length is counted in 16-bit words
	declared := int64(binary.BigEndian.Uint32(head[24:28])) * 2
	if declared < shpHeaderLen || declared > info.Size() {
		return fmt.Errorf("%w: declared length %d, file has %d bytes", errCorruptShp, declared, info.Size())
	}
	return nil
}

func prjIsWebMercator(shpPath string) bool {
	b, err := os.ReadFile(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj")
	if err != nil {
		return false
	}
	return geo.IsWebMercator(string(b))
}

func (d *shapefileDecoder) readShapefile(ctx context.Context, path string, reproject bool) ([]core.RawFeature, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	var out []core.RawFeature
	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, shape := r.Shape()
		g, err := shapeGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", n, err)
		}
		if reproject {
			g = geo.WebMercatorToWGS84(g)
		}

		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[f.String()] = dbfValue(f, r.ReadAttribute(n, i))
		}
		out = append(out, core.RawFeature{Geometry: g, Properties: props})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return out, nil
}

// dbfValue types a DBF attribute by its field type. Empty values are null.
func dbfValue(f shp.Field, raw string) any {
	s := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	switch f.Fieldtype {
	case 'N':
		if s == "" {
			return nil
		}
		if f.Precision == 0 {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return s
	case 'F':
		if s == "" {
			return nil
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return s
	case 'L':
		switch strings.ToUpper(s) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		default:
			return nil
		}
	default:
		return s
	}
}

func shpXYs(points []shp.Point) []geom.XY {
	xys := make([]geom.XY, len(points))
	for i, p := range points {
		xys[i] = geom.XY{X: p.X, Y: p.Y}
	}
	return xys
}

// splitParts cuts points into the parts given by their start offsets.
func splitParts(parts []int32, points []shp.Point) [][]geom.XY {
	out := make([][]geom.XY, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		out = append(out, shpXYs(points[start:end]))
	}
	return out
}

func shapeGeometry(s shp.Shape) (geom.Geometry, error) {
	switch v := s.(type) {
	case *shp.Point:
		return geo.PointFromXY(geom.XY{X: v.X, Y: v.Y}).AsGeometry(), nil
	case *shp.PointZ:
		return geo.PointFromXY(geom.XY{X: v.X, Y: v.Y}).AsGeometry(), nil
	case *shp.PointM:
		return geo.PointFromXY(geom.XY{X: v.X, Y: v.Y}).AsGeometry(), nil
	case *shp.PolyLine:
		return lineParts(splitParts(v.Parts, v.Points))
	case *shp.PolyLineZ:
		return lineParts(splitParts(v.Parts, v.Points))
	case *shp.PolyLineM:
		return lineParts(splitParts(v.Parts, v.Points))
	case *shp.Polygon:
		return polygonParts(splitParts(v.Parts, v.Points))
	case *shp.PolygonZ:
		return polygonParts(splitParts(v.Parts, v.Points))
	case *shp.PolygonM:
		return polygonParts(splitParts(v.Parts, v.Points))
	case *shp.MultiPoint:
		return multiPoint(v.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(v.Points), nil
	case *shp.MultiPointM:
		return multiPoint(v.Points), nil
	case nil, *shp.Null:
		return geom.Geometry{}, fmt.Errorf("%w: null shape", ErrGeometry)
	default:
		return geom.Geometry{}, fmt.Errorf("%w: unsupported shape %T", ErrGeometry, s)
	}
}

func multiPoint(points []shp.Point) geom.Geometry {
	pts := make([]geom.Point, len(points))
	for i, p := range points {
		pts[i] = geo.PointFromXY(geom.XY{X: p.X, Y: p.Y})
	}
	return geom.NewMultiPoint(pts).AsGeometry()
}

func lineParts(parts [][]geom.XY) (geom.Geometry, error) {
	if len(parts) == 0 {
		return geom.Geometry{}, fmt.Errorf("%w: polyline without parts", ErrGeometry)
	}
	lss := make([]geom.LineString, len(parts))
	for i, p := range parts {
		ls, err := geo.LineStringFromXYs(p)
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("%w: %v", ErrGeometry, err)
		}
		lss[i] = ls
	}
	if len(lss) == 1 {
		return lss[0].AsGeometry(), nil
	}
	return geom.NewMultiLineString(lss).AsGeometry(), nil
}

func polygonParts(rings [][]geom.XY) (geom.Geometry, error) {
	polys, err := geo.PolygonsFromRings(rings)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	if len(polys) == 0 {
		return geom.Geometry{}, fmt.Errorf("%w: polygon without rings", ErrGeometry)
	}
	if len(polys) == 1 {
		return polys[0].AsGeometry(), nil
	}
	return geom.NewMultiPolygon(polys).AsGeometry(), nil
}
