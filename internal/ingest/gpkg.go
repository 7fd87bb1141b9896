package ingest

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/geo"
	"github.com/webgis/backend/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const webMercatorSRS = 3857

var errNoFeatureTable = errors.New("geopackage has no features table")

type gpkgDecoder struct {
	opts Options
}

// gpkgLayer describes the feature table read from a GeoPackage.
type gpkgLayer struct {
	Table      string
	GeomColumn string
	SRSID      int32
	PKColumn   string
}

func (d *gpkgDecoder) Decode(ctx context.Context, data []byte, _ string) ([]core.RawFeature, error) {
	dir, err := os.MkdirTemp(d.opts.TempDir, "gpkg-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "upload.gpkg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	db = db.WithContext(ctx)
	layer, err := readGPKGLayer(db)
	if err != nil {
		return nil, err
	}
	return d.readFeatures(ctx, db, layer)
}

func readGPKGLayer(db *gorm.DB) (gpkgLayer, error) {
	var layer gpkgLayer
	err := db.Raw(`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY rowid LIMIT 1`).
		Row().Scan(&layer.Table)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return layer, errNoFeatureTable
		}
		return layer, fmt.Errorf("read gpkg_contents: %w", err)
	}

	err = db.Raw(`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, layer.Table).
		Row().Scan(&layer.GeomColumn, &layer.SRSID)
	if err != nil {
		return layer, fmt.Errorf("read geometry column of %s: %w", layer.Table, err)
	}

	var pk []string
	if err := db.Raw(`SELECT name FROM pragma_table_info(?) WHERE pk > 0`, layer.Table).Scan(&pk).Error; err != nil {
		return layer, fmt.Errorf("read primary key of %s: %w", layer.Table, err)
	}
	if len(pk) == 1 {
		layer.PKColumn = pk[0]
	}
	return layer, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// readFeatures returns the rows of the feature table in rowid order. The
// geometry and primary key columns are not copied into the properties.
func (d *gpkgDecoder) readFeatures(ctx context.Context, db *gorm.DB, layer gpkgLayer) ([]core.RawFeature, error) {
	rows, err := db.Raw(fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", quoteIdent(layer.Table))).Rows()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", layer.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []core.RawFeature
	for n := 0; rows.Next(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}

		var (
			g     geom.Geometry
			found bool
		)
		props := make(map[string]any, len(cols))
		for i, col := range cols {
			switch {
			case strings.EqualFold(col, layer.GeomColumn):
				g, err = d.rowGeometry(values[i], layer.SRSID)
				if err != nil {
					return nil, fmt.Errorf("row %d: %w", n, err)
				}
				found = true
			case layer.PKColumn != "" && strings.EqualFold(col, layer.PKColumn):
			default:
				props[col] = gpkgValue(values[i])
			}
		}
		if !found {
			return nil, fmt.Errorf("row %d: %w: column %s missing", n, ErrGeometry, layer.GeomColumn)
		}
		out = append(out, core.RawFeature{Geometry: g, Properties: props})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *gpkgDecoder) rowGeometry(v any, tableSRS int32) (geom.Geometry, error) {
	blob, ok := v.([]byte)
	if !ok || len(blob) == 0 {
		return geom.Geometry{}, fmt.Errorf("%w: geometry is missing", ErrGeometry)
	}
	g, srs, err := geo.ParseGPKGBinary(blob)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	if srs <= 0 {
		srs = tableSRS
	}
	if d.opts.ReprojectWebMercator && srs == webMercatorSRS {
		g = geo.WebMercatorToWGS84(g)
	}
	return g, nil
}

// gpkgValue turns a scanned column value into something JSON can carry.
func gpkgValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}
