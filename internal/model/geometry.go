package model

import (
	"context"
	"database/sql/driver"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/geo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Geometry is a geometry column tagged SRID 4326. On Postgres it is a PostGIS
// geometry(Geometry,4326); on SQLite the WKB is stored as a blob.
type Geometry struct {
	geom.Geometry
}

// NewGeometry wraps g for storage.
func NewGeometry(g geom.Geometry) Geometry {
	return Geometry{Geometry: g}
}

func (Geometry) GormDataType() string {
	return "geometry"
}

func (Geometry) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "geometry(Geometry,4326)"
	}
	return "blob"
}

// wkbParam binds WKB as one parameter. A bare []byte placed right after "("
// in a clause.Expr is expanded by gorm into one parameter per byte.
type wkbParam []byte

func (p wkbParam) Value() (driver.Value, error) {
	return []byte(p), nil
}

// GormValue writes WKB, letting PostGIS attach the SRID.
func (g Geometry) GormValue(_ context.Context, db *gorm.DB) clause.Expr {
	wkb := wkbParam(g.Geometry.AsBinary())
	if db.Dialector.Name() == "postgres" {
		return clause.Expr{SQL: "ST_SetSRID(ST_GeomFromWKB(?), 4326)", Vars: []interface{}{wkb}}
	}
	return clause.Expr{SQL: "?", Vars: []interface{}{wkb}}
}

// Scan reads WKB, EWKB or hex EWKB.
func (g *Geometry) Scan(src interface{}) error {
	decoded, _, err := geo.DecodeStored(src)
	if err != nil {
		return fmt.Errorf("scan geometry: %w", err)
	}
	g.Geometry = decoded
	return nil
}

func (g Geometry) Value() (driver.Value, error) {
	return g.Geometry.AsBinary(), nil
}
