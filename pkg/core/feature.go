// pkg/core/feature.go
package core

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
)

// SRID is the spatial reference every stored geometry is tagged with (WGS84).
const SRID = 4326

// Feature is a single geometry with attributes, owned by exactly one layer
type Feature struct {
	ID            uint
	LayerID       uint
	Name          *string
	Properties    []byte // encoded JSON object
	Geometry      geom.Geometry
	SRID          int
	FeatureFill   *string
	FeatureStroke *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeaturePatch carries the optional fields of a feature update.
type FeaturePatch struct {
	Name          *string
	Properties    []byte
	FeatureFill   *string
	FeatureStroke *string
	Geometry      *geom.Geometry
}

// RawFeature is a decoded geometry and its property bag before normalization.
type RawFeature struct {
	Geometry   geom.Geometry
	Properties map[string]any
}
