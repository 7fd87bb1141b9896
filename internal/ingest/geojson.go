package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/geo"
	"github.com/webgis/backend/pkg/core"
)

type geoJSONDocument struct {
	Features []geoJSONFeature `json:"features"`
	CRS      *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

type geoJSONFeature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geoJSONDecoder struct {
	opts Options
}

// Decode reads a FeatureCollection. A document without a "features" member
// yields no records.
func (d *geoJSONDecoder) Decode(ctx context.Context, data []byte, _ string) ([]core.RawFeature, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc geoJSONDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	reproject := d.opts.ReprojectWebMercator && doc.CRS != nil && geo.IsWebMercator(doc.CRS.Properties.Name)

	out := make([]core.RawFeature, 0, len(doc.Features))
	for i, f := range doc.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := parseGeoJSONGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if reproject {
			g = geo.WebMercatorToWGS84(g)
		}
		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, core.RawFeature{Geometry: g, Properties: props})
	}
	return out, nil
}

func parseGeoJSONGeometry(raw json.RawMessage) (geom.Geometry, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return geom.Geometry{}, fmt.Errorf("%w: geometry is missing", ErrGeometry)
	}
	g, err := geom.UnmarshalGeoJSON(raw)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	return g, nil
}
