package ingest

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/pkg/core"
)

// DefaultFeatureName is used when no name property is present.
const DefaultFeatureName = "COUNTRY"

// nameKeys lists, per format, the properties that name a feature in order of precedence.
var nameKeys = map[core.Format][]string{
	core.FormatKMZ: {"name"},
}

var defaultNameKeys = []string{"VARNAME_1"}

// Normalize turns a decoded record into a feature ready to persist: display
// name picked, properties encoded as JSON, geometry checked and flattened to 2D.
func Normalize(format core.Format, raw core.RawFeature) (core.Feature, error) {
	g, err := ValidGeometry(raw.Geometry)
	if err != nil {
		return core.Feature{}, err
	}

	props, err := json.Marshal(sanitize(propsOrEmpty(raw.Properties)))
	if err != nil {
		return core.Feature{}, fmt.Errorf("encode properties: %w", err)
	}

	name := FeatureName(format, raw.Properties)
	return core.Feature{
		Name:       &name,
		Properties: props,
		Geometry:   g,
		SRID:       core.SRID,
	}, nil
}

// NormalizeAll normalizes a batch; the first failure aborts it.
func NormalizeAll(format core.Format, raws []core.RawFeature) ([]core.Feature, error) {
	out := make([]core.Feature, len(raws))
	for i, raw := range raws {
		f, err := Normalize(format, raw)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// FeatureName picks the display name of a feature from its properties.
func FeatureName(format core.Format, props map[string]any) string {
	keys, ok := nameKeys[format]
	if !ok {
		keys = defaultNameKeys
	}
	for _, k := range keys {
		v, ok := props[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return DefaultFeatureName
}

func propsOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

// sanitize replaces non-finite floats with null so the bag encodes as JSON.
func sanitize(v any) any {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = sanitize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitize(e)
		}
		return out
	default:
		return v
	}
}

// ValidGeometry accepts the six simple geometry types, rejects empty ones and
// drops Z and M.
func ValidGeometry(g geom.Geometry) (geom.Geometry, error) {
	switch g.Type() {
	case geom.TypePoint, geom.TypeLineString, geom.TypePolygon,
		geom.TypeMultiPoint, geom.TypeMultiLineString, geom.TypeMultiPolygon:
	default:
		return geom.Geometry{}, fmt.Errorf("%w: unsupported geometry type %s", ErrGeometry, g.Type())
	}
	if g.IsEmpty() {
		return geom.Geometry{}, fmt.Errorf("%w: empty %s", ErrGeometry, g.Type())
	}
	return g.Force2D(), nil
}
