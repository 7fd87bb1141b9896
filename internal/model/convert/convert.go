// Package convert provides functions to convert GORM models to core models
package convert

import (
	"github.com/webgis/backend/internal/model"
	"github.com/webgis/backend/pkg/core"
)

// ProjectToCore converts a GORM Project to a core.Project.
func ProjectToCore(p model.Project) core.Project {
	return core.Project{
		ID:        p.ID,
		UserID:    p.UserID,
		Name:      p.Name,
		Type:      p.Type,
		Image:     p.Image,
		Active:    p.Active,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// LayerToCore converts a GORM Layer to a core.Layer.
func LayerToCore(l model.Layer) core.Layer {
	return core.Layer{
		ID:          l.ID,
		ProjectID:   l.ProjectID,
		Name:        l.Name,
		Fill:        l.Fill,
		Stroke:      l.Stroke,
		StrokeWidth: l.StrokeWidth,
		ZIndex:      l.ZIndex,
		Type:        l.Type,
		Active:      l.Active,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// FeatureToCore converts a GORM Feature to a core.Feature.
// An empty properties column becomes "{}".
func FeatureToCore(f model.Feature) core.Feature {
	props := []byte(f.Properties)
	if len(props) == 0 || string(props) == "null" {
		props = []byte("{}")
	}
	return core.Feature{
		ID:            f.ID,
		LayerID:       f.LayerID,
		Name:          f.Name,
		Properties:    props,
		Geometry:      f.Geom.Geometry,
		SRID:          core.SRID,
		FeatureFill:   f.FeatureFill,
		FeatureStroke: f.FeatureStroke,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

// FeaturesToCore converts a slice, keeping order.
func FeaturesToCore(fs []model.Feature) []core.Feature {
	out := make([]core.Feature, len(fs))
	for i, f := range fs {
		out[i] = FeatureToCore(f)
	}
	return out
}

// LayersToCore converts a slice, keeping order.
func LayersToCore(ls []model.Layer) []core.Layer {
	out := make([]core.Layer, len(ls))
	for i, l := range ls {
		out[i] = LayerToCore(l)
	}
	return out
}
