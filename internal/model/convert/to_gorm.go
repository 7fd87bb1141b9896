// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"github.com/webgis/backend/internal/model"
	"github.com/webgis/backend/pkg/core"
	"gorm.io/datatypes"
)

// CoreToProject converts a core.Project to a GORM model.Project.
func CoreToProject(p core.Project) model.Project {
	return model.Project{
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

// CoreToLayer converts a core.Layer to a GORM model.Layer.
// An empty type tag falls back to core.DefaultLayerType.
func CoreToLayer(l core.Layer) model.Layer {
	layerType := l.Type
	if layerType == "" {
		layerType = core.DefaultLayerType
	}
	return model.Layer{
		ID:          l.ID,
		ProjectID:   l.ProjectID,
		Name:        l.Name,
		Fill:        l.Fill,
		Stroke:      l.Stroke,
		StrokeWidth: l.StrokeWidth,
		ZIndex:      l.ZIndex,
		Type:        layerType,
		Active:      l.Active,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// CoreToFeature converts a core.Feature to a GORM model.Feature.
func CoreToFeature(f core.Feature) model.Feature {
	props := datatypes.JSON(f.Properties)
	if len(props) == 0 {
		props = datatypes.JSON("{}")
	}
	return model.Feature{
		ID:            f.ID,
		LayerID:       f.LayerID,
		Name:          f.Name,
		Properties:    props,
		FeatureFill:   f.FeatureFill,
		FeatureStroke: f.FeatureStroke,
		Geom:          model.NewGeometry(f.Geometry),
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

// CoreToFeatures converts a slice, keeping order.
func CoreToFeatures(fs []core.Feature) []model.Feature {
	out := make([]model.Feature, len(fs))
	for i, f := range fs {
		out[i] = CoreToFeature(f)
	}
	return out
}
