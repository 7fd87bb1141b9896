package api

import (
	"encoding/base64"
	"time"

	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/pkg/core"
)

type projectRequest struct {
	Name  string  `json:"project_name" validate:"required,max=255"`
	Type  string  `json:"project_type" validate:"required,max=10"`
	Image *string `json:"project_img"`
}

type projectUpdateRequest struct {
	Name  *string `json:"project_name" validate:"omitempty,min=1,max=255"`
	Type  *string `json:"project_type" validate:"omitempty,min=1,max=10"`
	Image *string `json:"project_img"`
}

type projectResponse struct {
	ID        uint      `json:"project_id"`
	Name      string    `json:"project_name"`
	Type      string    `json:"project_type"`
	Image     string    `json:"project_img,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProjectResponse(p core.Project) projectResponse {
	out := projectResponse{
		ID:        p.ID,
		Name:      p.Name,
		Type:      p.Type,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if len(p.Image) > 0 {
		out.Image = base64.StdEncoding.EncodeToString(p.Image)
	}
	return out
}

type layerUpdateRequest struct {
	Name        *string `json:"layer_name" validate:"omitempty,min=1,max=255"`
	Fill        *string `json:"fill" validate:"omitempty,max=10"`
	Stroke      *string `json:"stroke" validate:"omitempty,max=10"`
	StrokeWidth *int    `json:"stroke_width" validate:"omitempty,min=0"`
}

type layerResponse struct {
	ID          uint      `json:"layer_id"`
	ProjectID   uint      `json:"project_id"`
	ProjectName *string   `json:"project_name,omitempty"`
	Name        string    `json:"layer_name"`
	Fill        *string   `json:"fill"`
	Stroke      *string   `json:"stroke"`
	StrokeWidth *int      `json:"stroke_width"`
	ZIndex      *int      `json:"z_index"`
	Type        string    `json:"layer_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toLayerResponse(l core.Layer) layerResponse {
	return layerResponse{
		ID:          l.ID,
		ProjectID:   l.ProjectID,
		Name:        l.Name,
		Fill:        l.Fill,
		Stroke:      l.Stroke,
		StrokeWidth: l.StrokeWidth,
		ZIndex:      l.ZIndex,
		Type:        l.Type,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// layerSummary is the short layer form used in upload and grouped responses.
type layerSummary struct {
	ID          uint    `json:"id"`
	Name        string  `json:"name"`
	Fill        *string `json:"fill"`
	Stroke      *string `json:"stroke"`
	StrokeWidth *int    `json:"stroke_width"`
	Priority    *int    `json:"priority"`
}

func toLayerSummary(l core.Layer) layerSummary {
	return layerSummary{
		ID:          l.ID,
		Name:        l.Name,
		Fill:        l.Fill,
		Stroke:      l.Stroke,
		StrokeWidth: l.StrokeWidth,
		Priority:    l.ZIndex,
	}
}

type featureSummary struct {
	ID         uint            `json:"feature_id"`
	LayerID    uint            `json:"layer_id"`
	Name       *string         `json:"name"`
	Properties json.RawMessage `json:"properties"`
	Geom       geom.Geometry   `json:"geom"`
}

func toFeatureSummary(f core.Feature) featureSummary {
	return featureSummary{
		ID:         f.ID,
		LayerID:    f.LayerID,
		Name:       f.Name,
		Properties: propertiesJSON(f.Properties),
		Geom:       f.Geometry,
	}
}

func propertiesJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}

type uploadResponse struct {
	Message      string           `json:"message"`
	UploadID     string           `json:"upload_id"`
	Layer        layerSummary     `json:"layer"`
	FeatureCount int              `json:"feature_count"`
	Features     []featureSummary `json:"features"`
}

func toUploadResponse(msg string, res core.UploadResult) uploadResponse {
	features := make([]featureSummary, len(res.Features))
	for i, f := range res.Features {
		features[i] = toFeatureSummary(f)
	}
	return uploadResponse{
		Message:      msg,
		UploadID:     res.UploadID,
		Layer:        toLayerSummary(res.Layer),
		FeatureCount: len(res.Features),
		Features:     features,
	}
}

type layerGroup struct {
	Layer    layerSummary     `json:"layer"`
	Features []featureSummary `json:"features"`
}

type featureResponse struct {
	ID            uint            `json:"feature_id"`
	LayerID       uint            `json:"layer_id"`
	Name          *string         `json:"feature_name"`
	Properties    json.RawMessage `json:"properties"`
	Geom          geom.Geometry   `json:"geom"`
	FeatureFill   *string         `json:"feature_fill"`
	FeatureStroke *string         `json:"feature_stroke"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toFeatureResponse(f core.Feature) featureResponse {
	return featureResponse{
		ID:            f.ID,
		LayerID:       f.LayerID,
		Name:          f.Name,
		Properties:    propertiesJSON(f.Properties),
		Geom:          f.Geometry,
		FeatureFill:   f.FeatureFill,
		FeatureStroke: f.FeatureStroke,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

// featureUpdateRequest accepts geom as a GeoJSON geometry object or a WKT string.
type featureUpdateRequest struct {
	Name          *string         `json:"feature_name" validate:"omitempty,max=255"`
	Properties    json.RawMessage `json:"properties"`
	FeatureFill   *string         `json:"feature_fill" validate:"omitempty,max=10"`
	FeatureStroke *string         `json:"feature_stroke" validate:"omitempty,max=10"`
	Geom          json.RawMessage `json:"geom"`
}

type drawnFeatureResponse struct {
	ID      uint `json:"feature_id"`
	LayerID uint `json:"layer_id"`
}
