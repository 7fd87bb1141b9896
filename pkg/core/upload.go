// pkg/core/upload.go
package core

// Format identifies the decoder for an uploaded file
type Format string

const (
	FormatGeoJSON     Format = "geojson"
	FormatKMZ         Format = "kmz"
	FormatGPKG        Format = "gpkg"
	FormatShapefile   Format = "zip"
	FormatUnsupported Format = "unsupported"
)

// LayerUploadForm is the JSON "form" field of a new-layer upload.
type LayerUploadForm struct {
	Name               string  `json:"name" validate:"required,max=255"`
	FillColor          *string `json:"fill_color" validate:"omitempty,max=10"`
	StrokeColor        *string `json:"stroke_color" validate:"omitempty,max=10"`
	StrokeWidth        *int    `json:"stroke_width" validate:"omitempty,min=0"`
	Priority           *int    `json:"priority" validate:"required"`
	ProjectID          uint    `json:"project_id" validate:"required"`
	LayerCommunityID   *uint   `json:"layer_community_id"`
	FeatureCommunityID *uint   `json:"feature_community_id"`
}

// FeatureUploadForm is the JSON "form" field of an upload into an existing layer.
type FeatureUploadForm struct {
	LayerID            uint  `json:"layer_id" validate:"required"`
	LayerCommunityID   *uint `json:"layer_community_id"`
	FeatureCommunityID *uint `json:"feature_community_id"`
}

// Source describes where the features of an upload come from. At most one of
// File, LayerCommunityID and FeatureCommunityID is used, in that order.
type Source struct {
	File               *UploadFile
	LayerCommunityID   *uint
	FeatureCommunityID *uint
}

// UploadFile is an uploaded file held in memory.
type UploadFile struct {
	Filename string
	Data     []byte
}

// UploadResult is what an ingestion reports on success.
type UploadResult struct {
	UploadID string
	Layer    Layer
	Features []Feature
}

// DrawnFeature is a feature drawn on the map client, as a GeoJSON feature object.
type DrawnFeature struct {
	LayerID uint           `json:"layer_id" validate:"required"`
	Feature map[string]any `json:"feature" validate:"required"`
}
