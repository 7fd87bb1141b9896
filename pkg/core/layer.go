// pkg/core/layer.go
package core

import "time"

// DefaultLayerType is the type tag given to layers created by users.
const DefaultLayerType = "L001"

// Layer is a styled container of features inside a project
type Layer struct {
	ID          uint
	ProjectID   uint
	Name        string
	Fill        *string
	Stroke      *string
	StrokeWidth *int
	ZIndex      *int
	Type        string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LayerType is a row of the layer type lookup table
type LayerType struct {
	ID   string
	Name string
}

// LayerPatch carries the optional fields of a layer update.
type LayerPatch struct {
	Name        *string
	Fill        *string
	Stroke      *string
	StrokeWidth *int
}

// RecycledLayer is a deactivated layer listed with its project's name
type RecycledLayer struct {
	Layer
	ProjectName string
}
