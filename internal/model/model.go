package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema.
// Order matters: referenced tables are migrated first.
var DatabaseModels = []interface{}{
	&ProjectType{},
	&LayerType{},
	&Project{},
	&Layer{},
	&Feature{},
}

////////////////////////
// LOOKUP TABLES
////////////////////////

// ProjectType is a project category, e.g. "P001"
type ProjectType struct {
	ID   string `json:"project_type_id" gorm:"column:project_type_id;primaryKey;size:10"`
	Name string `json:"project_type" gorm:"column:project_type;size:50;not null;uniqueIndex"`
}

func (*ProjectType) TableName() string {
	return "project_types"
}

// LayerType is a layer category, e.g. "L001" for user layers
type LayerType struct {
	ID   string `json:"layer_type_id" gorm:"column:layer_type_id;primaryKey;size:10"`
	Name string `json:"layer_type" gorm:"column:layer_type;size:50;not null;uniqueIndex"`
}

func (*LayerType) TableName() string {
	return "layer_types"
}

////////////////////////
// WORKSPACE MODELS
////////////////////////

// Project is a user's workspace. Deleting it deletes its layers.
type Project struct {
	ID        uint      `json:"project_id" gorm:"column:project_id;primaryKey;autoIncrement"`
	UserID    uint      `json:"user_id" gorm:"index:idx_project_user"`
	Name      string    `json:"project_name" gorm:"column:project_name;size:255;not null"`
	Image     []byte    `json:"project_img" gorm:"column:project_img"`
	Type      string    `json:"project_type" gorm:"column:project_type;size:10;index:idx_project_type"`
	Active    bool      `json:"project_status" gorm:"column:project_status;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Layers    []Layer   `json:"-" gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*Project) TableName() string {
	return "projects"
}

// Layer is a styled set of features inside a project. Deleting it deletes its features.
type Layer struct {
	ID          uint      `json:"layer_id" gorm:"column:layer_id;primaryKey;autoIncrement"`
	ProjectID   uint      `json:"project_id" gorm:"index:idx_layer_project"`
	Name        string    `json:"layer_name" gorm:"column:layer_name;size:255;not null"`
	Fill        *string   `json:"fill" gorm:"size:10"`
	Stroke      *string   `json:"stroke" gorm:"size:10"`
	StrokeWidth *int      `json:"stroke_width"`
	ZIndex      *int      `json:"z_index"`                                                        // draw order, "priority" on upload forms
	Type        string    `json:"layer_type" gorm:"column:layer_type;size:10;default:L001"`       // layer_types.layer_type_id
	Active      bool      `json:"user_layer_status" gorm:"column:user_layer_status;default:true"` // false while in the recycle bin
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Features    []Feature `json:"-" gorm:"foreignKey:LayerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*Layer) TableName() string {
	return "layers"
}

// Feature is one geometry with its attribute bag
type Feature struct {
	ID            uint           `json:"feature_id" gorm:"column:feature_id;primaryKey;autoIncrement"`
	LayerID       uint           `json:"layer_id" gorm:"index:idx_feature_layer"`
	Name          *string        `json:"feature_name" gorm:"column:feature_name;size:255"`
	Properties    datatypes.JSON `json:"properties"`
	FeatureFill   *string        `json:"feature_fill" gorm:"size:10"`
	FeatureStroke *string        `json:"feature_stroke" gorm:"size:10"`
	Geom          Geometry       `json:"geom" gorm:"column:geom;not null"` // SRID 4326
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (*Feature) TableName() string {
	return "features"
}
