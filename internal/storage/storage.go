// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/webgis/backend/pkg/core"
)

// ErrNotFound is returned when a row does not exist or is not visible to the caller.
var ErrNotFound = errors.New("not found")

// Backend is the interface all storage implementations must satisfy.
// Methods taking a userID only see rows of projects owned by that user.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error
	Ping(ctx context.Context) error

	// Projects
	CreateProject(ctx context.Context, p *core.Project) error
	GetProject(ctx context.Context, userID, id uint) (core.Project, error)
	UpdateProject(ctx context.Context, userID, id uint, patch core.ProjectPatch) (core.Project, error)
	DeleteProject(ctx context.Context, userID, id uint) error
	ListProjectsByType(ctx context.Context, userID uint, projectType string, active bool) ([]core.Project, error)

	// Layers
	GetActiveLayer(ctx context.Context, id uint) (core.Layer, error)
	GetOwnedLayer(ctx context.Context, userID, id uint) (core.Layer, error)
	ListProjectLayers(ctx context.Context, userID, projectID uint) ([]core.Layer, error)
	ListRecycledLayers(ctx context.Context, userID uint) ([]core.RecycledLayer, error)
	UpdateLayer(ctx context.Context, userID, id uint, patch core.LayerPatch) (core.Layer, error)
	DeleteLayer(ctx context.Context, userID, id uint) error
	SetLayerActive(ctx context.Context, userID, id uint, active bool) error

	// Features
	GetFeature(ctx context.Context, id uint) (core.Feature, error)
	UpdateFeature(ctx context.Context, userID, id uint, patch core.FeaturePatch) (core.Feature, error)
	DeleteFeature(ctx context.Context, userID, id uint) error
	ListLayersWithFeatures(ctx context.Context, layerIDs []uint) ([]core.Layer, []core.Feature, error)

	// Ingestion
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface of one upload. Everything done through it commits
// or rolls back together.
type Tx interface {
	GetOwnedProject(userID, projectID uint) (core.Project, error)
	GetOwnedLayer(userID, layerID uint) (core.Layer, error)
	CreateLayer(l *core.Layer) error
	// InsertFeatures assigns IDs and timestamps to fs in place, keeping order.
	InsertFeatures(fs []core.Feature) error
	LayerFeatures(layerID uint) ([]core.Feature, error)
	GetFeature(id uint) (core.Feature, error)
}
