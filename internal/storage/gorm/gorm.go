// Package gormstorage implements the storage.Backend interface using GORM.
// It works against PostGIS and against SQLite, where geometries are kept as WKB blobs.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/webgis/backend/internal/database"
	"github.com/webgis/backend/internal/logging"
	"github.com/webgis/backend/internal/model"
	"github.com/webgis/backend/internal/model/convert"
	"github.com/webgis/backend/internal/storage"
	"github.com/webgis/backend/pkg/core"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps Dependencies
	db   *gorm.DB
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps: deps,
		db:   deps.DB,
	}
}

func (b *Backend) log() *slog.Logger {
	if b.deps.LogManager == nil {
		return slog.Default()
	}
	return b.deps.LogManager.Logger()
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return fmt.Errorf("gorm backend: no database connection")
	}
	if err := database.Migrate(b.db); err != nil {
		return err
	}
	b.log().Debug("Storage backend ready", "dialect", b.db.Dialector.Name())
	return nil
}

// Close is a no-op; the connection belongs to the database manager.
func (b *Backend) Close() error {
	return nil
}

// Ping checks the underlying connection.
func (b *Backend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// wrap maps gorm.ErrRecordNotFound to storage.ErrNotFound.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ownedProjectIDs is a subquery of the project ids owned by userID.
func ownedProjectIDs(db *gorm.DB, userID uint) *gorm.DB {
	return db.Model(&model.Project{}).Select("project_id").Where("user_id = ?", userID)
}

// ownedLayerIDs is a subquery of the layer ids inside projects owned by userID.
func ownedLayerIDs(db *gorm.DB, userID uint) *gorm.DB {
	return db.Model(&model.Layer{}).Select("layer_id").Where("project_id IN (?)", ownedProjectIDs(db, userID))
}

////////////////////////
// PROJECTS
////////////////////////

// CreateProject inserts p and fills in its ID and timestamps.
func (b *Backend) CreateProject(ctx context.Context, p *core.Project) error {
	row := convert.CoreToProject(*p)
	row.Active = true
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("create project", err)
	}
	*p = convert.ProjectToCore(row)
	return nil
}

func (b *Backend) GetProject(ctx context.Context, userID, id uint) (core.Project, error) {
	var row model.Project
	err := b.db.WithContext(ctx).Where("project_id = ? AND user_id = ?", id, userID).First(&row).Error
	if err != nil {
		return core.Project{}, wrap("get project", err)
	}
	return convert.ProjectToCore(row), nil
}

func (b *Backend) UpdateProject(ctx context.Context, userID, id uint, patch core.ProjectPatch) (core.Project, error) {
	db := b.db.WithContext(ctx)
	var row model.Project
	if err := db.Where("project_id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		return core.Project{}, wrap("update project", err)
	}

	updates := map[string]interface{}{"project_img": patch.Image}
	if patch.Name != nil {
		updates["project_name"] = *patch.Name
	}
	if patch.Type != nil {
		updates["project_type"] = *patch.Type
	}
	if err := db.Model(&row).Updates(updates).Error; err != nil {
		return core.Project{}, wrap("update project", err)
	}
	if err := db.First(&row, row.ID).Error; err != nil {
		return core.Project{}, wrap("update project", err)
	}
	return convert.ProjectToCore(row), nil
}

// DeleteProject removes the project with its layers and their features.
func (b *Backend) DeleteProject(ctx context.Context, userID, id uint) error {
	return wrap("delete project", b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.Project
		if err := tx.Where("project_id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
			return err
		}
		layerIDs := tx.Model(&model.Layer{}).Select("layer_id").Where("project_id = ?", row.ID)
		if err := tx.Where("layer_id IN (?)", layerIDs).Delete(&model.Feature{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", row.ID).Delete(&model.Layer{}).Error; err != nil {
			return err
		}
		return tx.Delete(&row).Error
	}))
}

func (b *Backend) ListProjectsByType(ctx context.Context, userID uint, projectType string, active bool) ([]core.Project, error) {
	var rows []model.Project
	err := b.db.WithContext(ctx).
		Where("project_type = ? AND user_id = ? AND project_status = ?", projectType, userID, active).
		Order("project_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("list projects", err)
	}
	out := make([]core.Project, len(rows))
	for i, r := range rows {
		out[i] = convert.ProjectToCore(r)
	}
	return out, nil
}

////////////////////////
// LAYERS
////////////////////////

func (b *Backend) GetActiveLayer(ctx context.Context, id uint) (core.Layer, error) {
	var row model.Layer
	err := b.db.WithContext(ctx).Where("layer_id = ? AND user_layer_status = ?", id, true).First(&row).Error
	if err != nil {
		return core.Layer{}, wrap("get layer", err)
	}
	return convert.LayerToCore(row), nil
}

func (b *Backend) GetOwnedLayer(ctx context.Context, userID, id uint) (core.Layer, error) {
	l, err := getOwnedLayer(b.db.WithContext(ctx), userID, id)
	return l, wrap("get layer", err)
}

func getOwnedLayer(db *gorm.DB, userID, id uint) (core.Layer, error) {
	var row model.Layer
	err := db.Where("layer_id = ? AND project_id IN (?)", id, ownedProjectIDs(db, userID)).First(&row).Error
	if err != nil {
		return core.Layer{}, err
	}
	return convert.LayerToCore(row), nil
}

// ListProjectLayers returns the active layers of an owned project.
func (b *Backend) ListProjectLayers(ctx context.Context, userID, projectID uint) ([]core.Layer, error) {
	db := b.db.WithContext(ctx)
	var project model.Project
	if err := db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&project).Error; err != nil {
		return nil, wrap("list layers", err)
	}
	var rows []model.Layer
	err := db.Where("project_id = ? AND user_layer_status = ?", projectID, true).Order("layer_id").Find(&rows).Error
	if err != nil {
		return nil, wrap("list layers", err)
	}
	return convert.LayersToCore(rows), nil
}

// ListRecycledLayers returns deactivated layers of the user's active projects.
func (b *Backend) ListRecycledLayers(ctx context.Context, userID uint) ([]core.RecycledLayer, error) {
	db := b.db.WithContext(ctx)
	var projects []model.Project
	if err := db.Where("user_id = ? AND project_status = ?", userID, true).Find(&projects).Error; err != nil {
		return nil, wrap("list recycled layers", err)
	}
	if len(projects) == 0 {
		return []core.RecycledLayer{}, nil
	}
	names := make(map[uint]string, len(projects))
	ids := make([]uint, 0, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
		ids = append(ids, p.ID)
	}

	var rows []model.Layer
	err := db.Where("project_id IN ? AND user_layer_status = ?", ids, false).Order("layer_id").Find(&rows).Error
	if err != nil {
		return nil, wrap("list recycled layers", err)
	}
	out := make([]core.RecycledLayer, len(rows))
	for i, r := range rows {
		out[i] = core.RecycledLayer{Layer: convert.LayerToCore(r), ProjectName: names[r.ProjectID]}
	}
	return out, nil
}

func (b *Backend) UpdateLayer(ctx context.Context, userID, id uint, patch core.LayerPatch) (core.Layer, error) {
	db := b.db.WithContext(ctx)
	if _, err := getOwnedLayer(db, userID, id); err != nil {
		return core.Layer{}, wrap("update layer", err)
	}

	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["layer_name"] = *patch.Name
	}
	if patch.Fill != nil {
		updates["fill"] = *patch.Fill
	}
	if patch.Stroke != nil {
		updates["stroke"] = *patch.Stroke
	}
	if patch.StrokeWidth != nil {
		updates["stroke_width"] = *patch.StrokeWidth
	}
	if len(updates) > 0 {
		if err := db.Model(&model.Layer{ID: id}).Updates(updates).Error; err != nil {
			return core.Layer{}, wrap("update layer", err)
		}
	}
	var row model.Layer
	if err := db.First(&row, id).Error; err != nil {
		return core.Layer{}, wrap("update layer", err)
	}
	return convert.LayerToCore(row), nil
}

// DeleteLayer removes the layer and its features.
func (b *Backend) DeleteLayer(ctx context.Context, userID, id uint) error {
	return wrap("delete layer", b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getOwnedLayer(tx, userID, id); err != nil {
			return err
		}
		if err := tx.Where("layer_id = ?", id).Delete(&model.Feature{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Layer{}, id).Error
	}))
}

// SetLayerActive moves a layer into (false) or out of (true) the recycle bin.
func (b *Backend) SetLayerActive(ctx context.Context, userID, id uint, active bool) error {
	db := b.db.WithContext(ctx)
	if _, err := getOwnedLayer(db, userID, id); err != nil {
		return wrap("set layer status", err)
	}
	err := db.Model(&model.Layer{ID: id}).Update("user_layer_status", active).Error
	return wrap("set layer status", err)
}

////////////////////////
// FEATURES
////////////////////////

func (b *Backend) GetFeature(ctx context.Context, id uint) (core.Feature, error) {
	f, err := getFeature(b.db.WithContext(ctx), id)
	return f, wrap("get feature", err)
}

func getFeature(db *gorm.DB, id uint) (core.Feature, error) {
	var row model.Feature
	if err := db.First(&row, id).Error; err != nil {
		return core.Feature{}, err
	}
	return convert.FeatureToCore(row), nil
}

func (b *Backend) UpdateFeature(ctx context.Context, userID, id uint, patch core.FeaturePatch) (core.Feature, error) {
	db := b.db.WithContext(ctx)
	var row model.Feature
	if err := db.Where("feature_id = ? AND layer_id IN (?)", id, ownedLayerIDs(db, userID)).First(&row).Error; err != nil {
		return core.Feature{}, wrap("update feature", err)
	}

	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["feature_name"] = *patch.Name
	}
	if patch.Properties != nil {
		updates["properties"] = string(patch.Properties)
	}
	if patch.FeatureFill != nil {
		updates["feature_fill"] = *patch.FeatureFill
	}
	if patch.FeatureStroke != nil {
		updates["feature_stroke"] = *patch.FeatureStroke
	}
	if patch.Geometry != nil {
		updates["geom"] = model.NewGeometry(*patch.Geometry)
	}
	if len(updates) > 0 {
		if err := db.Model(&row).Updates(updates).Error; err != nil {
			return core.Feature{}, wrap("update feature", err)
		}
	}
	f, err := getFeature(db, id)
	return f, wrap("update feature", err)
}

func (b *Backend) DeleteFeature(ctx context.Context, userID, id uint) error {
	db := b.db.WithContext(ctx)
	res := db.Where("feature_id = ? AND layer_id IN (?)", id, ownedLayerIDs(db, userID)).Delete(&model.Feature{})
	if res.Error != nil {
		return wrap("delete feature", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("delete feature", gorm.ErrRecordNotFound)
	}
	return nil
}

// ListLayersWithFeatures returns the layers with the given ids and all their
// features, both ordered by id.
func (b *Backend) ListLayersWithFeatures(ctx context.Context, layerIDs []uint) ([]core.Layer, []core.Feature, error) {
	if len(layerIDs) == 0 {
		return []core.Layer{}, []core.Feature{}, nil
	}
	db := b.db.WithContext(ctx)
	var layers []model.Layer
	if err := db.Where("layer_id IN ?", layerIDs).Order("layer_id").Find(&layers).Error; err != nil {
		return nil, nil, wrap("list layers", err)
	}
	var features []model.Feature
	if err := db.Where("layer_id IN ?", layerIDs).Order("feature_id").Find(&features).Error; err != nil {
		return nil, nil, wrap("list features", err)
	}
	return convert.LayersToCore(layers), convert.FeaturesToCore(features), nil
}

////////////////////////
// INGESTION
////////////////////////

// InTx runs fn inside one database transaction. A returned error rolls back
// everything fn wrote.
func (b *Backend) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{db: tx})
	})
}

type txStore struct {
	db *gorm.DB
}

func (t *txStore) GetOwnedProject(userID, projectID uint) (core.Project, error) {
	var row model.Project
	if err := t.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&row).Error; err != nil {
		return core.Project{}, wrap("get project", err)
	}
	return convert.ProjectToCore(row), nil
}

func (t *txStore) GetOwnedLayer(userID, layerID uint) (core.Layer, error) {
	l, err := getOwnedLayer(t.db, userID, layerID)
	return l, wrap("get layer", err)
}

func (t *txStore) CreateLayer(l *core.Layer) error {
	row := convert.CoreToLayer(*l)
	row.Active = true
	if err := t.db.Create(&row).Error; err != nil {
		return wrap("create layer", err)
	}
	*l = convert.LayerToCore(row)
	return nil
}

func (t *txStore) InsertFeatures(fs []core.Feature) error {
	if len(fs) == 0 {
		return nil
	}
	rows := convert.CoreToFeatures(fs)
	if err := t.db.Create(&rows).Error; err != nil {
		return wrap("insert features", err)
	}
	for i := range rows {
		fs[i].ID = rows[i].ID
		fs[i].CreatedAt = rows[i].CreatedAt
		fs[i].UpdatedAt = rows[i].UpdatedAt
		fs[i].SRID = core.SRID
	}
	return nil
}

func (t *txStore) LayerFeatures(layerID uint) ([]core.Feature, error) {
	var rows []model.Feature
	if err := t.db.Where("layer_id = ?", layerID).Order("feature_id").Find(&rows).Error; err != nil {
		return nil, wrap("layer features", err)
	}
	return convert.FeaturesToCore(rows), nil
}

func (t *txStore) GetFeature(id uint) (core.Feature, error) {
	f, err := getFeature(t.db, id)
	return f, wrap("get feature", err)
}
