package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/config"
	"github.com/webgis/backend/internal/logging"
	"github.com/webgis/backend/internal/storage"
	"github.com/webgis/backend/pkg/core"
)

// DrawnFeatureName is the name given to features drawn on the map.
const DrawnFeatureName = "No named"

// Labels used in upload stats for sources that are not files.
const (
	sourceLayerCopy   core.Format = "layer_copy"
	sourceFeatureCopy core.Format = "feature_copy"
	sourceEmpty       core.Format = "empty"
	sourceDrawn       core.Format = "drawn"
)

// ErrNoSource is returned when an append names neither a file nor a copy source.
var ErrNoSource = errors.New("no file, layer_community_id or feature_community_id given")

// Service runs uploads: decode and normalize first, then write the layer and
// every feature in one transaction.
type Service struct {
	store     storage.Backend
	decoders  map[core.Format]Decoder
	timeout   time.Duration
	log       *slog.Logger
	recorders []Recorder
}

// NewService builds the ingestion service.
func NewService(store storage.Backend, cfg config.IngestConfig, log *slog.Logger, recorders ...Recorder) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: store,
		decoders: NewDecoders(Options{
			MaxKMLDepth:          cfg.MaxKMLDepth,
			MaxDecompressedBytes: cfg.MaxDecompressedBytes,
			ReprojectWebMercator: cfg.ReprojectWebMercator,
			TempDir:              cfg.TempDir,
			Logger:               log,
		}),
		timeout:   cfg.Timeout,
		log:       log,
		recorders: recorders,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Decode decodes and normalizes a file without writing anything.
func (s *Service) Decode(ctx context.Context, f core.UploadFile) (core.Format, []core.Feature, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.decode(ctx, f)
}

func (s *Service) decode(ctx context.Context, f core.UploadFile) (core.Format, []core.Feature, error) {
	format, raws, err := DecodeFile(ctx, s.decoders, f)
	if err != nil {
		return format, nil, err
	}
	features, err := NormalizeAll(format, raws)
	if err != nil {
		if errors.Is(err, ErrGeometry) {
			return format, nil, err
		}
		return format, nil, decodeErr(format, f.Filename, err)
	}
	return format, features, nil
}

// prepared is the outcome of the work done before the transaction opens.
type prepared struct {
	format   core.Format
	features []core.Feature // decoded from a file; nil for copy sources
}

func (s *Service) prepare(ctx context.Context, src core.Source) (prepared, error) {
	switch {
	case src.File != nil:
		format, features, err := s.decode(ctx, *src.File)
		return prepared{format: format, features: features}, err
	case src.LayerCommunityID != nil:
		return prepared{format: sourceLayerCopy}, nil
	case src.FeatureCommunityID != nil:
		return prepared{format: sourceFeatureCopy}, nil
	default:
		return prepared{format: sourceEmpty}, nil
	}
}

// sourceFeatures returns the features to insert into layerID. Copies keep
// name, properties and geometry of the source.
func sourceFeatures(tx storage.Tx, src core.Source, p prepared, layerID uint) ([]core.Feature, error) {
	var features []core.Feature
	switch {
	case src.File != nil:
		features = p.features
	case src.LayerCommunityID != nil:
		from, err := tx.LayerFeatures(*src.LayerCommunityID)
		if err != nil {
			return nil, err
		}
		if len(from) == 0 {
			return nil, fmt.Errorf("%w: layer %d has no features", ErrNotFound, *src.LayerCommunityID)
		}
		features = copyFeatures(from)
	case src.FeatureCommunityID != nil:
		from, err := tx.GetFeature(*src.FeatureCommunityID)
		if err != nil {
			return nil, err
		}
		features = copyFeatures([]core.Feature{from})
	}
	for i := range features {
		features[i].LayerID = layerID
	}
	return features, nil
}

func copyFeatures(from []core.Feature) []core.Feature {
	out := make([]core.Feature, len(from))
	for i, f := range from {
		out[i] = core.Feature{
			Name:       f.Name,
			Properties: f.Properties,
			Geometry:   f.Geometry,
			SRID:       core.SRID,
		}
	}
	return out
}

// CreateLayer creates a layer in one of the caller's projects and fills it
// from src. Nothing is written unless every feature is.
func (s *Service) CreateLayer(ctx context.Context, userID uint, form core.LayerUploadForm, src core.Source) (core.UploadResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	uc := newUploadContext()
	uc.NewLayer = true
	uc.ProjectID = form.ProjectID
	ctx = logging.WithUploadID(ctx, uc.ID.String())

	p, err := s.prepare(ctx, src)
	uc.Format = p.format
	if err != nil {
		s.finish(ctx, uc, OutcomeRejected, 0, err)
		return core.UploadResult{}, err
	}

	var result core.UploadResult
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetOwnedProject(userID, form.ProjectID); err != nil {
			return err
		}
		layer := core.Layer{
			ProjectID:   form.ProjectID,
			Name:        form.Name,
			Fill:        form.FillColor,
			Stroke:      form.StrokeColor,
			StrokeWidth: form.StrokeWidth,
			ZIndex:      form.Priority,
			Type:        core.DefaultLayerType,
			Active:      true,
		}
		if err := tx.CreateLayer(&layer); err != nil {
			return err
		}
		uc.LayerID = layer.ID
		if err := uc.Advance(LayerCreated); err != nil {
			return err
		}

		features, err := s.persistFeatures(ctx, tx, uc, src, p)
		if err != nil {
			return err
		}
		result = core.UploadResult{UploadID: uc.ID.String(), Layer: layer, Features: features}
		return nil
	})
	if err != nil {
		err = s.rollback(ctx, uc, err)
		return core.UploadResult{}, err
	}
	if err := uc.Advance(Committed); err != nil {
		return core.UploadResult{}, err
	}
	s.finish(ctx, uc, OutcomeCommitted, len(result.Features), nil)
	return result, nil
}

// AppendToLayer adds features from src to one of the caller's layers. The
// whole batch is written or none of it.
func (s *Service) AppendToLayer(ctx context.Context, userID uint, form core.FeatureUploadForm, src core.Source) (core.UploadResult, error) {
	if src.File == nil && src.LayerCommunityID == nil && src.FeatureCommunityID == nil {
		return core.UploadResult{}, ErrNoSource
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	uc := newUploadContext()
	uc.LayerID = form.LayerID
	ctx = logging.WithUploadID(ctx, uc.ID.String())

	p, err := s.prepare(ctx, src)
	uc.Format = p.format
	if err != nil {
		s.finish(ctx, uc, OutcomeRejected, 0, err)
		return core.UploadResult{}, err
	}

	var result core.UploadResult
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		layer, err := tx.GetOwnedLayer(userID, form.LayerID)
		if err != nil {
			return err
		}
		uc.ProjectID = layer.ProjectID
		if err := uc.Advance(LayerCreated); err != nil {
			return err
		}

		features, err := s.persistFeatures(ctx, tx, uc, src, p)
		if err != nil {
			return err
		}
		result = core.UploadResult{UploadID: uc.ID.String(), Layer: layer, Features: features}
		return nil
	})
	if err != nil {
		err = s.rollback(ctx, uc, err)
		return core.UploadResult{}, err
	}
	if err := uc.Advance(Committed); err != nil {
		return core.UploadResult{}, err
	}
	s.finish(ctx, uc, OutcomeCommitted, len(result.Features), nil)
	return result, nil
}

func (s *Service) persistFeatures(ctx context.Context, tx storage.Tx, uc *UploadContext, src core.Source, p prepared) ([]core.Feature, error) {
	features, err := sourceFeatures(tx, src, p, uc.LayerID)
	if err != nil {
		return nil, err
	}
	if err := uc.Advance(FeaturesPersisting); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.InsertFeatures(features); err != nil {
		return nil, err
	}
	uc.FeatureIDs = make([]uint, len(features))
	for i, f := range features {
		uc.FeatureIDs[i] = f.ID
	}
	return features, nil
}

// SaveDrawnFeatures stores features drawn on the map into the caller's
// layers, all in one transaction.
func (s *Service) SaveDrawnFeatures(ctx context.Context, userID uint, drawn []core.DrawnFeature) ([]core.Feature, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	uc := newUploadContext()
	uc.Format = sourceDrawn
	ctx = logging.WithUploadID(ctx, uc.ID.String())

	features := make([]core.Feature, len(drawn))
	for i, d := range drawn {
		f, err := drawnFeature(d)
		if err != nil {
			err = fmt.Errorf("feature %d: %w", i, err)
			s.finish(ctx, uc, OutcomeRejected, 0, err)
			return nil, err
		}
		features[i] = f
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		checked := make(map[uint]bool)
		for _, f := range features {
			if checked[f.LayerID] {
				continue
			}
			if _, err := tx.GetOwnedLayer(userID, f.LayerID); err != nil {
				return err
			}
			checked[f.LayerID] = true
		}
		if err := uc.Advance(LayerCreated); err != nil {
			return err
		}
		if err := uc.Advance(FeaturesPersisting); err != nil {
			return err
		}
		return tx.InsertFeatures(features)
	})
	if err != nil {
		return nil, s.rollback(ctx, uc, err)
	}
	if err := uc.Advance(Committed); err != nil {
		return nil, err
	}
	s.finish(ctx, uc, OutcomeCommitted, len(features), nil)
	return features, nil
}

func drawnFeature(d core.DrawnFeature) (core.Feature, error) {
	rawGeom, ok := d.Feature["geometry"]
	if !ok || rawGeom == nil {
		return core.Feature{}, fmt.Errorf("%w: geometry is required", ErrGeometry)
	}
	b, err := json.Marshal(rawGeom)
	if err != nil {
		return core.Feature{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	g, err := geom.UnmarshalGeoJSON(b)
	if err != nil {
		return core.Feature{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	if g, err = ValidGeometry(g); err != nil {
		return core.Feature{}, err
	}

	props := map[string]any{}
	if p, ok := d.Feature["properties"].(map[string]any); ok {
		props = p
	}
	encoded, err := json.Marshal(sanitize(props))
	if err != nil {
		return core.Feature{}, fmt.Errorf("encode properties: %w", err)
	}

	name := DrawnFeatureName
	return core.Feature{
		LayerID:    d.LayerID,
		Name:       &name,
		Properties: encoded,
		Geometry:   g,
		SRID:       core.SRID,
	}, nil
}

// rollback records a failed transaction and maps the store error for callers.
func (s *Service) rollback(ctx context.Context, uc *UploadContext, err error) error {
	if !uc.Done() {
		_ = uc.Advance(RolledBack)
	}
	if uc.NewLayer {
		uc.LayerID = 0
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.finish(ctx, uc, OutcomeRolledBack, 0, err)
	return err
}

func (s *Service) finish(ctx context.Context, uc *UploadContext, outcome string, n int, err error) {
	stats := UploadStats{
		UploadID: uc.ID.String(),
		Format:   uc.Format,
		Outcome:  outcome,
		Features: n,
		Duration: time.Since(uc.Started),
		LayerID:  uc.LayerID,
	}
	if err != nil {
		s.log.WarnContext(ctx, "Upload failed",
			"format", uc.Format, "outcome", outcome, "state", uc.State.String(), "error", err)
	} else {
		s.log.InfoContext(ctx, "Upload committed",
			"format", uc.Format, "layer_id", uc.LayerID, "features", n, "duration", stats.Duration)
	}
	for _, r := range s.recorders {
		r.RecordUpload(ctx, stats)
	}
}
