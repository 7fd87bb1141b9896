package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/webgis/backend/internal/ingest"
	"github.com/webgis/backend/pkg/core"
)

// unnamedFeature is shown for features stored without a name.
const unnamedFeature = "Unnamed"

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.deps.Store.GetFeature(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeatureResponse(f))
}

// parseGeom reads a GeoJSON geometry object or a WKT string.
func parseGeom(raw json.RawMessage) (geom.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	var (
		g   geom.Geometry
		err error
	)
	if len(raw) > 0 && raw[0] == '"' {
		var wkt string
		if err = json.Unmarshal(raw, &wkt); err == nil {
			g, err = geom.UnmarshalWKT(wkt)
		}
	} else {
		g, err = geom.UnmarshalGeoJSON(raw)
	}
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("%w: %v", ingest.ErrGeometry, err)
	}
	return ingest.ValidGeometry(g)
}

// uniqueIDs drops repeated ids, keeping first-seen order.
func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (s *Server) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req featureUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := core.FeaturePatch{
		Name:          req.Name,
		FeatureFill:   req.FeatureFill,
		FeatureStroke: req.FeatureStroke,
	}
	if !isNull(req.Properties) {
		var obj map[string]any
		if err := json.Unmarshal(req.Properties, &obj); err != nil {
			s.writeError(w, r, &validationError{msg: "properties must be a JSON object"})
			return
		}
		patch.Properties = bytes.TrimSpace(req.Properties)
	}
	if !isNull(req.Geom) {
		g, err := parseGeom(req.Geom)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		patch.Geometry = &g
	}
	f, err := s.deps.Store.UpdateFeature(r.Context(), userID(r), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeatureResponse(f))
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteFeature(r.Context(), userID(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Feature deleted successfully"})
}

// handleFeaturesByLayerIDs groups the features of the requested layers. If
// any requested id has no layer the result is an empty array. Repeated ids
// count once.
func (s *Server) handleFeaturesByLayerIDs(w http.ResponseWriter, r *http.Request) {
	var ids []uint
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errInvalidForm, err))
		return
	}
	ids = uniqueIDs(ids)
	layers, features, err := s.deps.Store.ListLayersWithFeatures(r.Context(), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(layers) == 0 || len(layers) != len(ids) {
		writeJSON(w, http.StatusOK, []layerGroup{})
		return
	}

	groups := make([]layerGroup, len(layers))
	index := make(map[uint]int, len(layers))
	for i, l := range layers {
		groups[i] = layerGroup{Layer: toLayerSummary(l), Features: []featureSummary{}}
		index[l.ID] = i
	}
	for _, f := range features {
		fs := toFeatureSummary(f)
		if fs.Name == nil {
			name := unnamedFeature
			fs.Name = &name
		}
		i := index[f.LayerID]
		groups[i].Features = append(groups[i].Features, fs)
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleAppendFeatures(w http.ResponseWriter, r *http.Request) {
	var form core.FeatureUploadForm
	file, err := s.readUploadForm(r, &form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	src := core.Source{File: file, LayerCommunityID: form.LayerCommunityID, FeatureCommunityID: form.FeatureCommunityID}
	res, err := s.deps.Ingest.AppendToLayer(r.Context(), userID(r), form, src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUploadResponse("Features added to layer successfully", res))
}

func (s *Server) handleDrawFeatures(w http.ResponseWriter, r *http.Request) {
	var items []core.DrawnFeature
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errInvalidForm, err))
		return
	}
	for i := range items {
		if err := s.validateStruct(&items[i]); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	saved, err := s.deps.Ingest.SaveDrawnFeatures(r.Context(), userID(r), items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]drawnFeatureResponse, len(saved))
	for i, f := range saved {
		out[i] = drawnFeatureResponse{ID: f.ID, LayerID: f.LayerID}
	}
	writeJSON(w, http.StatusOK, out)
}
