package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/webgis/backend/internal/auth"
	"github.com/webgis/backend/internal/storage"
	"github.com/webgis/backend/pkg/core"
)

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &validationError{msg: fmt.Sprintf("invalid base64 image: %v", err)}
	}
	return b, nil
}

func userID(r *http.Request) uint {
	id, _ := auth.UserID(r.Context())
	return id
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := core.Project{UserID: userID(r), Name: req.Name, Type: req.Type}
	if req.Image != nil && *req.Image != "" {
		img, err := decodeImage(*req.Image)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		p.Image = img
	}
	if err := s.deps.Store.CreateProject(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Store.GetProject(r.Context(), userID(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// handleProjectsByType lists the caller's projects of a type. Active listings
// with no match are a 404; recycled listings are an empty array.
func (s *Server) handleProjectsByType(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := s.deps.Store.ListProjectsByType(r.Context(), userID(r), chi.URLParam(r, "type"), active)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if active && len(projects) == 0 {
			s.writeError(w, r, fmt.Errorf("%w: no projects found for this type", storage.ErrNotFound))
			return
		}
		out := make([]projectResponse, len(projects))
		for i, p := range projects {
			out[i] = toProjectResponse(p)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleUpdateProject replaces the image with the one given; omitting it clears the image.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req projectUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := core.ProjectPatch{Name: req.Name, Type: req.Type}
	if req.Image != nil && *req.Image != "" {
		if patch.Image, err = decodeImage(*req.Image); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	p, err := s.deps.Store.UpdateProject(r.Context(), userID(r), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteProject(r.Context(), userID(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Project deleted successfully"})
}

func (s *Server) handleProjectLayers(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	layers, err := s.deps.Store.ListProjectLayers(r.Context(), userID(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]layerResponse, len(layers))
	for i, l := range layers {
		out[i] = toLayerResponse(l)
	}
	writeJSON(w, http.StatusOK, out)
}
