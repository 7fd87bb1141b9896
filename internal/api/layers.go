package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/webgis/backend/pkg/core"
)

// readUploadForm parses the multipart body: a JSON "form" field decoded into
// form and an optional "file" part.
func (s *Server) readUploadForm(r *http.Request, form any) (*core.UploadFile, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errInvalidForm, err)
	}
	raw := r.FormValue("form")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing form field", errInvalidForm)
	}
	if err := json.Unmarshal([]byte(raw), form); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidForm, err)
	}
	if err := s.validateStruct(form); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidForm, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &core.UploadFile{Filename: header.Filename, Data: data}, nil
}

func (s *Server) handleCreateLayer(w http.ResponseWriter, r *http.Request) {
	var form core.LayerUploadForm
	file, err := s.readUploadForm(r, &form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	src := core.Source{File: file, LayerCommunityID: form.LayerCommunityID, FeatureCommunityID: form.FeatureCommunityID}
	res, err := s.deps.Ingest.CreateLayer(r.Context(), userID(r), form, src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := "Layer and features created successfully"
	if len(res.Features) == 0 {
		msg = "Layer created successfully"
	}
	writeJSON(w, http.StatusOK, toUploadResponse(msg, res))
}

func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.deps.Store.GetActiveLayer(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLayerResponse(l))
}

func (s *Server) handleUpdateLayer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req layerUpdateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.deps.Store.UpdateLayer(r.Context(), userID(r), id, core.LayerPatch{
		Name:        req.Name,
		Fill:        req.Fill,
		Stroke:      req.Stroke,
		StrokeWidth: req.StrokeWidth,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLayerResponse(l))
}

func (s *Server) handleDeleteLayer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteLayer(r.Context(), userID(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Layer deleted successfully"})
}

// handleSetLayerActive moves a layer out of (true) or into (false) the recycle bin.
func (s *Server) handleSetLayerActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.deps.Store.SetLayerActive(r.Context(), userID(r), id, active); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg := "Layer moved to recycle bin"
		if active {
			msg = "Layer restored"
		}
		writeJSON(w, http.StatusOK, messageBody{Message: msg})
	}
}

func (s *Server) handleRecycledLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.deps.Store.ListRecycledLayers(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]layerResponse, len(layers))
	for i, l := range layers {
		out[i] = toLayerResponse(l.Layer)
		name := l.ProjectName
		out[i].ProjectName = &name
	}
	writeJSON(w, http.StatusOK, out)
}
