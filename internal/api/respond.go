package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/webgis/backend/internal/ingest"
	"github.com/webgis/backend/internal/storage"
)

var (
	errInvalidForm = errors.New("invalid form data")
	errInvalidID   = errors.New("invalid id")
)

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

type messageBody struct {
	Message string `json:"message"`
}

// validationError marks request content that parsed but is not acceptable.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its status and code. Server-side failures are
// logged; their detail is not sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "Request failed", "code", code, "error", err)
		detail = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Detail: detail, Code: code})
}

func classify(err error) (int, string) {
	var (
		maxBytes *http.MaxBytesError
		verrs    validator.ValidationErrors
		vErr     *validationError
	)
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, ingest.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT"
	case errors.Is(err, ingest.ErrDecode):
		return http.StatusBadRequest, "DECODE_ERROR"
	case errors.Is(err, ingest.ErrGeometry):
		return http.StatusBadRequest, "GEOMETRY_ERROR"
	case errors.Is(err, errInvalidForm), errors.Is(err, errInvalidID):
		return http.StatusBadRequest, "INVALID_FORM"
	case errors.As(err, &verrs), errors.As(err, &vErr), errors.Is(err, ingest.ErrNoSource):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ingest.ErrPersistence):
		return http.StatusInternalServerError, "PERSISTENCE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func idParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

// decodeBody reads a JSON request body into v and validates it.
func (s *Server) decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidForm, err)
	}
	return s.validateStruct(v)
}

func (s *Server) validateStruct(v any) error {
	return s.validate.Struct(v)
}
