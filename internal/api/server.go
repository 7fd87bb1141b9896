// Package api serves the map backend over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/webgis/backend/internal/auth"
	"github.com/webgis/backend/internal/config"
	"github.com/webgis/backend/internal/ingest"
	"github.com/webgis/backend/internal/storage"
)

// multipart parts above this size spill to temporary files
const multipartMemory = 32 << 20

// Dependencies holds everything the HTTP layer calls into.
type Dependencies struct {
	Store          storage.Backend
	Ingest         *ingest.Service
	Auth           *auth.Manager
	Metrics        http.Handler // served at /metrics when set
	Server         config.ServerConfig
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server holds the handlers of the HTTP API.
type Server struct {
	deps     Dependencies
	log      *slog.Logger
	validate *validator.Validate
}

// New creates the API server.
func New(deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		deps:     deps,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.deps.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: allowCredentials(s.deps.Server.CORSOrigins),
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		upload := r.With(s.uploadMiddleware()...)

		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/by-type/{type}", s.handleProjectsByType(true))
		r.Get("/projects/recycle/{type}", s.handleProjectsByType(false))
		r.Get("/projects/{id}", s.handleGetProject)
		r.Put("/projects/{id}", s.handleUpdateProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)
		r.Get("/projects/{id}/layers", s.handleProjectLayers)

		upload.Post("/layers", s.handleCreateLayer)
		r.Get("/layers/recycle", s.handleRecycledLayers)
		r.Patch("/layers/recycle/{id}", s.handleSetLayerActive(true))
		r.Get("/layers/{id}", s.handleGetLayer)
		r.Put("/layers/{id}", s.handleUpdateLayer)
		r.Delete("/layers/{id}", s.handleDeleteLayer)
		r.Patch("/layers/{id}", s.handleSetLayerActive(false))

		r.Post("/features/by-ids", s.handleFeaturesByLayerIDs)
		upload.Post("/features/feature-to-layers", s.handleAppendFeatures)
		r.Post("/features/draw-features", s.handleDrawFeatures)
		r.Get("/features/{id}", s.handleGetFeature)
		r.Put("/features/{id}", s.handleUpdateFeature)
		r.Delete("/features/{id}", s.handleDeleteFeature)
	})
	return r
}

// uploadMiddleware rate limits uploads per client IP and caps the body size.
func (s *Server) uploadMiddleware() []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if s.deps.Server.UploadRateLimit > 0 {
		mws = append(mws, httprate.LimitByIP(s.deps.Server.UploadRateLimit, time.Minute))
	}
	if s.deps.MaxUploadBytes > 0 {
		limit := s.deps.MaxUploadBytes
		mws = append(mws, func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
				next.ServeHTTP(w, r)
			})
		})
	}
	return mws
}

// accessLog writes one line per request once the response is done.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// allowCredentials reports whether origins is an explicit allow-list.
// Credentials are never offered to wildcard origins.
func allowCredentials(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, o := range origins {
		if strings.Contains(o, "*") {
			return false
		}
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.WarnContext(r.Context(), "Readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "database unavailable", Code: "UNAVAILABLE"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
