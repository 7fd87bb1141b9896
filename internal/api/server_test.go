package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webgis/backend/internal/auth"
	"github.com/webgis/backend/internal/config"
	"github.com/webgis/backend/internal/database"
	"github.com/webgis/backend/internal/ingest"
	gormstorage "github.com/webgis/backend/internal/storage/gorm"
	"github.com/webgis/backend/pkg/core"
)

const testUser uint = 11

type testEnv struct {
	t      *testing.T
	store  *gormstorage.Backend
	router http.Handler
	tokens *auth.Manager
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := gormstorage.New(gormstorage.Dependencies{DB: db})
	require.NoError(t, store.Init())

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret-test-secret-test-sec"})
	require.NoError(t, err)
	token, err := tokens.GenerateToken(testUser, time.Hour)
	require.NoError(t, err)

	srv := New(Dependencies{
		Store:          store,
		Ingest:         ingest.NewService(store, config.IngestConfig{TempDir: t.TempDir()}, nil),
		Auth:           tokens,
		Metrics:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Server:         config.ServerConfig{CORSOrigins: []string{"*"}},
		MaxUploadBytes: 1 << 20,
	})
	return &testEnv{t: t, store: store, router: srv.Router(), tokens: tokens, token: token}
}

func (e *testEnv) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(method, path string, v any) *httptest.ResponseRecorder {
	e.t.Helper()
	var body []byte
	if v != nil {
		var err error
		body, err = json.Marshal(v)
		require.NoError(e.t, err)
	}
	return e.do(method, path, body, "application/json")
}

func (e *testEnv) upload(path string, form any, filename string, data []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if form != nil {
		raw, err := json.Marshal(form)
		require.NoError(e.t, err)
		require.NoError(e.t, mw.WriteField("form", string(raw)))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(e.t, err)
		_, err = part.Write(data)
		require.NoError(e.t, err)
	}
	require.NoError(e.t, mw.Close())
	return e.do(http.MethodPost, path, buf.Bytes(), mw.FormDataContentType())
}

func (e *testEnv) project() core.Project {
	e.t.Helper()
	p := core.Project{UserID: testUser, Name: "survey", Type: "P001"}
	require.NoError(e.t, e.store.CreateProject(context.Background(), &p))
	return p
}

func (e *testEnv) layerCount(projectID uint) int {
	e.t.Helper()
	layers, err := e.store.ListProjectLayers(context.Background(), testUser, projectID)
	require.NoError(e.t, err)
	return len(layers)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const threePoints = `{"type":"FeatureCollection","features":[
	{"type":"Feature","properties":{"VARNAME_1":"a"},"geometry":{"type":"Point","coordinates":[105.8,21.0]}},
	{"type":"Feature","properties":{"VARNAME_1":"b"},"geometry":{"type":"Point","coordinates":[106.0,20.5]}},
	{"type":"Feature","properties":{"VARNAME_1":"c"},"geometry":{"type":"Point","coordinates":[107.5,16.4]}}
]}`

func layerForm(projectID uint) map[string]any {
	return map[string]any{"name": "provinces", "fill_color": "#00ff00", "priority": 2, "project_id": projectID}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	for path, want := range map[string]string{"/healthz": "ok", "/metrics": "# metrics"} {
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_CredentialsOnlyForListedOrigins(t *testing.T) {
	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret-test-secret-test-sec"})
	require.NoError(t, err)

	tests := []struct {
		name        string
		origins     []string
		origin      string
		wantOrigin  string
		credentials string
	}{
		{"wildcard", []string{"*"}, "https://evil.example", "*", ""},
		{"unset", nil, "https://evil.example", "*", ""},
		{"subdomain pattern", []string{"https://*.example.org"}, "https://evil.example.org", "https://evil.example.org", ""},
		{"listed", []string{"https://map.example.org"}, "https://map.example.org", "https://map.example.org", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := New(Dependencies{Auth: tokens, Server: config.ServerConfig{CORSOrigins: tt.origins}}).Router()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/layers/recycle", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorBody](t, rec).Code)
}

func TestUpload_GeoJSONEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()

	rec := e.upload("/api/v1/layers", layerForm(p.ID), "provinces.geojson", []byte(threePoints))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Message      string `json:"message"`
		FeatureCount int    `json:"feature_count"`
		Layer        struct {
			ID       uint   `json:"id"`
			Name     string `json:"name"`
			Fill     string `json:"fill"`
			Priority int    `json:"priority"`
		} `json:"layer"`
		Features []struct {
			FeatureID  uint           `json:"feature_id"`
			LayerID    uint           `json:"layer_id"`
			Name       string         `json:"name"`
			Properties map[string]any `json:"properties"`
			Geom       struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geom"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "Layer and features created successfully", body.Message)
	assert.Equal(t, 3, body.FeatureCount)
	assert.Equal(t, "provinces", body.Layer.Name)
	assert.Equal(t, "#00ff00", body.Layer.Fill)
	assert.Equal(t, 2, body.Layer.Priority)
	require.Len(t, body.Features, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{body.Features[0].Name, body.Features[1].Name, body.Features[2].Name})
	assert.Equal(t, "Point", body.Features[0].Geom.Type)
	assert.Equal(t, []float64{105.8, 21.0}, body.Features[0].Geom.Coordinates)
	assert.Equal(t, "a", body.Features[0].Properties["VARNAME_1"])
	assert.Equal(t, body.Layer.ID, body.Features[2].LayerID)
}

func TestUpload_UnsupportedFormatCreatesNoLayer(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()

	rec := e.upload("/api/v1/layers", layerForm(p.ID), "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_FORMAT", decode[errorBody](t, rec).Code)
	assert.Zero(t, e.layerCount(p.ID))
}

func TestUpload_FormErrors(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()

	rec := e.upload("/api/v1/layers", nil, "a.geojson", []byte(threePoints))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_FORM", decode[errorBody](t, rec).Code)

	rec = e.upload("/api/v1/layers", map[string]any{"project_id": p.ID, "priority": 1}, "a.geojson", []byte(threePoints))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, rec).Code)

	rec = e.upload("/api/v1/layers", layerForm(p.ID), "bad.geojson", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DECODE_ERROR", decode[errorBody](t, rec).Code)

	rec = e.upload("/api/v1/layers", layerForm(p.ID+100), "a.geojson", []byte(threePoints))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Zero(t, e.layerCount(p.ID))
}

func TestUpload_TooLarge(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()

	rec := e.upload("/api/v1/layers", layerForm(p.ID), "big.geojson", bytes.Repeat([]byte(" "), 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decode[errorBody](t, rec).Code)
}

func TestAppendAndGroupByLayerIDs(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()

	rec := e.upload("/api/v1/layers", layerForm(p.ID), "a.geojson", []byte(threePoints))
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[uploadResponse](t, rec)

	rec = e.upload("/api/v1/layers", layerForm(p.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[uploadResponse](t, rec)
	assert.Equal(t, "Layer created successfully", empty.Message)

	rec = e.upload("/api/v1/features/feature-to-layers",
		map[string]any{"layer_id": empty.Layer.ID, "layer_community_id": first.Layer.ID}, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[uploadResponse](t, rec).FeatureCount)

	rec = e.upload("/api/v1/features/feature-to-layers", map[string]any{"layer_id": empty.Layer.ID}, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.doJSON(http.MethodPost, "/api/v1/features/by-ids", []uint{first.Layer.ID, empty.Layer.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]layerGroup](t, rec)
	require.Len(t, groups, 2)
	assert.Equal(t, first.Layer.ID, groups[0].Layer.ID)
	assert.Len(t, groups[0].Features, 3)
	assert.Len(t, groups[1].Features, 3)

	rec = e.doJSON(http.MethodPost, "/api/v1/features/by-ids", []uint{first.Layer.ID, 9999})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = e.doJSON(http.MethodPost, "/api/v1/features/by-ids", []uint{first.Layer.ID, first.Layer.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	groups = decode[[]layerGroup](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, first.Layer.ID, groups[0].Layer.ID)
	assert.Len(t, groups[0].Features, 3)
}

func TestDrawFeatures(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()
	rec := e.upload("/api/v1/layers", layerForm(p.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	layer := decode[uploadResponse](t, rec).Layer

	items := []map[string]any{{
		"layer_id": layer.ID,
		"feature": map[string]any{
			"type":     "Feature",
			"geometry": map[string]any{"type": "LineString", "coordinates": [][]float64{{0, 0}, {1, 1}}},
		},
	}}
	rec = e.doJSON(http.MethodPost, "/api/v1/features/draw-features", items)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[[]drawnFeatureResponse](t, rec)
	require.Len(t, saved, 1)
	assert.Equal(t, layer.ID, saved[0].LayerID)

	rec = e.doJSON(http.MethodGet, fmt.Sprintf("/api/v1/features/%d", saved[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"feature_name":"No named"`)

	items[0]["feature"] = map[string]any{"type": "Feature"}
	rec = e.doJSON(http.MethodPost, "/api/v1/features/draw-features", items)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "GEOMETRY_ERROR", decode[errorBody](t, rec).Code)
}

func TestFeatureUpdateAndDelete(t *testing.T) {
	e := newTestEnv(t)
	p := e.project()
	rec := e.upload("/api/v1/layers", layerForm(p.ID), "a.geojson", []byte(threePoints))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[uploadResponse](t, rec).Features[0].ID
	path := fmt.Sprintf("/api/v1/features/%d", id)

	rec = e.doJSON(http.MethodPut, path, map[string]any{
		"feature_name": "renamed",
		"properties":   map[string]any{"k": "v"},
		"geom":         "POINT(1 2)",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, `"feature_name":"renamed"`)
	assert.Contains(t, body, `"coordinates":[1,2]`)

	rec = e.doJSON(http.MethodPut, path, map[string]any{"geom": map[string]any{"type": "Polygon"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.doJSON(http.MethodPut, path, map[string]any{"properties": []int{1}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	for _, g := range []any{
		"GEOMETRYCOLLECTION(POINT(1 2))",
		map[string]any{"type": "GeometryCollection", "geometries": []any{
			map[string]any{"type": "Point", "coordinates": []float64{3, 4}},
		}},
	} {
		rec = e.doJSON(http.MethodPut, path, map[string]any{"geom": g})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "GEOMETRY_ERROR", decode[errorBody](t, rec).Code)
	}
	rec = e.doJSON(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"coordinates":[1,2]`)

	rec = e.doJSON(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.doJSON(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectsAndLayerRecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.doJSON(http.MethodPost, "/api/v1/projects", map[string]any{
		"project_name": "flood map",
		"project_type": "P001",
		"project_img":  "data:image/png;base64,aGVsbG8=",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[projectResponse](t, rec)
	assert.Equal(t, "aGVsbG8=", p.Image)

	rec = e.doJSON(http.MethodGet, "/api/v1/projects/by-type/P001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]projectResponse](t, rec), 1)

	rec = e.doJSON(http.MethodGet, "/api/v1/projects/by-type/P999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.doJSON(http.MethodPut, fmt.Sprintf("/api/v1/projects/%d", p.ID), map[string]any{"project_name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[projectResponse](t, rec)
	assert.Equal(t, "renamed", updated.Name)
	assert.Empty(t, updated.Image)

	rec = e.doJSON(http.MethodPut, fmt.Sprintf("/api/v1/projects/%d", p.ID), map[string]any{"project_img": "%%%"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.upload("/api/v1/layers", layerForm(p.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	layerID := decode[uploadResponse](t, rec).Layer.ID
	layerPath := fmt.Sprintf("/api/v1/layers/%d", layerID)

	rec = e.doJSON(http.MethodPut, layerPath, map[string]any{"layer_name": "roads", "stroke_width": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "roads", decode[layerResponse](t, rec).Name)

	rec = e.doJSON(http.MethodPatch, layerPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.doJSON(http.MethodGet, layerPath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.doJSON(http.MethodGet, "/api/v1/layers/recycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recycled := decode[[]layerResponse](t, rec)
	require.Len(t, recycled, 1)
	require.NotNil(t, recycled[0].ProjectName)
	assert.Equal(t, "renamed", *recycled[0].ProjectName)

	rec = e.doJSON(http.MethodPatch, fmt.Sprintf("/api/v1/layers/recycle/%d", layerID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.doJSON(http.MethodGet, fmt.Sprintf("/api/v1/projects/%d/layers", p.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]layerResponse](t, rec), 1)

	rec = e.doJSON(http.MethodDelete, fmt.Sprintf("/api/v1/projects/%d", p.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.doJSON(http.MethodGet, fmt.Sprintf("/api/v1/projects/%d", p.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.doJSON(http.MethodGet, "/api/v1/projects/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ingest.ErrUnsupportedFormat, "UNSUPPORTED_FORMAT"},
		{&ingest.DecodeError{Format: core.FormatKMZ, Err: ingest.ErrGeometry}, "DECODE_ERROR"},
		{fmt.Errorf("x: %w", ingest.ErrGeometry), "GEOMETRY_ERROR"},
		{fmt.Errorf("%w: boom", ingest.ErrPersistence), "PERSISTENCE_ERROR"},
		{ingest.ErrNotFound, "NOT_FOUND"},
		{ingest.ErrNoSource, "VALIDATION_ERROR"},
		{&http.MaxBytesError{Limit: 1}, "PAYLOAD_TOO_LARGE"},
		{&ingest.DecodeError{Format: core.FormatShapefile, Err: ingest.ErrArchiveTooLarge}, "PAYLOAD_TOO_LARGE"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		_, code := classify(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
