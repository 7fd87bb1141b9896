package otel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webgis/backend/internal/ingest"
	"github.com/webgis/backend/pkg/core"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew_DisabledStillServesMetrics(t *testing.T) {
	p, err := New(Config{ServiceName: "gisserver"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, scrape(t, p), "go_goroutines")
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "gisserver"})
	assert.Error(t, err)
}

func TestNew_EnabledWithWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "gisserver", BatchTimeout: time.Second, LogWriter: &buf})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestIngestMetrics_RecordUpload(t *testing.T) {
	p, err := New(Config{ServiceName: "gisserver"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewIngestMetrics(p.Meter("ingest"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUpload(ctx, ingest.UploadStats{Format: core.FormatGeoJSON, Outcome: ingest.OutcomeCommitted, Features: 3, Duration: 200 * time.Millisecond})
	m.RecordUpload(ctx, ingest.UploadStats{Format: core.FormatKMZ, Outcome: ingest.OutcomeRejected, Duration: time.Millisecond})

	out := scrape(t, p)
	assert.Contains(t, out, "gis_ingest_uploads_total")
	assert.Contains(t, out, `outcome="rejected"`)
	assert.Contains(t, out, "gis_ingest_features_total")
	assert.Contains(t, out, "gis_ingest_duration_seconds_bucket")
}
