package otel

import (
	"context"
	"fmt"

	"github.com/webgis/backend/internal/ingest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IngestMetrics records upload outcomes as OTel instruments.
type IngestMetrics struct {
	uploads  metric.Int64Counter
	features metric.Int64Counter
	duration metric.Float64Histogram
}

// NewIngestMetrics creates the upload instruments on meter.
func NewIngestMetrics(meter metric.Meter) (*IngestMetrics, error) {
	uploads, err := meter.Int64Counter("gis_ingest_uploads",
		metric.WithDescription("Finished uploads by format and outcome"))
	if err != nil {
		return nil, fmt.Errorf("uploads counter: %w", err)
	}
	features, err := meter.Int64Counter("gis_ingest_features",
		metric.WithDescription("Features persisted by committed uploads"))
	if err != nil {
		return nil, fmt.Errorf("features counter: %w", err)
	}
	duration, err := meter.Float64Histogram("gis_ingest_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Upload processing time"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}
	return &IngestMetrics{uploads: uploads, features: features, duration: duration}, nil
}

// RecordUpload implements ingest.Recorder.
func (m *IngestMetrics) RecordUpload(ctx context.Context, s ingest.UploadStats) {
	attrs := metric.WithAttributes(
		attribute.String("format", string(s.Format)),
		attribute.String("outcome", s.Outcome),
	)
	m.uploads.Add(ctx, 1, attrs)
	if s.Outcome == ingest.OutcomeCommitted {
		m.features.Add(ctx, int64(s.Features), metric.WithAttributes(attribute.String("format", string(s.Format))))
	}
	m.duration.Record(ctx, s.Duration.Seconds(), attrs)
}
