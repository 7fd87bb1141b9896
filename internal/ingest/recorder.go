package ingest

import (
	"context"
	"time"

	"github.com/webgis/backend/pkg/core"
)

// Upload outcomes reported to recorders.
const (
	OutcomeCommitted  = "committed"
	OutcomeRejected   = "rejected"
	OutcomeRolledBack = "rolled_back"
)

// UploadStats summarizes one finished upload.
type UploadStats struct {
	UploadID string
	Format   core.Format
	Outcome  string
	Features int
	Duration time.Duration
	LayerID  uint
}

// Recorder receives a summary of every finished upload.
type Recorder interface {
	RecordUpload(ctx context.Context, s UploadStats)
}
