package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webgis/backend/pkg/core"
)

// UploadState is the lifecycle position of one upload.
type UploadState int

const (
	LayerPending UploadState = iota
	LayerCreated
	FeaturesPersisting
	Committed
	RolledBack
)

func (s UploadState) String() string {
	switch s {
	case LayerPending:
		return "layer_pending"
	case LayerCreated:
		return "layer_created"
	case FeaturesPersisting:
		return "features_persisting"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var allowedTransitions = map[UploadState][]UploadState{
	LayerPending:       {LayerCreated, RolledBack},
	LayerCreated:       {FeaturesPersisting, RolledBack},
	FeaturesPersisting: {Committed, RolledBack},
}

// UploadContext tracks a single upload from layer resolution to commit.
type UploadContext struct {
	ID         uuid.UUID
	Format     core.Format
	ProjectID  uint
	LayerID    uint
	NewLayer   bool
	State      UploadState
	FeatureIDs []uint
	Started    time.Time
}

func newUploadContext() *UploadContext {
	return &UploadContext{
		ID:      uuid.New(),
		State:   LayerPending,
		Started: time.Now(),
	}
}

// Advance moves the upload to the next state. Committed and RolledBack are final.
func (u *UploadContext) Advance(to UploadState) error {
	for _, s := range allowedTransitions[u.State] {
		if s == to {
			u.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid upload transition %s -> %s", u.State, to)
}

// Done reports whether the upload reached a final state.
func (u *UploadContext) Done() bool {
	return u.State == Committed || u.State == RolledBack
}
