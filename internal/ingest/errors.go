package ingest

import (
	"errors"
	"fmt"

	"github.com/webgis/backend/internal/storage"
	"github.com/webgis/backend/pkg/core"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrDecode is wrapped by every DecodeError.
	ErrDecode = errors.New("decode failed")
	// ErrGeometry marks a missing, empty or unparseable geometry.
	ErrGeometry = errors.New("invalid geometry")
	// ErrPersistence wraps store failures while writing an upload.
	ErrPersistence = errors.New("persistence failed")
	// ErrNotFound is returned when a target project, layer or copy source is missing.
	ErrNotFound = storage.ErrNotFound
)

// DecodeError reports which file failed to decode and why.
type DecodeError struct {
	Format   core.Format
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s file %q: %v", e.Format, e.Filename, e.Err)
}

// Unwrap exposes both ErrDecode and the underlying cause to errors.Is/As.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

func decodeErr(format core.Format, filename string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Format: format, Filename: filename, Err: err}
}
