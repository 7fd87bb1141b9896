package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogHandler returns a JSON handler that ships each record as a GELF
// message over UDP to addr. Close the returned closer on shutdown.
func NewGraylogHandler(addr, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("graylog writer: %w", err)
	}
	w.Facility = ServiceName
	return newGraylogHandler(w, level), w, nil
}

func newGraylogHandler(w io.Writer, level string) slog.Handler {
	return slog.NewJSONHandler(w, handlerOptions(level))
}
