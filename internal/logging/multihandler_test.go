package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHandler struct {
	slog.Handler
}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("graylog unreachable")
}

func textHandler(buf *bytes.Buffer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})
}

func TestMultiHandler_Handle(t *testing.T) {
	var file, console bytes.Buffer
	multi := NewMultiHandler(nil, textHandler(&file, slog.LevelDebug), nil, textHandler(&console, slog.LevelInfo))
	require.Len(t, multi.handlers, 2)

	logger := slog.New(multi)
	logger.Debug("decoder detail")
	logger.Info("upload committed")

	assert.Contains(t, file.String(), "decoder detail")
	assert.Contains(t, file.String(), "upload committed")
	assert.NotContains(t, console.String(), "decoder detail")
	assert.Contains(t, console.String(), "upload committed")
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	info := textHandler(&bytes.Buffer{}, slog.LevelInfo)
	debug := textHandler(&bytes.Buffer{}, slog.LevelDebug)

	assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))
	assert.False(t, NewMultiHandler(info).Enabled(ctx, slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, debug).Enabled(ctx, slog.LevelDebug))
}

func TestMultiHandler_ErrorDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(failingHandler{}, textHandler(&buf, slog.LevelInfo))

	var r slog.Record
	r.Level = slog.LevelInfo
	r.Message = "still logged"
	err := multi.Handle(context.Background(), r)

	assert.ErrorContains(t, err, "graylog unreachable")
	assert.Contains(t, buf.String(), "still logged")
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(textHandler(&buf, slog.LevelInfo))

	assert.Same(t, multi, multi.WithGroup(""))

	logger := slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "api")}).WithGroup("req"))
	logger.Info("served", "status", 200)

	assert.Contains(t, buf.String(), "component=api")
	assert.Contains(t, buf.String(), "req.status=200")
}
