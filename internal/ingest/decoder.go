package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webgis/backend/pkg/core"
)

// Decoder turns the bytes of one uploaded file into raw features, in source order.
type Decoder interface {
	Decode(ctx context.Context, data []byte, filename string) ([]core.RawFeature, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, data []byte, filename string) ([]core.RawFeature, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte, filename string) ([]core.RawFeature, error) {
	return f(ctx, data, filename)
}

// Options tune the decoders.
type Options struct {
	MaxKMLDepth          int
	MaxDecompressedBytes int64 // total inflated size allowed per archive; <= 0 means the default
	ReprojectWebMercator bool
	TempDir              string // "" means os.TempDir()
	Logger               *slog.Logger
}

const (
	defaultMaxKMLDepth          = 64
	defaultMaxDecompressedBytes = 512 << 20
)

func (o Options) decompressLimit() int64 {
	if o.MaxDecompressedBytes <= 0 {
		return defaultMaxDecompressedBytes
	}
	return o.MaxDecompressedBytes
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// NewDecoders returns one decoder per supported format.
func NewDecoders(opts Options) map[core.Format]Decoder {
	if opts.MaxKMLDepth <= 0 {
		opts.MaxKMLDepth = defaultMaxKMLDepth
	}
	return map[core.Format]Decoder{
		core.FormatGeoJSON:   &geoJSONDecoder{opts: opts},
		core.FormatKMZ:       &kmzDecoder{opts: opts},
		core.FormatGPKG:      &gpkgDecoder{opts: opts},
		core.FormatShapefile: &shapefileDecoder{opts: opts},
	}
}

// DecodeFile detects the format of f and decodes it. Decoder failures come
// back as *DecodeError.
func DecodeFile(ctx context.Context, decoders map[core.Format]Decoder, f core.UploadFile) (core.Format, []core.RawFeature, error) {
	format := DetectFormat(f.Filename)
	dec, ok := decoders[format]
	if !ok {
		return format, nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f.Filename)
	}
	raws, err := dec.Decode(ctx, f.Data, f.Filename)
	if err != nil {
		if ctx.Err() != nil {
			return format, nil, fmt.Errorf("decode %q: %w", f.Filename, ctx.Err())
		}
		return format, nil, decodeErr(format, f.Filename, err)
	}
	return format, raws, nil
}
