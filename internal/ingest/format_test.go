package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/webgis/backend/pkg/core"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     core.Format
	}{
		{"roads.geojson", core.FormatGeoJSON},
		{"roads.JSON", core.FormatGeoJSON},
		{"map.kmz", core.FormatKMZ},
		{"parcels.gpkg", core.FormatGPKG},
		{"rivers.shp.zip", core.FormatShapefile},
		{"notes.txt", core.FormatUnsupported},
		{"noextension", core.FormatUnsupported},
		{"trailingdot.", core.FormatUnsupported},
		{"", core.FormatUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.filename))
		})
	}
}

func TestDecodeFile_Unsupported(t *testing.T) {
	_, _, err := DecodeFile(context.Background(), NewDecoders(Options{}), core.UploadFile{Filename: "a.txt", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, ErrDecode)
}

func TestDecodeFile_WrapsDecoderError(t *testing.T) {
	cause := errors.New("boom")
	decoders := map[core.Format]Decoder{
		core.FormatGeoJSON: DecoderFunc(func(_ context.Context, _ []byte, _ string) ([]core.RawFeature, error) {
			return nil, cause
		}),
	}
	_, _, err := DecodeFile(context.Background(), decoders, core.UploadFile{Filename: "a.geojson"})

	var de *DecodeError
	assert.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, core.FormatGeoJSON, de.Format)
	assert.Equal(t, "a.geojson", de.Filename)
}

func TestDecodeError_NotDoubleWrapped(t *testing.T) {
	inner := decodeErr(core.FormatKMZ, "a.kmz", errors.New("bad"))
	outer := decodeErr(core.FormatKMZ, "a.kmz", fmt.Errorf("walk: %w", inner))
	assert.Equal(t, "walk: "+inner.Error(), outer.Error())
}
