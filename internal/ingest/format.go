// Package ingest turns uploaded GeoJSON, KMZ, GeoPackage and zipped Shapefile
// files into features and persists them against a layer in one transaction.
package ingest

import (
	"strings"

	"github.com/webgis/backend/pkg/core"
)

// Extension returns the lower-cased text after the final '.', or "" if there is none.
func Extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// DetectFormat picks the decoder for a filename by its extension.
func DetectFormat(filename string) core.Format {
	switch Extension(filename) {
	case "json", "geojson":
		return core.FormatGeoJSON
	case "kmz":
		return core.FormatKMZ
	case "gpkg":
		return core.FormatGPKG
	case "zip":
		return core.FormatShapefile
	default:
		return core.FormatUnsupported
	}
}
