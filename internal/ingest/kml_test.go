package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kmz(t *testing.T, body string) []byte {
	t.Helper()
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">` + body + `</kml>`
	return zipBytes(t, zipEntry{Name: "files/icon.png", Data: []byte{0x89}}, zipEntry{Name: "Doc.KML", Data: []byte(doc)})
}

func placemark(name, geometry string) string {
	return fmt.Sprintf("<Placemark><name>%s</name>%s</Placemark>", name, geometry)
}

func decodeKMZ(t *testing.T, body string) ([]string, []geom.Geometry) {
	t.Helper()
	d := &kmzDecoder{}
	raws, err := d.Decode(context.Background(), kmz(t, body), "a.kmz")
	require.NoError(t, err)
	var names []string
	var geoms []geom.Geometry
	for _, r := range raws {
		names = append(names, fmt.Sprint(r.Properties["name"]))
		geoms = append(geoms, r.Geometry)
	}
	return names, geoms
}

func TestKML_PointDropsAltitude(t *testing.T) {
	_, geoms := decodeKMZ(t, placemark("HN", "<Point><coordinates>105.8,21.0,0</coordinates></Point>"))
	require.Len(t, geoms, 1)
	assert.Equal(t, "POINT(105.8 21)", geoms[0].AsText())
}

func TestKML_FlattensNestedFolders(t *testing.T) {
	pt := "<Point><coordinates>1,1</coordinates></Point>"
	body := "<Document>" +
		placemark("a", pt) +
		"<Folder>" + placemark("b", pt) +
		"<Folder>" + placemark("c", pt) + "</Folder>" +
		"</Folder>" +
		placemark("d", pt) +
		"</Document>"

	names, _ := decodeKMZ(t, body)
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestKML_LineAndPolygonOuterRingOnly(t *testing.T) {
	body := placemark("line", "<LineString><coordinates>0,0 1,1 2,0</coordinates></LineString>") +
		placemark("poly", `<Polygon>
			<outerBoundaryIs><LinearRing><coordinates>0,0 4,0 4,4 0,4 0,0</coordinates></LinearRing></outerBoundaryIs>
			<innerBoundaryIs><LinearRing><coordinates>1,1 2,1 2,2 1,1</coordinates></LinearRing></innerBoundaryIs>
		</Polygon>`)

	_, geoms := decodeKMZ(t, body)
	require.Len(t, geoms, 2)
	assert.Equal(t, "LINESTRING(0 0,1 1,2 0)", geoms[0].AsText())
	assert.Equal(t, "POLYGON((0 0,4 0,4 4,0 4,0 0))", geoms[1].AsText())
}

func TestKML_HomogeneousMultiGeometry(t *testing.T) {
	body := placemark("pts", `<MultiGeometry>
		<Point><coordinates>1,2</coordinates></Point>
		<Point><coordinates>3,4</coordinates></Point>
	</MultiGeometry>`)

	_, geoms := decodeKMZ(t, body)
	require.Len(t, geoms, 1)
	assert.Equal(t, "MULTIPOINT((1 2),(3 4))", geoms[0].AsText())
}

func TestKML_MixedMultiGeometryExcluded(t *testing.T) {
	body := placemark("mixed", `<MultiGeometry>
		<Point><coordinates>1,2</coordinates></Point>
		<LineString><coordinates>0,0 1,1</coordinates></LineString>
	</MultiGeometry>`) + placemark("ok", "<Point><coordinates>5,5</coordinates></Point>")

	first, _ := decodeKMZ(t, body)
	second, _ := decodeKMZ(t, body)
	assert.Equal(t, []string{"ok"}, first)
	assert.Equal(t, first, second)
}

func TestKML_GeometryPriority(t *testing.T) {
	body := placemark("both", `<LineString><coordinates>0,0 1,1</coordinates></LineString><Point><coordinates>9,9</coordinates></Point>`)
	_, geoms := decodeKMZ(t, body)
	require.Len(t, geoms, 1)
	assert.Equal(t, "POINT(9 9)", geoms[0].AsText())
}

func TestKML_BadPlacemarksDropped(t *testing.T) {
	body := placemark("bad", "<Point><coordinates>abc,def</coordinates></Point>") +
		placemark("empty", "") +
		placemark("short", "<LineString><coordinates>0,0</coordinates></LineString>") +
		placemark("good", "<Point><coordinates>1,1</coordinates></Point>")

	names, _ := decodeKMZ(t, body)
	assert.Equal(t, []string{"good"}, names)
}

func TestKML_NoNameGivesEmptyProperties(t *testing.T) {
	d := &kmzDecoder{}
	raws, err := d.Decode(context.Background(), kmz(t, "<Placemark><Point><coordinates>1,1</coordinates></Point></Placemark>"), "a.kmz")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Empty(t, raws[0].Properties)
}

func TestKML_DepthCap(t *testing.T) {
	body := strings.Repeat("<Folder>", 5) +
		placemark("deep", "<Point><coordinates>1,1</coordinates></Point>") +
		strings.Repeat("</Folder>", 5)

	d := &kmzDecoder{opts: Options{MaxKMLDepth: 3}}
	_, err := d.Decode(context.Background(), kmz(t, body), "a.kmz")
	assert.ErrorContains(t, err, "deeper than 3")

	d = &kmzDecoder{opts: Options{MaxKMLDepth: 5}}
	raws, err := d.Decode(context.Background(), kmz(t, body), "a.kmz")
	require.NoError(t, err)
	assert.Len(t, raws, 1)
}

func TestKMZ_NoKMLMember(t *testing.T) {
	d := &kmzDecoder{}
	_, err := d.Decode(context.Background(), zipBytes(t, zipEntry{Name: "readme.txt", Data: []byte("hi")}), "a.kmz")
	assert.ErrorIs(t, err, errNoKML)
}

func TestKMZ_NotAZip(t *testing.T) {
	d := &kmzDecoder{}
	_, err := d.Decode(context.Background(), []byte("plain text"), "a.kmz")
	assert.Error(t, err)
}

func TestKMZ_DecompressedSizeLimit(t *testing.T) {
	data := kmz(t, strings.Repeat("<Folder></Folder>", 4096))

	d := &kmzDecoder{opts: Options{MaxDecompressedBytes: 1024}}
	_, err := d.Decode(context.Background(), data, "a.kmz")
	assert.ErrorIs(t, err, ErrArchiveTooLarge)

	d = &kmzDecoder{opts: Options{MaxDecompressedBytes: 1 << 20}}
	_, err = d.Decode(context.Background(), data, "a.kmz")
	assert.NoError(t, err)
}
