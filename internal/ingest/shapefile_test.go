package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zipShapefile zips the .shp, .shx and .dbf files written under dir/base.
// shp.Writer names its table "<base>dbf", without the dot.
func zipShapefile(t *testing.T, dir, base string, extra ...zipEntry) []byte {
	t.Helper()
	written := map[string]string{".shp": ".shp", ".shx": ".shx", ".dbf": "dbf"}
	var entries []zipEntry
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		b, err := os.ReadFile(filepath.Join(dir, base+written[ext]))
		require.NoError(t, err)
		entries = append(entries, zipEntry{Name: "data/" + base + ext, Data: b})
	}
	return zipBytes(t, append(entries, extra...)...)
}

func writePointShapefile(t *testing.T) []byte {
	t.Helper()
	return zipShapefile(t, writeTowns(t), "towns")
}

// writeTowns writes towns.shp and its sidecars into a fresh directory.
func writeTowns(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	w, err := shp.Create(filepath.Join(dir, "towns.shp"), shp.POINT)
	require.NoError(t, err)
	w.SetFields([]shp.Field{
		shp.StringField("NAME_1", 20),
		shp.NumberField("POP", 10),
		shp.FloatField("AREA", 12, 3),
	})
	towns := []struct {
		name string
		pop  int
		area float64
		x, y float64
	}{
		{"Ha Noi", 8000000, 3358.6, 105.8, 21.0},
		{"Hue", 650000, 265.99, 107.58, 16.46},
		{"Can Tho", 1250000, 1439.2, 105.78, 10.03},
	}
	for i, tw := range towns {
		w.Write(&shp.Point{X: tw.x, Y: tw.y})
		w.WriteAttribute(i, 0, tw.name)
		w.WriteAttribute(i, 1, tw.pop)
		w.WriteAttribute(i, 2, tw.area)
	}
	w.Close()
	return dir
}

func TestShapefile_ReadsPointsAndAttributes(t *testing.T) {
	tmp := t.TempDir()
	d := &shapefileDecoder{opts: Options{TempDir: tmp}}
	raws, err := d.Decode(context.Background(), writePointShapefile(t), "towns.zip")
	require.NoError(t, err)
	require.Len(t, raws, 3)

	assert.Equal(t, "POINT(105.8 21)", raws[0].Geometry.AsText())
	assert.Equal(t, "Ha Noi", raws[0].Properties["NAME_1"])
	assert.Equal(t, int64(8000000), raws[0].Properties["POP"])
	assert.InDelta(t, 3358.6, raws[0].Properties["AREA"], 1e-9)
	assert.Equal(t, "Can Tho", raws[2].Properties["NAME_1"])

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp dir must be removed after success")
}

func TestShapefile_TempDirRemovedOnFailure(t *testing.T) {
	tmp := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &shapefileDecoder{opts: Options{TempDir: tmp}}
	_, err := d.Decode(ctx, writePointShapefile(t), "towns.zip")
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp dir must be removed after failure")
}

func TestShapefile_UpperCaseMembers(t *testing.T) {
	dir := writeTowns(t)
	read := func(name string) []byte {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return b
	}
	data := zipBytes(t,
		zipEntry{Name: "TOWNS.SHP", Data: read("towns.shp")},
		zipEntry{Name: "TOWNS.SHX", Data: read("towns.shx")},
		zipEntry{Name: "TOWNS.DBF", Data: read("townsdbf")},
		zipEntry{Name: "TOWNS.PRJ", Data: []byte(`GEOGCS["GCS_WGS_1984"]`)},
	)

	d := &shapefileDecoder{opts: Options{TempDir: t.TempDir()}}
	raws, err := d.Decode(context.Background(), data, "TOWNS.ZIP")
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, "Hue", raws[1].Properties["NAME_1"])
	assert.Equal(t, "POINT(107.58 16.46)", raws[1].Geometry.AsText())
}

func TestShapefile_CorruptHeader(t *testing.T) {
	dir := writeTowns(t)
	full, err := os.ReadFile(filepath.Join(dir, "towns.shp"))
	require.NoError(t, err)
	wrongCode := append([]byte{}, full...)
	wrongCode[3] = 0

	tests := []struct {
		name string
		shp  []byte
	}{
		{"one byte", []byte{0}},
		{"header only half written", full[:60]},
		{"records cut off", full[:len(full)-10]},
		{"wrong file code", wrongCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			data := zipBytes(t,
				zipEntry{Name: "z.shp", Data: tt.shp},
				zipEntry{Name: "z.dbf", Data: []byte{0}},
			)
			d := &shapefileDecoder{opts: Options{TempDir: tmp}}
			raws, err := d.Decode(context.Background(), data, "z.zip")
			assert.ErrorIs(t, err, errCorruptShp)
			assert.Empty(t, raws)

			entries, err := os.ReadDir(tmp)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestShapefile_DecompressedSizeLimit(t *testing.T) {
	tmp := t.TempDir()
	data := zipBytes(t,
		zipEntry{Name: "a.shp", Data: make([]byte, 1<<20)},
		zipEntry{Name: "a.dbf", Data: make([]byte, 1<<20)},
	)
	require.Less(t, len(data), 64<<10)

	d := &shapefileDecoder{opts: Options{TempDir: tmp, MaxDecompressedBytes: 1 << 20}}
	_, err := d.Decode(context.Background(), data, "a.zip")
	assert.ErrorIs(t, err, ErrArchiveTooLarge)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp dir must be removed after failure")
}

func TestShapefile_NoShpMember(t *testing.T) {
	d := &shapefileDecoder{opts: Options{TempDir: t.TempDir()}}
	_, err := d.Decode(context.Background(), zipBytes(t, zipEntry{Name: "a.dbf", Data: []byte{0}}), "a.zip")
	assert.ErrorIs(t, err, errNoShp)
}

func TestShapefile_ZipSlipRejected(t *testing.T) {
	tmp := t.TempDir()
	data := zipBytes(t,
		zipEntry{Name: "a.shp", Data: []byte{0}},
		zipEntry{Name: "../../escape.txt", Data: []byte("x")},
	)
	d := &shapefileDecoder{opts: Options{TempDir: tmp}}
	_, err := d.Decode(context.Background(), data, "a.zip")
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(tmp), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestShapefile_WebMercatorPrj(t *testing.T) {
	dir := t.TempDir()
	w, err := shp.Create(filepath.Join(dir, "m.shp"), shp.POINT)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("NAME", 10)})
	w.Write(&shp.Point{X: 0, Y: 0})
	w.WriteAttribute(0, 0, "origin")
	w.Close()
	prj := zipEntry{Name: "data/m.prj", Data: []byte(`PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere"]`)}

	d := &shapefileDecoder{opts: Options{TempDir: t.TempDir(), ReprojectWebMercator: true}}
	raws, err := d.Decode(context.Background(), zipShapefile(t, dir, "m", prj), "m.zip")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "POINT(0 0)", raws[0].Geometry.AsText())
}

func TestShapeGeometry(t *testing.T) {
	square := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 1}}
	far := []shp.Point{{X: 10, Y: 10}, {X: 10, Y: 11}, {X: 11, Y: 11}, {X: 10, Y: 10}}

	tests := []struct {
		name  string
		shape shp.Shape
		want  string
	}{
		{"point z", &shp.PointZ{X: 1, Y: 2, Z: 3}, "POINT(1 2)"},
		{"single part line", &shp.PolyLine{Parts: []int32{0}, Points: []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}, "LINESTRING(0 0,1 1)"},
		{"multi part line", &shp.PolyLine{
			Parts:  []int32{0, 2},
			Points: []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 5, Y: 5}, {X: 6, Y: 6}},
		}, "MULTILINESTRING((0 0,1 1),(5 5,6 6))"},
		{"polygon with hole", &shp.Polygon{
			Parts:  []int32{0, 5},
			Points: append(append([]shp.Point{}, square...), hole...),
		}, "POLYGON((0 0,0 4,4 4,4 0,0 0),(1 1,2 1,2 2,1 1))"},
		{"two outer rings", &shp.Polygon{
			Parts:  []int32{0, 5},
			Points: append(append([]shp.Point{}, square...), far...),
		}, "MULTIPOLYGON(((0 0,0 4,4 4,4 0,0 0)),((10 10,10 11,11 11,10 10)))"},
		{"multipoint", &shp.MultiPoint{Points: []shp.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}}, "MULTIPOINT((1 1),(2 2))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := shapeGeometry(tt.shape)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.AsText())
		})
	}

	_, err := shapeGeometry(&shp.Null{})
	assert.ErrorIs(t, err, ErrGeometry)
}

func TestDBFValue(t *testing.T) {
	assert.Equal(t, int64(42), dbfValue(shp.NumberField("N", 10), "  42"))
	assert.Nil(t, dbfValue(shp.NumberField("N", 10), "   "))
	assert.Equal(t, 1.25, dbfValue(shp.FloatField("F", 10, 2), "1.25"))
	assert.Equal(t, "abc", dbfValue(shp.StringField("S", 10), "abc  "))
	assert.Equal(t, true, dbfValue(shp.Field{Fieldtype: 'L'}, "T"))
	assert.Nil(t, dbfValue(shp.Field{Fieldtype: 'L'}, "?"))
}
