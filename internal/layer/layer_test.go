package layer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const lotsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
     "properties": {"objectid": 7, "street": "MARKET", "from_st": "1200", "resunits": "0"}},
    {"type": "Feature",
     "geometry": null,
     "properties": {"objectid": 8, "street": " ", "from_st": 1250.5, "resunits": null}}
  ]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_GeoJSON(t *testing.T) {
	path := writeFile(t, "lots.geojson", lotsGeoJSON)

	l, err := Load("lots", path)
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())

	first := l.Features[0]
	assert.NotNil(t, first.Geom)
	require.NotNil(t, first.Shape)
	assert.InDelta(t, 1.0, first.Shape.Area(), 1e-9)

	second := l.Features[1]
	assert.Nil(t, second.Geom)
	assert.Nil(t, second.Shape)
	assert.Equal(t, 1, second.Index)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("lots", filepath.Join(t.TempDir(), "nope.geojson"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layer: open")
}

func TestLoad_BadJSON(t *testing.T) {
	path := writeFile(t, "bad.geojson", `{"type": "FeatureCollection", "features": [`)
	_, err := Load("bad", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode geojson")
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load("lots", "lots.kml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestFeature_String(t *testing.T) {
	f := Feature{Props: map[string]any{
		"text":    " MARKET ",
		"int":     float64(1200),
		"frac":    1250.5,
		"blank":   "  ",
		"null":    nil,
		"flag":    true,
		"counter": 3,
	}}

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"text", "MARKET", true},
		{"int", "1200", true},
		{"frac", "1250.5", true},
		{"blank", "", false},
		{"null", "", false},
		{"absent", "", false},
		{"flag", "true", true},
		{"counter", "3", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := f.String(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFeature_Number(t *testing.T) {
	f := Feature{Props: map[string]any{
		"cm":    "1524",
		"float": 12.5,
		"blank": "",
		"null":  nil,
		"junk":  "tall",
		"obj":   map[string]any{},
	}}

	v, ok, err := f.Number("cm")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1524.0, v, 1e-9)

	v, ok, err = f.Number("float")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 12.5, v, 1e-9)

	for _, key := range []string{"blank", "null", "absent"} {
		_, ok, err = f.Number(key)
		require.NoError(t, err, key)
		assert.False(t, ok, key)
	}

	_, _, err = f.Number("junk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `junk="tall"`)

	_, _, err = f.Number("obj")
	require.Error(t, err)
}

func TestLayer_RenameAndFields(t *testing.T) {
	l := &Layer{Name: "federal", Features: []Feature{
		{Props: map[string]any{"name": "Jackson Square", "id": 1}},
		{Props: map[string]any{"id": 2}},
	}}
	l.Rename("name", "fed_name")

	assert.Equal(t, []string{"fed_name", "id"}, l.Fields())
	assert.Equal(t, "Jackson Square", l.Features[0].Props["fed_name"])
	_, ok := l.Features[1].Props["fed_name"]
	assert.False(t, ok)
}

func TestLayer_Filter(t *testing.T) {
	l := &Layer{Name: "historic", Features: []Feature{
		{Props: map[string]any{"ceqacode": "A"}},
		{Props: map[string]any{"ceqacode": "B"}},
		{Props: map[string]any{"ceqacode": "A"}},
	}}
	a := l.Filter(func(f Feature) bool {
		code, _ := f.String("ceqacode")
		return code == "A"
	})
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 3, l.Len())
}

func TestRequire(t *testing.T) {
	l := &Layer{Name: "lots", Path: "data/lots.geojson", Features: []Feature{
		{Props: map[string]any{"objectid": 1, "street": "MARKET"}},
	}}

	assert.NoError(t, Require(l, "objectid", "street"))

	err := Require(l, "objectid", "from_st", "resunits")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lots (data/lots.geojson)")
	assert.Contains(t, err.Error(), "missing required fields: from_st, resunits")
}

func TestRequire_EmptyLayer(t *testing.T) {
	assert.NoError(t, Require(&Layer{Name: "empty"}, "objectid"))
}

func TestRequireGeometry(t *testing.T) {
	path := writeFile(t, "lots.geojson", lotsGeoJSON)
	l, err := Load("lots", path)
	require.NoError(t, err)

	err = RequireGeometry(l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 features without geometry")
}

func TestLoadAll_OrderRenamesAndSchema(t *testing.T) {
	lots := writeFile(t, "lots.geojson", lotsGeoJSON)
	zoning := writeFile(t, "zoning.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
		 "properties":{"objectid":"Z1","gen":"Residential"}}]}`)

	layers, err := LoadAll(context.Background(), []Spec{
		{Name: "lots", Path: lots, Renames: map[string]string{"objectid": "lot_id"}, Required: []string{"lot_id", "street"}},
		{Name: "zoning", Path: zoning, Renames: map[string]string{"objectid": "zone_id"}, Required: []string{"zone_id", "gen"}},
	})
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "lots", layers[0].Name)
	assert.Equal(t, "zoning", layers[1].Name)

	id, ok := layers[0].Features[0].String("lot_id")
	assert.True(t, ok)
	assert.Equal(t, "7", id)
}

func TestLoadAll_SchemaFailure(t *testing.T) {
	lots := writeFile(t, "lots.geojson", lotsGeoJSON)

	_, err := LoadAll(context.Background(), []Spec{
		{Name: "lots", Path: lots, Required: []string{"to_st"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required fields: to_st")
}

func TestLoadAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadAll(ctx, []Spec{{Name: "lots", Path: "lots.geojson"}})
	require.Error(t, err)
}

func writeShapefile(t *testing.T, rings ...[]shp.Point) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lots.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("OBJECTID", 10),
		shp.StringField("STREET", 20),
	}))

	poly := shp.Polygon(*shp.NewPolyLine(rings))
	row := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(row), 0, "42"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "MISSION"))
	w.Close()
	return path
}

func TestLoad_Shapefile(t *testing.T) {
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}, {X: 1, Y: 1}}
	path := writeShapefile(t, outer, hole)

	l, err := Load("lots", path)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	f := l.Features[0]
	id, ok := f.String("objectid")
	assert.True(t, ok)
	assert.Equal(t, "42", id)
	street, _ := f.String("street")
	assert.Equal(t, "MISSION", street)

	require.NotNil(t, f.Shape)
	assert.InDelta(t, 15.0, f.Shape.Area(), 1e-9)
}

func TestLoad_ShapefileSeparateOuterRings(t *testing.T) {
	// Two clockwise rings are two polygons, not a polygon with a hole.
	a := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}}
	b := []shp.Point{{X: 3, Y: 0}, {X: 3, Y: 1}, {X: 4, Y: 1}, {X: 4, Y: 0}, {X: 3, Y: 0}}
	l, err := Load("lots", writeShapefile(t, a, b))
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	mp, ok := l.Features[0].Geom.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.InDelta(t, 2.0, l.Features[0].Shape.Area(), 1e-9)
}

func TestLoad_ShapefileNumericFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "historic.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.FloatField("LOWSTNUM", 12, 2),
		shp.NumberField("HIGHSTNUM", 8),
		shp.StringField("STNAME", 20),
	}))
	ring := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
	row := int(w.Write(&poly))
	require.NoError(t, w.WriteAttribute(row, 0, 1200.0))
	require.NoError(t, w.WriteAttribute(row, 1, 1250))
	require.NoError(t, w.WriteAttribute(row, 2, "0100"))
	w.Close()

	l, err := Load("historic_register", path)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	f := l.Features[0]
	low, _ := f.String("lowstnum")
	assert.Equal(t, "1200", low)
	high, _ := f.String("highstnum")
	assert.Equal(t, "1250", high)
	name, _ := f.String("stname")
	assert.Equal(t, "0100", name, "text fields are not reformatted")
}

func TestDBFNumber(t *testing.T) {
	assert.Equal(t, "1200", dbfNumber("1200.00"))
	assert.Equal(t, "12.5", dbfNumber("12.50"))
	assert.Equal(t, "*****", dbfNumber("*****"))
}

func TestCodepage(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "lots.shp")

	dec, err := codepage(shpPath)
	require.NoError(t, err)
	assert.Nil(t, dec, "no sidecar means utf-8")

	cpg := filepath.Join(dir, "lots.cpg")
	require.NoError(t, os.WriteFile(cpg, []byte("UTF-8\n"), 0o644))
	dec, err = codepage(shpPath)
	require.NoError(t, err)
	assert.Nil(t, dec)

	require.NoError(t, os.WriteFile(cpg, []byte("ISO-8859-1"), 0o644))
	dec, err = codepage(shpPath)
	require.NoError(t, err)
	require.NotNil(t, dec)
	got, err := dec.String("CALLE DE LA PE\xd1A")
	require.NoError(t, err)
	assert.Equal(t, "CALLE DE LA PEÑA", got)

	require.NoError(t, os.WriteFile(cpg, []byte("1252"), 0o644))
	dec, err = codepage(shpPath)
	require.NoError(t, err)
	assert.NotNil(t, dec)

	require.NoError(t, os.WriteFile(cpg, []byte("klingon"), 0o644))
	_, err = codepage(shpPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported codepage")
}
