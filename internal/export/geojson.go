package export

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// WriteGeoJSON writes a FeatureCollection with one feature per row. The
// feature id is the lot id and the properties are the table columns.
func WriteGeoJSON(path string, t *parcel.Table) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, t.Len())}
	for _, r := range t.Rows() {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         r.LotID,
			Geometry:   r.Geom,
			Properties: r.Properties(),
		})
	}

	b, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
