package layer

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/spatial"
)

// loadGeoJSON reads a GeoJSON FeatureCollection.
func loadGeoJSON(name, path string) (*Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open %s", path)
	}
	defer func() { _ = f.Close() }()

	var fc geojson.FeatureCollection
	if err := json.NewDecoder(f).Decode(&fc); err != nil {
		return nil, eris.Wrapf(err, "layer: decode geojson %s", path)
	}

	l := &Layer{Name: name, Path: path, Features: make([]Feature, 0, len(fc.Features))}
	var empty int
	for i, gf := range fc.Features {
		feat := Feature{Index: i, Geom: gf.Geometry, Props: gf.Properties}
		if feat.Props == nil {
			feat.Props = map[string]any{}
		}
		if gf.Geometry != nil {
			shape, err := spatial.FromGeom(gf.Geometry)
			if err != nil {
				return nil, eris.Wrapf(err, "layer: %s feature %d", name, i)
			}
			feat.Shape = shape
		} else {
			empty++
		}
		l.Features = append(l.Features, feat)
	}

	if empty > 0 {
		zap.L().Debug("layer: features without geometry",
			zap.String("layer", name),
			zap.Int("count", empty),
		)
	}
	return l, nil
}
