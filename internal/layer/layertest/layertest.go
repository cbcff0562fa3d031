// Package layertest builds in-memory layers for tests.
package layertest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-risk/internal/layer"
	"github.com/sells-group/parcel-risk/internal/spatial"
)

// Rect returns an axis-aligned rectangle polygon.
func Rect(x0, y0, w, h float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x0 + w, y0}, {x0 + w, y0 + h}, {x0, y0 + h}, {x0, y0},
	}})
}

// Feature builds a feature with its GEOS shape populated. g may be nil.
func Feature(t testing.TB, g geom.T, props map[string]any) layer.Feature {
	t.Helper()
	if props == nil {
		props = map[string]any{}
	}
	f := layer.Feature{Geom: g, Props: props}
	if g != nil {
		s, err := spatial.FromGeom(g)
		require.NoError(t, err)
		f.Shape = s
	}
	return f
}

// New assembles a layer, numbering features in order.
func New(name string, features ...layer.Feature) *layer.Layer {
	for i := range features {
		features[i].Index = i
	}
	return &layer.Layer{Name: name, Path: name + ".geojson", Features: features}
}
