package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/parcel-risk/internal/layer"
	"github.com/sells-group/parcel-risk/internal/layer/layertest"
	"github.com/sells-group/parcel-risk/internal/parcel"
)

// lot describes one parcel of a fixture.
type lot struct {
	id       string
	rect     [4]float64
	street   string
	stType   string
	from, to any
	resunits any
}

func lotsLayer(t *testing.T, lots ...lot) *layer.Layer {
	t.Helper()
	feats := make([]layer.Feature, len(lots))
	for i, l := range lots {
		feats[i] = layertest.Feature(t, rect(l.rect), map[string]any{
			"lot_id":   l.id,
			"street":   l.street,
			"st_type":  l.stType,
			"from_st":  l.from,
			"to_st":    l.to,
			"resunits": l.resunits,
		})
	}
	return layertest.New("lots", feats...)
}

// polyLayer builds a layer of rectangles carrying one attribute each.
func polyLayer(t *testing.T, name, field string, polys map[string][4]float64, order ...string) *layer.Layer {
	t.Helper()
	feats := make([]layer.Feature, 0, len(order))
	for _, v := range order {
		r, ok := polys[v]
		require.True(t, ok, v)
		var val any = v
		if v == "" {
			val = nil
		}
		feats = append(feats, layertest.Feature(t, rect(r), map[string]any{field: val}))
	}
	return layertest.New(name, feats...)
}

func rect(r [4]float64) *geom.Polygon {
	return layertest.Rect(r[0], r[1], r[2], r[3])
}

func zoningLayer(t *testing.T) *layer.Layer {
	t.Helper()
	return layertest.New("zoning",
		layertest.Feature(t, layertest.Rect(0, 0, 10, 10), map[string]any{"zone_id": "Z1", "gen": "Residential"}),
		layertest.Feature(t, layertest.Rect(10, 0, 10, 10), map[string]any{"zone_id": "Z2", "gen": "Commercial"}),
		layertest.Feature(t, layertest.Rect(20, 0, 10, 10), map[string]any{"zone_id": "Z3", "gen": "Mixed Use"}),
	)
}

func emptySources() HistoricSources {
	return HistoricSources{
		State:     layertest.New("historic_state"),
		Federal:   layertest.New("historic_national"),
		Register:  layertest.New("historic_register"),
		Local:     layertest.New("historic_local"),
		Landmarks: layertest.New("historic_landmarks"),
	}
}

func buildingsLayer(t *testing.T, heights map[[4]float64]any) *layer.Layer {
	t.Helper()
	var feats []layer.Feature
	for r, cm := range heights {
		feats = append(feats, layertest.Feature(t, rect(r), map[string]any{"hgt_mediancm": cm}))
	}
	return layertest.New("buildings", feats...)
}

func byLot(t *parcel.Table) map[string]parcel.Parcel {
	out := make(map[string]parcel.Parcel, t.Len())
	for _, r := range t.Rows() {
		if _, ok := out[r.LotID]; !ok {
			out[r.LotID] = r
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
