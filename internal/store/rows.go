package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// parcelSRID is the CRS the lot layer is published in.
const parcelSRID = 4326

// parcelColumns are the run_parcels columns in insert order.
var parcelColumns = []string{
	"run_id",
	"lot_id",
	"zone_id",
	"gen",
	"has_residential",
	"is_historic",
	"neighborhood_character",
	"height",
	"block_height",
	"residential",
	"geom",
}

// geomEncoder turns a lot geometry into the bytes a backend stores.
type geomEncoder func(geom.T) ([]byte, error)

// encodeEWKB tags the geometry with parcelSRID for PostGIS.
func encodeEWKB(g geom.T) ([]byte, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		g = t.Clone().SetSRID(parcelSRID)
	case *geom.MultiPolygon:
		g = t.Clone().SetSRID(parcelSRID)
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	return data, eris.Wrap(err, "store: encode EWKB")
}

// encodeWKB is plain ISO WKB, for SQLite blobs.
func encodeWKB(g geom.T) ([]byte, error) {
	data, err := wkb.Marshal(g, wkb.NDR)
	return data, eris.Wrap(err, "store: encode WKB")
}

// parcelRows flattens a table into rows aligned with parcelColumns.
func parcelRows(runID string, t *parcel.Table, enc geomEncoder) ([][]any, error) {
	rows := make([][]any, 0, t.Len())
	for _, p := range t.Rows() {
		var g []byte
		if p.Geom != nil {
			var err error
			g, err = enc(p.Geom)
			if err != nil {
				return nil, eris.Wrapf(err, "store: lot %s", p.LotID)
			}
		}
		rows = append(rows, []any{
			runID,
			p.LotID,
			p.ZoneID,
			p.Gen,
			p.HasResidential,
			p.IsHistoric,
			p.NeighborhoodCharacter,
			p.Height,
			p.BlockHeight,
			int(p.Residential),
			g,
		})
	}
	return rows, nil
}
