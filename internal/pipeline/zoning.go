package pipeline

import (
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/layer"
	"github.com/sells-group/parcel-risk/internal/parcel"
	"github.com/sells-group/parcel-risk/internal/spatial"
)

// DefaultResidentialCategories are the zoning `gen` values that allow
// housing by right.
var DefaultResidentialCategories = []string{"Mixed Use", "Residential", "Mixed"}

// vacantUnits is the resunits value that marks a lot without housing.
const vacantUnits = "0"

// ZoningStats describes what the zoning stage kept and dropped.
type ZoningStats struct {
	Lots    int
	Rows    int
	Dropped int
	Tied    int
}

// ResolveZoning places every lot in the zoning district it overlaps most and
// derives the base residential code. Lots touching no district are dropped.
// When two districts tie for the largest overlap both rows are kept, in
// zoning feature order.
func ResolveZoning(lots, zoning *layer.Layer, categories []string) (*parcel.Table, ZoningStats, error) {
	stats := ZoningStats{Lots: lots.Len()}

	ix, err := spatial.NewIndex(zoning.Shapes())
	if err != nil {
		return nil, stats, eris.Wrap(err, "pipeline: index zoning")
	}

	var rows []parcel.Parcel
	for _, lot := range lots.Features {
		lotID, ok := lot.String("lot_id")
		if !ok {
			return nil, stats, eris.Errorf("pipeline: lots feature %d has no lot_id", lot.Index)
		}

		hits := ix.Intersecting(lot.Shape)
		if len(hits) == 0 {
			stats.Dropped++
			zap.L().Debug("pipeline: lot outside every zoning district", zap.String("lot_id", lotID))
			continue
		}

		areas := make([]float64, len(hits))
		for i, zi := range hits {
			areas[i], err = spatial.OverlapArea(lot.Shape, zoning.Features[zi].Shape)
			if err != nil {
				return nil, stats, eris.Wrapf(err, "pipeline: overlap lot %s zone feature %d", lotID, zi)
			}
		}
		best := slices.Max(areas)

		base := lotRow(lotID, lot)
		var kept int
		for i, zi := range hits {
			if areas[i] != best {
				continue
			}
			kept++
			rows = append(rows, zonedRow(base, zoning.Features[zi], best, categories))
		}
		if kept > 1 {
			stats.Tied++
			zap.L().Debug("pipeline: lot ties between zoning districts",
				zap.String("lot_id", lotID),
				zap.Int("districts", kept),
			)
		}
	}
	stats.Rows = len(rows)

	zap.L().Info("pipeline: merged lots with zoning",
		zap.Int("lots", stats.Lots),
		zap.Int("rows", stats.Rows),
		zap.Int("dropped", stats.Dropped),
		zap.Int("tied", stats.Tied),
	)
	return parcel.NewTable(rows), stats, nil
}

func lotRow(lotID string, lot layer.Feature) parcel.Parcel {
	p := parcel.Parcel{
		LotID: lotID,
		Geom:  lot.Geom,
		Shape: lot.Shape,
	}
	p.Street, _ = lot.String("street")
	p.StType, _ = lot.String("st_type")
	p.FromSt, _ = lot.String("from_st")
	p.ToSt, _ = lot.String("to_st")
	p.ResUnits, _ = lot.String("resunits")
	return p
}

func zonedRow(base parcel.Parcel, zone layer.Feature, overlap float64, categories []string) parcel.Parcel {
	p := base
	p.ZoneID, _ = zone.String("zone_id")
	p.Gen, _ = zone.String("gen")
	p.Overlap = overlap
	p.ZonedResidential = slices.Contains(categories, p.Gen)

	// A null resunits is not "0", so it counts as housing.
	if p.ResUnits != vacantUnits {
		p.HasResidential = 2
	}
	p.Residential = parcel.Code(p.HasResidential)
	if p.ZonedResidential && p.Residential < parcel.CodeZonedVacant {
		p.Residential = parcel.CodeZonedVacant
	}
	return p
}
