package pipeline

import (
	"math"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/layer"
	"github.com/sells-group/parcel-risk/internal/parcel"
	"github.com/sells-group/parcel-risk/internal/spatial"
)

const (
	// cmToFeet converts the buildings layer's centimeter heights.
	cmToFeet = 0.0328084

	// DefaultThresholdFt is the lot/block median height difference that
	// counts as a neighborhood-character deviation.
	DefaultThresholdFt = 10.0
)

// CharacterStats describes the neighborhood-character stage.
type CharacterStats struct {
	Buildings int
	Pairs     int
	Deviating int
	Escalated int
}

// blockKey groups lots on the same block face of the same street.
type blockKey struct {
	block  int
	street string
	stType string
}

// ResolveCharacter compares each lot's median building height with the
// median of its block face and raises lots with housing to
// parcel.CodeProtected when they differ by more than thresholdFt. A lot
// without a height or without a block median is never a deviation.
func ResolveCharacter(t *parcel.Table, buildings *layer.Layer, thresholdFt float64) (*parcel.Table, CharacterStats, error) {
	stats := CharacterStats{Buildings: buildings.Len()}
	rows := t.Rows()

	shapes := make([]*geos.Geom, len(rows))
	for i := range rows {
		block, err := blockNumber(rows[i].FromSt)
		if err != nil {
			return nil, stats, eris.Wrapf(err, "pipeline: lot %s", rows[i].LotID)
		}
		rows[i].Block = block
		shapes[i] = rows[i].Shape
	}

	ix, err := spatial.NewIndex(shapes)
	if err != nil {
		return nil, stats, eris.Wrap(err, "pipeline: index lots")
	}

	byLot := make(map[string][]float64)
	byBlock := make(map[blockKey][]float64)
	for _, b := range buildings.Features {
		cm, ok, err := b.Number("hgt_mediancm")
		if err != nil {
			return nil, stats, eris.Wrapf(err, "pipeline: buildings feature %d", b.Index)
		}
		hits := ix.Intersecting(b.Shape)
		stats.Pairs += len(hits)
		if !ok {
			continue
		}
		height := cm * cmToFeet
		for _, ri := range hits {
			r := rows[ri]
			byLot[r.LotID] = append(byLot[r.LotID], height)
			if key, ok := keyFor(r); ok {
				byBlock[key] = append(byBlock[key], height)
			}
		}
	}
	zap.L().Debug("pipeline: joined buildings to lots",
		zap.Int("buildings", stats.Buildings),
		zap.Int("pairs", stats.Pairs),
	)

	blockMedians := make(map[blockKey]float64, len(byBlock))
	for k, hs := range byBlock {
		blockMedians[k] = median(hs)
	}

	for i := range rows {
		r := &rows[i]
		if hs, ok := byLot[r.LotID]; ok {
			h := median(hs)
			r.Height = &h
		}
		if key, ok := keyFor(*r); ok {
			if bh, ok := blockMedians[key]; ok {
				r.BlockHeight = &bh
			}
		}

		r.NeighborhoodCharacter = r.Height != nil && r.BlockHeight != nil &&
			math.Abs(*r.Height-*r.BlockHeight) > thresholdFt
		if !r.NeighborhoodCharacter {
			continue
		}
		stats.Deviating++
		if r.Escalate() {
			stats.Escalated++
		}
	}

	zap.L().Info("pipeline: resolved neighborhood character",
		zap.Int("rows", len(rows)),
		zap.Int("deviating", stats.Deviating),
		zap.Int("escalated", stats.Escalated),
		zap.Float64("threshold_ft", thresholdFt),
	)
	return parcel.NewTable(rows), stats, nil
}

// blockNumber truncates a street number to its hundred block. An empty
// number has no block.
func blockNumber(fromSt string) (*int, error) {
	if fromSt == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(fromSt, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse from_st %q", fromSt)
	}
	block := int(math.Floor(n / 100))
	return &block, nil
}

func keyFor(p parcel.Parcel) (blockKey, bool) {
	if p.Block == nil || p.Street == "" || p.StType == "" {
		return blockKey{}, false
	}
	return blockKey{block: *p.Block, street: p.Street, stType: p.StType}, true
}

// median of a non-empty sample; even-sized samples average the middle two.
func median(vals []float64) float64 {
	s := slices.Clone(vals)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
