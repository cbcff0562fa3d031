package pipeline

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/layer"
	"github.com/sells-group/parcel-risk/internal/parcel"
	"github.com/sells-group/parcel-risk/internal/spatial"
)

// definiteCEQA is the register code for a resource that is definitely
// historic. "B" (potential) is excluded.
const definiteCEQA = "A"

// HistoricSources are the five designation datasets. Attribute names are
// the post-rename ones: name, fed_name, ceqacode, local_name, localb_name.
type HistoricSources struct {
	State     *layer.Layer
	Federal   *layer.Layer
	Register  *layer.Layer
	Local     *layer.Layer
	Landmarks *layer.Layer
}

// HistoricOptions tune the historic stage.
type HistoricOptions struct {
	// IncludeLandmarks lets a local landmark alone mark a lot historic.
	// Off by default, which keeps the landmark join informational only.
	IncludeLandmarks bool
}

// HistoricStats describes the historic stage.
type HistoricStats struct {
	JoinedRows int
	Rows       int
	Historic   int
	Escalated  int
}

// ResolveHistoric flags lots covered by a historic designation and raises
// lots with housing to parcel.CodeProtected. The joins may fan a lot out
// into several rows; the result keeps the first row per lot.
func ResolveHistoric(t *parcel.Table, src HistoricSources, opts HistoricOptions) (*parcel.Table, HistoricStats, error) {
	var stats HistoricStats
	before := t.FirstCodes()
	rows := t.Rows()

	rows, err := spatialLeftJoin(rows, src.State, "name", func(p *parcel.Parcel, v *string) { p.StateName = v })
	if err != nil {
		return nil, stats, err
	}
	zap.L().Debug("pipeline: joined state historic districts", zap.Int("rows", len(rows)))

	rows, err = spatialLeftJoin(rows, src.Federal, "fed_name", func(p *parcel.Parcel, v *string) { p.FedName = v })
	if err != nil {
		return nil, stats, err
	}
	zap.L().Debug("pipeline: joined federal historic districts", zap.Int("rows", len(rows)))

	rows = registerLeftJoin(rows, src.Register)
	zap.L().Debug("pipeline: joined historic register", zap.Int("rows", len(rows)))

	rows, err = spatialLeftJoin(rows, src.Local, "local_name", func(p *parcel.Parcel, v *string) { p.LocalName = v })
	if err != nil {
		return nil, stats, err
	}
	zap.L().Debug("pipeline: joined local historic districts", zap.Int("rows", len(rows)))

	rows, err = spatialLeftJoin(rows, src.Landmarks, "localb_name", func(p *parcel.Parcel, v *string) { p.LandmarkName = v })
	if err != nil {
		return nil, stats, err
	}
	zap.L().Debug("pipeline: joined local landmarks", zap.Int("rows", len(rows)))
	stats.JoinedRows = len(rows)

	for i := range rows {
		rows[i].IsHistoric = isHistoric(rows[i], opts)
		if rows[i].IsHistoric {
			rows[i].Escalate()
		}
	}

	out := parcel.NewTable(rows).DedupLots()
	stats.Rows = out.Len()
	for _, r := range out.Rows() {
		if r.IsHistoric {
			stats.Historic++
		}
		if r.Residential == parcel.CodeProtected && before[r.LotID] < parcel.CodeProtected {
			stats.Escalated++
		}
	}

	zap.L().Info("pipeline: resolved historic designations",
		zap.Int("joined_rows", stats.JoinedRows),
		zap.Int("rows", stats.Rows),
		zap.Int("historic", stats.Historic),
		zap.Int("escalated", stats.Escalated),
		zap.Bool("include_landmarks", opts.IncludeLandmarks),
	)
	return out, stats, nil
}

// isHistoric: state AND federal district, or a definite register entry, or
// a local district. Local landmarks count only when enabled.
func isHistoric(p parcel.Parcel, opts HistoricOptions) bool {
	if p.StateName != nil && p.FedName != nil {
		return true
	}
	if p.CEQACode != nil || p.LocalName != nil {
		return true
	}
	return opts.IncludeLandmarks && p.LandmarkName != nil
}

// spatialLeftJoin emits one row per intersecting feature of l, or the row
// unchanged with a nil value when nothing intersects. A matching feature
// with a null attribute still emits a row with a nil value.
func spatialLeftJoin(rows []parcel.Parcel, l *layer.Layer, field string, set func(*parcel.Parcel, *string)) ([]parcel.Parcel, error) {
	if l == nil || l.Len() == 0 {
		for i := range rows {
			set(&rows[i], nil)
		}
		return rows, nil
	}

	ix, err := spatial.NewIndex(l.Shapes())
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: index %s", l.Name)
	}

	out := make([]parcel.Parcel, 0, len(rows))
	for _, r := range rows {
		hits := ix.Intersecting(r.Shape)
		if len(hits) == 0 {
			set(&r, nil)
			out = append(out, r)
			continue
		}
		for _, hi := range hits {
			row := r
			set(&row, attr(l.Features[hi], field))
			out = append(out, row)
		}
	}
	return out, nil
}

// registerKey joins the address range the register and the lot table share.
func registerKey(high, street, stType, low string) string {
	return strings.Join([]string{high, street, stType, low}, "|")
}

// registerLeftJoin matches rows to definite register entries on
// (to_st, street, st_type, from_st) = (highstnum, stname, sttype, lowstnum).
// Rows with an incomplete address never match.
func registerLeftJoin(rows []parcel.Parcel, register *layer.Layer) []parcel.Parcel {
	codes := make(map[string][]string)
	if register != nil {
		for _, f := range register.Features {
			code, ok := f.String("ceqacode")
			if !ok || code != definiteCEQA {
				continue
			}
			parts, ok := addressParts(f, "highstnum", "stname", "sttype", "lowstnum")
			if !ok {
				continue
			}
			key := registerKey(parts[0], parts[1], parts[2], parts[3])
			codes[key] = append(codes[key], code)
		}
	}

	out := make([]parcel.Parcel, 0, len(rows))
	for _, r := range rows {
		r.CEQACode = nil
		if r.ToSt == "" || r.Street == "" || r.StType == "" || r.FromSt == "" {
			out = append(out, r)
			continue
		}
		matches := codes[registerKey(r.ToSt, r.Street, r.StType, r.FromSt)]
		if len(matches) == 0 {
			out = append(out, r)
			continue
		}
		for _, code := range matches {
			row := r
			row.CEQACode = &code
			out = append(out, row)
		}
	}
	return out
}

func attr(f layer.Feature, key string) *string {
	v, ok := f.String(key)
	if !ok {
		return nil
	}
	return &v
}

func addressParts(f layer.Feature, keys ...string) ([]string, bool) {
	vals := make([]string, len(keys))
	for i, k := range keys {
		v, ok := f.String(k)
		if !ok {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}
