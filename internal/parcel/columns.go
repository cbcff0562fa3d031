package parcel

import (
	"strconv"
)

// Columns is the ordered column list used by every tabular export.
var Columns = []string{
	"lot_id",
	"street",
	"st_type",
	"from_st",
	"to_st",
	"resunits",
	"zone_id",
	"gen",
	"overlap",
	"zoned_residential",
	"has_residential",
	"name",
	"fed_name",
	"ceqacode",
	"local_name",
	"localb_name",
	"is_historic",
	"block",
	"height",
	"block_height",
	"neighborhood_character",
	"residential",
}

// Values returns the row as typed values aligned with Columns. Null
// attributes are nil.
func (p Parcel) Values() []any {
	return []any{
		p.LotID,
		p.Street,
		p.StType,
		p.FromSt,
		p.ToSt,
		p.ResUnits,
		p.ZoneID,
		p.Gen,
		p.Overlap,
		p.ZonedResidential,
		p.HasResidential,
		deref(p.StateName),
		deref(p.FedName),
		deref(p.CEQACode),
		deref(p.LocalName),
		deref(p.LandmarkName),
		p.IsHistoric,
		deref(p.Block),
		deref(p.Height),
		deref(p.BlockHeight),
		p.NeighborhoodCharacter,
		int(p.Residential),
	}
}

// Record renders Values as text; nulls become empty strings.
func (p Parcel) Record() []string {
	vals := p.Values()
	rec := make([]string, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			rec[i] = ""
		case string:
			rec[i] = t
		case bool:
			rec[i] = strconv.FormatBool(t)
		case int:
			rec[i] = strconv.Itoa(t)
		case float64:
			rec[i] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return rec
}

// Properties returns the row as a column-keyed map.
func (p Parcel) Properties() map[string]any {
	vals := p.Values()
	props := make(map[string]any, len(vals))
	for i, c := range Columns {
		props[c] = vals[i]
	}
	return props
}

func deref[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
