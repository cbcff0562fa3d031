// Package parcel defines the lot table threaded through the classification
// stages and the ordinal residential code each lot ends up with.
package parcel

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
)

// Code is the ordinal residential exposure of a lot.
type Code int

const (
	// CodeNotResidential: not zoned residential, no housing.
	CodeNotResidential Code = 0
	// CodeZonedVacant: zoned residential, no existing housing; no
	// conditional use needed to build.
	CodeZonedVacant Code = 1
	// CodeHousing: existing housing; redevelopment may need a CU.
	CodeHousing Code = 2
	// CodeProtected: existing housing plus a historic designation or a
	// neighborhood-character deviation; demolition effectively barred.
	CodeProtected Code = 3
)

// Codes lists every valid code in ascending order.
var Codes = [...]Code{CodeNotResidential, CodeZonedVacant, CodeHousing, CodeProtected}

// Valid reports whether c is one of the four defined codes.
func (c Code) Valid() bool {
	return c >= CodeNotResidential && c <= CodeProtected
}

func (c Code) String() string {
	switch c {
	case CodeNotResidential:
		return "not_residential"
	case CodeZonedVacant:
		return "zoned_vacant"
	case CodeHousing:
		return "housing"
	case CodeProtected:
		return "protected"
	default:
		return "invalid"
	}
}

// Label is the legend text for the code.
func (c Code) Label() string {
	switch c {
	case CodeNotResidential:
		return "not residential."
	case CodeZonedVacant:
		return "no CU required!"
	case CodeHousing:
		return "maybe CU (but probably not)"
	case CodeProtected:
		return "no CU allowed!"
	default:
		return "Invalid"
	}
}

// Parcel is one row of the lot table. Nullable attributes produced by left
// joins are pointers; nil means the join found nothing.
type Parcel struct {
	LotID string
	Geom  geom.T
	Shape *geos.Geom

	Street   string
	StType   string
	FromSt   string
	ToSt     string
	ResUnits string

	// Zoning stage.
	ZoneID           string
	Gen              string
	Overlap          float64
	ZonedResidential bool
	HasResidential   int
	Residential      Code

	// Historic stage.
	StateName    *string
	FedName      *string
	CEQACode     *string
	LocalName    *string
	LandmarkName *string
	IsHistoric   bool

	// Neighborhood-character stage.
	Block                 *int
	Height                *float64
	BlockHeight           *float64
	NeighborhoodCharacter bool
}

// HasHousing reports whether the lot has existing residential units.
func (p Parcel) HasHousing() bool {
	return p.HasResidential == 2
}

// Escalate raises the code to CodeProtected when the lot has housing.
// Codes never decrease.
func (p *Parcel) Escalate() bool {
	if !p.HasHousing() || p.Residential >= CodeProtected {
		return false
	}
	p.Residential = CodeProtected
	return true
}

// Table is an ordered, row-aligned set of parcels. Stages never modify a
// table they receive; they copy its rows and build a new one.
type Table struct {
	rows []Parcel
}

// NewTable wraps rows. The slice is copied.
func NewTable(rows []Parcel) *Table {
	cp := make([]Parcel, len(rows))
	copy(cp, rows)
	return &Table{rows: cp}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Row returns row i by value.
func (t *Table) Row(i int) Parcel {
	return t.rows[i]
}

// Rows returns a copy of the rows.
func (t *Table) Rows() []Parcel {
	cp := make([]Parcel, len(t.rows))
	copy(cp, t.rows)
	return cp
}

// Columns returns the ordered column names of Record.
func (t *Table) Columns() []string {
	cols := make([]string, len(Columns))
	copy(cols, Columns)
	return cols
}

// Record renders row i as text aligned with Columns.
func (t *Table) Record(i int) []string {
	return t.rows[i].Record()
}

// DistinctLots counts distinct lot ids.
func (t *Table) DistinctLots() int {
	seen := make(map[string]struct{}, len(t.rows))
	for _, r := range t.rows {
		seen[r.LotID] = struct{}{}
	}
	return len(seen)
}

// DedupLots keeps the first row seen for each lot id.
func (t *Table) DedupLots() *Table {
	seen := make(map[string]struct{}, len(t.rows))
	out := make([]Parcel, 0, len(t.rows))
	for _, r := range t.rows {
		if _, ok := seen[r.LotID]; ok {
			continue
		}
		seen[r.LotID] = struct{}{}
		out = append(out, r)
	}
	return &Table{rows: out}
}

// FirstCodes maps each lot id to the residential code of its first row.
func (t *Table) FirstCodes() map[string]Code {
	codes := make(map[string]Code, len(t.rows))
	for _, r := range t.rows {
		if _, ok := codes[r.LotID]; !ok {
			codes[r.LotID] = r.Residential
		}
	}
	return codes
}

// Partition splits the rows into one bucket per code. Every row lands in
// exactly one bucket; a row with an undefined code is an error.
func (t *Table) Partition() ([len(Codes)][]Parcel, error) {
	var buckets [len(Codes)][]Parcel
	for _, r := range t.rows {
		if !r.Residential.Valid() {
			return buckets, eris.Errorf("parcel: lot %s has invalid residential code %d", r.LotID, r.Residential)
		}
		buckets[r.Residential] = append(buckets[r.Residential], r)
	}
	return buckets, nil
}

// Counts returns the number of rows per code.
func (t *Table) Counts() map[Code]int {
	counts := make(map[Code]int, len(Codes))
	for _, c := range Codes {
		counts[c] = 0
	}
	for _, r := range t.rows {
		counts[r.Residential]++
	}
	return counts
}
