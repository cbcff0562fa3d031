// Package spatial provides the polygon predicates, measurements and
// envelope index the parcel stages are built on. All geometry work is done
// by GEOS; this package only adapts go-geom values into GEOS and keeps the
// join order deterministic.
package spatial

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
)

// strtreeNodeCapacity is the GEOS default node capacity.
const strtreeNodeCapacity = 10

var (
	mu      sync.Mutex
	geosCtx = geos.NewContext()
)

// FromGeom converts a go-geom geometry into a GEOS geometry. Invalid
// polygons (self-intersections, bow-ties) are repaired with MakeValid so
// that overlay operations do not raise topology exceptions.
func FromGeom(g geom.T) (*geos.Geom, error) {
	if g == nil {
		return nil, eris.New("spatial: nil geometry")
	}

	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: encode WKB")
	}

	mu.Lock()
	defer mu.Unlock()

	s, err := geosCtx.NewGeomFromWKB(data)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: decode WKB")
	}
	if !s.IsValid() {
		zap.L().Debug("spatial: repairing invalid geometry", zap.String("reason", s.IsValidReason()))
		s = s.MakeValid()
	}
	return s, nil
}

// OverlapArea returns the planar area of a ∩ b in the layer's CRS units.
func OverlapArea(a, b *geos.Geom) (area float64, err error) {
	if a == nil || b == nil {
		return 0, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("spatial: intersection: %v", r)
		}
	}()
	return a.Intersection(b).Area(), nil
}

// Index answers "which indexed shapes intersect this shape" queries using a
// GEOS STR-tree for the envelope pass and an exact intersects test after.
type Index struct {
	tree   *geos.STRtree
	shapes []*geos.Geom
}

// NewIndex builds an index over shapes. Nil entries are skipped; their
// positions are never returned by Intersecting.
func NewIndex(shapes []*geos.Geom) (*Index, error) {
	mu.Lock()
	tree := geosCtx.NewSTRtree(strtreeNodeCapacity)
	mu.Unlock()

	for i, s := range shapes {
		if s == nil || s.IsEmpty() {
			continue
		}
		if err := tree.Insert(s, i); err != nil {
			return nil, eris.Wrapf(err, "spatial: index shape %d", i)
		}
	}
	return &Index{tree: tree, shapes: shapes}, nil
}

// Len returns the number of positions covered by the index.
func (ix *Index) Len() int {
	return len(ix.shapes)
}

// Intersecting returns the positions of indexed shapes that intersect g,
// in ascending order. Touching boundaries count as intersecting.
func (ix *Index) Intersecting(g *geos.Geom) []int {
	if g == nil || g.IsEmpty() {
		return nil
	}

	var hits []int
	ix.tree.Query(g, func(v any) {
		i := v.(int)
		if ix.shapes[i].Intersects(g) {
			hits = append(hits, i)
		}
	})
	sort.Ints(hits)
	return hits
}
