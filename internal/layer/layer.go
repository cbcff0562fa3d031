// Package layer loads the vector datasets the pipeline joins against and
// exposes their attributes with the loose typing the source files use.
package layer

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"
)

// Feature is one record of a dataset. Geom and Shape are nil for records
// without geometry (the address-indexed historic register, for example).
type Feature struct {
	Index int
	Geom  geom.T
	Shape *geos.Geom
	Props map[string]any
}

// String returns the attribute as text. Numbers are rendered without a
// trailing fraction when integral so that 1200 and "1200" compare equal.
// The second result is false when the key is absent, null or blank.
func (f Feature) String(key string) (string, bool) {
	v, ok := f.Props[key]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = formatNumber(t)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// Number returns the attribute as a float. The bool is false when the
// value is absent, null or blank; text that does not parse is an error.
func (f Feature) Number(key string) (float64, bool, error) {
	v, ok := f.Props[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return 0, false, nil
		}
		return t, true, nil
	case int:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, eris.Wrapf(err, "layer: parse %s=%q", key, s)
		}
		return n, true, nil
	default:
		return 0, false, eris.Errorf("layer: %s has non-numeric type %T", key, v)
	}
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Layer is an ordered set of features read from one file.
type Layer struct {
	Name     string
	Path     string
	Features []Feature
}

// Len returns the number of features.
func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Features)
}

// Shapes returns the GEOS geometries in feature order, nil where a feature
// has no geometry.
func (l *Layer) Shapes() []*geos.Geom {
	shapes := make([]*geos.Geom, len(l.Features))
	for i, f := range l.Features {
		shapes[i] = f.Shape
	}
	return shapes
}

// Fields returns the sorted union of attribute keys across all features.
func (l *Layer) Fields() []string {
	seen := make(map[string]bool)
	for _, f := range l.Features {
		for k := range f.Props {
			seen[k] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Rename moves attribute from to to on every feature, overwriting any
// existing value under to.
func (l *Layer) Rename(from, to string) {
	for i := range l.Features {
		props := l.Features[i].Props
		if v, ok := props[from]; ok {
			props[to] = v
			delete(props, from)
		}
	}
}

// Filter returns a new layer holding the features keep accepts. Features
// are shared, not copied.
func (l *Layer) Filter(keep func(Feature) bool) *Layer {
	out := &Layer{Name: l.Name, Path: l.Path}
	for _, f := range l.Features {
		if keep(f) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}
