package layer

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Require reports every field in fields that no feature of l carries. A
// layer with no features passes; there is nothing to join against.
func Require(l *Layer, fields ...string) error {
	if l.Len() == 0 {
		return nil
	}

	present := make(map[string]bool)
	for _, f := range l.Fields() {
		present[f] = true
	}

	var missing []string
	for _, f := range fields {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("layer: %s (%s) missing required fields: %s",
			l.Name, l.Path, strings.Join(missing, ", "))
	}
	return nil
}

// RequireGeometry fails when any feature of l lacks a geometry.
func RequireGeometry(l *Layer) error {
	var missing int
	for _, f := range l.Features {
		if f.Shape == nil {
			missing++
		}
	}
	if missing > 0 {
		return eris.Errorf("layer: %s (%s) has %d features without geometry", l.Name, l.Path, missing)
	}
	return nil
}
