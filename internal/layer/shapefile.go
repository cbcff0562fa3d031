package layer

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/parcel-risk/internal/spatial"
)

// loadShapefile reads a polygon shapefile and its DBF attributes. Field
// names are lower-cased so they line up with the GeoJSON exports of the
// same datasets; blank attribute values become null and numeric fields are
// rendered the way GeoJSON numbers are ("1200.00" reads as "1200").
// Attributes are decoded with the codepage named in the .cpg sidecar, if
// there is one.
func loadShapefile(name, path string) (*Layer, error) {
	dec, err := codepage(path)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	numeric := make([]bool, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		numeric[i] = f.Fieldtype == 'N' || f.Fieldtype == 'F'
	}

	l := &Layer{Name: name, Path: path}
	var skipped int

	for reader.Next() {
		n, shape := reader.Shape()

		props := make(map[string]any, len(names))
		for i, field := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if dec != nil && val != "" {
				if val, err = dec.String(val); err != nil {
					return nil, eris.Wrapf(err, "layer: %s record %d: decode %s", name, n, field)
				}
			}
			switch {
			case val == "":
				props[field] = nil
			case numeric[i]:
				props[field] = dbfNumber(val)
			default:
				props[field] = val
			}
		}

		feat := Feature{Index: n, Props: props}
		if g := shapeToGeom(shape); g != nil {
			s, err := spatial.FromGeom(g)
			if err != nil {
				return nil, eris.Wrapf(err, "layer: %s record %d", name, n)
			}
			feat.Geom = g
			feat.Shape = s
		} else if shape != nil {
			skipped++
		}
		l.Features = append(l.Features, feat)
	}

	if skipped > 0 {
		zap.L().Debug("layer: shapefile records without usable polygon",
			zap.String("layer", name),
			zap.Int("skipped", skipped),
		)
	}
	return l, nil
}

// codepage returns a decoder for the charset named in the shapefile's .cpg
// sidecar. A missing sidecar or a UTF-8 codepage needs no decoding.
func codepage(shpPath string) (*encoding.Decoder, error) {
	cpgPath := strings.TrimSuffix(shpPath, ".shp") + ".cpg"
	if strings.HasSuffix(shpPath, ".SHP") {
		cpgPath = strings.TrimSuffix(shpPath, ".SHP") + ".CPG"
	}
	raw, err := os.ReadFile(cpgPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read %s", cpgPath)
	}

	charset := strings.ToLower(strings.TrimSpace(string(raw)))
	switch charset {
	case "", "utf-8", "utf8", "65001":
		return nil, nil
	case "1252":
		charset = "windows-1252"
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: unsupported codepage %q in %s", charset, cpgPath)
	}
	return enc.NewDecoder(), nil
}

// shapeToGeom converts a shapefile polygon into a MultiPolygon. Returns nil
// for nil, empty or non-polygon shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	mp := polygonToMultiPolygon(p)
	if mp == nil {
		return nil
	}
	return mp
}

// polygonToMultiPolygon groups shapefile rings into polygons. Shapefiles
// store outer rings clockwise and holes counter-clockwise; each hole is
// attached to the outer ring that precedes it.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)

	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("layer: skipping malformed polygon part", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if xy.IsRingCounterClockwise(geom.XY, flat) && current != nil {
			if err := current.Push(ring); err != nil {
				zap.L().Debug("layer: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}

		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			zap.L().Debug("layer: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// dbfNumber normalizes a DBF numeric value. Values that do not parse are
// kept as text.
func dbfNumber(val string) string {
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return val
	}
	return formatNumber(v)
}
