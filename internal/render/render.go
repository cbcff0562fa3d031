// Package render draws the parcel table as a choropleth: one fill color per
// residential code, a legend of the codes present, and a title.
package render

import (
	"context"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgeps"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// DefaultTitle is the published map's title.
const DefaultTitle = "Demolition bill - effects on new housing"

// Options control the output image.
type Options struct {
	Title   string
	DPI     int
	WidthIn float64
}

// DefaultOptions match the published map.
func DefaultOptions() Options {
	return Options{Title: DefaultTitle, DPI: 1000, WidthIn: 6.4}
}

var fills = [len(parcel.Codes)]color.Color{
	parcel.CodeNotResidential: color.RGBA{R: 0, G: 0, B: 255, A: 255},
	parcel.CodeZonedVacant:    color.RGBA{R: 0, G: 128, B: 0, A: 255},
	parcel.CodeHousing:        color.RGBA{R: 255, G: 255, B: 0, A: 255},
	parcel.CodeProtected:      color.RGBA{R: 255, G: 0, B: 0, A: 255},
}

// Fill returns the map color of a code: blue, green, yellow, red.
func Fill(c parcel.Code) color.Color {
	if !c.Valid() {
		return color.Black
	}
	return fills[c]
}

// bucket is one legend entry and the polygons drawn in its color.
type bucket struct {
	code     parcel.Code
	polygons []*plotter.Polygon
}

// aspect is the height over width of b, 1 for empty or degenerate bounds.
func aspect(b *geom.Bounds) float64 {
	if b.IsEmpty() {
		return 1
	}
	dx, dy := b.Max(0)-b.Min(0), b.Max(1)-b.Min(1)
	if dx <= 0 || dy <= 0 {
		return 1
	}
	return dy / dx
}

// buckets groups polygons by code, in code order, skipping empty codes.
// Rows without polygonal geometry draw nothing.
func buckets(t *parcel.Table) ([]bucket, *geom.Bounds, error) {
	ext := geom.NewBounds(geom.XY)
	parts, err := t.Partition()
	if err != nil {
		return nil, ext, eris.Wrap(err, "render: partition")
	}

	var out []bucket
	for code, rows := range parts {
		b := bucket{code: parcel.Code(code)}
		for _, r := range rows {
			polys, err := polygons(r.Geom)
			if err != nil {
				return nil, ext, eris.Wrapf(err, "render: lot %s", r.LotID)
			}
			if len(polys) == 0 {
				continue
			}
			for _, p := range polys {
				p.Color = Fill(b.code)
				p.LineStyle.Width = 0
			}
			ext.Extend(r.Geom)
			b.polygons = append(b.polygons, polys...)
		}
		if len(b.polygons) > 0 {
			out = append(out, b)
		}
	}
	return out, ext, nil
}

func polygons(g geom.T) ([]*plotter.Polygon, error) {
	switch g := g.(type) {
	case *geom.Polygon:
		p, err := polygon(g)
		if err != nil || p == nil {
			return nil, err
		}
		return []*plotter.Polygon{p}, nil
	case *geom.MultiPolygon:
		var out []*plotter.Polygon
		for i := 0; i < g.NumPolygons(); i++ {
			p, err := polygon(g.Polygon(i))
			if err != nil {
				return nil, err
			}
			if p != nil {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func polygon(g *geom.Polygon) (*plotter.Polygon, error) {
	if g.Empty() {
		return nil, nil
	}
	rings := make([]plotter.XYer, 0, g.NumLinearRings())
	for i := 0; i < g.NumLinearRings(); i++ {
		ring := g.LinearRing(i)
		xys := make(plotter.XYs, ring.NumCoords())
		for j := range xys {
			c := ring.Coord(j)
			xys[j] = plotter.XY{X: c.X(), Y: c.Y()}
		}
		rings = append(rings, xys)
	}
	return plotter.NewPolygon(rings...)
}

// Plot builds the choropleth. The returned aspect is the data extent's
// height over width; Save sizes the canvas with it so that map units are
// square.
func Plot(t *parcel.Table, opts Options) (*plot.Plot, float64, error) {
	bs, ext, err := buckets(t)
	if err != nil {
		return nil, 0, err
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.HideAxes()

	for _, b := range bs {
		for _, poly := range b.polygons {
			p.Add(poly)
		}
		p.Legend.Add(b.code.Label(), b.polygons[0])
	}
	if ext.IsEmpty() {
		ext.Set(0, 0, 1, 1)
	}
	p.X.Min, p.X.Max = ext.Min(0), ext.Max(0)
	p.Y.Min, p.Y.Max = ext.Min(1), ext.Max(1)
	return p, aspect(ext), nil
}

// canvasHeight sizes a canvas of width w so that the data area left after
// the title and axis padding has the given aspect.
func canvasHeight(p *plot.Plot, w vg.Length, aspect float64) vg.Length {
	data := p.DataCanvas(draw.Canvas{Rectangle: vg.Rectangle{Max: vg.Point{X: w, Y: w}}})
	size := data.Rectangle.Size()
	return vg.Length(float64(size.X)*aspect) + w - size.Y
}

// centerLegend places the legend at the right edge, centered vertically in
// the data area of a w by h canvas.
func centerLegend(p *plot.Plot, w, h vg.Length) {
	data := p.DataCanvas(draw.Canvas{Rectangle: vg.Rectangle{Max: vg.Point{X: w, Y: h}}})
	p.Legend.Top = false
	p.Legend.Left = false
	legend := p.Legend.Rectangle(data).Size().Y
	p.Legend.YOffs = (data.Rectangle.Size().Y - legend) / 2
}

// Save renders t to path. The extension picks the format: png, jpg, jpeg,
// tif and tiff are rasterized at opts.DPI; svg, pdf and eps are vector.
func Save(path string, t *parcel.Table, opts Options) error {
	p, ratio, err := Plot(t, opts)
	if err != nil {
		return err
	}

	w := vg.Length(opts.WidthIn) * vg.Inch
	h := canvasHeight(p, w, ratio)
	centerLegend(p, w, h)
	c, err := newCanvas(formatOf(path), w, h, opts.DPI)
	if err != nil {
		return err
	}
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "render: create %s", path)
	}
	if _, err := c.WriteTo(f); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "render: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "render: close %s", path)
	}

	zap.L().Info("render: wrote map",
		zap.String("path", path),
		zap.Int("dpi", opts.DPI),
		zap.Int("parcels", t.Len()),
	)
	return nil
}

type canvas interface {
	vg.CanvasSizer
	io.WriterTo
}

func formatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func newCanvas(format string, w, h vg.Length, dpi int) (canvas, error) {
	raster := func() *vgimg.Canvas {
		return vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(dpi))
	}
	switch format {
	case "png":
		return vgimg.PngCanvas{Canvas: raster()}, nil
	case "jpg", "jpeg":
		return vgimg.JpegCanvas{Canvas: raster()}, nil
	case "tif", "tiff":
		return vgimg.TiffCanvas{Canvas: raster()}, nil
	case "svg":
		return vgsvg.New(w, h), nil
	case "pdf":
		return vgpdf.New(w, h), nil
	case "eps":
		return vgeps.New(w, h), nil
	default:
		return nil, eris.Errorf("render: unsupported image format %q", format)
	}
}

// Map is a pipeline sink that saves the choropleth to Path.
type Map struct {
	Path    string
	Options Options
}

// Name implements pipeline.Sink.
func (m *Map) Name() string { return "map" }

// Write implements pipeline.Sink.
func (m *Map) Write(ctx context.Context, t *parcel.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return Save(m.Path, t, m.Options)
}
