package layer

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Load reads a dataset, picking the decoder from the file extension.
func Load(name, path string) (*Layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return loadGeoJSON(name, path)
	case ".shp":
		return loadShapefile(name, path)
	default:
		return nil, eris.Errorf("layer: %s: unsupported file type %q", name, filepath.Ext(path))
	}
}

// Spec describes one dataset to load: where it lives, which attributes to
// rename after reading, and which attributes must be present.
type Spec struct {
	Name     string
	Path     string
	Renames  map[string]string
	Required []string
}

// LoadAll loads every spec concurrently and returns the layers in spec
// order. The first failure cancels the rest.
func LoadAll(ctx context.Context, specs []Spec) ([]*Layer, error) {
	layers := make([]*Layer, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrapf(err, "layer: load %s", spec.Name)
			}

			start := time.Now()
			l, err := Load(spec.Name, spec.Path)
			if err != nil {
				return err
			}
			for from, to := range spec.Renames {
				l.Rename(from, to)
			}
			if err := Require(l, spec.Required...); err != nil {
				return err
			}

			zap.L().Info("layer: loaded",
				zap.String("layer", spec.Name),
				zap.String("path", spec.Path),
				zap.Int("features", l.Len()),
				zap.Duration("elapsed", time.Since(start)),
			)
			layers[i] = l
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}
