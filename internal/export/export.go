// Package export writes the final parcel table to files other tools can
// read: GeoJSON for GIS, XLSX and CSV for spreadsheets.
package export

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// Format is an export file format.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", eris.Errorf("export: unsupported file type %q", filepath.Ext(path))
	}
}

// Write exports t to path in the given format.
func Write(path string, format Format, t *parcel.Table) error {
	var err error
	switch format {
	case FormatGeoJSON:
		err = WriteGeoJSON(path, t)
	case FormatXLSX:
		err = WriteXLSX(path, t)
	case FormatCSV:
		err = WriteCSV(path, t)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
	if err != nil {
		return err
	}
	zap.L().Info("export: wrote parcels",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("rows", t.Len()),
	)
	return nil
}

// File is a pipeline sink that exports the final table to Path.
type File struct {
	Path   string
	Format Format
}

// NewFile returns a sink for path, inferring the format from its extension.
func NewFile(path string) (*File, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, Format: f}, nil
}

// Name implements pipeline.Sink.
func (f *File) Name() string { return string(f.Format) }

// Write implements pipeline.Sink.
func (f *File) Write(ctx context.Context, t *parcel.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return Write(f.Path, f.Format, t)
}
