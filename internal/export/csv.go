package export

import (
	"encoding/csv"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// WriteCSV writes the table columns as a header followed by one record per
// row. Geometry is not included.
func WriteCSV(path string, t *parcel.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "csv: create %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns()); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "csv: write header")
	}
	for i := range t.Len() {
		if err := w.Write(t.Record(i)); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "csv: write row %d", i)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "csv: flush")
	}
	return eris.Wrapf(f.Close(), "csv: close %s", path)
}
