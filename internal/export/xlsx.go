package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// SheetName is the name of the single sheet WriteXLSX produces.
const SheetName = "parcels"

// WriteXLSX writes one sheet whose header row is the table columns. Cells
// keep their types; nulls are left empty.
func WriteXLSX(path string, t *parcel.Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range t.Columns() {
		header.AddCell().SetString(c)
	}

	for _, r := range t.Rows() {
		row := sheet.AddRow()
		for _, v := range r.Values() {
			cell := row.AddCell()
			switch v := v.(type) {
			case string:
				cell.SetString(v)
			case int:
				cell.SetInt(v)
			case float64:
				cell.SetFloat(v)
			case bool:
				cell.SetBool(v)
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
