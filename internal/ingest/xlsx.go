package ingest

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

type columnIndex struct {
	item, description, quantity, price, manufacturer int
}

func resolveColumns(layout Layout) (columnIndex, error) {
	var idx columnIndex
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{layout.ItemCol, &idx.item},
		{layout.DescriptionCol, &idx.description},
		{layout.QuantityCol, &idx.quantity},
		{layout.PriceCol, &idx.price},
		{layout.ManufacturerCol, &idx.manufacturer},
	} {
		if c.name == "" {
			*c.dst = -1
			continue
		}
		n, err := excelize.ColumnNameToNumber(c.name)
		if err != nil {
			return idx, errors.Wrapf(err, "column %q", c.name)
		}
		*c.dst = n - 1
	}
	return idx, nil
}

// readXLSX reads the active sheet of a snapshot workbook.
func readXLSX(path string, layout Layout) (*domain.SnapshotBatch, error) {
	cols, err := resolveColumns(layout)
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open xlsx %s", path)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.Errorf("xlsx file %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	batch := &domain.SnapshotBatch{}
	if err := readDateCell(f, sheet, layout.DateCell, batch); err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "read rows from sheet %s", sheet)
	}

	for i := layout.FirstRow - 1; i < len(rows); i++ {
		record := rows[i]
		get := func(idx int) string {
			if idx < 0 || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		item := get(cols.item)
		if item == "" && get(cols.quantity) == "" && get(cols.description) == "" {
			continue
		}
		batch.Rows = append(batch.Rows, domain.RawRow{
			Line:         i + 1,
			Item:         item,
			Description:  get(cols.description),
			Manufacturer: get(cols.manufacturer),
			Quantity:     parseNumber(get(cols.quantity)),
			Price:        parseNumber(get(cols.price)),
			QuantityText: get(cols.quantity),
			PriceText:    get(cols.price),
		})
	}
	return batch, nil
}

// readDateCell keeps typed dates as dates and everything else as text for
// the normalizer to parse.
func readDateCell(f *excelize.File, sheet, cell string, batch *domain.SnapshotBatch) error {
	raw, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return errors.Wrapf(err, "read date cell %s", cell)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	cellType, err := f.GetCellType(sheet, cell)
	if err == nil && (cellType == excelize.CellTypeNumber || cellType == excelize.CellTypeDate || cellType == excelize.CellTypeUnset) {
		if serial, perr := strconv.ParseFloat(raw, 64); perr == nil && serial > 0 {
			if t, terr := excelize.ExcelDateToTime(serial, false); terr == nil {
				batch.Date = &t
				return nil
			}
		}
	}

	formatted, err := f.GetCellValue(sheet, cell)
	if err != nil {
		formatted = raw
	}
	batch.DateCell = strings.TrimSpace(formatted)
	return nil
}
