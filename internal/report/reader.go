package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// MonthlyRequired lists the columns needed to rebuild period aggregates.
var MonthlyRequired = []string{ColItem, ColWarehouse, ColYear, ColMonth, ColTotalSold}

// ReadTable loads a table written by Writer in either format, chosen by the
// file extension.
func ReadTable(path string) (Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "." + FormatXLSX:
		return ReadXLSX(path)
	case "." + FormatCSV:
		return ReadCSV(path)
	}
	return Table{}, fmt.Errorf("unknown report format for %s", path)
}

// FindTable returns the path of the named table in dir, preferring xlsx
// over csv.
func FindTable(dir, name string) (string, error) {
	for _, format := range []string{FormatXLSX, FormatCSV} {
		path := filepath.Join(dir, name+"."+format)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no %s table in %s: %w", name, dir, os.ErrNotExist)
}

// ReadCSV loads a CSV written by WriteCSV. The first record is the header.
func ReadCSV(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open csv file %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read rows from %s: %w", path, err)
	}
	return tableFromRecords(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), records), nil
}

// ReadXLSX loads the first sheet of a workbook written by Writer. The first
// row is the header; cells are kept as raw text.
func ReadXLSX(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open xlsx file %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("xlsx file %s has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Table{}, fmt.Errorf("failed to read rows from %s: %w", path, err)
	}

	return tableFromRecords(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), rows), nil
}

func tableFromRecords(name string, records [][]string) Table {
	t := Table{Name: name}
	if len(records) == 0 {
		return t
	}
	for _, h := range records[0] {
		t.Columns = append(t.Columns, strings.TrimSpace(h))
	}
	for _, record := range records[1:] {
		row := make([]any, len(t.Columns))
		for i := range row {
			if i < len(record) {
				row[i] = record[i]
			} else {
				row[i] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// PeriodsFromTable rebuilds period aggregates from a monthly table. Optional
// columns that are absent stay zero.
func PeriodsFromTable(t Table) ([]domain.PeriodAggregate, error) {
	if err := t.Require(MonthlyRequired...); err != nil {
		return nil, err
	}

	out := make([]domain.PeriodAggregate, 0, len(t.Rows))
	for _, row := range t.Rows {
		item := strings.TrimSpace(t.String(row, ColItem))
		if item == "" {
			continue
		}
		out = append(out, domain.PeriodAggregate{
			Item:             item,
			Warehouse:        strings.TrimSpace(t.String(row, ColWarehouse)),
			Year:             t.Int(row, ColYear),
			Month:            t.Int(row, ColMonth),
			Description:      t.String(row, ColDescription),
			Manufacturer:     t.String(row, ColManufacturer),
			TotalSold:        t.Float(row, ColTotalSold),
			TotalRestocked:   t.Float(row, ColTotalRestocked),
			DaysWithSales:    t.Int(row, ColDaysWithSales),
			DaysInStock:      t.Int(row, ColDaysInStock),
			UniqueDays:       t.Int(row, ColUniqueDays),
			LastQuantity:     t.Float(row, ColLastQuantity),
			MeanPrice:        t.Float(row, ColMeanPrice),
			MinPrice:         t.Float(row, ColMinPrice),
			MaxPrice:         t.Float(row, ColMaxPrice),
			OpeningPrice:     t.Float(row, ColOpeningPrice),
			ClosingPrice:     t.Float(row, ColClosingPrice),
			PriceChange:      t.Float(row, ColPriceChange),
			PriceChangePct:   t.Float(row, ColPriceChangePct),
			PriceChangeCount: t.Int(row, ColPriceChangeCount),
			Turnover:         t.Float(row, ColTurnover),
		})
	}
	return out, nil
}
