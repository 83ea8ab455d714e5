package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// Supported artifact formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// Input is the set of reconciled tables a run reports on.
type Input struct {
	Periods       []domain.PeriodAggregate
	Transfers     []domain.TransferEvent
	Deltas        []domain.DailyDelta
	DailySpikes   []domain.DailySpike
	RollingSpikes []domain.RollingSpike
}

// Artifact is a table together with the formats it must be written in.
// Empty Formats means the writer's defaults.
type Artifact struct {
	Table   Table
	Formats []string
}

// Written describes one file on disk.
type Written struct {
	Name   string
	Format string
	Path   string
	Rows   int
}

// Build turns reconciled tables into artifacts. A view that cannot be
// derived is logged and left out; the rest are unaffected.
func Build(in Input, topN int, log zerolog.Logger) []Artifact {
	monthly := MonthlyTable(in.Periods)
	artifacts := []Artifact{
		{Table: monthly},
		{Table: TransfersTable(in.Transfers)},
	}
	for _, view := range MonthlyViews {
		t, err := view.Apply(monthly, topN)
		if err != nil {
			log.Error().Err(err).Str("artifact", view.Name).Msg("report view skipped")
			continue
		}
		artifacts = append(artifacts, Artifact{Table: t})
	}
	artifacts = append(artifacts,
		Artifact{Table: DailySalesTable(in.Deltas), Formats: []string{FormatCSV}},
		Artifact{Table: DailySpikesTable(in.DailySpikes)},
		Artifact{Table: MonthlySpikesTable(in.RollingSpikes)},
	)
	return artifacts
}

// Writer writes artifacts into one output directory.
type Writer struct {
	dir     string
	formats []string
	log     zerolog.Logger
}

// NewWriter creates a writer. formats defaults to xlsx.
func NewWriter(dir string, formats []string, log zerolog.Logger) *Writer {
	if len(formats) == 0 {
		formats = []string{FormatXLSX}
	}
	return &Writer{dir: dir, formats: formats, log: log.With().Str("component", "report").Logger()}
}

// WriteAll writes every artifact. A failed artifact is logged and returned
// in the error slice; the others are still written.
func (w *Writer) WriteAll(artifacts []Artifact) ([]Written, []error) {
	started := time.Now()
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, []error{fmt.Errorf("failed to create output dir %s: %w", w.dir, err)}
	}

	var written []Written
	var errs []error
	for _, a := range artifacts {
		formats := a.Formats
		if len(formats) == 0 {
			formats = w.formats
		}
		for _, format := range formats {
			out, err := w.Write(a.Table, format)
			if err != nil {
				w.log.Error().Err(err).Str("artifact", a.Table.Name).Str("format", format).Msg("failed to write artifact")
				errs = append(errs, err)
				continue
			}
			written = append(written, out)
		}
	}

	w.log.Info().Int("files", len(written)).Int("failed", len(errs)).Dur("elapsed", time.Since(started)).Msg("artifacts written")
	return written, errs
}

// Write writes one table in one format.
func (w *Writer) Write(t Table, format string) (Written, error) {
	path := filepath.Join(w.dir, t.Name+"."+format)
	var err error
	switch format {
	case FormatXLSX:
		err = writeXLSXFile(path, t)
	case FormatCSV:
		err = writeCSVFile(path, t)
	default:
		err = fmt.Errorf("unknown report format %q", format)
	}
	if err != nil {
		return Written{}, err
	}
	w.log.Debug().Str("file", path).Int("rows", len(t.Rows)).Msg("artifact written")
	return Written{Name: t.Name, Format: format, Path: path, Rows: len(t.Rows)}, nil
}

func newWorkbook(t Table) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open stream writer: %w", err)
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := sw.SetRow(cell, row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to flush sheet: %w", err)
	}
	return f, nil
}

func writeXLSXFile(path string, t Table) error {
	f, err := newWorkbook(t)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save xlsx file %s: %w", path, err)
	}
	return nil
}

// XLSXBytes renders a table as an in-memory workbook.
func XLSXBytes(t Table) ([]byte, error) {
	f, err := newWorkbook(t)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeCSVFile(path string, t Table) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to create csv file %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes a UTF-8 CSV with a byte-order mark so spreadsheet tools
// pick the right encoding.
func WriteCSV(buf *bytes.Buffer, t Table) error {
	buf.Write([]byte{0xEF, 0xBB, 0xBF})
	w := csv.NewWriter(buf)
	if err := w.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCell(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return decimal.NewFromFloat(x).String()
	case time.Time:
		return x.Format(DateLayout)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
