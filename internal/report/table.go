package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumns is returned when a view's source table lacks a column it
// needs. The affected artifact is skipped.
var ErrMissingColumns = errors.New("missing required columns")

// DateLayout is used for every date rendered into an artifact.
const DateLayout = "02/01/2006"

// Table is a named, column-ordered set of rows ready to be written.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of column name or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Require checks that every named column exists.
func (t Table) Require(columns ...string) error {
	var missing []string
	for _, c := range columns {
		if t.ColumnIndex(c) < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w in %s: %s", ErrMissingColumns, t.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Float reads a numeric cell. Text cells are parsed; anything else is 0.
func (t Table) Float(row []any, column string) float64 {
	i := t.ColumnIndex(column)
	if i < 0 || i >= len(row) {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// Int reads an integer cell.
func (t Table) Int(row []any, column string) int {
	return int(t.Float(row, column))
}

// String reads a text cell.
func (t Table) String(row []any, column string) string {
	i := t.ColumnIndex(column)
	if i < 0 || i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case time.Time:
		return v.Format(DateLayout)
	default:
		return fmt.Sprint(v)
	}
}
