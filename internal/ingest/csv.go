package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var columnNameSanitizer = strings.NewReplacer(" ", "", "_", "", ".", "", "-", "", "/", "")

func normalizeColumnName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return columnNameSanitizer.Replace(name)
}

// decoder wraps r according to the configured code page.
func decoder(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(encoding, "_", "-")) {
	case "", "utf-8", "utf8":
		return r, nil
	case "windows-1251", "cp1251":
		return transform.NewReader(r, charmap.Windows1251.NewDecoder()), nil
	case "koi8-r":
		return transform.NewReader(r, charmap.KOI8R.NewDecoder()), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "csv encoding %q", encoding)
	}
}

// readCSV reads a header-based CSV export of a snapshot. Headers are matched
// by alias, in English or Russian. A "date" column, when present, supplies
// the snapshot date.
func readCSV(path, encoding string) (*domain.SnapshotBatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer file.Close()

	r, err := decoder(file, encoding)
	if err != nil {
		return nil, err
	}
	return parseCSV(r)
}

func parseCSV(r io.Reader) (*domain.SnapshotBatch, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(3); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(3)
	}

	sample, _ := br.Peek(4096)
	reader := csv.NewReader(br)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comma = detectDelimiter(sample)

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}

	colIndex := func(names ...string) int {
		targets := make(map[string]struct{}, len(names))
		for _, name := range names {
			targets[normalizeColumnName(name)] = struct{}{}
		}
		for i, h := range header {
			if _, ok := targets[normalizeColumnName(h)]; ok {
				return i
			}
		}
		return -1
	}

	idxItem := colIndex("item", "sku", "article", "артикул")
	idxDesc := colIndex("description", "name", "номенклатура")
	idxQty := colIndex("quantity", "qty", "stock", "количество", "остаток")
	idxPrice := colIndex("price", "цена")
	idxMfr := colIndex("manufacturer", "brand", "производитель")
	idxDate := colIndex("date", "дата")

	if idxItem < 0 {
		return nil, errors.Errorf("csv header has no item column: %v", header)
	}

	batch := &domain.SnapshotBatch{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "read csv line %d", line)
		}

		get := func(idx int) string {
			if idx < 0 || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		if batch.DateCell == "" {
			batch.DateCell = get(idxDate)
		}
		batch.Rows = append(batch.Rows, domain.RawRow{
			Line:         line,
			Item:         get(idxItem),
			Description:  get(idxDesc),
			Manufacturer: get(idxMfr),
			Quantity:     parseNumber(get(idxQty)),
			Price:        parseNumber(get(idxPrice)),
			QuantityText: get(idxQty),
			PriceText:    get(idxPrice),
		})
	}
	return batch, nil
}

func detectDelimiter(sample []byte) rune {
	firstLine := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		firstLine = sample[:i]
	}
	if bytes.Count(firstLine, []byte{';'}) > bytes.Count(firstLine, []byte{','}) {
		return ';'
	}
	return ','
}

// parseNumber accepts "1 234,50", "1234.5" and "1,234.50". Empty or
// unparseable text yields nil.
//
// A comma without a dot is always the decimal separator, as in the Russian
// exports the snapshots come from: "1,234" is 1.234, not 1234. Thousands must
// be grouped with spaces ("1 234") or combined with a dot ("1,234.00").
func parseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.NewReplacer(" ", "", " ", "", " ", "").Replace(s)
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
