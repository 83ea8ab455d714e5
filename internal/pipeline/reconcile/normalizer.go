package reconcile

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// dateLayouts are tried in order; day-first layouts win over ISO.
var dateLayouts = []string{
	"02.01.2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2.1.2006",
	"02.01.06",
	"02-01-2006",
	"02-01-2006 15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

var itemSanitizer = strings.NewReplacer("-", "", " ", "", "_", "", "\t", "", " ", "")

// NormalizeItem trims and upper-cases an item code and strips separators so
// "a1-23", "A1 23" and "A1_23" all become "A123".
func NormalizeItem(raw string) string {
	return strings.ToUpper(itemSanitizer.Replace(strings.TrimSpace(raw)))
}

// ParseDateCell parses a snapshot date cell. The whole cell is tried first,
// then each word inside it ("остатки на 01.02.2024г."), then free-form text
// such as "Jan 5, 2024". Ambiguous numeric dates are read day first.
func ParseDateCell(cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, false
	}
	if t, ok := parseLayouts(cell); ok {
		return t, true
	}
	for _, word := range strings.Fields(cell) {
		token := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsDigit(r) })
		if token == "" {
			continue
		}
		if t, ok := parseLayouts(token); ok {
			return t, true
		}
	}
	if t, err := dateparse.ParseIn(cell, time.UTC, dateparse.PreferMonthFirst(false)); err == nil {
		return truncateDay(t), true
	}
	return time.Time{}, false
}

func parseLayouts(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

// Normalizer turns raw snapshot batches into one clean observation per
// (item, warehouse, day).
type Normalizer struct {
	log zerolog.Logger
}

// NewNormalizer creates a normalizer that reports data-quality issues to log.
func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log.With().Str("stage", "normalize").Logger()}
}

// Normalize cleans every batch. Batches are expected in chronological order
// per warehouse; when two files resolve to the same (warehouse, day) the
// later file replaces the whole day of the earlier one.
func (n *Normalizer) Normalize(batches []domain.SnapshotBatch) []domain.Observation {
	days := make(map[snapshotDay]*daySnapshot)
	order := make([]snapshotDay, 0)

	var dropped, negative, zeroFilled int
	for _, batch := range batches {
		warehouse := strings.TrimSpace(batch.Warehouse)
		if warehouse == "" {
			n.log.Warn().Str("source", batch.Source).Msg("snapshot has no warehouse, skipped")
			continue
		}
		date := n.resolveDate(batch)

		key := snapshotDay{Date: date, Warehouse: warehouse}
		snap, ok := days[key]
		switch {
		case !ok:
			snap = newDaySnapshot(batch.Source)
			days[key] = snap
			order = append(order, key)
		case snap.source != batch.Source:
			n.log.Warn().
				Str("warehouse", warehouse).
				Time("date", date).
				Str("previous_source", snap.source).
				Str("source", batch.Source).
				Int("replaced_items", len(snap.rows)).
				Msg("duplicate snapshot for day, later file wins")
			snap = newDaySnapshot(batch.Source)
			days[key] = snap
		}

		for _, raw := range batch.Rows {
			item := NormalizeItem(raw.Item)
			if item == "" {
				dropped++
				n.log.Debug().Str("source", batch.Source).Int("line", raw.Line).Msg("row without item identifier dropped")
				continue
			}

			qty, qtyOK := n.number(batch.Source, raw.Line, item, "quantity", raw.Quantity, raw.QuantityText)
			price, priceOK := n.number(batch.Source, raw.Line, item, "price", raw.Price, raw.PriceText)
			if !qtyOK || !priceOK {
				zeroFilled++
			}
			if qty < 0 || price < 0 {
				negative++
				n.log.Warn().
					Str("source", batch.Source).
					Int("line", raw.Line).
					Str("item", item).
					Float64("quantity", qty).
					Float64("price", price).
					Msg("negative value replaced with zero")
				qty = max(qty, 0)
				price = max(price, 0)
			}

			obsKey := dayKey{Date: date, Item: item, Warehouse: warehouse}
			if i, ok := snap.index[item]; ok {
				// same file lists the item twice: stock is split across lines
				o := &snap.rows[i]
				o.Quantity += qty
				if o.Description == "" {
					o.Description = strings.TrimSpace(raw.Description)
				}
				if o.Manufacturer == "" {
					o.Manufacturer = strings.TrimSpace(raw.Manufacturer)
				}
				continue
			}
			snap.index[item] = len(snap.rows)
			snap.rows = append(snap.rows, n.observation(obsKey, qty, price, raw, batch.Source))
		}
	}

	if dropped > 0 {
		n.log.Warn().Int("rows", dropped).Msg("rows without item identifier dropped")
	}
	if zeroFilled > 0 {
		n.log.Warn().Int("rows", zeroFilled).Msg("rows with missing or unparseable quantity or price zero-filled")
	}
	if negative > 0 {
		n.log.Warn().Int("rows", negative).Msg("rows with negative quantity or price zero-filled")
	}

	out := make([]domain.Observation, 0)
	for _, key := range order {
		out = append(out, days[key].rows...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		return a.Item < b.Item
	})
	return out
}

type snapshotDay struct {
	Date      time.Time
	Warehouse string
}

// daySnapshot holds the rows of the file that owns one (warehouse, day).
type daySnapshot struct {
	source string
	rows   []domain.Observation
	index  map[string]int
}

func newDaySnapshot(source string) *daySnapshot {
	return &daySnapshot{source: source, index: make(map[string]int)}
}

// number returns the cell value, or zero with a warning when the cell was
// empty or held something that is not a number.
func (n *Normalizer) number(source string, line int, item, field string, v *float64, text string) (float64, bool) {
	if v != nil {
		return *v, true
	}
	event := n.log.Warn().
		Str("source", source).
		Int("line", line).
		Str("item", item).
		Str("field", field)
	if strings.TrimSpace(text) == "" {
		event.Msg("missing value replaced with zero")
	} else {
		event.Str("value", text).Msg("unparseable value replaced with zero")
	}
	return 0, false
}

func (n *Normalizer) observation(key dayKey, qty, price float64, raw domain.RawRow, source string) domain.Observation {
	return domain.Observation{
		Date:         key.Date,
		Item:         key.Item,
		Warehouse:    key.Warehouse,
		Quantity:     qty,
		Price:        price,
		Description:  strings.TrimSpace(raw.Description),
		Manufacturer: strings.TrimSpace(raw.Manufacturer),
		Source:       source,
	}
}

func (n *Normalizer) resolveDate(batch domain.SnapshotBatch) time.Time {
	if batch.Date != nil && !batch.Date.IsZero() {
		return truncateDay(*batch.Date)
	}

	if t, ok := ParseDateCell(batch.DateCell); ok {
		n.log.Debug().Str("source", batch.Source).Str("cell", batch.DateCell).Time("date", t).Msg("snapshot date parsed")
		return t
	}

	fallback := truncateDay(batch.FallbackTime)
	event := n.log.Warn().Str("source", batch.Source).Time("fallback", fallback)
	if strings.TrimSpace(batch.DateCell) == "" {
		event.Msg("snapshot date missing, using file timestamp")
	} else {
		event.Str("cell", batch.DateCell).Msg("snapshot date not recognized, using file timestamp")
	}
	return fallback
}
