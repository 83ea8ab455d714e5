package reconcile

import (
	"strings"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

type descriptionTally struct {
	counts map[string]int
	order  []string
}

func (t *descriptionTally) add(desc string) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return
	}
	if _, ok := t.counts[desc]; !ok {
		t.order = append(t.order, desc)
	}
	t.counts[desc]++
}

// mode returns the most frequent description; ties go to the one seen first.
func (t *descriptionTally) mode() string {
	best, bestCount := "", 0
	for _, desc := range t.order {
		if c := t.counts[desc]; c > bestCount {
			best, bestCount = desc, c
		}
	}
	return best
}

type tallies map[SeriesKey]*descriptionTally

func (ts tallies) add(key SeriesKey, desc string) {
	t, ok := ts[key]
	if !ok {
		t = &descriptionTally{counts: make(map[string]int)}
		ts[key] = t
	}
	t.add(desc)
}

func (ts tallies) resolve() map[SeriesKey]string {
	out := make(map[SeriesKey]string, len(ts))
	for key, t := range ts {
		out[key] = t.mode()
	}
	return out
}

// CanonicalDescriptions picks one description per (item, warehouse): the
// most frequent non-empty text across all observations.
func CanonicalDescriptions(observations []domain.Observation) map[SeriesKey]string {
	ts := make(tallies)
	for _, o := range observations {
		ts.add(SeriesKey{Item: o.Item, Warehouse: o.Warehouse}, o.Description)
	}
	return ts.resolve()
}

// PeriodDescriptions does the same from monthly aggregates, for runs that
// start from a previously written monthly table.
func PeriodDescriptions(periods []domain.PeriodAggregate) map[SeriesKey]string {
	ts := make(tallies)
	for _, p := range periods {
		ts.add(SeriesKey{Item: p.Item, Warehouse: p.Warehouse}, p.Description)
	}
	return ts.resolve()
}
