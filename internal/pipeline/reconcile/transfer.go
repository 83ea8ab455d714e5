package reconcile

import (
	"sort"
	"time"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// Adjustment describes how one delta row must be amended after a transfer
// was recognised.
type Adjustment struct {
	Date          time.Time
	Item          string
	Warehouse     string
	ZeroSold      bool
	ZeroRestocked bool
}

type movement struct {
	warehouse string
	quantity  float64
}

type transferGroup struct {
	date     time.Time
	item     string
	restocks []movement
	sales    []movement
}

// FindTransfers pairs a restock at one warehouse with a sale of exactly the
// same quantity of the same item on the same day at another warehouse.
//
// When several restocks and sales share a (date, item, quantity) every
// cross pair is emitted and marked Ambiguous; the caller decides whether to
// warn about it.
func FindTransfers(deltas []domain.DailyDelta) []domain.TransferEvent {
	groups := make(map[dayKey]*transferGroup)
	order := make([]dayKey, 0)

	for _, d := range deltas {
		if d.Sold == 0 && d.Restocked == 0 {
			continue
		}
		key := dayKey{Date: d.Date, Item: d.Item}
		g, ok := groups[key]
		if !ok {
			g = &transferGroup{date: d.Date, item: d.Item}
			groups[key] = g
			order = append(order, key)
		}
		if d.Restocked > 0 {
			g.restocks = append(g.restocks, movement{warehouse: d.Warehouse, quantity: d.Restocked})
		}
		if d.Sold > 0 {
			g.sales = append(g.sales, movement{warehouse: d.Warehouse, quantity: d.Sold})
		}
	}

	events := make([]domain.TransferEvent, 0)
	for _, key := range order {
		g := groups[key]
		if len(g.restocks) == 0 || len(g.sales) == 0 {
			continue
		}

		pairs := make(map[float64]int)
		start := len(events)
		for _, in := range g.restocks {
			for _, out := range g.sales {
				if in.warehouse == out.warehouse || in.quantity != out.quantity {
					continue
				}
				events = append(events, domain.TransferEvent{
					Date:          g.date,
					Item:          g.item,
					FromWarehouse: out.warehouse,
					ToWarehouse:   in.warehouse,
					Quantity:      in.quantity,
				})
				pairs[in.quantity]++
			}
		}
		for i := start; i < len(events); i++ {
			events[i].Ambiguous = pairs[events[i].Quantity] > 1
		}
	}

	SortTransfers(events)
	return events
}

// SortTransfers orders events by date, source, destination, item.
func SortTransfers(events []domain.TransferEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.FromWarehouse != b.FromWarehouse {
			return a.FromWarehouse < b.FromWarehouse
		}
		if a.ToWarehouse != b.ToWarehouse {
			return a.ToWarehouse < b.ToWarehouse
		}
		return a.Item < b.Item
	})
}

// TransferAdjustments lists the delta amendments implied by events: the
// source side loses its sale, the destination side loses its restock.
func TransferAdjustments(events []domain.TransferEvent) []Adjustment {
	adjustments := make([]Adjustment, 0, len(events)*2)
	for _, e := range events {
		adjustments = append(adjustments,
			Adjustment{Date: e.Date, Item: e.Item, Warehouse: e.FromWarehouse, ZeroSold: true},
			Adjustment{Date: e.Date, Item: e.Item, Warehouse: e.ToWarehouse, ZeroRestocked: true},
		)
	}
	return adjustments
}

// ApplyAdjustments returns a copy of deltas with the adjustments applied.
// Delta and Quantity are left untouched. Adjustments pointing at rows that
// do not exist are ignored.
func ApplyAdjustments(deltas []domain.DailyDelta, adjustments []Adjustment) []domain.DailyDelta {
	out := make([]domain.DailyDelta, len(deltas))
	copy(out, deltas)

	index := make(map[dayKey]int, len(out))
	for i, d := range out {
		index[dayKey{Date: d.Date, Item: d.Item, Warehouse: d.Warehouse}] = i
	}

	for _, adj := range adjustments {
		i, ok := index[dayKey{Date: adj.Date, Item: adj.Item, Warehouse: adj.Warehouse}]
		if !ok {
			continue
		}
		if adj.ZeroSold {
			out[i].Sold = 0
		}
		if adj.ZeroRestocked {
			out[i].Restocked = 0
		}
	}
	return out
}

// Reconcile finds transfers and returns the amended deltas together with
// the events that caused the amendments.
func Reconcile(deltas []domain.DailyDelta) ([]domain.DailyDelta, []domain.TransferEvent) {
	events := FindTransfers(deltas)
	return ApplyAdjustments(deltas, TransferAdjustments(events)), events
}
