package reconcile

import (
	"sort"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// ComputeDeltas derives day-over-day changes per (item, warehouse).
// The first observation of a series has delta 0. A drop counts as sold,
// a rise as restocked; at most one of the two is non-zero.
func ComputeDeltas(observations []domain.Observation) []domain.DailyDelta {
	sorted := make([]domain.Observation, len(observations))
	copy(sorted, observations)
	sortSeries(sorted)

	deltas := make([]domain.DailyDelta, 0, len(sorted))
	for i, obs := range sorted {
		d := domain.DailyDelta{
			Date:      obs.Date,
			Item:      obs.Item,
			Warehouse: obs.Warehouse,
			Quantity:  obs.Quantity,
			Price:     obs.Price,
		}
		if i > 0 && sameSeries(sorted[i-1], obs) {
			d.Delta = obs.Quantity - sorted[i-1].Quantity
		}
		switch {
		case d.Delta < 0:
			d.Sold = -d.Delta
		case d.Delta > 0:
			d.Restocked = d.Delta
		}
		deltas = append(deltas, d)
	}
	return deltas
}

func sameSeries(a, b domain.Observation) bool {
	return a.Item == b.Item && a.Warehouse == b.Warehouse
}

func sortSeries(obs []domain.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		return a.Date.Before(b.Date)
	})
}

func sortDeltaSeries(deltas []domain.DailyDelta) {
	sort.SliceStable(deltas, func(i, j int) bool {
		a, b := deltas[i], deltas[j]
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		return a.Date.Before(b.Date)
	})
}

// SortDeltasForOutput orders deltas by date, warehouse, item.
func SortDeltasForOutput(deltas []domain.DailyDelta) {
	sort.SliceStable(deltas, func(i, j int) bool {
		a, b := deltas[i], deltas[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		return a.Item < b.Item
	})
}
