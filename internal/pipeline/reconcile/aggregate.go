package reconcile

import (
	"sort"
	"time"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// Aggregate rolls reconciled deltas up into calendar months per
// (item, warehouse). Observations only contribute descriptive text.
func Aggregate(observations []domain.Observation, deltas []domain.DailyDelta) []domain.PeriodAggregate {
	text := make(map[dayKey]domain.Observation, len(observations))
	for _, o := range observations {
		text[dayKey{Date: o.Date, Item: o.Item, Warehouse: o.Warehouse}] = o
	}

	sorted := make([]domain.DailyDelta, len(deltas))
	copy(sorted, deltas)
	sortDeltaSeries(sorted)

	groups := make(map[periodKey][]domain.DailyDelta)
	order := make([]periodKey, 0)
	for _, d := range sorted {
		key := periodKey{Item: d.Item, Warehouse: d.Warehouse, Year: d.Date.Year(), Month: int(d.Date.Month())}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}

	out := make([]domain.PeriodAggregate, 0, len(order))
	for _, key := range order {
		out = append(out, aggregatePeriod(key, groups[key], text))
	}

	SortPeriods(out)
	return out
}

func aggregatePeriod(key periodKey, rows []domain.DailyDelta, text map[dayKey]domain.Observation) domain.PeriodAggregate {
	p := domain.PeriodAggregate{
		Item:      key.Item,
		Warehouse: key.Warehouse,
		Year:      key.Year,
		Month:     key.Month,
	}

	days := make(map[time.Time]struct{}, len(rows))
	var priceSum float64
	var inStock int
	for i, r := range rows {
		days[r.Date] = struct{}{}
		p.TotalSold += r.Sold
		p.TotalRestocked += r.Restocked
		if r.Sold > 0 {
			p.DaysWithSales++
		}
		if r.Quantity > 0 {
			inStock++
		}

		priceSum += r.Price
		if i == 0 || r.Price < p.MinPrice {
			p.MinPrice = r.Price
		}
		if i == 0 || r.Price > p.MaxPrice {
			p.MaxPrice = r.Price
		}
		if i > 0 && r.Price != rows[i-1].Price {
			p.PriceChangeCount++
		}

		obs := text[dayKey{Date: r.Date, Item: r.Item, Warehouse: r.Warehouse}]
		if p.Description == "" {
			p.Description = obs.Description
		}
		if p.Manufacturer == "" {
			p.Manufacturer = obs.Manufacturer
		}
	}

	first, last := rows[0], rows[len(rows)-1]
	p.UniqueDays = len(days)
	p.DaysInStock = min(inStock, p.UniqueDays)
	p.LastQuantity = last.Quantity
	p.MeanPrice = priceSum / float64(len(rows))
	p.OpeningPrice = first.Price
	p.ClosingPrice = last.Price
	p.PriceChange = p.ClosingPrice - p.OpeningPrice
	if p.OpeningPrice != 0 {
		p.PriceChangePct = round2(p.PriceChange / p.OpeningPrice * 100)
	}
	p.Turnover = p.TotalSold / float64(max(1, p.DaysWithSales))
	return p
}

// SortPeriods orders aggregates by period, warehouse, item.
func SortPeriods(periods []domain.PeriodAggregate) {
	sort.SliceStable(periods, func(i, j int) bool {
		a, b := periods[i], periods[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		return a.Item < b.Item
	})
}
