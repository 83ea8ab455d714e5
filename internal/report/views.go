package report

import (
	"sort"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// Column names shared by writers, views and the monthly reader.
const (
	ColItem             = "item"
	ColWarehouse        = "warehouse"
	ColYear             = "year"
	ColMonth            = "month"
	ColDate             = "date"
	ColDescription      = "description"
	ColManufacturer     = "manufacturer"
	ColTotalSold        = "total_sold"
	ColTotalRestocked   = "total_restocked"
	ColDaysWithSales    = "days_with_sales"
	ColDaysInStock      = "days_in_stock"
	ColUniqueDays       = "unique_days"
	ColLastQuantity     = "last_quantity"
	ColMeanPrice        = "mean_price"
	ColMinPrice         = "min_price"
	ColMaxPrice         = "max_price"
	ColOpeningPrice     = "opening_price"
	ColClosingPrice     = "closing_price"
	ColPriceChange      = "price_change"
	ColPriceChangePct   = "price_change_pct"
	ColPriceChangeCount = "price_change_count"
	ColTurnover         = "turnover"
)

// Artifact names, also used as file base names.
const (
	MonthlyTotals = "monthly_totals"
	Transfers     = "transfers"
	FastMovers    = "fast_movers"
	Stagnant      = "stagnant"
	TopRestocked  = "top_restocked"
	DailySales    = "daily_sales"
	DailySpikes   = "sales_spikes_daily"
	MonthlySpikes = "sales_spikes_monthly"
)

var monthlyColumns = []string{
	ColItem, ColWarehouse, ColYear, ColMonth, ColDescription, ColManufacturer,
	ColTotalSold, ColTotalRestocked, ColDaysWithSales, ColDaysInStock, ColUniqueDays,
	ColLastQuantity, ColMeanPrice, ColMinPrice, ColMaxPrice, ColOpeningPrice, ColClosingPrice,
	ColPriceChange, ColPriceChangePct, ColPriceChangeCount, ColTurnover,
}

// MonthlyTable renders period aggregates.
func MonthlyTable(periods []domain.PeriodAggregate) Table {
	t := Table{Name: MonthlyTotals, Columns: monthlyColumns, Rows: make([][]any, 0, len(periods))}
	for _, p := range periods {
		t.Rows = append(t.Rows, []any{
			p.Item, p.Warehouse, p.Year, p.Month, p.Description, p.Manufacturer,
			p.TotalSold, p.TotalRestocked, p.DaysWithSales, p.DaysInStock, p.UniqueDays,
			p.LastQuantity, p.MeanPrice, p.MinPrice, p.MaxPrice, p.OpeningPrice, p.ClosingPrice,
			p.PriceChange, p.PriceChangePct, p.PriceChangeCount, p.Turnover,
		})
	}
	return t
}

// TransfersTable renders detected transfers.
func TransfersTable(events []domain.TransferEvent) Table {
	t := Table{
		Name:    Transfers,
		Columns: []string{ColDate, ColItem, "from_warehouse", "to_warehouse", "quantity", "ambiguous"},
		Rows:    make([][]any, 0, len(events)),
	}
	for _, e := range events {
		t.Rows = append(t.Rows, []any{e.Date.Format(DateLayout), e.Item, e.FromWarehouse, e.ToWarehouse, e.Quantity, e.Ambiguous})
	}
	return t
}

// DailySalesTable renders reconciled deltas: one row per day, item and
// warehouse with the quantity on hand and the day's price.
func DailySalesTable(deltas []domain.DailyDelta) Table {
	t := Table{
		Name:    DailySales,
		Columns: []string{ColDate, ColItem, ColWarehouse, "quantity", "sold", "restocked", "price"},
		Rows:    make([][]any, 0, len(deltas)),
	}
	for _, d := range deltas {
		t.Rows = append(t.Rows, []any{d.Date.Format(DateLayout), d.Item, d.Warehouse, d.Quantity, d.Sold, d.Restocked, d.Price})
	}
	return t
}

// DailySpikesTable renders flagged days of the statistical detector.
func DailySpikesTable(spikes []domain.DailySpike) Table {
	t := Table{
		Name:    DailySpikes,
		Columns: []string{ColDate, ColItem, ColDescription, ColWarehouse, ColTotalSold, "mean", "std_dev", "count", "threshold", "is_spike"},
		Rows:    make([][]any, 0, len(spikes)),
	}
	for _, s := range spikes {
		t.Rows = append(t.Rows, []any{s.Date.Format(DateLayout), s.Item, s.Description, s.Warehouse, s.Sold, s.Mean, s.StdDev, s.Count, s.Threshold, s.IsSpike})
	}
	return t
}

// MonthlySpikesTable renders every month of the rolling detector with its flag.
func MonthlySpikesTable(spikes []domain.RollingSpike) Table {
	t := Table{
		Name: MonthlySpikes,
		Columns: []string{
			ColYear, ColMonth, ColItem, ColDescription, ColWarehouse, ColTotalSold,
			"baseline", "has_baseline", ColMeanPrice, ColPriceChangePct, "is_spike",
		},
		Rows: make([][]any, 0, len(spikes)),
	}
	for _, s := range spikes {
		var baseline any
		if s.HasBaseline {
			baseline = s.Baseline
		}
		t.Rows = append(t.Rows, []any{
			s.Year, s.Month, s.Item, s.Description, s.Warehouse, s.TotalSold,
			baseline, s.HasBaseline, s.MeanPrice, s.PriceChangePct, s.IsSpike,
		})
	}
	return t
}

// View derives one artifact from a source table.
type View struct {
	Name     string
	Required []string
	derive   func(src Table, limit int) Table
}

// Apply checks the required columns and derives the view.
func (v View) Apply(src Table, limit int) (Table, error) {
	if err := src.Require(v.Required...); err != nil {
		return Table{Name: v.Name}, err
	}
	return v.derive(src, limit), nil
}

// MonthlyViews are the ranked extracts of the monthly table.
var MonthlyViews = []View{
	{
		Name:     FastMovers,
		Required: []string{ColTotalSold, ColTurnover},
		derive: func(src Table, limit int) Table {
			return rank(src, FastMovers, limit,
				func(row []any) bool { return src.Float(row, ColTotalSold) > 0 },
				func(row []any) float64 { return src.Float(row, ColTurnover) })
		},
	},
	{
		Name:     Stagnant,
		Required: []string{ColTotalSold, ColDaysInStock},
		derive: func(src Table, limit int) Table {
			return rank(src, Stagnant, limit,
				func(row []any) bool { return src.Float(row, ColTotalSold) == 0 },
				func(row []any) float64 { return src.Float(row, ColDaysInStock) })
		},
	},
	{
		Name:     TopRestocked,
		Required: []string{ColTotalRestocked},
		derive: func(src Table, limit int) Table {
			return rank(src, TopRestocked, limit,
				func([]any) bool { return true },
				func(row []any) float64 { return src.Float(row, ColTotalRestocked) })
		},
	},
}

// rank filters src, sorts descending by key (stable) and keeps limit rows.
func rank(src Table, name string, limit int, keep func([]any) bool, key func([]any) float64) Table {
	out := Table{Name: name, Columns: src.Columns, Rows: make([][]any, 0)}
	for _, row := range src.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return key(out.Rows[i]) > key(out.Rows[j])
	})
	if limit > 0 && len(out.Rows) > limit {
		out.Rows = out.Rows[:limit]
	}
	return out
}
