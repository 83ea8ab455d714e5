package reconcile

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// DetectRollingSpikes compares each month's sales with the mean of up to
// Window preceding months of the same series. The current month never
// contributes to its own baseline, and months with fewer than MinPeriods
// predecessors get no baseline and are never flagged.
//
// Every period is returned; IsSpike tells which ones crossed the threshold.
// descriptions may be nil, in which case they are derived from periods.
func DetectRollingSpikes(periods []domain.PeriodAggregate, descriptions map[SeriesKey]string, cfg RollingConfig) []domain.RollingSpike {
	cfg = Config{Rolling: cfg}.withDefaults().Rolling
	minPeriods := cfg.MinPeriods
	if minPeriods <= 0 || minPeriods > cfg.Window {
		minPeriods = cfg.Window
	}
	if descriptions == nil {
		descriptions = PeriodDescriptions(periods)
	}

	series := make(map[SeriesKey][]domain.PeriodAggregate)
	for _, p := range periods {
		key := SeriesKey{Item: p.Item, Warehouse: p.Warehouse}
		series[key] = append(series[key], p)
	}

	out := make([]domain.RollingSpike, 0, len(periods))
	for key, rows := range series {
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Year != rows[j].Year {
				return rows[i].Year < rows[j].Year
			}
			return rows[i].Month < rows[j].Month
		})

		for i, p := range rows {
			s := domain.RollingSpike{
				Year:           p.Year,
				Month:          p.Month,
				Item:           p.Item,
				Warehouse:      p.Warehouse,
				Description:    descriptions[key],
				TotalSold:      p.TotalSold,
				Window:         cfg.Window,
				Factor:         cfg.Factor,
				MeanPrice:      p.MeanPrice,
				PriceChangePct: p.PriceChangePct,
			}

			prior := rows[max(0, i-cfg.Window):i]
			if len(prior) >= minPeriods && len(prior) > 0 {
				var sum float64
				for _, q := range prior {
					sum += q.TotalSold
				}
				s.Baseline = sum / float64(len(prior))
				s.HasBaseline = true
				s.IsSpike = s.TotalSold > s.Baseline*cfg.Factor
			}
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
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
	return out
}

type seriesStats struct {
	mean      float64
	std       float64
	count     int
	threshold float64
}

func computeStats(values []float64, cfg StatConfig) seriesStats {
	st := seriesStats{count: len(values), threshold: math.Inf(1)}
	if st.count == 0 {
		return st
	}
	if st.count == 1 {
		st.mean = values[0]
	} else {
		st.mean, st.std = stat.MeanStdDev(values, nil)
	}
	if st.count >= cfg.MinSamples {
		st.threshold = st.mean + cfg.Multiplier*st.std
	}
	return st
}

// DetectDailySpikes flags days whose reconciled sales exceed
// mean + Multiplier*stddev of their own (item, warehouse) series. The
// standard deviation is the sample one; series with fewer than MinSamples
// days never flag. Only flagged days are returned.
func DetectDailySpikes(deltas []domain.DailyDelta, descriptions map[SeriesKey]string, cfg StatConfig) []domain.DailySpike {
	cfg = Config{Stat: cfg}.withDefaults().Stat

	series := make(map[SeriesKey][]domain.DailyDelta)
	for _, d := range deltas {
		key := SeriesKey{Item: d.Item, Warehouse: d.Warehouse}
		series[key] = append(series[key], d)
	}

	out := make([]domain.DailySpike, 0)
	for key, rows := range series {
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = r.Sold
		}
		st := computeStats(values, cfg)
		if math.IsInf(st.threshold, 1) {
			continue
		}
		for _, r := range rows {
			if r.Sold <= st.threshold {
				continue
			}
			out = append(out, domain.DailySpike{
				Date:        r.Date,
				Item:        r.Item,
				Warehouse:   r.Warehouse,
				Description: descriptions[key],
				Sold:        r.Sold,
				Mean:        st.mean,
				StdDev:      st.std,
				Count:       st.count,
				Threshold:   st.threshold,
				IsSpike:     true,
			})
		}
	}

	SortDailySpikes(out)
	return out
}

// SortDailySpikes orders spikes by date, warehouse, item.
func SortDailySpikes(spikes []domain.DailySpike) {
	sort.SliceStable(spikes, func(i, j int) bool {
		a, b := spikes[i], spikes[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		return a.Item < b.Item
	})
}
