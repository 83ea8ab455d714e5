package reconcile

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func num(v float64) *float64 {
	return &v
}

func obs(d int, item, warehouse string, qty, price float64) domain.Observation {
	return domain.Observation{Date: day(d), Item: item, Warehouse: warehouse, Quantity: qty, Price: price}
}

func delta(d int, item, warehouse string, sold, restocked float64) domain.DailyDelta {
	return domain.DailyDelta{Date: day(d), Item: item, Warehouse: warehouse, Sold: sold, Restocked: restocked, Delta: restocked - sold}
}

func TestNormalizeItem(t *testing.T) {
	tests := map[string]string{
		" a1-23 ": "A123",
		"A1 23":   "A123",
		"a1_2-3":  "A123",
		"   ":     "",
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeItem(raw), raw)
	}
}

func TestParseDateCell(t *testing.T) {
	tests := []struct {
		cell string
		want time.Time
		ok   bool
	}{
		{cell: "05.01.2024", want: day(5), ok: true},
		{cell: "05/01/2024 13:45:00", want: day(5), ok: true},
		{cell: "05-01-2024", want: day(5), ok: true},
		{cell: "2024-01-05", want: day(5), ok: true},
		{cell: "Остатки на 05.01.2024", want: day(5), ok: true},
		{cell: "Остатки на 05.01.2024г.", want: day(5), ok: true},
		{cell: "Jan 5, 2024", want: day(5), ok: true},
		{cell: "no date here"},
		{cell: ""},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got, ok := ParseDateCell(tt.cell)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestNormalizeCleansRows(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())
	batches := []domain.SnapshotBatch{
		{
			Warehouse: "North",
			Source:    "north-1.xlsx",
			DateCell:  "01.01.2024",
			Rows: []domain.RawRow{
				{Line: 5, Item: "a1-23", Description: "Bolt", Quantity: num(4), Price: num(2)},
				{Line: 6, Item: "A1 23", Quantity: num(6), Price: num(9)},
				{Line: 7, Item: "", Quantity: num(1)},
				{Line: 8, Item: "B7", Quantity: num(-3), Price: nil},
			},
		},
	}

	out := n.Normalize(batches)
	require.Len(t, out, 2)

	assert.Equal(t, "A123", out[0].Item)
	assert.Equal(t, 10.0, out[0].Quantity, "duplicate lines within a file are summed")
	assert.Equal(t, 2.0, out[0].Price, "first price is kept")
	assert.Equal(t, "Bolt", out[0].Description)

	assert.Equal(t, "B7", out[1].Item)
	assert.Equal(t, 0.0, out[1].Quantity)
	assert.Equal(t, 0.0, out[1].Price)
}

func TestNormalizeWarnsOnZeroFill(t *testing.T) {
	var buf bytes.Buffer
	n := NewNormalizer(zerolog.New(&buf))
	out := n.Normalize([]domain.SnapshotBatch{{
		Warehouse: "North",
		Source:    "north-1.xlsx",
		DateCell:  "01.01.2024",
		Rows: []domain.RawRow{
			{Line: 5, Item: "A1", Quantity: num(4), Price: num(2)},
			{Line: 6, Item: "B2", QuantityText: "n/a", Price: num(3), PriceText: "3"},
			{Line: 7, Item: "C3", Quantity: num(1), QuantityText: "1"},
		},
	}})
	require.Len(t, out, 3)
	assert.Equal(t, 0.0, out[1].Quantity)
	assert.Equal(t, 0.0, out[2].Price)

	logs := buf.String()
	lines := strings.Split(strings.TrimSpace(logs), "\n")
	var unparseable, missing string
	for _, line := range lines {
		switch {
		case strings.Contains(line, "unparseable value replaced with zero"):
			unparseable = line
		case strings.Contains(line, "missing value replaced with zero"):
			missing = line
		}
	}
	require.NotEmpty(t, unparseable)
	assert.Contains(t, unparseable, `"level":"warn"`)
	assert.Contains(t, unparseable, `"source":"north-1.xlsx"`)
	assert.Contains(t, unparseable, `"line":6`)
	assert.Contains(t, unparseable, `"item":"B2"`)
	assert.Contains(t, unparseable, `"field":"quantity"`)
	assert.Contains(t, unparseable, `"value":"n/a"`)

	require.NotEmpty(t, missing)
	assert.Contains(t, missing, `"line":7`)
	assert.Contains(t, missing, `"item":"C3"`)
	assert.Contains(t, missing, `"field":"price"`)

	assert.Contains(t, logs, `"rows":2`)
	assert.Contains(t, logs, "rows with missing or unparseable quantity or price zero-filled")
	assert.NotContains(t, logs, `"item":"A1"`)
}

func TestNormalizeReplacesWholeDay(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())
	out := n.Normalize([]domain.SnapshotBatch{
		{Warehouse: "North", Source: "early.xlsx", DateCell: "03.01.2024",
			Rows: []domain.RawRow{{Item: "X", Quantity: num(5)}, {Item: "Y", Quantity: num(7)}}},
		{Warehouse: "South", Source: "south.xlsx", DateCell: "03.01.2024",
			Rows: []domain.RawRow{{Item: "Y", Quantity: num(2)}}},
		{Warehouse: "North", Source: "late.xlsx", DateCell: "03.01.2024",
			Rows: []domain.RawRow{{Item: "X", Quantity: num(8)}}},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "North", out[0].Warehouse)
	assert.Equal(t, "X", out[0].Item)
	assert.Equal(t, 8.0, out[0].Quantity)
	assert.Equal(t, "late.xlsx", out[0].Source)
	assert.Equal(t, "South", out[1].Warehouse, "other warehouses keep their day")
	assert.Equal(t, 2.0, out[1].Quantity)
}

func TestNormalizeFallbackDateAndReplacement(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())
	modTime := time.Date(2024, time.January, 3, 17, 30, 0, 0, time.UTC)
	batches := []domain.SnapshotBatch{
		{Warehouse: "North", Source: "a.xlsx", DateCell: "garbage", FallbackTime: modTime,
			Rows: []domain.RawRow{{Item: "X", Quantity: num(5)}}},
		{Warehouse: "North", Source: "b.xlsx", DateCell: "03.01.2024",
			Rows: []domain.RawRow{{Item: "X", Quantity: num(8)}}},
	}

	out := n.Normalize(batches)
	require.Len(t, out, 1)
	assert.True(t, day(3).Equal(out[0].Date))
	assert.Equal(t, 8.0, out[0].Quantity, "later file for the same day wins")
	assert.Equal(t, "b.xlsx", out[0].Source)
}

func TestComputeDeltas(t *testing.T) {
	observations := []domain.Observation{
		obs(4, "A123", "North", 75, 10),
		obs(1, "A123", "North", 100, 10),
		obs(2, "A123", "North", 90, 10),
		obs(3, "A123", "North", 90, 10),
	}

	deltas := ComputeDeltas(observations)
	require.Len(t, deltas, 4)

	var sold []float64
	for _, d := range deltas {
		sold = append(sold, d.Sold)
		assert.False(t, d.Sold > 0 && d.Restocked > 0)
		assert.GreaterOrEqual(t, d.Sold, 0.0)
		assert.GreaterOrEqual(t, d.Restocked, 0.0)
	}
	assert.Equal(t, []float64{0, 10, 0, 15}, sold)
	assert.Equal(t, 0.0, deltas[0].Delta)
}

func TestComputeDeltasSingleObservation(t *testing.T) {
	deltas := ComputeDeltas([]domain.Observation{obs(1, "Z", "South", 7, 1)})
	require.Len(t, deltas, 1)
	assert.Equal(t, 0.0, deltas[0].Delta)
	assert.Equal(t, 0.0, deltas[0].Sold)
	assert.Equal(t, 0.0, deltas[0].Restocked)
}

func TestReconcileSimpleTransfer(t *testing.T) {
	deltas := []domain.DailyDelta{
		delta(2, "X", "North", 0, 5),
		delta(2, "X", "South", 5, 0),
		delta(2, "Y", "South", 3, 0),
	}

	amended, events := Reconcile(deltas)
	require.Len(t, events, 1)
	assert.Equal(t, "South", events[0].FromWarehouse)
	assert.Equal(t, "North", events[0].ToWarehouse)
	assert.Equal(t, 5.0, events[0].Quantity)
	assert.False(t, events[0].Ambiguous)

	assert.Equal(t, 0.0, amended[0].Restocked)
	assert.Equal(t, 0.0, amended[1].Sold)
	assert.Equal(t, 3.0, amended[2].Sold, "unmatched rows are untouched")
	assert.Equal(t, -5.0, amended[1].Delta, "delta keeps the physical change")

	assert.Equal(t, 5.0, deltas[1].Sold, "input is not mutated")
}

func TestReconcileSymmetry(t *testing.T) {
	forward := []domain.DailyDelta{delta(2, "X", "North", 0, 5), delta(2, "X", "South", 5, 0)}
	backward := []domain.DailyDelta{delta(2, "X", "North", 5, 0), delta(2, "X", "South", 0, 5)}

	_, a := Reconcile(forward)
	_, b := Reconcile(backward)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].FromWarehouse, b[0].ToWarehouse)
	assert.Equal(t, a[0].ToWarehouse, b[0].FromWarehouse)
}

func TestReconcileNoMatch(t *testing.T) {
	deltas := []domain.DailyDelta{
		delta(2, "X", "North", 0, 5),
		delta(2, "X", "South", 4, 0),
		delta(3, "X", "South", 5, 0),
	}
	amended, events := Reconcile(deltas)
	assert.Empty(t, events)
	assert.Equal(t, deltas, amended)
}

func TestReconcileCrossProductIsAmbiguous(t *testing.T) {
	deltas := []domain.DailyDelta{
		delta(2, "X", "A", 0, 5),
		delta(2, "X", "B", 0, 5),
		delta(2, "X", "C", 5, 0),
	}

	amended, events := Reconcile(deltas)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.True(t, e.Ambiguous)
		assert.Equal(t, "C", e.FromWarehouse)
	}
	assert.Equal(t, "A", events[0].ToWarehouse)
	assert.Equal(t, "B", events[1].ToWarehouse)

	for _, d := range amended {
		assert.Equal(t, 0.0, d.Sold)
		assert.Equal(t, 0.0, d.Restocked)
	}
}

func TestApplyAdjustmentsIdempotent(t *testing.T) {
	deltas := []domain.DailyDelta{delta(2, "X", "North", 0, 5), delta(2, "X", "South", 5, 0)}
	adj := TransferAdjustments(FindTransfers(deltas))

	once := ApplyAdjustments(deltas, adj)
	twice := ApplyAdjustments(once, adj)
	assert.Equal(t, once, twice)

	missing := ApplyAdjustments(deltas, []Adjustment{{Date: day(9), Item: "Q", Warehouse: "North", ZeroSold: true}})
	assert.Equal(t, deltas, missing)
}

func TestAggregateMonth(t *testing.T) {
	observations := []domain.Observation{
		obs(1, "A123", "North", 100, 10),
		obs(2, "A123", "North", 90, 10),
		obs(3, "A123", "North", 90, 12),
		obs(4, "A123", "North", 75, 12),
	}
	observations[1].Description = "Bolt M6"
	observations[1].Manufacturer = "Acme"

	periods := Aggregate(observations, ComputeDeltas(observations))
	require.Len(t, periods, 1)

	p := periods[0]
	assert.Equal(t, 2024, p.Year)
	assert.Equal(t, 1, p.Month)
	assert.Equal(t, 25.0, p.TotalSold)
	assert.Equal(t, 2, p.DaysWithSales)
	assert.Equal(t, 12.5, p.Turnover)
	assert.Equal(t, 4, p.UniqueDays)
	assert.Equal(t, 4, p.DaysInStock)
	assert.Equal(t, 75.0, p.LastQuantity)
	assert.Equal(t, 11.0, p.MeanPrice)
	assert.Equal(t, 10.0, p.OpeningPrice)
	assert.Equal(t, 12.0, p.ClosingPrice)
	assert.Equal(t, 20.0, p.PriceChangePct)
	assert.Equal(t, 1, p.PriceChangeCount)
	assert.Equal(t, "Bolt M6", p.Description)
	assert.Equal(t, "Acme", p.Manufacturer)
}

func TestAggregateZeroOpeningPriceAndNoSales(t *testing.T) {
	observations := []domain.Observation{
		obs(1, "Z", "South", 0, 0),
		obs(2, "Z", "South", 0, 5),
	}
	periods := Aggregate(observations, ComputeDeltas(observations))
	require.Len(t, periods, 1)
	assert.Equal(t, 0.0, periods[0].PriceChangePct)
	assert.Equal(t, 0.0, periods[0].Turnover)
	assert.Equal(t, 0, periods[0].DaysInStock)
}

func TestAggregateSplitsMonths(t *testing.T) {
	feb := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	observations := []domain.Observation{
		obs(31, "A", "North", 10, 1),
		{Date: feb, Item: "A", Warehouse: "North", Quantity: 4, Price: 1},
	}
	periods := Aggregate(observations, ComputeDeltas(observations))
	require.Len(t, periods, 2)
	assert.Equal(t, 1, periods[0].Month)
	assert.Equal(t, 2, periods[1].Month)
	assert.Equal(t, 6.0, periods[1].TotalSold, "the first day of a month still sees the previous month's quantity")
}

func TestCanonicalDescriptions(t *testing.T) {
	observations := []domain.Observation{
		{Item: "A", Warehouse: "N", Description: "first"},
		{Item: "A", Warehouse: "N", Description: "second"},
		{Item: "A", Warehouse: "N", Description: "second"},
		{Item: "A", Warehouse: "N", Description: ""},
		{Item: "B", Warehouse: "N", Description: "tie-1"},
		{Item: "B", Warehouse: "N", Description: "tie-2"},
		{Item: "C", Warehouse: "N"},
	}
	got := CanonicalDescriptions(observations)
	assert.Equal(t, "second", got[SeriesKey{Item: "A", Warehouse: "N"}])
	assert.Equal(t, "tie-1", got[SeriesKey{Item: "B", Warehouse: "N"}])
	assert.Equal(t, "", got[SeriesKey{Item: "C", Warehouse: "N"}])
}

func monthly(month int, sold float64) domain.PeriodAggregate {
	return domain.PeriodAggregate{Item: "A", Warehouse: "N", Year: 2024, Month: month, TotalSold: sold, Description: "Bolt"}
}

func TestDetectRollingSpikes(t *testing.T) {
	periods := []domain.PeriodAggregate{monthly(4, 40), monthly(1, 10), monthly(2, 10), monthly(3, 10), monthly(5, 10)}

	spikes := DetectRollingSpikes(periods, nil, RollingConfig{Window: 3, Factor: 1.5})
	require.Len(t, spikes, 5)

	for _, s := range spikes[:3] {
		assert.False(t, s.HasBaseline, "month %d", s.Month)
		assert.False(t, s.IsSpike, "month %d", s.Month)
	}
	assert.Equal(t, 4, spikes[3].Month)
	assert.Equal(t, 10.0, spikes[3].Baseline)
	assert.True(t, spikes[3].IsSpike)
	assert.Equal(t, "Bolt", spikes[3].Description)

	assert.Equal(t, 20.0, spikes[4].Baseline, "current month is excluded, window slides")
	assert.False(t, spikes[4].IsSpike)
}

func TestDetectRollingSpikesMinPeriods(t *testing.T) {
	periods := []domain.PeriodAggregate{monthly(1, 10), monthly(2, 30)}

	spikes := DetectRollingSpikes(periods, nil, RollingConfig{Window: 3, Factor: 1.5, MinPeriods: 1})
	require.Len(t, spikes, 2)
	assert.False(t, spikes[0].HasBaseline)
	assert.True(t, spikes[1].HasBaseline)
	assert.True(t, spikes[1].IsSpike)
}

func TestDetectRollingSpikesSingleMonth(t *testing.T) {
	spikes := DetectRollingSpikes([]domain.PeriodAggregate{monthly(1, 1e6)}, nil, RollingConfig{})
	require.Len(t, spikes, 1)
	assert.False(t, spikes[0].IsSpike)
	assert.Equal(t, 3, spikes[0].Window)
	assert.Equal(t, 1.5, spikes[0].Factor)
}

func TestDetectDailySpikes(t *testing.T) {
	var deltas []domain.DailyDelta
	for d := 1; d <= 9; d++ {
		deltas = append(deltas, delta(d, "A", "N", 0, 0))
	}
	deltas = append(deltas, delta(10, "A", "N", 30, 0))
	deltas = append(deltas, delta(1, "B", "N", 100, 0))

	spikes := DetectDailySpikes(deltas, map[SeriesKey]string{{Item: "A", Warehouse: "N"}: "Bolt"}, StatConfig{Multiplier: 2, MinSamples: 3})
	require.Len(t, spikes, 1)

	s := spikes[0]
	assert.True(t, day(10).Equal(s.Date))
	assert.Equal(t, "Bolt", s.Description)
	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 3.0, s.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(90), s.StdDev, 1e-9)
	assert.InDelta(t, 3+2*math.Sqrt(90), s.Threshold, 1e-9)
	assert.True(t, s.IsSpike)
}

func TestComputeStats(t *testing.T) {
	st := computeStats([]float64{5}, StatConfig{Multiplier: 2, MinSamples: 1})
	assert.Equal(t, 0.0, st.std, "a single sample has zero deviation")
	assert.Equal(t, 5.0, st.threshold)

	st = computeStats([]float64{1, 2}, StatConfig{Multiplier: 2, MinSamples: 3})
	assert.True(t, math.IsInf(st.threshold, 1))

	st = computeStats([]float64{2, 4, 4, 4, 5, 5, 7, 9}, StatConfig{Multiplier: 1, MinSamples: 3})
	assert.InDelta(t, 5.0, st.mean, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7), st.std, 1e-12, "sample deviation divides by n-1")
	assert.InDelta(t, 5+math.Sqrt(32.0/7), st.threshold, 1e-12)
}

func TestEngineRun(t *testing.T) {
	engine := NewEngine(Config{}, zerolog.Nop())
	batches := []domain.SnapshotBatch{
		{Warehouse: "North", Source: "n1", DateCell: "01.01.2024", Rows: []domain.RawRow{{Item: "x", Quantity: num(10), Price: num(3), Description: "Nut"}}},
		{Warehouse: "South", Source: "s1", DateCell: "01.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(20), Price: num(3)}}},
		{Warehouse: "North", Source: "n2", DateCell: "02.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(15), Price: num(3)}}},
		{Warehouse: "South", Source: "s2", DateCell: "02.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(15), Price: num(3)}}},
	}

	res := engine.Run(batches)
	require.Len(t, res.Observations, 4)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "South", res.Transfers[0].FromWarehouse)
	assert.Equal(t, "North", res.Transfers[0].ToWarehouse)

	require.Len(t, res.Periods, 2)
	for _, p := range res.Periods {
		assert.Equal(t, 0.0, p.TotalSold)
		assert.Equal(t, 0.0, p.TotalRestocked)
	}
	assert.Equal(t, 5.0, res.Deltas[3].Sold, "raw deltas stay unreconciled")
	assert.Equal(t, "Nut", res.Descriptions[SeriesKey{Item: "X", Warehouse: "North"}])
	assert.Empty(t, res.DailySpikes)
	assert.Len(t, res.RollingSpikes, 2)
}

func TestEngineRunIsIdempotent(t *testing.T) {
	batches := []domain.SnapshotBatch{
		{Warehouse: "North", Source: "n1", DateCell: "01.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(10), Price: num(3)}, {Item: "Y", Quantity: num(4), Price: num(1)}}},
		{Warehouse: "South", Source: "s1", DateCell: "01.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(10), Price: num(3)}}},
		{Warehouse: "East", Source: "e1", DateCell: "01.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(10), Price: num(3)}}},
		{Warehouse: "North", Source: "n2", DateCell: "02.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(5), Price: num(3)}, {Item: "Y", Quantity: num(1), Price: num(1)}}},
		{Warehouse: "South", Source: "s2", DateCell: "02.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(15), Price: num(3)}}},
		{Warehouse: "East", Source: "e2", DateCell: "02.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(15), Price: num(3)}}},
		{Warehouse: "North", Source: "n3", DateCell: "03.01.2024", Rows: []domain.RawRow{{Item: "X", Quantity: num(2), Price: num(4)}, {Item: "Y", Quantity: num(6), Price: num(1)}}},
	}

	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	first := engine.Run(batches)
	second := engine.Run(batches)

	require.Len(t, first.Transfers, 2)
	assert.Equal(t, 2, first.AmbiguousTransfers())
	assert.Equal(t, first.Transfers, second.Transfers)
	assert.Equal(t, first.Periods, second.Periods)
	assert.Equal(t, first.Reconciled, second.Reconciled)
	assert.Equal(t, first.RollingSpikes, second.RollingSpikes)
	assert.Equal(t, first.DailySpikes, second.DailySpikes)
}

func TestEngineRunEmpty(t *testing.T) {
	res := NewEngine(DefaultConfig(), zerolog.Nop()).Run(nil)
	assert.Empty(t, res.Observations)
	assert.Empty(t, res.Deltas)
	assert.Empty(t, res.Transfers)
	assert.Empty(t, res.Periods)
	assert.Empty(t, res.RollingSpikes)
	assert.Empty(t, res.DailySpikes)
}
