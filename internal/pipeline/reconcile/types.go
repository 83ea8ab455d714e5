package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the tunables of a reconciliation run.
type Config struct {
	Rolling RollingConfig
	Stat    StatConfig
}

// RollingConfig configures the rolling-baseline spike detector (monthly grain).
type RollingConfig struct {
	Window int     // number of preceding periods averaged into the baseline
	Factor float64 // spike when total > baseline * Factor
	// MinPeriods is the minimum number of preceding periods needed for a
	// baseline. Zero means Window.
	MinPeriods int
}

// StatConfig configures the mean/stddev spike detector (daily grain).
type StatConfig struct {
	Multiplier float64 // spike when sold > mean + Multiplier*stddev
	MinSamples int     // series shorter than this never flag
}

// DefaultConfig returns the thresholds the reports were originally tuned with.
func DefaultConfig() Config {
	return Config{
		Rolling: RollingConfig{Window: 3, Factor: 1.5},
		Stat:    StatConfig{Multiplier: 2.0, MinSamples: 3},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Rolling.Window <= 0 {
		c.Rolling.Window = def.Rolling.Window
	}
	if c.Rolling.Factor <= 0 {
		c.Rolling.Factor = def.Rolling.Factor
	}
	if c.Stat.Multiplier <= 0 {
		c.Stat.Multiplier = def.Stat.Multiplier
	}
	if c.Stat.MinSamples <= 0 {
		c.Stat.MinSamples = def.Stat.MinSamples
	}
	return c
}

// SeriesKey identifies one (item, warehouse) time series.
type SeriesKey struct {
	Item      string
	Warehouse string
}

// dayKey identifies one observation or delta.
type dayKey struct {
	Date      time.Time
	Item      string
	Warehouse string
}

type periodKey struct {
	Item      string
	Warehouse string
	Year      int
	Month     int
}

// truncateDay drops the clock part while keeping the calendar day as written.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
