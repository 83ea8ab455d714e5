package reconcile

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/stockrecon/internal/domain"
)

// Result holds every table produced by one run. Tables are sorted for
// output and never mutated after Run returns.
type Result struct {
	Observations  []domain.Observation
	Deltas        []domain.DailyDelta // before transfer reconciliation
	Reconciled    []domain.DailyDelta
	Transfers     []domain.TransferEvent
	Periods       []domain.PeriodAggregate
	RollingSpikes []domain.RollingSpike
	DailySpikes   []domain.DailySpike
	Descriptions  map[SeriesKey]string
}

// AmbiguousTransfers counts events that were emitted from a cross product.
func (r *Result) AmbiguousTransfers() int {
	n := 0
	for _, t := range r.Transfers {
		if t.Ambiguous {
			n++
		}
	}
	return n
}

// Engine runs normalize, delta, reconcile, aggregate and spike detection
// in sequence.
type Engine struct {
	cfg        Config
	log        zerolog.Logger
	normalizer *Normalizer
}

// NewEngine creates an engine. Zero config values fall back to defaults.
func NewEngine(cfg Config, log zerolog.Logger) *Engine {
	log = log.With().Str("component", "reconcile").Logger()
	return &Engine{
		cfg:        cfg.withDefaults(),
		log:        log,
		normalizer: NewNormalizer(log),
	}
}

// Run processes snapshot batches end to end. Empty input yields empty tables.
func (e *Engine) Run(batches []domain.SnapshotBatch) *Result {
	res := &Result{}
	started := time.Now()

	stageStart := time.Now()
	res.Observations = e.normalizer.Normalize(batches)
	e.log.Info().Int("batches", len(batches)).Int("observations", len(res.Observations)).Dur("elapsed", time.Since(stageStart)).Msg("snapshots normalized")

	stageStart = time.Now()
	res.Deltas = ComputeDeltas(res.Observations)
	e.log.Info().Int("deltas", len(res.Deltas)).Dur("elapsed", time.Since(stageStart)).Msg("daily deltas computed")

	stageStart = time.Now()
	res.Reconciled, res.Transfers = Reconcile(res.Deltas)
	if n := res.AmbiguousTransfers(); n > 0 {
		e.log.Warn().Int("events", n).Msg("several transfer candidates matched the same day, item and quantity; all pairs kept")
	}
	e.log.Info().Int("transfers", len(res.Transfers)).Dur("elapsed", time.Since(stageStart)).Msg("transfers reconciled")

	stageStart = time.Now()
	res.Periods = Aggregate(res.Observations, res.Reconciled)
	e.log.Info().Int("periods", len(res.Periods)).Dur("elapsed", time.Since(stageStart)).Msg("monthly aggregates built")

	stageStart = time.Now()
	res.Descriptions = CanonicalDescriptions(res.Observations)
	res.RollingSpikes = DetectRollingSpikes(res.Periods, res.Descriptions, e.cfg.Rolling)
	res.DailySpikes = DetectDailySpikes(res.Reconciled, res.Descriptions, e.cfg.Stat)
	e.log.Info().
		Int("monthly_spikes", countRolling(res.RollingSpikes)).
		Int("daily_spikes", len(res.DailySpikes)).
		Dur("elapsed", time.Since(stageStart)).
		Msg("spikes detected")

	SortDeltasForOutput(res.Deltas)
	SortDeltasForOutput(res.Reconciled)

	e.log.Info().Dur("elapsed", time.Since(started)).Msg("reconciliation finished")
	return res
}

// RollingFromPeriods reruns only the monthly spike detection, used when the
// monthly table is loaded from a previous run's artifact.
func (e *Engine) RollingFromPeriods(periods []domain.PeriodAggregate) []domain.RollingSpike {
	started := time.Now()
	spikes := DetectRollingSpikes(periods, nil, e.cfg.Rolling)
	e.log.Info().Int("periods", len(periods)).Int("monthly_spikes", countRolling(spikes)).Dur("elapsed", time.Since(started)).Msg("spikes detected from monthly table")
	return spikes
}

func countRolling(spikes []domain.RollingSpike) int {
	n := 0
	for _, s := range spikes {
		if s.IsSpike {
			n++
		}
	}
	return n
}
