package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/stockrecon/internal/domain"
	"github.com/andresuchdata/stockrecon/internal/pipeline/reconcile"
	"github.com/andresuchdata/stockrecon/internal/report"
	"github.com/andresuchdata/stockrecon/internal/repository"
)

// Orchestrator runs ingest, reconciliation, reporting, persistence and
// publishing for one analysis.
type Orchestrator struct {
	loader    SnapshotLoader
	engine    *reconcile.Engine
	writer    ArtifactWriter
	store     repository.ReportRepository
	publisher Publisher
	cache     CacheInvalidator
	tracker   Tracker
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithStore persists every run's tables.
func WithStore(store repository.ReportRepository) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithPublisher uploads written artifacts.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithCache invalidates cached dashboard queries after a run is stored.
func WithCache(c CacheInvalidator) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithTracker records run and file job status.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(loader SnapshotLoader, engine *reconcile.Engine, writer ArtifactWriter, opts Options, log zerolog.Logger, options ...Option) *Orchestrator {
	o := &Orchestrator{
		loader:  loader,
		engine:  engine,
		writer:  writer,
		tracker: NoopTracker{},
		opts:    opts,
		log:     log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Run performs a full analysis. Unreadable files and failed artifacts are
// reported in the summary; only a cancelled context or a failed persist
// return an error. Input without any data completes with Summary.Empty set.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := o.now()
	runID := uuid.NewString()
	log := o.log.With().Str("run_id", runID).Logger()
	rec := startRun(ctx, o.tracker, log, runID)

	summary, err := o.run(ctx, runID, log, rec)
	if err != nil {
		rec.fail(ctx, err)
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("analysis failed")
		return summary, err
	}

	rec.complete(ctx)
	log.Info().
		Bool("empty", summary.Empty).
		Int("files", summary.Files).
		Int("failed_files", len(summary.Failures)).
		Int("artifacts", len(summary.Written)).
		Int("uploaded", len(summary.Uploaded)).
		Bool("persisted", summary.Persisted).
		Dur("elapsed", time.Since(started)).
		Msg("analysis finished")
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, log zerolog.Logger, rec *runRecorder) (*Summary, error) {
	summary := &Summary{RunID: runID}

	files := o.loader.Discover(o.opts.Sources)
	rec.queueFiles(ctx, files)

	loaded, err := o.loader.LoadFiles(ctx, files)
	if err != nil {
		return summary, fmt.Errorf("failed to load snapshots: %w", err)
	}
	summary.Files = len(loaded.Files)
	summary.Failures = loaded.Failures
	rec.recordFiles(ctx, loaded)

	res := o.engine.Run(loaded.Batches)
	summary.Result = res
	if len(res.Observations) == 0 {
		summary.Empty = true
		log.Warn().
			Int("files", len(loaded.Files)).
			Int("failed_files", len(loaded.Failures)).
			Msg("no snapshot data to analyze, writing empty reports")
	}

	artifacts := report.Build(report.Input{
		Periods:       res.Periods,
		Transfers:     res.Transfers,
		Deltas:        res.Reconciled,
		DailySpikes:   res.DailySpikes,
		RollingSpikes: res.RollingSpikes,
	}, o.opts.TopN, log)
	summary.Written, summary.ArtifactErrors = o.writer.WriteAll(artifacts)

	if o.store != nil && !summary.Empty {
		run := domain.ReportRun{
			ID:           runID,
			CreatedAt:    o.now().UTC(),
			Observations: len(res.Observations),
			Transfers:    len(res.Transfers),
			Periods:      len(res.Periods),
		}
		tables := repository.RunTables{
			Periods:       res.Periods,
			Transfers:     res.Transfers,
			RollingSpikes: res.RollingSpikes,
			DailySpikes:   res.DailySpikes,
		}
		stored := o.now()
		if err := o.store.SaveRun(ctx, run, tables); err != nil {
			return summary, fmt.Errorf("failed to persist run: %w", err)
		}
		summary.Persisted = true
		log.Info().Dur("elapsed", time.Since(stored)).Msg("run persisted")

		if o.cache != nil {
			if err := o.cache.Invalidate(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to invalidate dashboard cache")
			}
		}
	}

	if o.publisher != nil {
		summary.Uploaded = o.publish(ctx, runID, summary.Written, log)
	}
	return summary, nil
}

// publish uploads artifacts under <prefix>/<date>/<run id>/. Upload failures
// are logged per file.
func (o *Orchestrator) publish(ctx context.Context, runID string, written []report.Written, log zerolog.Logger) []string {
	started := o.now()
	var uploaded []string
	for _, w := range written {
		key := ArtifactKey(o.opts.StoragePrefix, o.now(), runID, w.Path)
		if err := o.publisher.UploadFile(ctx, key, w.Path); err != nil {
			log.Error().Err(err).Str("file", w.Path).Str("key", key).Msg("failed to upload artifact")
			continue
		}
		uploaded = append(uploaded, key)
	}
	log.Info().Int("uploaded", len(uploaded)).Int("artifacts", len(written)).Dur("elapsed", time.Since(started)).Msg("artifacts published")
	return uploaded
}

// ArtifactKey builds the object key an artifact is published under.
func ArtifactKey(prefix string, at time.Time, runID, file string) string {
	return path.Join(prefix, at.UTC().Format("2006-01-02"), runID, filepath.Base(file))
}

// RerunSpikes rebuilds the monthly spike artifact from a previously written
// monthly table (xlsx or csv), without touching the snapshots.
func (o *Orchestrator) RerunSpikes(ctx context.Context, monthlyPath string, format string) (report.Written, []domain.RollingSpike, error) {
	if err := ctx.Err(); err != nil {
		return report.Written{}, nil, err
	}

	tbl, err := report.ReadTable(monthlyPath)
	if err != nil {
		return report.Written{}, nil, err
	}
	periods, err := report.PeriodsFromTable(tbl)
	if err != nil {
		return report.Written{}, nil, err
	}

	spikes := o.engine.RollingFromPeriods(periods)
	if format == "" {
		format = report.FormatXLSX
	}
	written, err := o.writer.Write(report.MonthlySpikesTable(spikes), format)
	if err != nil {
		return report.Written{}, spikes, err
	}
	return written, spikes, nil
}
