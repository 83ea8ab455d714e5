package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/stockrecon/internal/cache"
	"github.com/andresuchdata/stockrecon/internal/ingest"
	"github.com/andresuchdata/stockrecon/internal/pipeline"
	"github.com/andresuchdata/stockrecon/internal/pipeline/reconcile"
	"github.com/andresuchdata/stockrecon/internal/report"
	"github.com/andresuchdata/stockrecon/internal/repository"
	"github.com/andresuchdata/stockrecon/internal/storage"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Read every warehouse snapshot folder and write the report artifacts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "persist",
				Usage: "Store the run in the configured database",
			},
			&cli.BoolFlag{
				Name:  "upload",
				Usage: "Upload the artifacts to object storage",
			},
			&cli.IntFlag{
				Name:    "top-n",
				Usage:   "Rows kept in the fast mover, stagnant and restocked views",
				EnvVars: []string{"ANALYSIS_TOP_N"},
			},
		},
		Action: runAnalyze,
	}
}

func runAnalyze(c *cli.Context) error {
	ctx := c.Context
	cfg := loadConfig(c)
	log := newLogger(cfg)

	if len(cfg.App.Warehouses) == 0 {
		return errors.New("no warehouses configured (set WAREHOUSES or --warehouse)")
	}

	topN := cfg.Analysis.TopN
	if c.IsSet("top-n") {
		topN = c.Int("top-n")
	}

	var options []pipeline.Option
	if c.Bool("persist") {
		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		options = append(options,
			pipeline.WithStore(repository.NewReportRepository(db)),
			pipeline.WithTracker(pipeline.NewRepository(db.DB)),
		)

		reportCache, err := cache.NewReportCache(cfg.Cache)
		if err != nil {
			log.Warn().Err(err).Msg("report cache unavailable, skipping invalidation")
		} else {
			options = append(options, pipeline.WithCache(reportCache))
		}
	}

	if c.Bool("upload") {
		client, err := storage.NewClient(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to configure object storage: %w", err)
		}
		options = append(options, pipeline.WithPublisher(client))
	}

	orch := pipeline.NewOrchestrator(
		ingest.NewLoader(ingest.ConfigFrom(cfg.Ingest), log),
		reconcile.NewEngine(engineConfig(cfg.Analysis), log),
		report.NewWriter(cfg.App.OutputDir, cfg.App.Formats, log),
		pipeline.Options{
			Sources:       cfg.App.Warehouses,
			TopN:          topN,
			StoragePrefix: cfg.Storage.Prefix,
		},
		log,
		options...,
	)

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	if summary.Empty {
		fmt.Fprintln(c.App.Writer, "no snapshot rows found, reports are empty")
	}

	for _, f := range summary.Failures {
		fmt.Fprintf(c.App.Writer, "skipped %s (%s): %v\n", f.Path, f.Warehouse, f.Err)
	}
	for _, w := range summary.Written {
		fmt.Fprintf(c.App.Writer, "%-24s %-5s %7d rows  %s\n", w.Name, w.Format, w.Rows, w.Path)
	}
	if n := summary.Result.AmbiguousTransfers(); n > 0 {
		fmt.Fprintf(c.App.Writer, "%d transfer rows are ambiguous, see the ambiguous column\n", n)
	}
	if len(summary.ArtifactErrors) > 0 {
		return fmt.Errorf("%d artifacts could not be written", len(summary.ArtifactErrors))
	}
	return nil
}

func spikesCommand() *cli.Command {
	return &cli.Command{
		Name:  "spikes",
		Usage: "Rebuild the monthly spike report from an existing monthly totals table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "monthly",
				Usage: "Monthly totals xlsx or csv (default <output-dir>/monthly_totals.xlsx, then .csv)",
			},
			&cli.StringFlag{
				Name:  "spike-format",
				Usage: "Format of the rebuilt report (xlsx, csv)",
				Value: report.FormatXLSX,
			},
			&cli.IntFlag{
				Name:    "window",
				Usage:   "Preceding months averaged into the baseline",
				EnvVars: []string{"ANALYSIS_SPIKE_WINDOW"},
			},
			&cli.Float64Flag{
				Name:    "factor",
				Usage:   "Spike when sold exceeds baseline times factor",
				EnvVars: []string{"ANALYSIS_SPIKE_FACTOR"},
			},
			&cli.IntFlag{
				Name:    "min-periods",
				Usage:   "Preceding months needed before a baseline exists (0 means window)",
				EnvVars: []string{"ANALYSIS_SPIKE_MIN_PERIODS"},
			},
		},
		Action: runSpikes,
	}
}

func runSpikes(c *cli.Context) error {
	cfg := loadConfig(c)
	log := newLogger(cfg)

	analysis := cfg.Analysis
	if c.IsSet("window") {
		analysis.SpikeWindow = c.Int("window")
	}
	if c.IsSet("factor") {
		analysis.SpikeFactor = c.Float64("factor")
	}
	if c.IsSet("min-periods") {
		analysis.SpikeMinPeriods = c.Int("min-periods")
	}

	monthly := c.String("monthly")
	if monthly == "" {
		found, err := report.FindTable(cfg.App.OutputDir, report.MonthlyTotals)
		if err != nil {
			return err
		}
		monthly = found
	}

	orch := pipeline.NewOrchestrator(
		nil,
		reconcile.NewEngine(engineConfig(analysis), log),
		report.NewWriter(cfg.App.OutputDir, cfg.App.Formats, log),
		pipeline.Options{},
		log,
	)

	written, spikes, err := orch.RerunSpikes(c.Context, monthly, c.String("spike-format"))
	if err != nil {
		return err
	}

	flagged := 0
	for _, s := range spikes {
		if s.IsSpike {
			flagged++
		}
	}
	fmt.Fprintf(c.App.Writer, "%d of %d monthly rows flagged, written to %s\n", flagged, len(spikes), written.Path)
	return nil
}
