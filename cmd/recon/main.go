// cmd/recon/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/pipeline/reconcile"
	"github.com/andresuchdata/stockrecon/internal/repository/postgres"
	"github.com/andresuchdata/stockrecon/pkg/logger"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "warehouse",
			Usage: "Warehouse source as Name=dir[@prefix]; repeat for several (overrides WAREHOUSES)",
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Usage:   "Directory the report artifacts are written to",
			EnvVars: []string{"APP_OUTPUT_DIR"},
		},
		&cli.StringSliceFlag{
			Name:  "format",
			Usage: "Artifact format (xlsx, csv); repeat for several",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "json-log",
			Usage:   "Write logs as JSON instead of console output",
			EnvVars: []string{"LOG_JSON"},
		},
	}
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(c *cli.Context) *config.Config {
	cfg := *config.Load()

	if ws := c.StringSlice("warehouse"); len(ws) > 0 {
		var sources []config.WarehouseSource
		for _, w := range ws {
			sources = append(sources, config.ParseWarehouses(w)...)
		}
		cfg.App.Warehouses = sources
	}
	if dir := c.String("output-dir"); dir != "" {
		cfg.App.OutputDir = dir
	}
	if formats := c.StringSlice("format"); len(formats) > 0 {
		cfg.App.Formats = formats
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if c.IsSet("json-log") {
		cfg.Log.JSON = c.Bool("json-log")
	}
	return &cfg
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(os.Stderr, cfg.Log.Level, cfg.Log.JSON)
}

func engineConfig(a config.AnalysisConfig) reconcile.Config {
	return reconcile.Config{
		Rolling: reconcile.RollingConfig{
			Window:     a.SpikeWindow,
			Factor:     a.SpikeFactor,
			MinPeriods: a.SpikeMinPeriods,
		},
		Stat: reconcile.StatConfig{
			Multiplier: a.StatMultiplier,
			MinSamples: a.StatMinSamples,
		},
	}
}

// openDB connects and creates the schema.
func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	if !cfg.Database.Enabled() {
		return nil, fmt.Errorf("no database configured (set DB_DRIVER)")
	}
	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "recon",
		Usage: "Reconcile warehouse stock snapshots into sales, transfer and spike reports",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			analyzeCommand(),
			spikesCommand(),
			fetchCommand(),
			runsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("recon failed")
	}
}
