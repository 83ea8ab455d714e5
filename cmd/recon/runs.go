package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/stockrecon/internal/pipeline"
)

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recent tracked runs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of runs to list",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Show the file jobs of one run",
			},
		},
		Action: runRuns,
	}
}

func runRuns(c *cli.Context) error {
	cfg := loadConfig(c)
	db, err := openDB(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tracker := pipeline.NewRepository(db.DB)
	w := c.App.Writer

	if id := c.String("id"); id != "" {
		jobs, err := tracker.GetFileJobsByRunID(c.Context, id)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			fmt.Fprintf(w, "%-10s %-20s %s %s\n", j.Status, j.Warehouse, j.FilePath, j.ErrorMessage)
		}
		return nil
	}

	runs, err := tracker.ListPipelineRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-10s  %s  files=%d failed=%d rows=%d %s\n",
			r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime),
			r.TotalFiles, r.FailedFiles, r.TotalRows, r.ErrorMessage)
	}
	return nil
}
