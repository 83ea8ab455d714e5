package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/stockrecon/internal/storage"
)

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download snapshot exports from object storage into the warehouse folders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "object",
				Usage: "Download a single object (relative to --prefix) instead of every warehouse",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Prefix the --object name is resolved against",
			},
			&cli.StringFlag{
				Name:  "dest",
				Usage: "Destination directory for --object",
				Value: ".",
			},
		},
		Action: runFetch,
	}
}

func runFetch(c *cli.Context) error {
	cfg := loadConfig(c)
	log := newLogger(cfg)

	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to configure object storage: %w", err)
	}
	fetcher := storage.NewFetcher(client, log)

	if name := c.String("object"); name != "" {
		path, err := fetcher.FetchObject(c.Context, c.String("prefix"), name, c.String("dest"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, path)
		return nil
	}

	sources := cfg.App.Warehouses
	hasPrefix := false
	for _, src := range sources {
		if src.Prefix != "" {
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return errors.New("no warehouse has a storage prefix (use Name=dir@prefix)")
	}

	paths, err := fetcher.Fetch(c.Context, sources)
	for _, p := range paths {
		fmt.Fprintln(c.App.Writer, p)
	}
	return err
}
