package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/domain"
)

// ErrUnsupportedFormat is returned for snapshot files the loader cannot read.
var ErrUnsupportedFormat = errors.New("unsupported snapshot format")

// Layout locates the snapshot fields inside a sheet.
type Layout struct {
	DateCell        string
	FirstRow        int
	ItemCol         string
	DescriptionCol  string
	QuantityCol     string
	PriceCol        string
	ManufacturerCol string
}

// Config controls how snapshot files are discovered and read.
type Config struct {
	Workers     int
	CSVEncoding string
	Layout      Layout
}

// ConfigFrom maps the application ingest settings.
func ConfigFrom(c config.IngestConfig) Config {
	return Config{
		Workers:     c.Workers,
		CSVEncoding: c.CSVEncoding,
		Layout: Layout{
			DateCell:        c.DateCell,
			FirstRow:        c.FirstRow,
			ItemCol:         c.ItemCol,
			DescriptionCol:  c.DescriptionCol,
			QuantityCol:     c.QuantityCol,
			PriceCol:        c.PriceCol,
			ManufacturerCol: c.ManufacturerCol,
		},
	}
}

// FileError records one snapshot file that could not be read.
type FileError struct {
	Warehouse string
	Path      string
	Err       error
}

func (e FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Result is everything a load produced. A failed file never aborts the
// load; it shows up in Failures instead.
type Result struct {
	Batches  []domain.SnapshotBatch
	Failures []FileError
	Files    []File
}

// File is a discovered snapshot file.
type File struct {
	Warehouse string
	Path      string
}

// Loader reads warehouse snapshot folders.
type Loader struct {
	cfg Config
	log zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(cfg Config, log zerolog.Logger) *Loader {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Layout.FirstRow <= 0 {
		cfg.Layout.FirstRow = 5
	}
	if cfg.Layout.DateCell == "" {
		cfg.Layout.DateCell = "A2"
	}
	return &Loader{cfg: cfg, log: log.With().Str("component", "ingest").Logger()}
}

// Discover lists snapshot files per warehouse in name order. A missing
// folder is logged and skipped.
func (l *Loader) Discover(sources []config.WarehouseSource) []File {
	files := make([]File, 0)
	for _, src := range sources {
		entries, err := os.ReadDir(src.Dir)
		if err != nil {
			l.log.Warn().Err(err).Str("warehouse", src.Name).Str("dir", src.Dir).Msg("snapshot folder not readable, skipped")
			continue
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !IsSnapshotFile(entry.Name()) {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names)

		if len(names) == 0 {
			l.log.Warn().Str("warehouse", src.Name).Str("dir", src.Dir).Msg("no snapshot files in folder")
		}
		for _, name := range names {
			files = append(files, File{Warehouse: src.Name, Path: filepath.Join(src.Dir, name)})
		}
	}
	return files
}

// IsSnapshotFile reports whether name looks like a snapshot export. Office
// lock files and hidden files are ignored.
func IsSnapshotFile(name string) bool {
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xls", ".csv":
		return true
	}
	return false
}

// Load discovers and reads every snapshot file.
func (l *Loader) Load(ctx context.Context, sources []config.WarehouseSource) (*Result, error) {
	return l.LoadFiles(ctx, l.Discover(sources))
}

// LoadFiles reads the given files concurrently; batches come back in the
// order of files.
func (l *Loader) LoadFiles(ctx context.Context, files []File) (*Result, error) {
	started := time.Now()

	batches := make([]*domain.SnapshotBatch, len(files))
	failures := make([]error, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := l.ReadFile(file)
			if err != nil {
				failures[i] = err
				return nil
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Files: files}
	var rows int
	for i, file := range files {
		if failures[i] != nil {
			l.log.Error().Err(failures[i]).Str("warehouse", file.Warehouse).Str("file", file.Path).Msg("failed to read snapshot file")
			res.Failures = append(res.Failures, FileError{Warehouse: file.Warehouse, Path: file.Path, Err: failures[i]})
			continue
		}
		rows += len(batches[i].Rows)
		res.Batches = append(res.Batches, *batches[i])
	}

	l.log.Info().
		Int("files", len(files)).
		Int("failed", len(res.Failures)).
		Int("rows", rows).
		Dur("elapsed", time.Since(started)).
		Msg("snapshot files loaded")
	return res, nil
}

// ReadFile reads one snapshot file for the given warehouse.
func (l *Loader) ReadFile(file File) (*domain.SnapshotBatch, error) {
	info, err := os.Stat(file.Path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var batch *domain.SnapshotBatch
	switch strings.ToLower(filepath.Ext(file.Path)) {
	case ".xlsx", ".xlsm":
		batch, err = readXLSX(file.Path, l.cfg.Layout)
	case ".csv":
		batch, err = readCSV(file.Path, l.cfg.CSVEncoding)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", filepath.Ext(file.Path))
	}
	if err != nil {
		return nil, err
	}

	batch.Warehouse = file.Warehouse
	batch.Source = file.Path
	batch.FallbackTime = info.ModTime()
	l.log.Debug().Str("file", file.Path).Int("rows", len(batch.Rows)).Msg("snapshot file read")
	return batch, nil
}
