package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/domain"
	"github.com/andresuchdata/stockrecon/internal/ingest"
	"github.com/andresuchdata/stockrecon/internal/pipeline/reconcile"
	"github.com/andresuchdata/stockrecon/internal/report"
	"github.com/andresuchdata/stockrecon/internal/repository"
	"github.com/andresuchdata/stockrecon/internal/repository/postgres"
)

type fakeLoader struct {
	res *ingest.Result
	err error
}

func (f fakeLoader) Discover([]config.WarehouseSource) []ingest.File {
	if f.res == nil {
		return nil
	}
	return f.res.Files
}

func (f fakeLoader) LoadFiles(context.Context, []ingest.File) (*ingest.Result, error) {
	return f.res, f.err
}

// statusTracker remembers every file job status it was given.
type statusTracker struct {
	NoopTracker
	runs    []PipelineStatus
	created []FileJobStatus
	updated []FileJobStatus
}

func (s *statusTracker) CreatePipelineRun(_ context.Context, run *PipelineRun) error {
	s.runs = append(s.runs, run.Status)
	return nil
}

func (s *statusTracker) UpdatePipelineRun(_ context.Context, run *PipelineRun) error {
	s.runs = append(s.runs, run.Status)
	return nil
}

func (s *statusTracker) CreateFileJob(_ context.Context, job *FileJob) error {
	s.created = append(s.created, job.Status)
	return nil
}

func (s *statusTracker) UpdateFileJob(_ context.Context, job *FileJob) error {
	s.updated = append(s.updated, job.Status)
	return nil
}

type fakePublisher struct {
	keys []string
	fail bool
}

func (p *fakePublisher) UploadFile(_ context.Context, key, _ string) error {
	if p.fail {
		return errors.New("bucket unavailable")
	}
	p.keys = append(p.keys, key)
	return nil
}

type fakeCache struct{ calls int }

func (c *fakeCache) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func num(v float64) *float64 { return &v }

func snapshot(warehouse, date, source string, qty float64) domain.SnapshotBatch {
	return domain.SnapshotBatch{
		Warehouse: warehouse,
		Source:    source,
		DateCell:  date,
		Rows:      []domain.RawRow{{Line: 5, Item: "a1-23", Description: "Bolt", Quantity: num(qty), Price: num(10)}},
	}
}

func loaded() *ingest.Result {
	return &ingest.Result{
		Files: []ingest.File{
			{Warehouse: "North", Path: "north/1.xlsx"},
			{Warehouse: "North", Path: "north/2.xlsx"},
			{Warehouse: "North", Path: "north/old.xls"},
		},
		Batches: []domain.SnapshotBatch{
			snapshot("North", "01.01.2024", "north/1.xlsx", 100),
			snapshot("North", "02.01.2024", "north/2.xlsx", 90),
		},
		Failures: []ingest.FileError{{Warehouse: "North", Path: "north/old.xls", Err: ingest.ErrUnsupportedFormat}},
	}
}

func newDB(t *testing.T) *postgres.DB {
	t.Helper()
	db, err := postgres.Open(postgres.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	tracker := NewRepository(db.DB)
	store := repository.NewReportRepository(db)
	publisher := &fakePublisher{}
	cache := &fakeCache{}
	dir := t.TempDir()

	o := NewOrchestrator(
		fakeLoader{res: loaded()},
		reconcile.NewEngine(reconcile.DefaultConfig(), zerolog.Nop()),
		report.NewWriter(dir, []string{report.FormatXLSX}, zerolog.Nop()),
		Options{TopN: 10, StoragePrefix: "stockrecon"},
		zerolog.Nop(),
		WithStore(store), WithTracker(tracker), WithPublisher(publisher), WithCache(cache),
	)

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Files)
	assert.Len(t, summary.Failures, 1)
	assert.Empty(t, summary.ArtifactErrors)
	assert.Len(t, summary.Written, 8)
	assert.True(t, summary.Persisted)
	assert.Equal(t, 1, cache.calls)
	require.Len(t, publisher.keys, 8)
	assert.Contains(t, publisher.keys[0], "stockrecon/")
	assert.Contains(t, publisher.keys[0], summary.RunID)

	require.Len(t, summary.Result.Periods, 1)
	assert.Equal(t, 10.0, summary.Result.Periods[0].TotalSold)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, latest.ID)

	run, err := tracker.GetPipelineRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 3, run.TotalFiles)
	assert.Equal(t, 1, run.FailedFiles)
	assert.Equal(t, 2, run.TotalRows)
	assert.NotNil(t, run.CompletedAt)

	jobs, err := tracker.GetFileJobsByRunID(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, FileStatusCompleted, jobs[0].Status)
	assert.NotNil(t, jobs[0].ProcessedAt)
	assert.Equal(t, FileStatusFailed, jobs[2].Status)
	assert.Contains(t, jobs[2].ErrorMessage, "unsupported")
}

func TestOrchestratorFileJobLifecycle(t *testing.T) {
	tracker := &statusTracker{}
	o := NewOrchestrator(
		fakeLoader{res: loaded()},
		reconcile.NewEngine(reconcile.Config{}, zerolog.Nop()),
		report.NewWriter(t.TempDir(), nil, zerolog.Nop()),
		Options{},
		zerolog.Nop(),
		WithTracker(tracker),
	)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []FileJobStatus{FileStatusQueued, FileStatusQueued, FileStatusQueued}, tracker.created)
	assert.Equal(t, []FileJobStatus{FileStatusCompleted, FileStatusCompleted, FileStatusFailed}, tracker.updated)
	require.NotEmpty(t, tracker.runs)
	assert.Equal(t, StatusPending, tracker.runs[0])
	assert.Equal(t, StatusProcessing, tracker.runs[1])
	assert.Equal(t, StatusCompleted, tracker.runs[len(tracker.runs)-1])
}

func TestOrchestratorRunWithoutData(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	tracker := NewRepository(db.DB)
	store := repository.NewReportRepository(db)
	dir := t.TempDir()

	o := NewOrchestrator(
		fakeLoader{res: &ingest.Result{}},
		reconcile.NewEngine(reconcile.Config{}, zerolog.Nop()),
		report.NewWriter(dir, nil, zerolog.Nop()),
		Options{},
		zerolog.Nop(),
		WithTracker(tracker), WithStore(store),
	)

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Empty)
	assert.False(t, summary.Persisted, "an empty run does not replace the last stored one")
	assert.Len(t, summary.Written, 8)
	for _, w := range summary.Written {
		assert.Zero(t, w.Rows, w.Name)
		assert.FileExists(t, w.Path)
	}

	monthly, err := report.ReadXLSX(filepath.Join(dir, report.MonthlyTotals+".xlsx"))
	require.NoError(t, err)
	assert.NotEmpty(t, monthly.Columns)
	assert.Empty(t, monthly.Rows)

	run, err := tracker.GetPipelineRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Empty(t, run.ErrorMessage)
}

func TestOrchestratorUploadFailureIsNotFatal(t *testing.T) {
	o := NewOrchestrator(
		fakeLoader{res: loaded()},
		reconcile.NewEngine(reconcile.Config{}, zerolog.Nop()),
		report.NewWriter(t.TempDir(), nil, zerolog.Nop()),
		Options{},
		zerolog.Nop(),
		WithPublisher(&fakePublisher{fail: true}),
	)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Uploaded)
	assert.False(t, summary.Persisted)
}

func TestRerunSpikes(t *testing.T) {
	dir := t.TempDir()
	writer := report.NewWriter(dir, nil, zerolog.Nop())
	_, err := writer.Write(report.MonthlyTable([]domain.PeriodAggregate{
		{Item: "A", Warehouse: "N", Year: 2024, Month: 1, TotalSold: 10, Description: "Bolt"},
		{Item: "A", Warehouse: "N", Year: 2024, Month: 2, TotalSold: 10, Description: "Bolt"},
		{Item: "A", Warehouse: "N", Year: 2024, Month: 3, TotalSold: 10, Description: "Bolt"},
		{Item: "A", Warehouse: "N", Year: 2024, Month: 4, TotalSold: 40, Description: "Bolt"},
	}), report.FormatXLSX)
	require.NoError(t, err)

	o := NewOrchestrator(fakeLoader{}, reconcile.NewEngine(reconcile.DefaultConfig(), zerolog.Nop()), writer, Options{}, zerolog.Nop())
	written, spikes, err := o.RerunSpikes(context.Background(), filepath.Join(dir, report.MonthlyTotals+".xlsx"), "")
	require.NoError(t, err)
	assert.Equal(t, report.MonthlySpikes, written.Name)
	require.Len(t, spikes, 4)
	assert.True(t, spikes[3].IsSpike)
	assert.Equal(t, "Bolt", spikes[3].Description)
}

func TestRerunSpikesFromCSV(t *testing.T) {
	dir := t.TempDir()
	writer := report.NewWriter(dir, nil, zerolog.Nop())
	_, err := writer.Write(report.MonthlyTable([]domain.PeriodAggregate{
		{Item: "A", Warehouse: "N", Year: 2024, Month: 1, TotalSold: 10},
		{Item: "A", Warehouse: "N", Year: 2024, Month: 2, TotalSold: 10},
		{Item: "A", Warehouse: "N", Year: 2024, Month: 3, TotalSold: 10},
		{Item: "A", Warehouse: "N", Year: 2024, Month: 4, TotalSold: 40},
	}), report.FormatCSV)
	require.NoError(t, err)

	monthly, err := report.FindTable(dir, report.MonthlyTotals)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, report.MonthlyTotals+".csv"), monthly)

	o := NewOrchestrator(fakeLoader{}, reconcile.NewEngine(reconcile.DefaultConfig(), zerolog.Nop()), writer, Options{}, zerolog.Nop())
	written, spikes, err := o.RerunSpikes(context.Background(), monthly, report.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, report.FormatCSV, written.Format)
	require.Len(t, spikes, 4)
	assert.True(t, spikes[3].IsSpike)
	assert.False(t, spikes[2].IsSpike)
}

func TestArtifactKey(t *testing.T) {
	at := time.Date(2024, time.March, 5, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "stockrecon/2024-03-05/run-1/monthly_totals.xlsx", ArtifactKey("stockrecon", at, "run-1", "/tmp/out/monthly_totals.xlsx"))
	assert.Equal(t, "2024-03-05/run-1/x.csv", ArtifactKey("", at, "run-1", "x.csv"))
}
