package pipeline

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Tracker records pipeline runs and their file jobs.
type Tracker interface {
	CreatePipelineRun(ctx context.Context, run *PipelineRun) error
	UpdatePipelineRun(ctx context.Context, run *PipelineRun) error
	GetPipelineRun(ctx context.Context, id string) (*PipelineRun, error)
	ListPipelineRuns(ctx context.Context, limit int) ([]*PipelineRun, error)
	CreateFileJob(ctx context.Context, job *FileJob) error
	UpdateFileJob(ctx context.Context, job *FileJob) error
	GetFileJobsByRunID(ctx context.Context, runID string) ([]*FileJob, error)
}

// Repository handles database operations for pipeline tracking
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new pipeline repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// CreatePipelineRun creates a new pipeline run record
func (r *Repository) CreatePipelineRun(ctx context.Context, run *PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (
			id, pipeline_name, status, total_files, processed_files,
			failed_files, total_rows, started_at, completed_at, error_message
		) VALUES (
			:id, :pipeline_name, :status, :total_files, :processed_files,
			:failed_files, :total_rows, :started_at, :completed_at, :error_message
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, run)
	return err
}

// UpdatePipelineRun updates an existing pipeline run
func (r *Repository) UpdatePipelineRun(ctx context.Context, run *PipelineRun) error {
	query := `
		UPDATE pipeline_runs
		SET status = :status, total_files = :total_files, processed_files = :processed_files,
		    failed_files = :failed_files, total_rows = :total_rows,
		    completed_at = :completed_at, error_message = :error_message
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, run)
	return err
}

// GetPipelineRun retrieves a pipeline run by ID. A missing run yields nil.
func (r *Repository) GetPipelineRun(ctx context.Context, id string) (*PipelineRun, error) {
	query := r.db.Rebind(`
		SELECT id, pipeline_name, status, total_files, processed_files,
		       failed_files, total_rows, started_at, completed_at, error_message
		FROM pipeline_runs
		WHERE id = ?
	`)

	run := &PipelineRun{}
	err := r.db.GetContext(ctx, run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListPipelineRuns returns the most recent runs first.
func (r *Repository) ListPipelineRuns(ctx context.Context, limit int) ([]*PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.Rebind(`
		SELECT id, pipeline_name, status, total_files, processed_files,
		       failed_files, total_rows, started_at, completed_at, error_message
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`)

	var runs []*PipelineRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, err
	}
	return runs, nil
}

// CreateFileJob creates a new file job record
func (r *Repository) CreateFileJob(ctx context.Context, job *FileJob) error {
	query := `
		INSERT INTO pipeline_file_jobs (
			id, pipeline_run_id, warehouse, file_path, status, error_message, processed_at
		) VALUES (
			:id, :pipeline_run_id, :warehouse, :file_path, :status, :error_message, :processed_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, job)
	return err
}

// UpdateFileJob updates an existing file job
func (r *Repository) UpdateFileJob(ctx context.Context, job *FileJob) error {
	query := `
		UPDATE pipeline_file_jobs
		SET status = :status, error_message = :error_message, processed_at = :processed_at
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, job)
	return err
}

// GetFileJobsByRunID retrieves all file jobs for a pipeline run
func (r *Repository) GetFileJobsByRunID(ctx context.Context, runID string) ([]*FileJob, error) {
	query := r.db.Rebind(`
		SELECT id, pipeline_run_id, warehouse, file_path, status, error_message, processed_at
		FROM pipeline_file_jobs
		WHERE pipeline_run_id = ?
		ORDER BY file_path
	`)

	var jobs []*FileJob
	if err := r.db.SelectContext(ctx, &jobs, query, runID); err != nil {
		return nil, err
	}
	return jobs, nil
}

// NoopTracker is used when no database is configured.
type NoopTracker struct{}

func (NoopTracker) CreatePipelineRun(context.Context, *PipelineRun) error { return nil }
func (NoopTracker) UpdatePipelineRun(context.Context, *PipelineRun) error { return nil }
func (NoopTracker) GetPipelineRun(context.Context, string) (*PipelineRun, error) {
	return nil, nil
}
func (NoopTracker) ListPipelineRuns(context.Context, int) ([]*PipelineRun, error) {
	return nil, nil
}
func (NoopTracker) CreateFileJob(context.Context, *FileJob) error { return nil }
func (NoopTracker) UpdateFileJob(context.Context, *FileJob) error { return nil }
func (NoopTracker) GetFileJobsByRunID(context.Context, string) ([]*FileJob, error) {
	return nil, nil
}
