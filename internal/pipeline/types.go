package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/ingest"
	"github.com/andresuchdata/stockrecon/internal/pipeline/reconcile"
	"github.com/andresuchdata/stockrecon/internal/report"
)

// PipelineName identifies reconciliation runs in the run tracker.
const PipelineName = "stock_reconcile"

// SnapshotLoader lists and reads warehouse snapshot files.
type SnapshotLoader interface {
	Discover(sources []config.WarehouseSource) []ingest.File
	LoadFiles(ctx context.Context, files []ingest.File) (*ingest.Result, error)
}

// ArtifactWriter writes report artifacts to disk.
type ArtifactWriter interface {
	WriteAll(artifacts []report.Artifact) ([]report.Written, []error)
	Write(t report.Table, format string) (report.Written, error)
}

// Publisher uploads a written artifact.
type Publisher interface {
	UploadFile(ctx context.Context, key, path string) error
}

// CacheInvalidator drops cached dashboard queries after a new run is stored.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Options holds the per-run settings of an Orchestrator.
type Options struct {
	Sources       []config.WarehouseSource
	TopN          int
	StoragePrefix string
}

// Summary is what one run produced. Empty is set when no snapshot yielded
// a single observation; the artifacts are still written, with headers only.
type Summary struct {
	RunID          string
	Empty          bool
	Result         *reconcile.Result
	Files          int
	Failures       []ingest.FileError
	Written        []report.Written
	ArtifactErrors []error
	Uploaded       []string
	Persisted      bool
}

// PipelineStatus represents the current state of a pipeline run
type PipelineStatus string

const (
	StatusPending    PipelineStatus = "pending"
	StatusProcessing PipelineStatus = "processing"
	StatusCompleted  PipelineStatus = "completed"
	StatusFailed     PipelineStatus = "failed"
)

// FileJobStatus represents the state of a single file processing job
type FileJobStatus string

const (
	FileStatusQueued    FileJobStatus = "queued"
	FileStatusCompleted FileJobStatus = "completed"
	FileStatusFailed    FileJobStatus = "failed"
)

// PipelineRun tracks a single execution of the reconciliation.
type PipelineRun struct {
	ID             string         `db:"id" json:"id"`
	PipelineName   string         `db:"pipeline_name" json:"pipeline_name"`
	Status         PipelineStatus `db:"status" json:"status"`
	TotalFiles     int            `db:"total_files" json:"total_files"`
	ProcessedFiles int            `db:"processed_files" json:"processed_files"`
	FailedFiles    int            `db:"failed_files" json:"failed_files"`
	TotalRows      int            `db:"total_rows" json:"total_rows"`
	StartedAt      time.Time      `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage   string         `db:"error_message" json:"error_message,omitempty"`
}

// FileJob tracks the reading of a single snapshot file.
type FileJob struct {
	ID            string        `db:"id" json:"id"`
	PipelineRunID string        `db:"pipeline_run_id" json:"pipeline_run_id"`
	Warehouse     string        `db:"warehouse" json:"warehouse"`
	FilePath      string        `db:"file_path" json:"file_path"`
	Status        FileJobStatus `db:"status" json:"status"`
	ErrorMessage  string        `db:"error_message" json:"error_message,omitempty"`
	ProcessedAt   *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
}
