package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/stockrecon/internal/ingest"
)

// runRecorder keeps the tracker in sync with one run. Tracker failures are
// logged and never fail the run itself.
type runRecorder struct {
	tracker Tracker
	log     zerolog.Logger
	run     *PipelineRun
	jobs    map[string]*FileJob
}

func startRun(ctx context.Context, tracker Tracker, log zerolog.Logger, id string) *runRecorder {
	rec := &runRecorder{
		tracker: tracker,
		log:     log,
		run: &PipelineRun{
			ID:           id,
			PipelineName: PipelineName,
			Status:       StatusPending,
			StartedAt:    time.Now().UTC(),
		},
		jobs: make(map[string]*FileJob),
	}
	if err := tracker.CreatePipelineRun(ctx, rec.run); err != nil {
		log.Warn().Err(err).Str("run_id", id).Msg("failed to record pipeline run")
	}
	return rec
}

// queueFiles moves the run to processing and stores one queued job per
// discovered file.
func (r *runRecorder) queueFiles(ctx context.Context, files []ingest.File) {
	for _, file := range files {
		job := &FileJob{
			ID:            uuid.NewString(),
			PipelineRunID: r.run.ID,
			Warehouse:     file.Warehouse,
			FilePath:      file.Path,
			Status:        FileStatusQueued,
		}
		if err := r.tracker.CreateFileJob(ctx, job); err != nil {
			r.log.Warn().Err(err).Str("file", file.Path).Msg("failed to record file job")
		}
		r.jobs[file.Path] = job
	}

	r.run.Status = StatusProcessing
	r.run.TotalFiles = len(files)
	r.update(ctx)
}

// recordFiles moves every queued job to its final status.
func (r *runRecorder) recordFiles(ctx context.Context, res *ingest.Result) {
	failed := make(map[string]error, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.Path] = f.Err
	}

	for _, file := range res.Files {
		job, ok := r.jobs[file.Path]
		if !ok {
			continue
		}
		now := time.Now().UTC()
		job.Status = FileStatusCompleted
		job.ProcessedAt = &now
		if err, ok := failed[file.Path]; ok {
			job.Status = FileStatusFailed
			job.ErrorMessage = err.Error()
		}
		if err := r.tracker.UpdateFileJob(ctx, job); err != nil {
			r.log.Warn().Err(err).Str("file", file.Path).Msg("failed to update file job")
		}
	}

	r.run.TotalFiles = len(res.Files)
	r.run.FailedFiles = len(res.Failures)
	r.run.ProcessedFiles = len(res.Files) - len(res.Failures)
	for _, b := range res.Batches {
		r.run.TotalRows += len(b.Rows)
	}
	r.update(ctx)
}

func (r *runRecorder) complete(ctx context.Context) {
	now := time.Now().UTC()
	r.run.Status = StatusCompleted
	r.run.CompletedAt = &now
	r.update(ctx)
}

func (r *runRecorder) fail(ctx context.Context, err error) {
	now := time.Now().UTC()
	r.run.Status = StatusFailed
	r.run.ErrorMessage = err.Error()
	r.run.CompletedAt = &now
	// the run context may already be cancelled
	r.update(context.WithoutCancel(ctx))
}

func (r *runRecorder) update(ctx context.Context) {
	if err := r.tracker.UpdatePipelineRun(ctx, r.run); err != nil {
		r.log.Warn().Err(err).Str("run_id", r.run.ID).Msg("failed to update pipeline run")
	}
}
