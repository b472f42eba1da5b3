package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/leadnexus/internal/storage"
)

// JobTypeIngestURLs is the queue job type for asynchronous batches.
const JobTypeIngestURLs = "ingest_urls"

// finishTimeout bounds recording a job outcome once the worker is stopping.
const finishTimeout = 5 * time.Second

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id, resultJSON string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	RequeueRunningJobs(ctx context.Context) (int64, error)
}

// BatchIngester runs one ingest batch.
type BatchIngester interface {
	Ingest(ctx context.Context, urls []string) (Result, error)
}

// Worker processes ingest_urls jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	pipeline BatchIngester
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pipeline BatchIngester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		pipeline: pipeline,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

type urlsPayload struct {
	URLs []string `json:"urls"`
}

// Enqueue validates urls and queues them as one batch job.
func (w *Worker) Enqueue(ctx context.Context, urls []string) (string, error) {
	if err := ValidateURLs(urls); err != nil {
		return "", err
	}
	payload, err := json.Marshal(urlsPayload{URLs: urls})
	if err != nil {
		return "", err
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeIngestURLs,
		PayloadJSON: string(payload),
	}
	if err := w.store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing ingest job: %w", err)
	}
	w.logger.Info("queued ingest job", "job_id", job.ID, "urls", len(urls))
	return job.ID, nil
}

// Run polls for jobs until ctx is cancelled. Jobs a previous process left
// running are put back in the queue first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(ctx); err != nil {
		w.logger.Error("requeueing interrupted jobs failed", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_urls job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeIngestURLs})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	result, err := w.processJob(ctx, job)

	// The outcome is recorded even if ctx was cancelled while the batch ran.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(finishCtx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(finishCtx, job.ID, result); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload urlsPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	res, err := w.pipeline.Ingest(ctx, payload.URLs)
	if err != nil {
		return "", fmt.Errorf("ingesting batch: %w", err)
	}

	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}
