package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isamplesorg/igsn-lib/internal/harvest"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

// processJob executes a single queued harvest job with a per-service lock
// and a timeout.
func (w *Worker) processJob(ctx context.Context, msg *jobMessage) error {
	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			w.logger.Warn("Queued job no longer exists",
				slog.Int64("job_id", msg.JobID),
			)
			return err
		}
		return &transientError{err: fmt.Errorf("failed to load job: %w", err)}
	}

	if !w.acquireService(job.ServiceID) {
		w.logger.Info("Service already harvesting, requeueing job",
			slog.Int64("job_id", job.ID),
			slog.Int64("service_id", job.ServiceID),
		)
		return harvest.ErrServiceBusy
	}
	defer w.releaseService(job.ServiceID)

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	started := time.Now()
	res, err := w.runner.Execute(jobCtx, job, true)
	if err != nil {
		if errors.Is(err, harvest.ErrOrdering) {
			return err
		}
		return &transientError{err: fmt.Errorf("harvest run failed: %w", err)}
	}

	w.logger.Info("Harvest job finished",
		slog.Int64("job_id", job.ID),
		slog.Int64("service_id", job.ServiceID),
		slog.Int("new", res.New),
		slog.Int("seen", res.Seen),
		slog.Int("skipped", res.Skipped),
		slog.Int("total", res.Total),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}
