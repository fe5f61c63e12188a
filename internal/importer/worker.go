package importer

import (
	"context"
	"time"
)

// StartWorker claims pending jobs and runs them one at a time until ctx is done.
func (imp *Importer) StartWorker(ctx context.Context) {
	imp.logger.Info("job worker started", "interval", imp.cfg.WorkerInterval)

	ticker := time.NewTicker(imp.cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			imp.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			for imp.processNextJob(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processNextJob runs the oldest pending job. It reports whether a job was found
// so the worker can drain a backlog without waiting for the next tick.
func (imp *Importer) processNextJob(ctx context.Context) bool {
	job, err := imp.jobs.ClaimNextPendingJob(ctx)
	if err != nil {
		imp.logger.Error("failed to claim job", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	imp.logger.Info("processing job", "job", job.ID)
	started := time.Now()

	result, err := imp.ExecuteImport(ctx, job.ID, job.Metadata.Options)
	if err != nil {
		imp.logger.Error("job failed", "job", job.ID, "error", err, "duration", time.Since(started))
		return true
	}

	imp.logger.Info("job finished",
		"job", job.ID,
		"created", result.Created,
		"updated", result.Updated,
		"errors", len(result.Errors),
		"duration", time.Since(started))
	return true
}
