package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/nursery-importer/internal/models"
)

func (fs *FileStore) CreateJob(ctx context.Context, job *models.ImportJob) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Errors == nil {
		job.Errors = []models.JobError{}
	}

	fs.data.Jobs[job.ID] = cloneJob(job)
	return fs.save()
}

func (fs *FileStore) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	job, ok := fs.data.Jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	return cloneJob(job), nil
}

// ListJobs returns the newest jobs first.
func (fs *FileStore) ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	jobs := make([]*models.ImportJob, 0, len(fs.data.Jobs))
	for _, j := range fs.data.Jobs {
		jobs = append(jobs, cloneJob(j))
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (fs *FileStore) MarkJobRunning(ctx context.Context, id string, startedAt time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	job, err := fs.mutableJob(id)
	if err != nil {
		return err
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = &startedAt
	return fs.save()
}

func (fs *FileStore) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	job, err := fs.mutableJob(id)
	if err != nil {
		return err
	}
	applyProgress(job, progress)
	return fs.save()
}

func (fs *FileStore) FinishJob(ctx context.Context, id string, status models.JobStatus, progress models.JobProgress, metadata models.JobMetadata, completedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish job with status %s", status)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	job, err := fs.mutableJob(id)
	if err != nil {
		return err
	}
	applyProgress(job, progress)
	job.Status = status
	job.Metadata = metadata
	job.CompletedAt = &completedAt
	return fs.save()
}

// ClaimNextPendingJob marks the oldest PENDING job RUNNING and returns it, or
// nil when nothing is waiting.
func (fs *FileStore) ClaimNextPendingJob(ctx context.Context) (*models.ImportJob, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var next *models.ImportJob
	for _, j := range fs.data.Jobs {
		if j.Status != models.JobStatusPending {
			continue
		}
		if next == nil || j.CreatedAt.Before(next.CreatedAt) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	now := time.Now()
	next.Status = models.JobStatusRunning
	next.StartedAt = &now
	if err := fs.save(); err != nil {
		return nil, err
	}
	return cloneJob(next), nil
}

func (fs *FileStore) JobStats(ctx context.Context) (models.JobStats, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var stats models.JobStats
	for _, j := range fs.data.Jobs {
		stats.TotalJobs++
		switch j.Status {
		case models.JobStatusPending:
			stats.PendingJobs++
		case models.JobStatusRunning:
			stats.RunningJobs++
		case models.JobStatusCompleted:
			stats.CompletedJobs++
		case models.JobStatusFailed:
			stats.FailedJobs++
		}
	}
	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	return stats, nil
}

// mutableJob returns the stored job for in-place mutation. Caller holds the lock.
func (fs *FileStore) mutableJob(id string) (*models.ImportJob, error) {
	job, ok := fs.data.Jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrJobTerminal, id, job.Status)
	}
	return job, nil
}

func applyProgress(job *models.ImportJob, progress models.JobProgress) {
	job.ProductsProcessed = progress.Processed
	job.ProductsCreated = progress.Created
	job.ProductsUpdated = progress.Updated
	job.Errors = append([]models.JobError{}, progress.Errors...)
}

func cloneJob(j *models.ImportJob) *models.ImportJob {
	cp := *j
	cp.Errors = append([]models.JobError{}, j.Errors...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
