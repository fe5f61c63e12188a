package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/nursery-importer/internal/models"
)

const jobColumns = `
	id, type, status, products_processed, products_created, products_updated,
	errors, metadata, created_at, started_at, completed_at`

func (db *DB) CreateJob(ctx context.Context, job *models.ImportJob) error {
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

	query := `
		INSERT INTO import_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db.pool.Exec(ctx, query,
		job.ID, job.Type, string(job.Status), job.ProductsProcessed, job.ProductsCreated, job.ProductsUpdated,
		job.Errors, job.Metadata, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := scanJob(db.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM import_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the newest jobs first.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx,
		`SELECT`+jobColumns+` FROM import_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return jobs, nil
}

func (db *DB) MarkJobRunning(ctx context.Context, id string, startedAt time.Time) error {
	return db.updateOpenJob(ctx, id,
		`UPDATE import_jobs SET status = $2, started_at = $3
		 WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`,
		string(models.JobStatusRunning), startedAt)
}

func (db *DB) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	return db.updateOpenJob(ctx, id,
		`UPDATE import_jobs
		 SET products_processed = $2, products_created = $3, products_updated = $4, errors = $5
		 WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`,
		progress.Processed, progress.Created, progress.Updated, jobErrors(progress.Errors))
}

func (db *DB) FinishJob(ctx context.Context, id string, status models.JobStatus, progress models.JobProgress, metadata models.JobMetadata, completedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish job with status %s", status)
	}
	return db.updateOpenJob(ctx, id,
		`UPDATE import_jobs
		 SET status = $2, products_processed = $3, products_created = $4, products_updated = $5,
		     errors = $6, metadata = $7, completed_at = $8
		 WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`,
		string(status), progress.Processed, progress.Created, progress.Updated,
		jobErrors(progress.Errors), metadata, completedAt)
}

// updateOpenJob runs an update guarded against terminal jobs and tells a
// missing job apart from a finished one when no row matched.
func (db *DB) updateOpenJob(ctx context.Context, id, query string, args ...any) error {
	result, err := db.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	job, err := db.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", models.ErrJobTerminal, id, job.Status)
}

// ClaimNextPendingJob marks the oldest PENDING job RUNNING and returns it, or
// nil when nothing is waiting. Concurrent workers never claim the same job.
func (db *DB) ClaimNextPendingJob(ctx context.Context) (*models.ImportJob, error) {
	query := `
		UPDATE import_jobs
		SET status = 'RUNNING', started_at = NOW()
		WHERE id = (
			SELECT id FROM import_jobs
			WHERE status = 'PENDING'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	job, err := scanJob(db.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (db *DB) JobStats(ctx context.Context) (models.JobStats, error) {
	var stats models.JobStats

	query := `
		SELECT
			COUNT(*) as total_jobs,
			COUNT(CASE WHEN status = 'PENDING' THEN 1 END) as pending_jobs,
			COUNT(CASE WHEN status = 'RUNNING' THEN 1 END) as running_jobs,
			COUNT(CASE WHEN status = 'COMPLETED' THEN 1 END) as completed_jobs,
			COUNT(CASE WHEN status = 'FAILED' THEN 1 END) as failed_jobs
		FROM import_jobs`

	err := db.pool.QueryRow(ctx, query).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to get stats: %w", err)
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	return stats, nil
}

func scanJob(row pgx.Row) (*models.ImportJob, error) {
	job := &models.ImportJob{}
	var status string
	err := row.Scan(
		&job.ID, &job.Type, &status, &job.ProductsProcessed, &job.ProductsCreated, &job.ProductsUpdated,
		&job.Errors, &job.Metadata, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if job.Errors == nil {
		job.Errors = []models.JobError{}
	}
	return job, nil
}

func jobErrors(errs []models.JobError) []models.JobError {
	if errs == nil {
		return []models.JobError{}
	}
	return errs
}
