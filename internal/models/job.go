package models

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further mutation of the job is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobTypeProducts is the only job type currently run by the importer.
const JobTypeProducts = "products"

// JobOptions are the options requested for an import run. They are stored as the
// job's metadata.
type JobOptions struct {
	UseAPI         bool   `json:"useApi"`
	CategoryFilter string `json:"categoryFilter,omitempty"`
	MaxProducts    int    `json:"maxProducts,omitempty"`
	MaxPages       int    `json:"maxPages,omitempty"`
	DownloadImages bool   `json:"downloadImages,omitempty"`
}

// JobMetadata is the free-form metadata column of a job.
type JobMetadata struct {
	Options   JobOptions `json:"options"`
	Source    string     `json:"source,omitempty"`
	Stopped   bool       `json:"stopped,omitempty"`
	Conflicts int        `json:"conflicts,omitempty"`
}

// JobError is one entry of a job's append-only error log.
type JobError struct {
	ProductID string    `json:"productId,omitempty"`
	URL       string    `json:"url,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ImportJob models one import run.
type ImportJob struct {
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	Status            JobStatus   `json:"status"`
	ProductsProcessed int         `json:"productsProcessed"`
	ProductsCreated   int         `json:"productsCreated"`
	ProductsUpdated   int         `json:"productsUpdated"`
	Errors            []JobError  `json:"errors"`
	Metadata          JobMetadata `json:"metadata"`
	CreatedAt         time.Time   `json:"createdAt"`
	StartedAt         *time.Time  `json:"startedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// JobProgress is the snapshot of counters persisted after every product.
type JobProgress struct {
	Processed int
	Created   int
	Updated   int
	Errors    []JobError
}

// JobStats aggregates job counts by status.
type JobStats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	SuccessRate   float64 `json:"success_rate"`
}
