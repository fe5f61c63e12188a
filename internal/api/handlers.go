package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/nursery-importer/internal/importer"
	"github.com/maltedev/nursery-importer/internal/models"
)

// ImportService is the part of the importer the HTTP API drives.
type ImportService interface {
	StartImportJob(ctx context.Context, opts models.JobOptions) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error)
	StopImport(ctx context.Context, jobID string) error
	Stats(ctx context.Context) (importer.Stats, error)
}

// OutboxStatus reports the backlog of the event relay for /health.
type OutboxStatus interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	imports ImportService
	outbox  OutboxStatus
	logger  *slog.Logger
}

// NewHandlers creates the handlers. outbox may be nil when no relay runs.
func NewHandlers(imports ImportService, outbox OutboxStatus, logger *slog.Logger) *Handlers {
	return &Handlers{
		imports: imports,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// CreateImportRequest represents a new import job request
type CreateImportRequest struct {
	UseAPI         bool   `json:"use_api"`
	CategoryFilter string `json:"category_filter"`
	MaxProducts    int    `json:"max_products"`
	MaxPages       int    `json:"max_pages"`
	DownloadImages bool   `json:"download_images"`
}

// CreateImportResponse represents the job creation response
type CreateImportResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateImport queues a new import job for the worker.
func (h *Handlers) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req CreateImportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if req.MaxProducts < 0 || req.MaxPages < 0 {
		h.respondError(w, http.StatusBadRequest, "max_products and max_pages must not be negative")
		return
	}

	jobID, err := h.imports.StartImportJob(r.Context(), models.JobOptions{
		UseAPI:         req.UseAPI,
		CategoryFilter: req.CategoryFilter,
		MaxProducts:    req.MaxProducts,
		MaxPages:       req.MaxPages,
		DownloadImages: req.DownloadImages,
	})
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateImportResponse{
		JobID:   jobID,
		Status:  string(models.JobStatusPending),
		Message: "Import job created",
	})
}

// GetImport handles job status retrieval
func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.imports.GetJob(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "job", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListImports returns the newest jobs first. ?limit= caps the list.
func (h *Handlers) ListImports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.imports.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.ImportJob{}
	}

	h.respondJSON(w, http.StatusOK, jobs)
}

// StopImport asks a running job to stop between products.
func (h *Handlers) StopImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	err := h.imports.StopImport(r.Context(), jobID)
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		h.respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, models.ErrJobTerminal):
		h.respondError(w, http.StatusConflict, "job already finished")
	case err != nil:
		h.logger.Error("failed to stop job", "job", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to stop job")
	default:
		h.respondJSON(w, http.StatusAccepted, map[string]string{
			"job_id":  jobID,
			"message": "Stop requested",
		})
	}
}

// GetStats handles statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.imports.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// Health reports ok, or degrades on a growing outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending events", "error", err)
		}
		dead, err := h.outbox.DeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": dead,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
