// Package importer runs import jobs: it acquires the wholesaler's listing, merges
// in detail pages and reconciles every record with the catalog.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/nursery-importer/internal/apiclient"
	"github.com/maltedev/nursery-importer/internal/models"
)

const (
	SourceAPI     = "api"
	SourceScraper = "scraper"
)

type Config struct {
	// APIPageSize is the page size requested from the wholesaler API.
	APIPageSize int
	// MaxPages caps listing pages when a job does not set its own cap.
	MaxPages int
	// WorkerInterval is how often the worker polls for pending jobs.
	WorkerInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		APIPageSize:    50,
		MaxPages:       50,
		WorkerInterval: 10 * time.Second,
	}
}

// Deps are the collaborators of an Importer. Catalog, Jobs and NewScraper are
// required; the rest may be nil.
type Deps struct {
	Catalog    CatalogStore
	Jobs       JobStore
	API        ListingSource
	NewScraper ScraperFactory
	Images     ImageDownloader
	Publisher  EventPublisher
	Stops      StopSignal
}

type Importer struct {
	cfg        Config
	catalog    CatalogStore
	jobs       JobStore
	api        ListingSource
	newScraper ScraperFactory
	images     ImageDownloader
	publisher  EventPublisher
	stops      StopSignal
	logger     *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Importer {
	defaults := DefaultConfig()
	if cfg.APIPageSize <= 0 {
		cfg.APIPageSize = defaults.APIPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.WorkerInterval <= 0 {
		cfg.WorkerInterval = defaults.WorkerInterval
	}
	if deps.Stops == nil {
		deps.Stops = NewMemoryStopSignal()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{
		cfg:        cfg,
		catalog:    deps.Catalog,
		jobs:       deps.Jobs,
		api:        deps.API,
		newScraper: deps.NewScraper,
		images:     deps.Images,
		publisher:  deps.Publisher,
		stops:      deps.Stops,
		logger:     logger.With("component", "importer"),
	}
}

// Result summarizes one ExecuteImport run. Errors holds the same entries that
// were appended to the job record during the run.
type Result struct {
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
	Errors    []models.JobError `json:"errors"`
	Conflicts int               `json:"conflicts"`
	Stopped   bool              `json:"stopped"`
	Source    string            `json:"source"`
}

// StartImportJob records a PENDING job carrying opts.
func (imp *Importer) StartImportJob(ctx context.Context, opts models.JobOptions) (string, error) {
	job := &models.ImportJob{
		ID:       uuid.New().String(),
		Type:     models.JobTypeProducts,
		Status:   models.JobStatusPending,
		Errors:   []models.JobError{},
		Metadata: models.JobMetadata{Options: opts},
	}
	if err := imp.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	imp.logger.Info("job created", "job", job.ID, "use_api", opts.UseAPI, "category", opts.CategoryFilter, "max", opts.MaxProducts)
	return job.ID, nil
}

// StopImport asks a running job to stop after the product it is working on.
func (imp *Importer) StopImport(ctx context.Context, jobID string) error {
	job, err := imp.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, models.ErrJobTerminal)
	}
	if err := imp.stops.Stop(ctx, jobID); err != nil {
		return err
	}

	imp.logger.Info("stop requested", "job", jobID)
	return nil
}

func (imp *Importer) GetJob(ctx context.Context, jobID string) (*models.ImportJob, error) {
	return imp.jobs.GetJob(ctx, jobID)
}

func (imp *Importer) ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	return imp.jobs.ListJobs(ctx, limit)
}

// Stats combines job counts with catalog counts.
type Stats struct {
	models.JobStats
	Catalog models.CatalogStats `json:"catalog"`
}

func (imp *Importer) Stats(ctx context.Context) (Stats, error) {
	jobStats, err := imp.jobs.JobStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get job stats: %w", err)
	}
	catalogStats, err := imp.catalog.CatalogStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get catalog stats: %w", err)
	}
	return Stats{JobStats: jobStats, Catalog: catalogStats}, nil
}

// ExecuteImport runs job jobID to completion. The job ends COMPLETED unless an
// error escapes the product loop, in which case it ends FAILED with that error
// appended and the error is returned. Errors for single products are recorded
// on the job and never abort the run.
func (imp *Importer) ExecuteImport(ctx context.Context, jobID string, opts models.JobOptions) (*Result, error) {
	if err := imp.jobs.MarkJobRunning(ctx, jobID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	r := &run{
		imp:      imp,
		jobID:    jobID,
		opts:     opts,
		logger:   imp.logger.With("job", jobID),
		result:   &Result{Errors: []models.JobError{}},
		progress: models.JobProgress{Errors: []models.JobError{}},
	}
	r.logger.Info("import started", "use_api", opts.UseAPI, "category", opts.CategoryFilter, "max", opts.MaxProducts)

	runErr := r.execute(ctx)
	r.release()

	// Finishing must happen even when ctx was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := imp.stops.Clear(finishCtx, jobID); err != nil {
			r.logger.Warn("failed to clear stop signal", "error", err)
		}
	}()

	metadata := models.JobMetadata{
		Options:   opts,
		Source:    r.result.Source,
		Stopped:   r.result.Stopped,
		Conflicts: r.result.Conflicts,
	}

	status := models.JobStatusCompleted
	if runErr != nil {
		status = models.JobStatusFailed
		jobErr := models.JobError{
			Message:   runErr.Error(),
			Timestamp: time.Now(),
		}
		r.progress.Errors = append(r.progress.Errors, jobErr)
		r.result.Errors = append(r.result.Errors, jobErr)
	}

	if err := imp.jobs.FinishJob(finishCtx, jobID, status, r.progress, metadata, time.Now()); err != nil {
		r.logger.Error("failed to finish job", "status", status, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("failed to finish job: %w", err)
		}
	}

	if runErr != nil {
		r.logger.Error("import failed", "error", runErr, "processed", r.progress.Processed)
		return r.result, runErr
	}

	r.logger.Info("import completed",
		"source", r.result.Source,
		"created", r.result.Created,
		"updated", r.result.Updated,
		"errors", len(r.result.Errors),
		"stopped", r.result.Stopped)
	return r.result, nil
}

// run is the state of one ExecuteImport call.
type run struct {
	imp      *Importer
	jobID    string
	opts     models.JobOptions
	logger   *slog.Logger
	scraper  CatalogScraper
	result   *Result
	progress models.JobProgress
}

func (r *run) execute(ctx context.Context) error {
	if r.opts.UseAPI && r.imp.api != nil {
		r.result.Source = SourceAPI
		err := r.importFromAPI(ctx)
		if err == nil {
			return nil
		}
		if !fallsBackToScraper(err) {
			return fmt.Errorf("api listing failed: %w", err)
		}
		// Rescraping after a partial API run would count those products twice.
		if r.progress.Processed > 0 {
			return fmt.Errorf("api listing failed after %d products: %w", r.progress.Processed, err)
		}
		r.logger.Warn("api unavailable, falling back to scraper", "kind", apiclient.KindOf(err).String(), "error", err)
	}

	r.result.Source = SourceScraper
	return r.importFromScraper(ctx)
}

// fallsBackToScraper reports whether an API failure should be retried through
// the browser. Only a missing endpoint, a network failure or rejected
// credentials qualify.
func fallsBackToScraper(err error) bool {
	switch apiclient.KindOf(err) {
	case apiclient.KindNotImplemented, apiclient.KindNetwork, apiclient.KindAuth:
		return true
	}
	return false
}

func (r *run) importFromAPI(ctx context.Context) error {
	pageSize := r.imp.cfg.APIPageSize
	for page := 1; page <= r.maxPages(); page++ {
		products, err := r.imp.api.ListProducts(ctx, page, pageSize)
		if err != nil {
			return err
		}
		for _, p := range products {
			done, err := r.processCandidate(ctx, p, false)
			if err != nil || done {
				return err
			}
		}
		if len(products) < pageSize {
			return nil
		}
	}
	return nil
}

func (r *run) importFromScraper(ctx context.Context) error {
	if r.imp.newScraper == nil {
		return errors.New("no scraper configured")
	}
	r.scraper = r.imp.newScraper()

	session, err := r.scraper.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	for page := 1; page <= r.maxPages(); page++ {
		listing, err := r.scraper.ScrapeProducts(ctx, session, page, r.opts.CategoryFilter)
		if err != nil {
			return fmt.Errorf("failed to scrape listing page %d: %w", page, err)
		}
		r.logger.Info("listing page scraped", "page", page, "products", len(listing.Products), "has_more", listing.HasMore)

		for _, p := range listing.Products {
			done, err := r.processCandidate(ctx, p, true)
			if err != nil || done {
				return err
			}
		}
		if !listing.HasMore {
			return nil
		}
	}
	return nil
}

func (r *run) maxPages() int {
	if r.opts.MaxPages > 0 {
		return r.opts.MaxPages
	}
	return r.imp.cfg.MaxPages
}

// processCandidate imports one listing record. done is true when the run should
// end without error: a stop request or the product cap.
func (r *run) processCandidate(ctx context.Context, listing *models.ScrapedProduct, scrapeDetail bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	stopped, err := r.imp.stops.IsStopped(ctx, r.jobID)
	if err != nil {
		r.logger.Warn("failed to read stop signal", "error", err)
	}
	if stopped {
		r.logger.Info("stop requested, ending import", "processed", r.progress.Processed)
		r.result.Stopped = true
		return true, nil
	}

	record := listing
	if scrapeDetail && listing.SourceURL != "" {
		detail, err := r.scraper.ScrapeProductDetail(ctx, listing.SourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			r.recordError(listing, fmt.Errorf("failed to scrape detail: %w", err))
			return r.advance(ctx)
		}
		record = mergeDetail(listing, detail)
	}

	outcome, err := r.imp.ImportProduct(ctx, record, r.jobID, r.opts)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		r.recordError(record, err)
		return r.advance(ctx)
	}

	if outcome.Created {
		r.result.Created++
		r.progress.Created++
	}
	if outcome.Updated {
		r.result.Updated++
		r.progress.Updated++
	}
	if outcome.Conflict {
		r.result.Conflicts++
	}
	return r.advance(ctx)
}

// advance counts the product as processed and persists progress.
func (r *run) advance(ctx context.Context) (bool, error) {
	r.progress.Processed++

	err := r.imp.jobs.UpdateJobProgress(ctx, r.jobID, r.progress)
	if errors.Is(err, models.ErrJobTerminal) {
		return true, err
	}
	if err != nil {
		r.logger.Warn("failed to persist progress", "error", err)
	}

	if limit := r.opts.MaxProducts; limit > 0 && r.result.Created+r.result.Updated >= limit {
		r.logger.Info("product cap reached", "max", limit)
		return true, nil
	}
	return false, nil
}

func (r *run) recordError(p *models.ScrapedProduct, err error) {
	jobErr := models.JobError{
		ProductID: p.ID,
		URL:       p.SourceURL,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	r.result.Errors = append(r.result.Errors, jobErr)
	r.progress.Errors = append(r.progress.Errors, jobErr)
	r.logger.Warn("product import failed", "product", p.ID, "url", p.SourceURL, "error", err)
}

func (r *run) release() {
	if r.scraper == nil {
		return
	}
	if err := r.scraper.Close(); err != nil {
		r.logger.Warn("failed to close scraper", "error", err)
	}
}
