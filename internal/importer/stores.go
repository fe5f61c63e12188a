package importer

import (
	"context"
	"time"

	"github.com/maltedev/nursery-importer/internal/media"
	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/maltedev/nursery-importer/internal/scraper"
)

// CatalogStore persists categories and products. Find methods return nil, nil
// when nothing matches.
type CatalogStore interface {
	FindCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error

	FindProductBySourceID(ctx context.Context, sourceID string) (*models.Product, error)
	FindProductBySourceURL(ctx context.Context, sourceURL string) (*models.Product, error)
	FindProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error

	CatalogStats(ctx context.Context) (models.CatalogStats, error)
}

// JobStore persists import jobs. Every mutation of a COMPLETED or FAILED job
// fails with models.ErrJobTerminal.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ImportJob) error
	GetJob(ctx context.Context, id string) (*models.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error)
	MarkJobRunning(ctx context.Context, id string, startedAt time.Time) error
	UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error
	FinishJob(ctx context.Context, id string, status models.JobStatus, progress models.JobProgress, metadata models.JobMetadata, completedAt time.Time) error
	ClaimNextPendingJob(ctx context.Context) (*models.ImportJob, error)
	JobStats(ctx context.Context) (models.JobStats, error)
}

// ListingSource is the wholesaler's catalog API.
type ListingSource interface {
	ListProducts(ctx context.Context, page, pageSize int) ([]*models.ScrapedProduct, error)
}

// CatalogScraper is the browser-driven source used when the API is not usable.
type CatalogScraper interface {
	Initialize(ctx context.Context) (*scraper.Session, error)
	ScrapeProducts(ctx context.Context, session *scraper.Session, page int, categoryFilter string) (*scraper.ListingPage, error)
	ScrapeProductDetail(ctx context.Context, productURL string) (*models.ScrapedProduct, error)
	Close() error
}

// ScraperFactory creates the scraper owned by one job.
type ScraperFactory func() CatalogScraper

type ImageDownloader interface {
	DownloadImages(ctx context.Context, urls []string, hint string) media.BatchResult
}

type EventPublisher interface {
	PublishProductImported(ctx context.Context, product *models.Product, jobID string, created bool) error
}
