package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/maltedev/nursery-importer/internal/queue"
)

// ImageStore is the persistence the backfill pass needs.
type ImageStore interface {
	ProductsWithRemoteImages(ctx context.Context, limit int) ([]*models.Product, error)
	UpdateProductImages(ctx context.Context, productID, imageURL string, images []string) error
}

type BackfillStats struct {
	Products         int
	Updated          int
	ImagesDownloaded int
	ImagesFailed     int
}

// Backfill localizes images of products that were imported without downloading
// them. Products whose main image is still remote go first.
type Backfill struct {
	store      ImageStore
	downloader *Downloader
	uploader   Uploader
	// migrated lists URL prefixes that already point at our own storage.
	migrated []string
	logger   *slog.Logger
}

func NewBackfill(store ImageStore, downloader *Downloader, uploader Uploader, migratedPrefixes []string, logger *slog.Logger) *Backfill {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfill{
		store:      store,
		downloader: downloader,
		uploader:   uploader,
		migrated:   migratedPrefixes,
		logger:     logger.With("component", "backfill"),
	}
}

func (b *Backfill) Run(ctx context.Context, limit int) (BackfillStats, error) {
	var stats BackfillStats

	products, err := b.store.ProductsWithRemoteImages(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("failed to list products: %w", err)
	}

	q := queue.NewInMemoryQueue()
	byID := make(map[string]*models.Product, len(products))
	for _, p := range products {
		urls := b.remoteURLs(p)
		if len(urls) == 0 {
			continue
		}
		priority := 0
		if b.isRemote(p.ImageURL) {
			priority = 1
		}
		byID[p.ID] = p
		if err := q.Push(&queue.Task{ID: p.ID, ProductID: p.ID, URLs: urls, Hint: p.Slug, Priority: priority}); err != nil {
			return stats, err
		}
	}
	q.Close()

	b.logger.Info("backfill queued", "products", q.Size())

	for {
		task, err := q.Pop(ctx)
		if errors.Is(err, queue.ErrQueueClosed) {
			break
		}
		if err != nil {
			return stats, err
		}

		stats.Products++
		updated, downloaded, failed, err := b.process(ctx, byID[task.ProductID], task)
		stats.ImagesDownloaded += downloaded
		stats.ImagesFailed += failed
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			b.logger.Error("failed to update product images", "product", task.ProductID, "error", err)
			continue
		}
		if updated {
			stats.Updated++
		}
	}

	b.logger.Info("backfill finished",
		"products", stats.Products,
		"updated", stats.Updated,
		"downloaded", stats.ImagesDownloaded,
		"failed", stats.ImagesFailed)

	return stats, nil
}

func (b *Backfill) process(ctx context.Context, p *models.Product, task *queue.Task) (bool, int, int, error) {
	replacements := make(map[string]string, len(task.URLs))
	downloaded, failed := 0, 0

	for _, u := range task.URLs {
		res := b.downloader.DownloadImage(ctx, u, task.Hint)
		if !res.Success {
			failed++
			continue
		}
		downloaded++

		target := res.PublicURL
		if b.uploader != nil {
			key := BlobKey(EntityProduct, filepath.Base(res.LocalPath))
			uploaded, err := b.uploader.Upload(ctx, key, res.LocalPath)
			if err != nil {
				b.logger.Warn("blob upload failed, keeping local copy", "product", p.ID, "key", key, "error", err)
			} else {
				target = uploaded
			}
		}
		if target != "" {
			replacements[u] = target
		}
	}

	if len(replacements) == 0 {
		return false, downloaded, failed, nil
	}

	imageURL := replace(p.ImageURL, replacements)
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		images[i] = replace(img, replacements)
	}

	if err := b.store.UpdateProductImages(ctx, p.ID, imageURL, images); err != nil {
		return false, downloaded, failed, err
	}
	return true, downloaded, failed, nil
}

func (b *Backfill) remoteURLs(p *models.Product) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range append([]string{p.ImageURL}, p.Images...) {
		if b.isRemote(u) && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

func (b *Backfill) isRemote(u string) bool {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return false
	}
	for _, prefix := range b.migrated {
		if prefix != "" && strings.HasPrefix(u, prefix) {
			return false
		}
	}
	return true
}

func replace(u string, replacements map[string]string) string {
	if r, ok := replacements[u]; ok {
		return r
	}
	return u
}
