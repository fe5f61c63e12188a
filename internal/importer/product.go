package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/maltedev/nursery-importer/internal/validation"
)

// Outcome reports what ImportProduct did with one record.
type Outcome struct {
	Created bool
	Updated bool
	// Conflict is set when the candidate keys matched more than one row or the
	// source id matched a row stored under another source URL.
	Conflict  bool
	ProductID string
}

// ImportProduct validates, normalizes and upserts one scraped record. A
// validation failure is returned as a *validation.Error and nothing is written.
func (imp *Importer) ImportProduct(ctx context.Context, scraped *models.ScrapedProduct, jobID string, opts models.JobOptions) (Outcome, error) {
	normalized := validation.Normalize(scraped)
	if err := validation.Validate(normalized).Err(); err != nil {
		return Outcome{}, err
	}
	if normalized.Slug == "" {
		return Outcome{}, &validation.Error{Problems: []string{"name does not produce a slug"}}
	}
	if normalized.SourceID == "" {
		normalized.SourceID = normalized.ID
	}

	categoryID, err := imp.findOrCreateCategory(ctx, normalized.Category)
	if err != nil {
		return Outcome{}, err
	}

	imageURL, images := normalized.ImageURL, normalized.Images
	if opts.DownloadImages && imp.images != nil {
		imageURL, images = imp.localizeImages(ctx, normalized)
	}

	match, err := resolveMatch(ctx, imp.catalog, normalized.SourceID, normalized.SourceURL, normalized.Slug)
	if err != nil {
		return Outcome{}, err
	}
	if match.conflict() {
		imp.logger.Warn("reconciliation conflict",
			"job", jobID,
			"source_id", normalized.SourceID,
			"source_url", normalized.SourceURL,
			"slug", normalized.Slug,
			"chosen", match.product.ID,
			"matched_by", match.matchedBy,
			"others", match.others)
	}

	product := buildProduct(normalized, categoryID, imageURL, images, jobID)
	outcome := Outcome{Conflict: match.conflict()}

	if match.product == nil {
		product.ID = uuid.New().String()
		err = imp.catalog.CreateProduct(ctx, product)
		if errors.Is(err, models.ErrConflict) {
			// Another writer inserted the same slug between lookup and insert.
			existing, findErr := imp.catalog.FindProductBySlug(ctx, product.Slug)
			if findErr != nil || existing == nil {
				return Outcome{}, fmt.Errorf("failed to create product: %w", err)
			}
			match.product = existing
		} else if err != nil {
			return Outcome{}, fmt.Errorf("failed to create product: %w", err)
		} else {
			outcome.Created = true
		}
	}

	if match.product != nil {
		product.ID = match.product.ID
		product.CreatedAt = match.product.CreatedAt
		if match.slugOwner != nil && match.slugOwner.ID != match.product.ID {
			// The slug belongs to a different row; keep ours to stay unique.
			product.Slug = match.product.Slug
		}
		if err := imp.catalog.UpdateProduct(ctx, product); err != nil {
			return Outcome{}, fmt.Errorf("failed to update product: %w", err)
		}
		outcome.Updated = true
	}
	outcome.ProductID = product.ID

	if imp.publisher != nil {
		if err := imp.publisher.PublishProductImported(ctx, product, jobID, outcome.Created); err != nil {
			imp.logger.Warn("failed to publish product event", "job", jobID, "product", product.ID, "error", err)
		}
	}

	return outcome, nil
}

// matchResult is the outcome of reconciling a record against existing rows.
type matchResult struct {
	product   *models.Product
	matchedBy string
	// others lists rows matched by lower-precedence keys that differ from product.
	others    []string
	slugOwner *models.Product
}

func (m matchResult) conflict() bool {
	return len(m.others) > 0
}

func (m matchResult) hasOther(key string) bool {
	for _, o := range m.others {
		if strings.HasPrefix(o, key+"=") {
			return true
		}
	}
	return false
}

// resolveMatch looks a record up by source id, then source URL, then slug. The
// first key that matches decides the row; matches on other keys that point at
// different rows are reported as conflicts, as is an id match on a row stored
// under a different source URL.
func resolveMatch(ctx context.Context, store CatalogStore, sourceID, sourceURL, slug string) (matchResult, error) {
	var res matchResult

	type candidate struct {
		key     string
		product *models.Product
	}
	var candidates []candidate

	if sourceID != "" {
		p, err := store.FindProductBySourceID(ctx, sourceID)
		if err != nil {
			return res, fmt.Errorf("lookup by source id: %w", err)
		}
		candidates = append(candidates, candidate{"source_id", p})
	}
	if sourceURL != "" {
		p, err := store.FindProductBySourceURL(ctx, sourceURL)
		if err != nil {
			return res, fmt.Errorf("lookup by source url: %w", err)
		}
		candidates = append(candidates, candidate{"source_url", p})
	}
	if slug != "" {
		p, err := store.FindProductBySlug(ctx, slug)
		if err != nil {
			return res, fmt.Errorf("lookup by slug: %w", err)
		}
		candidates = append(candidates, candidate{"slug", p})
		res.slugOwner = p
	}

	for _, c := range candidates {
		if c.product == nil {
			continue
		}
		if res.product == nil {
			res.product = c.product
			res.matchedBy = c.key
			continue
		}
		if c.product.ID != res.product.ID {
			res.others = append(res.others, c.key+"="+c.product.ID)
		}
	}

	// Source ids repeat across unrelated listings, so an id match whose row
	// lives at another address is reported as well.
	if res.matchedBy == "source_id" && sourceURL != "" &&
		res.product.SourceURL != "" && res.product.SourceURL != sourceURL && !res.hasOther("source_url") {
		res.others = append(res.others, "stored_source_url="+res.product.SourceURL)
	}
	return res, nil
}

func (imp *Importer) findOrCreateCategory(ctx context.Context, label string) (*string, error) {
	slug := validation.GenerateSlug(label)
	if slug == "" {
		return nil, nil
	}

	existing, err := imp.catalog.FindCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	if existing != nil {
		return &existing.ID, nil
	}

	category := &models.Category{ID: uuid.New().String(), Name: strings.TrimSpace(label), Slug: slug}
	err = imp.catalog.CreateCategory(ctx, category)
	if errors.Is(err, models.ErrConflict) {
		existing, err = imp.catalog.FindCategoryBySlug(ctx, slug)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("failed to re-read category %q: %w", slug, err)
		}
		return &existing.ID, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	imp.logger.Info("category created", "slug", slug, "name", category.Name)
	return &category.ID, nil
}

// localizeImages downloads every remote image. Images that fail keep their
// remote URL so a later backfill can retry them.
func (imp *Importer) localizeImages(ctx context.Context, p *models.ScrapedProduct) (string, []string) {
	var remote []string
	seen := map[string]bool{}
	for _, u := range append([]string{p.ImageURL}, p.Images...) {
		if isRemote(u) && !seen[u] {
			seen[u] = true
			remote = append(remote, u)
		}
	}
	if len(remote) == 0 {
		return p.ImageURL, p.Images
	}

	batch := imp.images.DownloadImages(ctx, remote, p.Slug)
	replaced := make(map[string]string, len(batch.Downloaded))
	for _, res := range batch.Downloaded {
		if res.PublicURL != "" {
			replaced[res.SourceURL] = res.PublicURL
		}
	}
	for _, f := range batch.Failed {
		imp.logger.Warn("image download failed", "product", p.ID, "url", f.URL, "error", f.Error)
	}

	swap := func(u string) string {
		if r, ok := replaced[u]; ok {
			return r
		}
		return u
	}
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		images[i] = swap(img)
	}
	return swap(p.ImageURL), images
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// buildProduct maps a normalized record onto the catalog row, applying the
// price and availability defaults.
func buildProduct(p *models.ScrapedProduct, categoryID *string, imageURL string, images []string, jobID string) *models.Product {
	product := &models.Product{
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		Price:         defaultPrice(p),
		Availability:  defaultAvailability(p),
		CategoryID:    categoryID,
		SourceID:      p.SourceID,
		SourceURL:     p.SourceURL,
		BotanicalName: p.BotanicalName,
		CommonName:    p.CommonName,
		ImageURL:      imageURL,
		Images:        images,
		Metadata:      map[string]any{},
	}
	if product.ImageURL == "" && len(images) > 0 {
		product.ImageURL = images[0]
	}

	if len(p.Variants) > 0 {
		product.Metadata["variants"] = p.Variants
	}
	if len(p.Specifications) > 0 {
		product.Metadata["specifications"] = p.Specifications
	}
	if p.CareInstructions != "" {
		product.Metadata["careInstructions"] = p.CareInstructions
	}
	if p.Category != "" {
		product.Metadata["sourceCategory"] = p.Category
	}
	if jobID != "" {
		product.Metadata["importJobId"] = jobID
	}
	return product
}

// defaultPrice is the record's price, else the lowest variant price, else 0.
func defaultPrice(p *models.ScrapedProduct) float64 {
	if p.Price != nil {
		return *p.Price
	}
	var lowest *float64
	for _, v := range p.Variants {
		if v.Price != nil && (lowest == nil || *v.Price < *lowest) {
			lowest = v.Price
		}
	}
	if lowest != nil {
		return *lowest
	}
	return 0
}

// defaultAvailability is the record's availability when set. Otherwise the
// product is IN_STOCK when any variant is, and also when nothing is known. Only
// variants that all report a non-stock state pass the first one's state through.
func defaultAvailability(p *models.ScrapedProduct) models.Availability {
	if p.Availability != "" {
		return p.Availability
	}
	if len(p.Variants) == 0 {
		return models.AvailabilityInStock
	}
	for _, v := range p.Variants {
		if v.Availability == models.AvailabilityInStock || v.Availability == "" {
			return models.AvailabilityInStock
		}
	}
	return p.Variants[0].Availability
}
