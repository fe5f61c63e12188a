package scraper

import (
	"context"
	"fmt"

	"github.com/maltedev/nursery-importer/internal/browser"
	"github.com/maltedev/nursery-importer/internal/extract"
	"github.com/maltedev/nursery-importer/internal/models"
)

// ScrapeProductDetail loads a product page and extracts it. It returns nil, nil
// when the page turns out not to be a product.
func (s *Scraper) ScrapeProductDetail(ctx context.Context, productURL string) (*models.ScrapedProduct, error) {
	snap, err := s.load(ctx, productURL, browser.LoadOptions{Settle: s.cfg.SettleDelay})
	if err != nil {
		return nil, err
	}

	doc, err := extract.Parse(snap.HTML)
	if err != nil {
		return nil, fmt.Errorf("detail page %s: %w", productURL, err)
	}

	product := extract.Detail(doc, productURL, snap.Title)
	if product == nil {
		s.logger.Warn("page has no product", "url", productURL, "title", snap.Title)
		return nil, nil
	}

	s.logger.Debug("detail scraped",
		"url", productURL,
		"name", product.Name,
		"variants", len(product.Variants),
		"images", len(product.Images))

	return product, nil
}
