package scraper

import (
	"context"
	"fmt"

	"github.com/maltedev/nursery-importer/internal/browser"
	"github.com/maltedev/nursery-importer/internal/extract"
	"github.com/maltedev/nursery-importer/internal/models"
)

type ListingPage struct {
	Products []*models.ScrapedProduct
	HasMore  bool
}

// ScrapeProducts loads one listing page and returns its products. HasMore comes
// from the total result count when the site shows one, otherwise from an enabled
// "next" control.
func (s *Scraper) ScrapeProducts(ctx context.Context, session *Session, page int, categoryFilter string) (*ListingPage, error) {
	if session == nil {
		return nil, ErrNotInitialized
	}
	if page < 1 {
		page = 1
	}

	pageURL := s.cfg.listingURL(page, categoryFilter)
	s.logger.Info("scraping listing", "page", page, "category", categoryFilter, "url", pageURL)

	snap, err := s.load(ctx, pageURL, browser.LoadOptions{
		Settle:       s.cfg.SettleDelay,
		ScrollPasses: s.cfg.ScrollPasses,
	})
	if err != nil {
		return nil, err
	}
	session.PagesVisited++

	doc, err := extract.Parse(snap.HTML)
	if err != nil {
		return nil, fmt.Errorf("listing page %d: %w", page, err)
	}

	result := &ListingPage{Products: extract.ListingProducts(doc, pageURL)}

	if session.TotalResults == 0 {
		if total, ok := extract.TotalResults(doc); ok {
			session.TotalResults = total
		}
	}

	switch {
	case len(result.Products) == 0:
		result.HasMore = false
	case session.TotalResults > 0:
		result.HasMore = page*s.cfg.PageSize < session.TotalResults
	default:
		result.HasMore = extract.HasNextControl(doc)
	}

	s.logger.Info("listing scraped",
		"page", page,
		"products", len(result.Products),
		"total", session.TotalResults,
		"hasMore", result.HasMore)

	return result, nil
}
