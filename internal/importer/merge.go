package importer

import "github.com/maltedev/nursery-importer/internal/models"

// mergeDetail overlays a detail-page record on its listing record. Non-empty
// detail fields win. Listing variants are kept when the detail page showed none,
// and images from both are kept in listing-first order.
func mergeDetail(listing, detail *models.ScrapedProduct) *models.ScrapedProduct {
	if detail == nil {
		return listing
	}

	out := *listing
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	pick(&out.ID, detail.ID)
	pick(&out.Name, detail.Name)
	pick(&out.Slug, detail.Slug)
	pick(&out.Description, detail.Description)
	pick(&out.BotanicalName, detail.BotanicalName)
	pick(&out.CommonName, detail.CommonName)
	pick(&out.Category, detail.Category)
	pick(&out.ImageURL, detail.ImageURL)
	pick(&out.SourceURL, detail.SourceURL)
	pick(&out.SourceID, detail.SourceID)
	pick(&out.CareInstructions, detail.CareInstructions)

	if detail.Price != nil {
		out.Price = detail.Price
	}
	if detail.Availability != "" {
		out.Availability = detail.Availability
	}
	if len(detail.Variants) > 0 {
		out.Variants = detail.Variants
	}
	if len(detail.Specifications) > 0 {
		out.Specifications = detail.Specifications
	}

	seen := make(map[string]bool)
	out.Images = nil
	for _, img := range append(append([]string{}, listing.Images...), detail.Images...) {
		if img != "" && !seen[img] {
			seen[img] = true
			out.Images = append(out.Images, img)
		}
	}
	return &out
}
