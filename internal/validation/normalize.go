package validation

import (
	"sort"
	"strings"

	"github.com/maltedev/nursery-importer/internal/models"
)

// Normalize returns a cleaned copy of p. It never mutates its input and applying it
// to its own output yields an equal value.
func Normalize(p *models.ScrapedProduct) *models.ScrapedProduct {
	if p == nil {
		return nil
	}

	out := *p
	out.ID = strings.TrimSpace(p.ID)
	out.Name = strings.TrimSpace(p.Name)
	out.Slug = strings.TrimSpace(p.Slug)
	out.Description = strings.TrimSpace(p.Description)
	out.BotanicalName = strings.TrimSpace(p.BotanicalName)
	out.CommonName = strings.TrimSpace(p.CommonName)
	out.Category = strings.TrimSpace(p.Category)
	out.ImageURL = strings.TrimSpace(p.ImageURL)
	out.SourceURL = strings.TrimSpace(p.SourceURL)
	out.SourceID = strings.TrimSpace(p.SourceID)
	out.CareInstructions = strings.TrimSpace(p.CareInstructions)
	out.Availability = models.Availability(strings.TrimSpace(string(p.Availability)))

	if out.Slug == "" && out.Name != "" {
		out.Slug = GenerateSlug(out.Name)
	}

	if p.Price != nil {
		price := *p.Price
		out.Price = &price
	}

	out.Images = normalizeImages(p.Images)
	out.Variants = normalizeVariants(p.Variants)
	out.Specifications = normalizeSpecs(p.Specifications)

	return &out
}

func normalizeImages(images []string) []string {
	if len(images) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(images))
	out := make([]string, 0, len(images))
	for _, img := range images {
		img = strings.TrimSpace(img)
		if img == "" {
			continue
		}
		if _, ok := seen[img]; ok {
			continue
		}
		seen[img] = struct{}{}
		out = append(out, img)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeVariants(variants []models.Variant) []models.Variant {
	if len(variants) == 0 {
		return nil
	}

	out := make([]models.Variant, len(variants))
	for i, v := range variants {
		nv := models.Variant{
			CombinationID: strings.TrimSpace(v.CombinationID),
			Label:         strings.TrimSpace(v.Label),
			Availability:  models.Availability(strings.TrimSpace(string(v.Availability))),
		}
		if v.Price != nil {
			nv.Price = models.Float64(*v.Price)
		}
		if v.Stock != nil {
			nv.Stock = models.Int(*v.Stock)
		}
		out[i] = nv
	}
	return out
}

func normalizeSpecs(specs map[string]models.SpecValue) map[string]models.SpecValue {
	if len(specs) == 0 {
		return nil
	}

	out := make(map[string]models.SpecValue, len(specs))
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	// Two raw keys can trim to the same key; process in order so the merge is stable.
	sort.Strings(keys)

	for _, k := range keys {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		var values models.SpecValue
		for _, v := range specs[k] {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		out[key] = append(out[key], values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
