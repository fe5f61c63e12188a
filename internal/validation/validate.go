package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/maltedev/nursery-importer/internal/models"
)

// Error is returned for a scraped record that failed validation. It carries every
// violation found so the job's error log shows the full picture.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid product: " + strings.Join(e.Problems, "; ")
}

// Result is the outcome of Validate.
type Result struct {
	Valid   bool
	Product *models.ScrapedProduct
	Errors  []string
}

// Err returns the validation failure as an error, or nil when the record is valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Error{Problems: r.Errors}
}

// Validate checks a scraped record against the import schema. Any violation rejects
// the whole record; nothing is repaired here.
func Validate(p *models.ScrapedProduct) Result {
	if p == nil {
		return Result{Errors: []string{"product is nil"}}
	}

	var problems []string

	if strings.TrimSpace(p.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !isAbsoluteHTTPURL(p.SourceURL) {
		problems = append(problems, fmt.Sprintf("sourceUrl %q is not a valid http(s) URL", p.SourceURL))
	}
	if p.Availability != "" && !p.Availability.Valid() {
		problems = append(problems, fmt.Sprintf("availability %q is not supported", p.Availability))
	}
	if p.Price != nil && *p.Price < 0 {
		problems = append(problems, "price must not be negative")
	}
	if p.ImageURL != "" && !isImageRef(p.ImageURL) {
		problems = append(problems, fmt.Sprintf("imageUrl %q is not a URL", p.ImageURL))
	}
	for i, img := range p.Images {
		if !isImageRef(img) {
			problems = append(problems, fmt.Sprintf("images[%d] %q is not a URL", i, img))
		}
	}
	for i, v := range p.Variants {
		if v.Availability != "" && !v.Availability.Valid() {
			problems = append(problems, fmt.Sprintf("variants[%d].availability %q is not supported", i, v.Availability))
		}
		if v.Price != nil && *v.Price < 0 {
			problems = append(problems, fmt.Sprintf("variants[%d].price must not be negative", i))
		}
	}

	if len(problems) > 0 {
		return Result{Errors: problems}
	}
	return Result{Valid: true, Product: p}
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isImageRef accepts absolute http(s) URLs and site-relative paths, the two shapes
// images take after scraping or after local download.
func isImageRef(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return true
	}
	return isAbsoluteHTTPURL(raw)
}
