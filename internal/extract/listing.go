package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/nursery-importer/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	productNodeSelectors = []string{"[data-product-id]", ".product-item", ".product-card"}
	nameSelectors        = []string{"[itemprop=name]", ".product-name", ".product-title", "h2", "h3", "a[title]"}
	priceSelectors       = []string{"[itemprop=price]", ".product-price", ".price"}
	sizeSelectors        = []string{".variant-label", ".size", ".pot-size", "[data-size]"}
	stockSelectors       = []string{".availability", ".stock-status", ".stock"}

	breadcrumbSelectors = []string{".breadcrumb li", ".breadcrumbs li", "nav[aria-label=breadcrumb] li", ".breadcrumb a", ".breadcrumbs a"}
	genericCrumbs       = map[string]bool{
		"home": true, "plant finder": true, "products": true, "all products": true, "shop": true, "catalogue": true,
	}

	totalResultPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)showing\s+\d+\s*(?:-|–|to)\s*\d+\s+of\s+(\d[\d,]*)`),
		regexp.MustCompile(`(?i)(\d[\d,]*)\s+(?:results|products|plants|items)\s+found`),
		regexp.MustCompile(`(?i)\bof\s+(\d[\d,]*)\s+(?:results|products|plants|items)`),
		regexp.MustCompile(`(?i)(\d[\d,]*)\s+(?:results|products|plants|items)\b`),
	}

	nextSelectors = []string{"a[rel=next]", ".pagination .next", ".pagination-next", "button.next", "[aria-label='Next page']", "[aria-label=Next]"}
)

// ListingProducts extracts one record per product identifier from a listing page.
// Nodes sharing an identifier are size variants of the same product and are merged
// into its Variants, in document order.
func ListingProducts(doc *goquery.Document, pageURL string) []*models.ScrapedProduct {
	var nodes *goquery.Selection
	for _, sel := range productNodeSelectors {
		nodes = doc.Find(sel)
		if nodes.Length() > 0 {
			break
		}
	}

	var products []*models.ScrapedProduct
	byID := make(map[string]*models.ScrapedProduct)

	nodes.Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("data-product-id", s.AttrOr("data-id", "")))
		link := resolveURL(pageURL, firstAttr(s, "href", "a[href*='/product']", "a[href]"))
		if id == "" {
			id = idFromURL(link)
		}
		if id == "" {
			return
		}

		p, ok := byID[id]
		if !ok {
			p = &models.ScrapedProduct{
				ID:        id,
				SourceID:  id,
				Name:      firstText(s, nameSelectors...),
				SourceURL: link,
			}
			if img := imageFrom(s, pageURL); img != "" {
				p.ImageURL = img
				p.Images = []string{img}
			}
			byID[id] = p
			products = append(products, p)
		}
		if p.Name == "" {
			p.Name = firstText(s, nameSelectors...)
		}
		if p.SourceURL == "" {
			p.SourceURL = link
		}

		price, hasPrice := ParsePrice(firstText(s, priceSelectors...))
		availability := ParseAvailability(firstText(s, stockSelectors...))
		if availability == "" {
			availability = availabilityFromClass(s)
		}

		combination := strings.TrimSpace(s.AttrOr("data-combination-id", s.AttrOr("data-variant-id", "")))
		label := strings.TrimSpace(s.AttrOr("data-size", ""))
		if label == "" {
			label = firstText(s, sizeSelectors...)
		}

		if combination == "" && label == "" {
			if hasPrice && p.Price == nil {
				p.Price = models.Float64(price)
			}
			if p.Availability == "" {
				p.Availability = availability
			}
			return
		}

		v := models.Variant{
			CombinationID: combination,
			Label:         label,
			Availability:  availability,
		}
		if hasPrice {
			v.Price = models.Float64(price)
		}
		if stock, err := strconv.Atoi(strings.TrimSpace(s.AttrOr("data-stock", ""))); err == nil {
			v.Stock = models.Int(stock)
		}
		p.Variants = append(p.Variants, v)
	})

	category := CategoryLabel(doc, pageURL)
	for _, p := range products {
		p.Category = category
	}
	return products
}

// CategoryLabel names the category a listing page shows: the last breadcrumb that
// is not a generic crumb, then the page heading, then the last URL path segment.
func CategoryLabel(doc *goquery.Document, pageURL string) string {
	if label := breadcrumbLabel(doc, ""); label != "" {
		return label
	}

	if h1 := firstText(doc.Selection, "h1"); h1 != "" && !genericCrumbs[strings.ToLower(h1)] {
		return h1
	}

	return categoryFromURL(pageURL)
}

// breadcrumbLabel returns the last breadcrumb that is neither generic nor equal
// to exclude. Detail pages end their trail with the product name itself.
func breadcrumbLabel(doc *goquery.Document, exclude string) string {
	for _, sel := range breadcrumbSelectors {
		label := ""
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := cleanText(s.Text())
			if text == "" || genericCrumbs[strings.ToLower(text)] || strings.EqualFold(text, exclude) {
				return
			}
			label = text
		})
		if label != "" {
			return label
		}
	}
	return ""
}

func categoryFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	path := u.Path
	if strings.HasPrefix(u.Fragment, "/") {
		path = u.Fragment
	}
	if i := strings.IndexAny(path, "?"); i >= 0 {
		path = path[:i]
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSpace(segments[i])
		if seg == "" || isNumeric(seg) {
			continue
		}
		label := strings.NewReplacer("-", " ", "_", " ").Replace(seg)
		if genericCrumbs[strings.ToLower(label)] {
			continue
		}
		return cases.Title(language.English).String(label)
	}
	return ""
}

// TotalResults mines the total result count from the page text. The patterns are
// tried in order and the first match wins.
func TotalResults(doc *goquery.Document) (int, bool) {
	text := cleanText(doc.Find("body").Text())
	for _, pattern := range totalResultPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// HasNextControl reports whether the page shows an enabled "next page" control.
func HasNextControl(doc *goquery.Document) bool {
	for _, sel := range nextSelectors {
		enabled := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			enabled = !isDisabled(s) && !isDisabled(s.Parent())
			return !enabled
		})
		if enabled {
			return true
		}
	}
	return false
}

// HasPriceElements reports whether any price is rendered. Wholesale prices only
// show for signed-in trade accounts.
func HasPriceElements(doc *goquery.Document) bool {
	found := false
	doc.Find(strings.Join(priceSelectors, ", ")).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		_, found = ParsePrice(s.Text())
		return !found
	})
	return found
}

func isDisabled(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if s.AttrOr("aria-disabled", "") == "true" {
		return true
	}
	return s.HasClass("disabled")
}

func availabilityFromClass(s *goquery.Selection) models.Availability {
	switch {
	case s.HasClass("out-of-stock"), s.HasClass("sold-out"):
		return models.AvailabilityOutOfStock
	case s.HasClass("pre-order"):
		return models.AvailabilityPreOrder
	case s.HasClass("in-stock"):
		return models.AvailabilityInStock
	}
	return ""
}

func imageFrom(s *goquery.Selection, pageURL string) string {
	img := ""
	s.Find("img").EachWithBreak(func(_ int, i *goquery.Selection) bool {
		img = imageSrc(i)
		return img == ""
	})
	return resolveURL(pageURL, img)
}

var productIDInPath = regexp.MustCompile(`/product/(\d+)`)

func idFromURL(link string) string {
	if m := productIDInPath.FindStringSubmatch(link); len(m) > 1 {
		return m[1]
	}
	return ""
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
