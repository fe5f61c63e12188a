package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/nursery-importer/internal/models"
)

var (
	detailNameSelectors = []string{"[itemtype*=Product] [itemprop=name]", "h1[itemprop=name]", "h1.product-title", ".product-name h1", ".product_title", "h1"}
	botanicalSelectors  = []string{".botanical-name", ".latin-name", ".botanical", "[itemprop=alternateName]"}
	commonSelectors     = []string{".common-name", ".product-common-name"}
	descSelectors       = []string{"[itemprop=description]", ".product-description", "#description", ".description"}
	detailPriceSelector = []string{".product-info .price", ".product-price", ".price"}
	careSelectors       = []string{".care-instructions", "#care", ".care"}
	gallerySelectors    = []string{"[itemprop=image]", ".product-gallery img", ".product-images img", ".gallery img", ".product-image img"}
	idSelectors         = []string{"[data-product-id]"}

	titleSuffix = regexp.MustCompile(`\s*\|[^|]*$`)

	botanicalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)botanical\s+name\s*:\s*([^\n]+)`),
		regexp.MustCompile(`(?i)latin\s+name\s*:\s*([^\n]+)`),
	}
	commonPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)common\s+name\s*:\s*([^\n]+)`),
	}
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$\s*\d[\d,]*(?:\.\d+)?\s*(?:\+\s*)?(?:ex\.?|excl\.?|excluding)\s*gst`),
		regexp.MustCompile(`(?i)\$\s*\d[\d,]*(?:\.\d+)?\s*(?:inc\.?|incl\.?|including)\s*gst`),
	}
	availabilityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(out of stock|sold out|in stock|pre-?order|discontinued)`),
	}
	carePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)care(?:\s+instructions)?\s*:\s*([^\n]+)`),
	}
)

// Detail extracts a product from a detail page. Every field is tried with the
// strategies in order: itemprop, class and id patterns, specification tables, then
// regexes over the body text. It returns nil when the page has no product name,
// which is how category and error pages are told apart from products.
func Detail(doc *goquery.Document, pageURL, title string) *models.ScrapedProduct {
	root := doc.Selection

	name := firstText(root, detailNameSelectors...)
	if name == "" {
		name = productNameFromTitle(title)
	}
	if name == "" {
		return nil
	}

	specs := Specifications(doc)
	bodyText := doc.Find("body").Text()

	p := &models.ScrapedProduct{
		Name:      name,
		SourceURL: pageURL,
		Category:  breadcrumbLabel(doc, name),
	}

	p.ID = firstAttr(root, "data-product-id", idSelectors...)
	if p.ID == "" {
		p.ID = firstAttr(root, "value", "input[name=id_product]", "input[name=product_id]")
	}
	if p.ID == "" {
		p.ID = firstText(root, "[itemprop=sku]", "[itemprop=productID]")
	}
	if p.ID == "" {
		p.ID = idFromURL(pageURL)
	}
	p.SourceID = p.ID

	p.BotanicalName = firstNonEmpty(
		firstText(root, botanicalSelectors...),
		specLookup(specs, "botanical name", "latin name"),
		matchFirst(bodyText, botanicalPatterns),
	)
	p.CommonName = firstNonEmpty(
		firstText(root, commonSelectors...),
		specLookup(specs, "common name"),
		matchFirst(bodyText, commonPatterns),
	)
	p.Description = firstNonEmpty(
		firstText(root, descSelectors...),
		firstAttr(root, "content", "meta[name=description]", "meta[property='og:description']"),
	)
	p.CareInstructions = firstNonEmpty(
		firstText(root, careSelectors...),
		specLookup(specs, "care", "care instructions"),
		matchFirst(bodyText, carePatterns),
	)

	if price, ok := detailPrice(root, bodyText); ok {
		p.Price = models.Float64(price)
	}
	p.Availability = detailAvailability(root, specs, bodyText)
	p.Variants = detailVariants(root)

	p.Images = detailImages(root, pageURL)
	if len(p.Images) > 0 {
		p.ImageURL = p.Images[0]
	}

	for _, key := range []string{"botanical name", "latin name", "common name", "care", "care instructions"} {
		deleteSpec(specs, key)
	}
	if len(specs) > 0 {
		p.Specifications = specs
	}

	return p
}

// Specifications collects key/value pairs from specification tables, definition
// lists, and labelled spec rows. Keys keep their display casing without a trailing
// colon; list items inside a value cell become separate values.
func Specifications(doc *goquery.Document) map[string]models.SpecValue {
	specs := make(map[string]models.SpecValue)
	add := func(key string, value *goquery.Selection) {
		key = strings.TrimSuffix(cleanText(key), ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, exists := specs[key]; exists {
			return
		}

		var values models.SpecValue
		value.Find("li").Each(func(_ int, li *goquery.Selection) {
			if v := cleanText(li.Text()); v != "" {
				values = append(values, v)
			}
		})
		if len(values) == 0 {
			if v := cleanText(value.Text()); v != "" {
				values = models.SpecValue{v}
			}
		}
		if len(values) > 0 {
			specs[key] = values
		}
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() == 2 {
			add(cells.First().Text(), cells.Last())
		}
	})
	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			add(dt.Text(), dt.NextFiltered("dd"))
		})
	})
	doc.Find(".spec-item, .product-attribute").Each(func(_ int, s *goquery.Selection) {
		add(s.Find(".spec-label, .label").First().Text(), s.Find(".spec-value, .value").First())
	})

	return specs
}

func detailPrice(root *goquery.Selection, bodyText string) (float64, bool) {
	if content := firstAttr(root, "content", "[itemprop=price]"); content != "" {
		if v, err := strconv.ParseFloat(content, 64); err == nil && v >= 0 {
			return v, true
		}
	}
	if text := firstText(root, "[itemprop=price]"); text != "" {
		if v, ok := ParsePrice(text); ok {
			return v, true
		}
	}
	if text := firstText(root, detailPriceSelector...); text != "" {
		if v, ok := ParsePrice(text); ok {
			return v, true
		}
	}
	for _, pattern := range pricePatterns {
		if m := pattern.FindString(bodyText); m != "" {
			return ParsePrice(m)
		}
	}
	return 0, false
}

func detailAvailability(root *goquery.Selection, specs map[string]models.SpecValue, bodyText string) models.Availability {
	if v := firstAttr(root, "href", "[itemprop=availability]"); v != "" {
		if a := ParseAvailability(v); a != "" {
			return a
		}
	}
	if v := firstAttr(root, "content", "[itemprop=availability]"); v != "" {
		if a := ParseAvailability(v); a != "" {
			return a
		}
	}
	if a := ParseAvailability(firstText(root, stockSelectors...)); a != "" {
		return a
	}
	if a := ParseAvailability(specLookup(specs, "availability", "stock")); a != "" {
		return a
	}
	return ParseAvailability(matchFirst(bodyText, availabilityPatterns))
}

func detailVariants(root *goquery.Selection) []models.Variant {
	var variants []models.Variant

	root.Find("[data-combination-id]").Each(func(_ int, s *goquery.Selection) {
		v := models.Variant{
			CombinationID: strings.TrimSpace(s.AttrOr("data-combination-id", "")),
			Label:         strings.TrimSpace(s.AttrOr("data-size", "")),
			Availability:  ParseAvailability(firstText(s, stockSelectors...)),
		}
		if v.Label == "" {
			v.Label = firstText(s, sizeSelectors...)
		}
		if v.Label == "" {
			v.Label = cleanText(s.Text())
		}
		if price, ok := ParsePrice(firstNonEmpty(s.AttrOr("data-price", ""), firstText(s, priceSelectors...))); ok {
			v.Price = models.Float64(price)
		}
		if stock, err := strconv.Atoi(strings.TrimSpace(s.AttrOr("data-stock", ""))); err == nil {
			v.Stock = models.Int(stock)
		}
		variants = append(variants, v)
	})
	if len(variants) > 0 {
		return variants
	}

	root.Find("select[name*=size] option, select[name*=group] option").Each(func(_ int, s *goquery.Selection) {
		value := strings.TrimSpace(s.AttrOr("value", ""))
		label := cleanText(s.Text())
		if value == "" || label == "" {
			return
		}
		v := models.Variant{CombinationID: value, Label: label}
		if _, disabled := s.Attr("disabled"); disabled {
			v.Availability = models.AvailabilityOutOfStock
		}
		variants = append(variants, v)
	})
	return variants
}

func detailImages(root *goquery.Selection, pageURL string) []string {
	var images []string
	seen := make(map[string]bool)
	add := func(src string) {
		src = resolveURL(pageURL, src)
		if src == "" || seen[src] {
			return
		}
		seen[src] = true
		images = append(images, src)
	}

	for _, sel := range gallerySelectors {
		root.Find(sel).Each(func(_ int, s *goquery.Selection) {
			add(imageSrc(s))
		})
	}
	if len(images) == 0 {
		add(firstAttr(root, "content", "meta[property='og:image']"))
	}
	return images
}

func productNameFromTitle(title string) string {
	title = cleanText(title)
	if title == "" {
		return ""
	}
	name := strings.TrimSpace(titleSuffix.ReplaceAllString(title, ""))
	if name == "" {
		name = title
	}
	switch strings.ToLower(name) {
	case "page not found", "404", "error", "login", "sign in":
		return ""
	}
	return name
}

func specLookup(specs map[string]models.SpecValue, keys ...string) string {
	for _, want := range keys {
		for k, v := range specs {
			if strings.EqualFold(k, want) {
				return v.String()
			}
		}
	}
	return ""
}

func deleteSpec(specs map[string]models.SpecValue, key string) {
	for k := range specs {
		if strings.EqualFold(k, key) {
			delete(specs, k)
		}
	}
}

func matchFirst(text string, patterns []*regexp.Regexp) string {
	for _, pattern := range patterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
