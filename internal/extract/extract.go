// Package extract holds the DOM heuristics used against the wholesaler's pages.
// Every function is pure over a parsed document so each strategy can be tested
// against a saved fixture.
package extract

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/nursery-importer/internal/models"
)

var (
	exGSTPattern    = regexp.MustCompile(`(?i)\$?\s*(\d[\d,]*(?:\.\d+)?)\s*(?:\+\s*)?(?:ex\.?|excl\.?|excluding)\s*gst`)
	incGSTPattern   = regexp.MustCompile(`(?i)\$?\s*(\d[\d,]*(?:\.\d+)?)\s*(?:inc\.?|incl\.?|including)\s*gst`)
	dollarPattern   = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)`)
	numberPattern   = regexp.MustCompile(`^\d[\d,]*(?:\.\d+)?$`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

const gstRate = 1.1

// Parse builds a document from raw HTML.
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// ParsePrice reads an ex-GST price from text. An explicit ex-GST figure wins over
// an inc-GST one; an inc-GST figure is divided by 1.1 and rounded to cents. A bare
// amount is taken as ex-GST only when it is the whole text, as in data-price or
// content attributes, so phone numbers and quantities in prose are ignored.
func ParsePrice(text string) (float64, bool) {
	if m := exGSTPattern.FindStringSubmatch(text); len(m) > 1 {
		return parseAmount(m[1])
	}
	if m := incGSTPattern.FindStringSubmatch(text); len(m) > 1 {
		v, ok := parseAmount(m[1])
		if !ok {
			return 0, false
		}
		return math.Round(v/gstRate*100) / 100, true
	}
	if m := dollarPattern.FindStringSubmatch(text); len(m) > 1 {
		return parseAmount(m[1])
	}
	if t := strings.TrimSpace(text); numberPattern.MatchString(t) {
		return parseAmount(t)
	}
	return 0, false
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// ParseAvailability maps stock wording or schema.org availability values to the
// availability enum. The empty string means nothing recognisable was found.
func ParseAvailability(text string) models.Availability {
	t := strings.ToLower(cleanText(text))
	if t == "" {
		return ""
	}

	switch {
	case strings.Contains(t, "discontinued"), strings.Contains(t, "no longer available"):
		return models.AvailabilityDiscontinued
	case strings.Contains(t, "preorder"), strings.Contains(t, "pre-order"), strings.Contains(t, "pre order"),
		strings.Contains(t, "coming soon"):
		return models.AvailabilityPreOrder
	case strings.Contains(t, "outofstock"), strings.Contains(t, "out of stock"), strings.Contains(t, "sold out"),
		strings.Contains(t, "soldout"), strings.Contains(t, "not in stock"), strings.Contains(t, "not available"),
		strings.Contains(t, "unavailable"):
		return models.AvailabilityOutOfStock
	case strings.Contains(t, "instock"), strings.Contains(t, "in stock"), strings.Contains(t, "available"),
		strings.Contains(t, "limitedavailability"):
		return models.AvailabilityInStock
	}
	return ""
}

// firstText returns the first non-empty text among the selectors, tried in order.
func firstText(root *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		found := ""
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = cleanText(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// firstAttr returns the first non-empty attribute value among the selectors.
func firstAttr(root *goquery.Selection, attr string, selectors ...string) string {
	for _, sel := range selectors {
		found := ""
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.AttrOr(attr, ""))
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// resolveURL makes ref absolute against base. Unresolvable refs are returned as-is.
func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func imageSrc(s *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-zoom-image", "data-large", "src", "content"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}
