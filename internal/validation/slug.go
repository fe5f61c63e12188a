package validation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugChars  = regexp.MustCompile(`[^\w\s-]`)
	slugSeparator = regexp.MustCompile(`[\s_-]+`)
)

// GenerateSlug derives a URL slug from s. Accented letters are folded to their
// ASCII base before anything outside [a-z0-9_ -] is dropped, so the result only
// contains [a-z0-9-] and never starts or ends with a hyphen.
func GenerateSlug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	slug := strings.ToLower(folded)
	slug = nonSlugChars.ReplaceAllString(slug, "")
	slug = slugSeparator.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
