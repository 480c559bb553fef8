package portal

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9\- ]+`)
	spaceRuns    = regexp.MustCompile(`[ ]+`)
)

// Slugify normalizes a tenant or portal display name into a detection slug:
// diacritics stripped, lowercased, non-alphanumerics hyphenated. Subdomain
// labels are matched against these slugs during production portal detection.
func Slugify(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("no input string supplied to Slugify")
	}

	normalized := norm.NFD.String(input)

	withoutDiacritics, _, err := transform.String(runes.Remove(runes.In(unicode.Mn)), normalized)
	if err != nil {
		return "", fmt.Errorf("error creating slug: %v", err)
	}

	lowerCase := strings.ToLower(withoutDiacritics)

	hyphenated := nonSlugChars.ReplaceAllString(lowerCase, "-")
	hyphenated = spaceRuns.ReplaceAllString(hyphenated, "-")

	return strings.Trim(hyphenated, "-"), nil
}
