package catalog

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	slugInvalid   = regexp.MustCompile(`[^a-z0-9\s_-]+`)
	slugSeparator = regexp.MustCompile(`[\s_-]+`)
	slugPattern   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// GenerateSlug derives a URL slug from name: lowercase, drop characters outside
// [a-z0-9], whitespace, underscore and hyphen, collapse separator runs into one hyphen
// and trim hyphens at both ends. The result is deterministic for a given name and may be
// empty when name has no usable characters.
func GenerateSlug(name string) string {
	s := cases.Lower(language.Und).String(name)
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugSeparator.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidSlug reports whether s is already in canonical slug form.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}
