package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var folder = cases.Fold()

// foldIdentifier normalizes an email or username for caseless matching. The
// folded form is what the unique indexes and lookups compare against.
func foldIdentifier(s string) string {
	return folder.String(strings.TrimSpace(s))
}

var titler = cases.Title(language.English)

// normalizeName trims and title-cases a profile name component.
func normalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return titler.String(s)
}
