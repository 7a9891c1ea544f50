package project

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidName is returned when a project name has no usable characters
// left after normalization.
var ErrInvalidName = errors.New("project name is not valid after normalization")

var (
	disallowed = regexp.MustCompile(`[^a-zA-Z0-9\s_-]`)
	whitespace = regexp.MustCompile(`\s+`)
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// NormalizeName turns a free-text project name into the path segment it is
// stored under: surrounding whitespace is trimmed, accents are decomposed and
// their combining marks dropped, anything outside [a-z0-9 _-] is removed,
// runs of whitespace collapse to a single underscore and the result is
// lowercased. Normalization is idempotent.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if folded, _, err := transform.String(stripMarks, name); err == nil {
		name = folded
	}
	name = disallowed.ReplaceAllString(name, "")
	name = whitespace.ReplaceAllString(name, "_")
	name = strings.ToLower(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}
