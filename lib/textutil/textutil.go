package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Collapse replaces every run of whitespace (including newlines) with a
// single space and trims the result.
func Collapse(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// Spec is one name/description pair pulled from a specification table.
type Spec struct {
	Name string
	Desc string
}

// FlattenSpecs renders spec pairs as `name: desc` segments joined by " | ",
// the single-line form used for CSV storage. Pairs with an empty name are
// skipped.
func FlattenSpecs(specs []Spec) string {
	parts := make([]string, 0, len(specs))
	for _, s := range specs {
		name := Collapse(s.Name)
		if name == "" {
			continue
		}
		parts = append(parts, name+": "+Collapse(s.Desc))
	}
	return strings.Join(parts, " | ")
}
