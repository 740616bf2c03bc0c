// Package grounding maps free-text clinical terms onto canonical entity labels.
package grounding

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Grounder maps a free-text name to a canonical entity label. It reports
// false when no entity was recognized.
type Grounder interface {
	Ground(name string) (string, bool)
}

// Identity is the no-op grounder used when no model or lexicon is available.
type Identity struct{}

// Ground returns the trimmed input unchanged.
func (Identity) Ground(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, name != ""
}

// TitleCase upper-cases the first letter of every word and lower-cases the
// rest. A new Caser is built per call since Casers are not safe for
// concurrent use.
func TitleCase(s string) string {
	return cases.Title(language.English).String(strings.TrimSpace(s))
}

// Canonicalize grounds name and title-cases the result. When g is nil or
// finds no entity, the title-cased original is returned; grounding never
// drops data. Blank names yield "".
func Canonicalize(g Grounder, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if g != nil {
		if label, ok := g.Ground(name); ok && strings.TrimSpace(label) != "" {
			return TitleCase(label)
		}
	}
	return TitleCase(name)
}

// CanonicalSet canonicalizes every name and collapses case-insensitive
// duplicates. The result is sorted.
func CanonicalSet(g Grounder, names []string) []string {
	labels := make([]string, 0, len(names))
	for _, n := range names {
		if label := Canonicalize(g, n); label != "" {
			labels = append(labels, label)
		}
	}
	return Union(labels)
}
