package stats

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// excerptRunes bounds post excerpts.
const excerptRunes = 80

var stripTags = bluemonday.StripTagsPolicy()

// plainText strips markup from post content, decodes entities
// and collapses whitespace.
func plainText(s string) string {
	s = html.UnescapeString(s)
	s = stripTags.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Excerpt returns the plain text of s cut to excerptRunes, with
// an ellipsis when shortened.
func Excerpt(s string) string {
	s = plainText(s)
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return strings.TrimRightFunc(string(r[:excerptRunes]), unicode.IsSpace) + "…"
}

// placeKey folds a location for grouping: accents removed, case
// folded, whitespace collapsed. "São Paulo" and "sao  paulo"
// share a key.
func placeKey(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	return strings.Join(strings.Fields(out), " ")
}

// topPlace returns the most frequent location by placeKey,
// displayed as first seen. Ties go to the place seen first.
// Empty locations are ignored; nil when none remain.
func topPlace(locations []string) *string {
	type entry struct {
		display string
		count   int
	}
	index := make(map[string]int)
	var entries []entry
	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		key := placeKey(loc)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(entries)
			index[key] = i
			entries = append(entries, entry{display: loc})
		}
		entries[i].count++
	}

	best := -1
	for i, e := range entries {
		if best < 0 || e.count > entries[best].count {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return &entries[best].display
}
