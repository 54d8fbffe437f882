// Package search implements the fuzzy element-name lookup behind the
// search RPC method (spec §6), grounded on the teacher's entity-resolution
// strategy in internal/queries: an exact/substring pass first, falling
// back to Levenshtein distance and then rune-subsequence fuzzy matching
// when nothing matched directly, so a typo'd query still returns
// something useful instead of an empty result.
package search

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/tidwall/gjson"

	"github.com/btcmap/btcmap-api/internal/types"
)

// maxTypoDistance bounds how different a name can be from the query and
// still count as a typo correction rather than an unrelated result.
const maxTypoDistance = 3

// Elements selects the els whose tags.name matches query, keeping their
// input order, applying substring matching first and falling back to
// typo-tolerant matching only when the substring pass finds nothing.
// limit bounds the result count.
func Elements(els []*types.Element, query string, limit int) []*types.Element {
	if query == "" {
		return truncate(els, limit)
	}

	query = strings.ToLower(query)

	var substring []*types.Element
	for _, el := range els {
		if strings.Contains(strings.ToLower(elementName(el)), query) {
			substring = append(substring, el)
		}
	}
	if len(substring) > 0 {
		return truncate(substring, limit)
	}

	return truncate(fuzzyMatch(els, query), limit)
}

// fuzzyMatch finds the single closest name by Levenshtein distance, then
// widens to every rune-subsequence fuzzy match if even that misses,
// mirroring the teacher's typo-correction-then-fuzzy cascade.
func fuzzyMatch(els []*types.Element, query string) []*types.Element {
	names := make([]string, len(els))
	for i, el := range els {
		names[i] = elementName(el)
	}

	if closest, dist := closestName(query, names); closest != "" && dist <= maxTypoDistance {
		var out []*types.Element
		for _, el := range els {
			if strings.EqualFold(elementName(el), closest) {
				out = append(out, el)
			}
		}
		return out
	}

	var out []*types.Element
	for _, el := range els {
		if fuzzy.MatchFold(query, elementName(el)) {
			out = append(out, el)
		}
	}
	sort.Slice(out, func(i, j int) bool { return elementName(out[i]) < elementName(out[j]) })
	return out
}

// closestName returns the name with the smallest case-insensitive
// Levenshtein distance to query, and that distance.
func closestName(query string, names []string) (string, int) {
	closest := ""
	minDist := maxTypoDistance + 1
	for _, name := range names {
		dist := levenshtein.ComputeDistance(strings.ToLower(query), strings.ToLower(name))
		if dist < minDist {
			minDist = dist
			closest = name
		}
	}
	if minDist > maxTypoDistance {
		return "", -1
	}
	return closest, minDist
}

func elementName(el *types.Element) string {
	return gjson.Get(el.OverpassData, "tags.name").String()
}

func truncate(els []*types.Element, limit int) []*types.Element {
	if limit > 0 && len(els) > limit {
		return els[:limit]
	}
	return els
}
