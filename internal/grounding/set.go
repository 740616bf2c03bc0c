package grounding

import (
	"sort"
	"strings"
)

// Union merges label lists into one sorted set, de-duplicated
// case-insensitively. The first spelling seen wins.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, l := range list {
			l = strings.TrimSpace(l)
			if l == "" {
				continue
			}
			key := strings.ToLower(l)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// Contains reports whether set holds label, ignoring case.
func Contains(set []string, label string) bool {
	for _, s := range set {
		if strings.EqualFold(s, label) {
			return true
		}
	}
	return false
}
