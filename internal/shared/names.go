package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var nameCaser = cases.Lower(language.Und)

// NormalizeName trims and lower-cases role and permission names so lookups are case-insensitive.
func NormalizeName(name string) string {
	return nameCaser.String(strings.TrimSpace(name))
}

// NormalizeNames normalizes and deduplicates names, dropping empty entries. Order is preserved.
func NormalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// UniqueIDs deduplicates ids preserving order and dropping non-positive values.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
