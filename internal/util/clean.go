package util

import (
	"strings"
	"unicode/utf8"
)

const utf8BOM = "\uFEFF"

// Spreadsheet exports often carry non-breaking or zero-width spaces that TrimSpace misses.
var spaceReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u2007", " ",
	"\u202f", " ",
	"\u200b", "",
	utf8BOM, "",
)

// CleanCell repairs invalid UTF-8, normalizes odd spaces and trims the value.
func CleanCell(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return strings.TrimSpace(spaceReplacer.Replace(s))
}

// UniqueNonEmpty cleans every cell, drops empty ones and removes duplicates,
// keeping the first occurrence of each value in input order.
func UniqueNonEmpty(cells []string) []string {
	seen := make(map[string]struct{}, len(cells))
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		c = CleanCell(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
