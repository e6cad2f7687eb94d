// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"golang.org/x/text/cases"
)

// TruncateRunes shortens s to at most maxRunes runes, replacing the tail
// with "..." when it had to cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// ClipRunes shortens s to at most maxRunes runes without an ellipsis and
// trims whitespace left dangling at the cut.
func ClipRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimRight(string(runes[:maxRunes]), " \t\r\n")
}

// FoldKey returns the Unicode case-folded form of s with surrounding
// whitespace removed. Two strings that differ only in case share a key.
//
// A fresh caser is built per call: cases.Caser is stateful and not safe for
// concurrent use.
func FoldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// OneLine collapses newlines and carriage returns into single spaces.
func OneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
