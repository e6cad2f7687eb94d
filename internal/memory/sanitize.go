// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jeranaias/nexus-chat/internal/util"
)

var (
	headingPrefix  = regexp.MustCompile(`^\s*#+\s*`)
	bulletPrefix   = regexp.MustCompile(`^\s*[-*•]+\s*`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	blankLineRun   = regexp.MustCompile(`\n{3,}`)
	sentenceEnding = regexp.MustCompile(`[.!?;](?:\s|$)`)
)

// SanitizeFact turns a raw marker payload into a storable fact. It removes
// markdown heading and bullet prefixes, backticks, every rune in strip and
// control characters, then collapses whitespace. An empty return means the
// payload carried no fact.
func SanitizeFact(raw, strip string) string {
	t := strings.TrimSpace(raw)
	t = headingPrefix.ReplaceAllString(t, "")
	t = bulletPrefix.ReplaceAllString(t, "")

	t = strings.Map(func(r rune) rune {
		switch {
		case r == '`':
			return -1
		case strings.ContainsRune(strip, r):
			return -1
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, t)

	t = whitespaceRun.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// dedupeFacts drops empty entries and case-folded duplicates, keeping the
// first occurrence of each.
func dedupeFacts(facts []string) []string {
	if len(facts) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(facts))
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		if f == "" {
			continue
		}
		key := util.FoldKey(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// MergeFacts concatenates fact lists and deduplicates them case-insensitively,
// preserving first-seen order.
func MergeFacts(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return dedupeFacts(all)
}

// normalizeWhitespace trims trailing blanks on every line, keeps at most one
// empty line between paragraphs and trims the result.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	text = strings.Join(lines, "\n")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
