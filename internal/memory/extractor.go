// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// MARKER GRAMMAR
// =============================================================================

// Delimiters describes the marker grammar: Open, Keyword, a colon, the
// payload, then Close. The keyword matches case-insensitively.
type Delimiters struct {
	Open    string `toml:"open" json:"open"`
	Close   string `toml:"close" json:"close"`
	Keyword string `toml:"keyword" json:"keyword"`
}

// DefaultDelimiters returns the grammar the system prompt teaches the model:
// <<MEMORY_SAVE: fact>>.
func DefaultDelimiters() Delimiters {
	return Delimiters{Open: "<<", Close: ">>", Keyword: "MEMORY_SAVE"}
}

// ErrInvalidDelimiters is returned for a grammar with an empty part.
var ErrInvalidDelimiters = errors.New("marker delimiters must be non-empty")

// Validate checks that every part of the grammar is set and that the
// keyword has no whitespace.
func (d Delimiters) Validate() error {
	if strings.TrimSpace(d.Open) == "" || strings.TrimSpace(d.Close) == "" || strings.TrimSpace(d.Keyword) == "" {
		return ErrInvalidDelimiters
	}
	if strings.IndexFunc(d.Keyword, unicode.IsSpace) >= 0 {
		return errors.New("marker keyword must not contain whitespace")
	}
	return nil
}

// Instruction renders the example marker used in the system prompt.
func (d Delimiters) Instruction() string {
	return d.Open + d.Keyword + ": ..." + d.Close
}

// =============================================================================
// EXTRACTOR
// =============================================================================

// Result is the outcome of one extraction pass.
type Result struct {
	// Visible is the text to show the user.
	Visible string
	// Facts are the sanitized, deduplicated marker payloads in order.
	Facts []string
}

// Extractor removes memory markers from assistant text. The zero value is
// not usable; construct with NewExtractor. Safe for concurrent use.
type Extractor struct {
	delims   Delimiters
	complete *regexp.Regexp // one whole marker, payload in group 1
	opening  *regexp.Regexp // Open, Keyword and colon
	strip    string         // runes removed from payloads
}

// NewExtractor compiles the marker grammar.
func NewExtractor(d Delimiters) (*Extractor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	open := regexp.QuoteMeta(d.Open)
	close := regexp.QuoteMeta(d.Close)
	keyword := regexp.QuoteMeta(d.Keyword)

	complete, err := regexp.Compile(`(?is)` + open + `\s*` + keyword + `\s*:\s*(.*?)\s*` + close)
	if err != nil {
		return nil, err
	}
	opening, err := regexp.Compile(`(?i)` + open + `\s*` + keyword + `\s*:`)
	if err != nil {
		return nil, err
	}

	return &Extractor{
		delims:   d,
		complete: complete,
		opening:  opening,
		strip:    d.Open + d.Close,
	}, nil
}

// Delimiters returns the grammar the extractor was built with.
func (e *Extractor) Delimiters() Delimiters {
	return e.delims
}

// Extract derives the visible text and the facts from a finished reply.
// Text without the keyword passes through unchanged. Calling it again on
// the same buffer yields the same result, and calling it on its own
// Visible output yields no facts.
func (e *Extractor) Extract(buf string) Result {
	if !e.mentionsKeyword(buf) {
		return Result{Visible: buf}
	}
	return e.extract(buf, e.unterminatedAt)
}

// ExtractPartial is Extract for a reply that is still streaming. It also
// hides a tail that may yet grow into a marker, such as a trailing "<" or
// "<<MEMORY", so the opening never flashes on screen.
func (e *Extractor) ExtractPartial(buf string) Result {
	if !e.mentionsKeyword(buf) && e.danglingAt(buf) < 0 {
		return Result{Visible: buf}
	}
	return e.extract(buf, e.danglingAt)
}

// extract removes every complete marker, then cuts the text at the offset
// reported by cut.
func (e *Extractor) extract(buf string, cut func(string) int) Result {
	var facts []string
	text := buf

	// Removing one marker can join the halves of another, so repeat until
	// nothing matches.
	for {
		locs := e.complete.FindAllStringSubmatchIndex(text, -1)
		if len(locs) == 0 {
			break
		}
		var sb strings.Builder
		sb.Grow(len(text))
		last := 0
		for _, loc := range locs {
			sb.WriteString(text[last:loc[0]])
			if fact := SanitizeFact(text[loc[2]:loc[3]], e.strip); fact != "" {
				facts = append(facts, fact)
			}
			last = loc[1]
		}
		sb.WriteString(text[last:])
		text = sb.String()
	}

	text = normalizeWhitespace(text)

	if i := cut(text); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}

	return Result{Visible: text, Facts: dedupeFacts(facts)}
}

// mentionsKeyword reports whether text contains the keyword in any case.
func (e *Extractor) mentionsKeyword(text string) bool {
	return strings.Contains(strings.ToUpper(text), strings.ToUpper(e.delims.Keyword))
}

// unterminatedAt returns the byte offset of an Open, Keyword and colon with
// no Close after it, or -1.
func (e *Extractor) unterminatedAt(text string) int {
	if loc := e.opening.FindStringIndex(text); loc != nil {
		if !strings.Contains(text[loc[1]:], e.delims.Close) {
			return loc[0]
		}
	}
	return -1
}

// danglingAt extends unterminatedAt with openings still being emitted: the
// text ends partway through Open+Keyword.
func (e *Extractor) danglingAt(text string) int {
	if i := e.unterminatedAt(text); i >= 0 {
		return i
	}

	if i := strings.LastIndex(text, e.delims.Open); i >= 0 {
		if e.isOpeningPrefix(text[i+len(e.delims.Open):]) {
			return i
		}
	}

	// The first characters of Open may arrive in their own delta.
	for n := len(e.delims.Open) - 1; n > 0; n-- {
		if strings.HasSuffix(text, e.delims.Open[:n]) {
			return len(text) - n
		}
	}
	return -1
}

// isOpeningPrefix reports whether rest (the text after Open up to the end)
// could still grow into "Keyword:".
func (e *Extractor) isOpeningPrefix(rest string) bool {
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	kw := strings.ToUpper(e.delims.Keyword)
	upper := strings.ToUpper(rest)

	if len(upper) <= len(kw) {
		return strings.HasPrefix(kw, upper)
	}
	if !strings.HasPrefix(upper, kw) {
		return false
	}
	return strings.TrimSpace(upper[len(kw):]) == ""
}
