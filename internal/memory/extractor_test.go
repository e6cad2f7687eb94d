// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultDelimiters())
	require.NoError(t, err)
	return e
}

func TestNewExtractor_RejectsEmptyParts(t *testing.T) {
	cases := []Delimiters{
		{Open: "", Close: ">>", Keyword: "MEMORY_SAVE"},
		{Open: "<<", Close: " ", Keyword: "MEMORY_SAVE"},
		{Open: "<<", Close: ">>", Keyword: ""},
		{Open: "<<", Close: ">>", Keyword: "MEMORY SAVE"},
	}
	for _, d := range cases {
		_, err := NewExtractor(d)
		assert.Error(t, err, "delimiters %+v", d)
	}
}

func TestExtract_InlineMarker(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("hello <<MEMORY_SAVE: likes tea>> world")

	assert.Equal(t, "hello  world", res.Visible)
	assert.Equal(t, []string{"likes tea"}, res.Facts)
}

func TestExtract_StreamingPrefixesNeverShowMarker(t *testing.T) {
	e := newDefaultExtractor(t)
	full := "Nice to meet you! <<MEMORY_SAVE: User likes green tea>>"

	var last Result
	for i := 1; i <= len(full); i++ {
		last = e.ExtractPartial(full[:i])
		assert.NotContains(t, last.Visible, "<<", "prefix %q", full[:i])
		assert.NotContains(t, strings.ToUpper(last.Visible), "MEMORY", "prefix %q", full[:i])
		if i < len(full) {
			assert.Empty(t, last.Facts, "prefix %q", full[:i])
		}
	}

	assert.Equal(t, "Nice to meet you!", last.Visible)
	assert.Equal(t, []string{"User likes green tea"}, last.Facts)
}

func TestExtract_DanglingOpeningHidden(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("Sure thing. <<MEMORY_SAVE: User is a ")

	assert.Equal(t, "Sure thing.", res.Visible)
	assert.Empty(t, res.Facts)
}

func TestExtract_PassThroughWithoutKeyword(t *testing.T) {
	e := newDefaultExtractor(t)

	inputs := []string{
		"plain answer   with spaces\n\n\n\nand lines  ",
		"x << 2 is a shift",
		"",
	}
	for _, in := range inputs {
		res := e.Extract(in)
		assert.Equal(t, in, res.Visible)
		assert.Empty(t, res.Facts)
	}
}

func TestExtractPartial_HidesOpeningInProgress(t *testing.T) {
	e := newDefaultExtractor(t)

	assert.Equal(t, "Hello", e.ExtractPartial("Hello <").Visible)
	assert.Equal(t, "Hello", e.ExtractPartial("Hello <<").Visible)
	assert.Equal(t, "Hello", e.ExtractPartial("Hello << mem").Visible)
	assert.Equal(t, "Hello", e.ExtractPartial("Hello <<MEMORY_SAVE ").Visible)
	assert.Equal(t, "x << 2 is a shift", e.ExtractPartial("x << 2 is a shift").Visible)
}

func TestExtract_FinishedReplyKeepsTrailingOpenText(t *testing.T) {
	e := newDefaultExtractor(t)

	inputs := []string{
		"if a <",
		"shift it with <<",
		"In C++ you print with cout <<",
		"Hello << mem",
	}
	for _, in := range inputs {
		res := e.Extract(in)
		assert.Equal(t, in, res.Visible)
		assert.Empty(t, res.Facts)
	}
}

func TestExtract_FinishedReplyWithMarkerAndTrailingOpener(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("<<MEMORY_SAVE: writes C++>> use cout <<")

	assert.Equal(t, "use cout <<", res.Visible)
	assert.Equal(t, []string{"writes C++"}, res.Facts)
}

func TestExtract_CaseInsensitiveKeywordAndMultiline(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("A\n<< memory_save :\n  likes\n  jazz >>\nB")

	assert.Equal(t, "A\n\nB", res.Visible)
	assert.Equal(t, []string{"likes jazz"}, res.Facts)
}

func TestExtract_EmptyPayloadDiscarded(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("ok <<MEMORY_SAVE:    >> done <<MEMORY_SAVE:>>")

	assert.Equal(t, "ok  done", res.Visible)
	assert.Empty(t, res.Facts)
}

func TestExtract_DelimiterCharsStrippedFromPayload(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("<<MEMORY_SAVE: a < b > c>> tail")

	assert.Equal(t, "tail", res.Visible)
	assert.Equal(t, []string{"a b c"}, res.Facts)
}

func TestExtract_DeduplicatesCaseInsensitively(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("<<MEMORY_SAVE: Likes Tea>> x <<MEMORY_SAVE: likes tea>> <<MEMORY_SAVE: owns a cat>>")

	assert.Equal(t, "x", res.Visible)
	assert.Equal(t, []string{"Likes Tea", "owns a cat"}, res.Facts)
}

func TestExtract_Idempotent(t *testing.T) {
	e := newDefaultExtractor(t)
	inputs := []string{
		"hello <<MEMORY_SAVE: likes tea>> world",
		"<<MEMORY_SAVE: a <<MEMORY_SAVE: b>> c>> end",
		"text <<MEMORY_SAVE: unfinished",
		"line one   \n\n\n\n<<memory_save: x>>\nline two",
	}
	for _, in := range inputs {
		first := e.Extract(in)
		second := e.Extract(first.Visible)
		assert.Equal(t, first.Visible, second.Visible, "input %q", in)
		assert.Empty(t, second.Facts, "input %q", in)
	}
}

func TestExtract_NormalizesWhitespaceWhenMarkerRemoved(t *testing.T) {
	e := newDefaultExtractor(t)

	res := e.Extract("first   \n\n\n<<MEMORY_SAVE: fact>>\n\n\nsecond  ")

	assert.Equal(t, "first\n\nsecond", res.Visible)
	assert.Equal(t, []string{"fact"}, res.Facts)
}

func TestExtract_CustomDelimiters(t *testing.T) {
	e, err := NewExtractor(Delimiters{Open: "[[", Close: "]]", Keyword: "REMEMBER"})
	require.NoError(t, err)

	res := e.Extract("ok [[remember: prefers metric units]] bye [[REMEMBER: half")

	assert.Equal(t, "ok  bye", res.Visible)
	assert.Equal(t, []string{"prefers metric units"}, res.Facts)
}

func TestSanitizeFact(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  ## User likes tea  ", "User likes tea"},
		{"- owns a `dog`", "owns a dog"},
		{"• lives\tin\nLisbon", "lives in Lisbon"},
		{"<b>bold</b>", "bbold/b"},
		{"   ", ""},
		{"ctrl\x00char", "ctrl char"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFact(tt.raw, "<>"), "raw %q", tt.raw)
	}
}

func TestMergeFacts(t *testing.T) {
	got := MergeFacts([]string{"A", "b"}, nil, []string{"a", "C", ""})
	assert.Equal(t, []string{"A", "b", "C"}, got)
	assert.Nil(t, MergeFacts())
}
