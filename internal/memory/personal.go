// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// PERSONAL FACT RULES
// =============================================================================

// PersonalRule turns one pattern match in user text into a fact. Render
// receives the submatches (index 0 is the whole match) and reports false
// when the match should be ignored.
type PersonalRule struct {
	Name    string
	Pattern *regexp.Regexp
	Render  func(groups []string) (string, bool)
}

// Age limits accepted by the age rules.
const (
	MinAge = 5
	MaxAge = 120
)

// Location bounds in runes, before cleanup.
const (
	minLocationLen = 3
	maxLocationLen = 80
)

// monthNames maps lowercase English and Portuguese month names to the
// English display name used in facts.
var monthNames = map[string]string{
	"january": "January", "february": "February", "march": "March",
	"april": "April", "may": "May", "june": "June",
	"july": "July", "august": "August", "september": "September",
	"october": "October", "november": "November", "december": "December",

	"janeiro": "January", "fevereiro": "February", "março": "March", "marco": "March",
	"abril": "April", "maio": "May", "junho": "June",
	"julho": "July", "agosto": "August", "setembro": "September",
	"outubro": "October", "novembro": "November", "dezembro": "December",
}

// DefaultPersonalRules recognizes age, birthday and home location in
// English and Portuguese.
var DefaultPersonalRules = []PersonalRule{
	{
		Name:    "age",
		Pattern: regexp.MustCompile(`(?i)\bI(?:'m|’m|\s+am)\s+(\d{1,3})\s+(?:years?|yrs?)\s+old\b`),
		Render:  func(g []string) (string, bool) { return renderAge(g[1]) },
	},
	{
		Name:    "age_pt",
		Pattern: regexp.MustCompile(`(?i)\btenho\s+(\d{1,3})\s+anos\b`),
		Render:  func(g []string) (string, bool) { return renderAge(g[1]) },
	},
	{
		Name:    "birthday_day_month",
		Pattern: regexp.MustCompile(`(?i)\bmy\s+birthday\s+is\s+(?:on\s+)?(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([a-z]+)`),
		Render:  func(g []string) (string, bool) { return renderBirthday(g[1], g[2]) },
	},
	{
		Name:    "birthday_month_day",
		Pattern: regexp.MustCompile(`(?i)\bmy\s+birthday\s+is\s+(?:on\s+)?([a-z]+)\s+(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?\b`),
		Render:  func(g []string) (string, bool) { return renderBirthday(g[2], g[1]) },
	},
	{
		Name:    "birthday_pt",
		Pattern: regexp.MustCompile(`(?i)\banivers[aá]rio\s+(?:[ée]\s+)?(?:(?:no\s+)?dia\s+)?(\d{1,2})\s+(?:de\s+)?([a-zç]+)`),
		Render:  func(g []string) (string, bool) { return renderBirthday(g[1], g[2]) },
	},
	{
		Name:    "location",
		Pattern: regexp.MustCompile(`(?i)\bI(?:'m|’m|\s+am)?\s+(?:currently\s+)?(?:live|living)\s+in\s+([^\r\n]+)`),
		Render:  func(g []string) (string, bool) { return renderLocation(g[1]) },
	},
	{
		Name:    "location_pt",
		Pattern: regexp.MustCompile(`(?i)\bmoro\s+(?:em|no|na)\s+([^\r\n]+)`),
		Render:  func(g []string) (string, bool) { return renderLocation(g[1]) },
	},
}

// ExtractPersonal applies DefaultPersonalRules to text.
func ExtractPersonal(text string) []string {
	return ExtractPersonalWith(DefaultPersonalRules, text)
}

// ExtractPersonalWith applies rules to text and returns the deduplicated
// facts in rule order.
func ExtractPersonalWith(rules []PersonalRule, text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var facts []string
	for _, rule := range rules {
		for _, groups := range rule.Pattern.FindAllStringSubmatch(text, -1) {
			fact, ok := rule.Render(groups)
			if !ok {
				continue
			}
			if fact = SanitizeFact(fact, "<>"); fact != "" {
				facts = append(facts, fact)
			}
		}
	}
	return dedupeFacts(facts)
}

func renderAge(raw string) (string, bool) {
	age, err := strconv.Atoi(raw)
	if err != nil || age < MinAge || age > MaxAge {
		return "", false
	}
	return fmt.Sprintf("User is %d years old.", age), true
}

func renderBirthday(rawDay, rawMonth string) (string, bool) {
	day, err := strconv.Atoi(rawDay)
	if err != nil || day < 1 || day > 31 {
		return "", false
	}
	month, ok := monthNames[strings.ToLower(rawMonth)]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("User's birthday is %d %s.", day, month), true
}

func renderLocation(raw string) (string, bool) {
	place := raw
	if loc := sentenceEnding.FindStringIndex(place); loc != nil {
		place = place[:loc[0]]
	}
	place = strings.TrimRight(strings.TrimSpace(place), ".,;:!?")
	n := len([]rune(place))
	if n < minLocationLen || n > maxLocationLen {
		return "", false
	}
	return "User lives in " + place + ".", true
}
