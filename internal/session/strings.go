// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// Strings holds the user-facing texts of a session. Templates take a single
// %s verb.
type Strings struct {
	SystemPrompt string
	Greeting     string
	Interrupted  string
	GenericError string

	// AssistantErrorTemplate fills the failed assistant turn.
	AssistantErrorTemplate string
	// FailureNoticeTemplate is the retryable notification message.
	FailureNoticeTemplate string
	RetryLabel            string

	// MemoryInstruction teaches the marker grammar; %s is an example marker.
	MemoryInstruction string
	// MemoryContextHeader introduces the stored facts sent with a request.
	MemoryContextHeader string
}

// DefaultStrings returns the English texts.
func DefaultStrings() Strings {
	return Strings{
		SystemPrompt: "Hi! I'm Nexus, your AI assistant.\n\n" +
			"Nexus rules:\n" +
			"- I speak clearly and keep things simple.\n" +
			"- I go straight to the point.\n" +
			"- If I don't know something, I say so and suggest an alternative.",
		Greeting:               "Hi! I'm Nexus AI. Ask me anything.",
		Interrupted:            "(interrupted)",
		GenericError:           "unknown error",
		AssistantErrorTemplate: "Error: %s",
		FailureNoticeTemplate:  "Request failed: %s",
		RetryLabel:             "Retry",
		MemoryInstruction: "When the user shares a stable personal detail (age, preferences, birthday, location, name) you MAY save it as a memory.\n" +
			"To save it, end your reply with a line containing only: %s\n" +
			"Never put the marker in the middle of the text. Never include markdown or needless symbols inside the memory.",
		MemoryContextHeader: "Saved user memories (use them to personalize, do not mention them unless relevant):",
	}
}

// withDefaults fills blank fields from DefaultStrings.
func (s Strings) withDefaults() Strings {
	d := DefaultStrings()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.SystemPrompt, d.SystemPrompt)
	fill(&s.Greeting, d.Greeting)
	fill(&s.Interrupted, d.Interrupted)
	fill(&s.GenericError, d.GenericError)
	fill(&s.AssistantErrorTemplate, d.AssistantErrorTemplate)
	fill(&s.FailureNoticeTemplate, d.FailureNoticeTemplate)
	fill(&s.RetryLabel, d.RetryLabel)
	fill(&s.MemoryInstruction, d.MemoryInstruction)
	fill(&s.MemoryContextHeader, d.MemoryContextHeader)
	return s
}
