// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/nexus-chat/internal/model"
)

// JSONExporter writes the transcript in its stored form, so an export can be
// copied back into the conversations directory.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(t model.Transcript) ([]byte, error) {
	if !t.HasContent() {
		return nil, ErrEmptyConversation
	}
	data, err := json.MarshalIndent(t.Persistable(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
