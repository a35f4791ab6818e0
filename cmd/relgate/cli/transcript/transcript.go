// Package transcript reads the session transcript the agent records as
// JSONL. The stop engine scans the final assistant message for bypass
// phrases and trailing questions.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Line types as recorded in the transcript.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
)

// ContentTypeText marks a text block inside array-form message content.
const ContentTypeText = "text"

// Line is one transcript record. Message is kept raw since its shape
// varies by line type.
type Line struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ParseFromBytes parses transcript content from a byte slice.
// Uses bufio.Reader to handle arbitrarily long lines.
func ParseFromBytes(content []byte) ([]Line, error) {
	var lines []Line
	reader := bufio.NewReader(bytes.NewReader(content))

	for {
		lineBytes, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read transcript: %w", err)
		}

		if len(lineBytes) == 0 {
			if err == io.EOF {
				break
			}
			continue
		}

		var line Line
		if jsonErr := json.Unmarshal(lineBytes, &line); jsonErr == nil {
			lines = append(lines, line)
		}

		if err == io.EOF {
			break
		}
	}

	return lines, nil
}

// ParseFile reads and parses a transcript file. A missing file yields an
// empty transcript, not an error: the hook may fire before the agent has
// flushed anything.
func ParseFile(path string) ([]Line, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return ParseFromBytes(content)
}

// LastAssistantText returns the text of the most recent assistant message,
// or "" if the transcript has none.
func LastAssistantText(lines []Line) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Type != TypeAssistant {
			continue
		}
		if text := ExtractText(lines[i].Message); text != "" {
			return text
		}
	}
	return ""
}

// ExtractText extracts the text of a raw message. Handles both string and
// array content formats; tool-use and other non-text blocks are skipped.
// Returns empty string if the message cannot be parsed or contains no text.
func ExtractText(raw json.RawMessage) string {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}

	if str, ok := msg.Content.(string); ok {
		return str
	}

	if arr, ok := msg.Content.([]any); ok {
		var texts []string
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] != ContentTypeText {
				continue
			}
			if text, ok := m["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n\n")
		}
	}

	return ""
}
