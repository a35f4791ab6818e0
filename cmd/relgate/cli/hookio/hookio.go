// Package hookio defines the JSON wire types exchanged with the agent's
// hook protocol: the event payload read from stdin and the response shapes
// written to stdout. Decision logic lives elsewhere; this package only
// parses and emits.
package hookio

import (
	"encoding/json"
	"fmt"
	"io"
)

// Hook event names as they appear on the wire.
const (
	EventStop             = "Stop"
	EventPreToolUse       = "PreToolUse"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventSessionStart     = "SessionStart"
)

// Permission decisions for PreToolUse hook output.
const (
	PermissionAllow = "allow"
	PermissionDeny  = "deny"
)

// Input is the hook event payload the agent feeds on stdin. Fields are
// populated per event type; absent fields stay zero.
type Input struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`

	// PreToolUse fields.
	ToolName  string    `json:"tool_name,omitempty"`
	ToolInput ToolInput `json:"tool_input,omitempty"`

	// Stop fields. StopHookActive is set when the agent is already
	// continuing because of a previous stop-hook block. It is recorded
	// for logging; every stop attempt is evaluated regardless.
	StopHookActive bool `json:"stop_hook_active,omitempty"`

	// UserPromptSubmit fields.
	Prompt string `json:"prompt,omitempty"`

	// SessionStart fields.
	Source string `json:"source,omitempty"`
}

// ToolInput carries the subset of tool parameters policy checks inspect.
type ToolInput struct {
	Command  string `json:"command,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// ReadInput decodes one hook payload from r.
func ReadInput(r io.Reader) (*Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decoding hook input: %w", err)
	}
	return &in, nil
}

// StopResponse is the JSON shape a Stop hook writes. Continue false halts
// the stop and StopReason is shown to the agent as feedback.
type StopResponse struct {
	Continue   bool   `json:"continue"`
	StopReason string `json:"stopReason,omitempty"`
}

// PreToolUseOutput wraps the permission decision in the envelope the agent
// expects from PreToolUse hooks.
type PreToolUseOutput struct {
	HookSpecificOutput PreToolUseDecision `json:"hookSpecificOutput"`
}

// PreToolUseDecision is the inner PreToolUse decision object.
type PreToolUseDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// NewPreToolUseOutput builds a PreToolUse response with the given decision.
func NewPreToolUseOutput(permission, reason string) PreToolUseOutput {
	return PreToolUseOutput{
		HookSpecificOutput: PreToolUseDecision{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       permission,
			PermissionDecisionReason: reason,
		},
	}
}

// UserPromptSubmitOutput carries context text injected into the session
// when a prompt is submitted.
type UserPromptSubmitOutput struct {
	HookSpecificOutput UserPromptSubmitContext `json:"hookSpecificOutput"`
}

// UserPromptSubmitContext is the inner UserPromptSubmit object.
type UserPromptSubmitContext struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// NewUserPromptSubmitOutput builds a UserPromptSubmit response injecting
// additional context.
func NewUserPromptSubmitOutput(additionalContext string) UserPromptSubmitOutput {
	return UserPromptSubmitOutput{
		HookSpecificOutput: UserPromptSubmitContext{
			HookEventName:     EventUserPromptSubmit,
			AdditionalContext: additionalContext,
		},
	}
}

// SessionStartOutput carries context text injected when a session starts
// or resumes after compaction.
type SessionStartOutput struct {
	HookSpecificOutput SessionStartContext `json:"hookSpecificOutput"`
}

// SessionStartContext is the inner SessionStart object.
type SessionStartContext struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// NewSessionStartOutput builds a SessionStart response injecting
// additional context.
func NewSessionStartOutput(additionalContext string) SessionStartOutput {
	return SessionStartOutput{
		HookSpecificOutput: SessionStartContext{
			HookEventName:     EventSessionStart,
			AdditionalContext: additionalContext,
		},
	}
}

// WriteJSON writes v to w as a single JSON document followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding hook output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing hook output: %w", err)
	}
	return nil
}
