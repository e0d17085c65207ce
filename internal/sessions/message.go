// Package sessions defines the conversation message model and session
// key scheme shared by the store, the compactor, and the agent loop.
package sessions

import "time"

// Message roles. tool_use/tool_result are first-class roles so the
// pairing invariant is visible to compaction without decoding provider
// payloads.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolUse    = "tool_use"
	RoleToolResult = "tool_result"
)

// Message is one entry in a session history.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	BotName    string    `json:"bot_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PairingValid reports whether every tool_result has a preceding
// tool_use with the same tool_call_id. This invariant must hold at
// every point, including after every compaction.
func PairingValid(msgs []Message) bool {
	seen := make(map[string]bool)
	for _, m := range msgs {
		switch m.Role {
		case RoleToolUse:
			if m.ToolCallID != "" {
				seen[m.ToolCallID] = true
			}
		case RoleToolResult:
			if !seen[m.ToolCallID] {
				return false
			}
		}
	}
	return true
}

// SafeBoundary reports whether cutting the history before index i
// leaves a valid suffix: no tool_result in msgs[i:] may reference a
// tool_use in msgs[:i].
func SafeBoundary(msgs []Message, i int) bool {
	return PairingValid(msgs[i:])
}

// LastSafeBoundary returns the largest index ≤ limit that is a safe
// cut point, preferring an assistant message not followed by an
// orphaned tool_result. Returns 0 when no cut is safe.
func LastSafeBoundary(msgs []Message, limit int) int {
	if limit > len(msgs) {
		limit = len(msgs)
	}
	for i := limit; i > 0; i-- {
		if i < len(msgs) && msgs[i-1].Role != RoleAssistant {
			continue
		}
		if SafeBoundary(msgs, i) {
			return i
		}
	}
	return 0
}
