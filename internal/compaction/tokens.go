// Package compaction manages conversation history against token
// budgets: estimation, context assembly with a fixed truncation
// priority, and tool-chain-safe compaction of session prefixes.
package compaction

import "github.com/nextlevelbuilder/goflock/internal/sessions"

// CharsPerToken is the approximate character-to-token ratio used for
// estimation. A real tokenizer can be swapped in behind TokenCounter.
const CharsPerToken = 4

// TokenCounter estimates token counts for text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter is the built-in estimator: ceiling of len/4.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessage estimates tokens for one message, including a small
// per-message framing overhead.
func EstimateMessage(tc TokenCounter, m sessions.Message) int {
	return tc.Count(m.Content) + tc.Count(m.ToolName) + 4
}

// EstimateHistory estimates total tokens across messages.
func EstimateHistory(tc TokenCounter, msgs []sessions.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(tc, m)
	}
	return total
}
