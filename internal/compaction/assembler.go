package compaction

import (
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
)

// Assembly is the ordered context produced by the assembler plus a
// usage report.
type Assembly struct {
	System  string
	Memory  string
	History []sessions.Message
	Current sessions.Message
	Usage   Usage
}

// Usage reports how the token budget was spent.
type Usage struct {
	TokensUsed     int
	MaxTokens      int
	ResponseBuffer int
	Remaining      int
	PercentUsed    float64
	Warning        bool
	NeedsCompact   bool
	TruncatedMsgs  int
}

// Assembler fits system prompt, memory context, and history into the
// configured token budget. Truncation order, from truncate-first to
// must-keep: general memory summaries, older history, recent history
// window, preference block and open tool pairs, system prompt and the
// current message.
type Assembler struct {
	cfg config.ContextConfig
	tc  TokenCounter
}

func NewAssembler(cfg config.ContextConfig, tc TokenCounter) *Assembler {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 100000
	}
	if cfg.ResponseBuffer <= 0 {
		cfg.ResponseBuffer = 1000
	}
	if cfg.SystemBudgetPercent <= 0 {
		cfg.SystemBudgetPercent = 0.20
	}
	if cfg.MemoryBudgetPercent <= 0 {
		cfg.MemoryBudgetPercent = 0.35
	}
	if cfg.HistoryBudgetPercent <= 0 {
		cfg.HistoryBudgetPercent = 0.35
	}
	if cfg.MinHistoryMessages <= 0 {
		cfg.MinHistoryMessages = 10
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.7
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 0.8
	}
	if tc == nil {
		tc = HeuristicCounter{}
	}
	return &Assembler{cfg: cfg, tc: tc}
}

// Assemble builds the context. preferences is the always-on user
// preference block; memoryContext the rest of the recall output.
func (a *Assembler) Assemble(systemPrompt, preferences, memoryContext string, history []sessions.Message, current sessions.Message) *Assembly {
	budget := a.cfg.MaxContextTokens - a.cfg.ResponseBuffer

	// Must-keep: system prompt, current message, preference block.
	used := a.tc.Count(systemPrompt) + EstimateMessage(a.tc, current)

	memory := preferences
	if a.cfg.PreserveUserPreferences || preferences != "" {
		used += a.tc.Count(preferences)
	}

	// Memory block: trim section by section to its budget share.
	memBudget := int(float64(budget) * a.cfg.MemoryBudgetPercent)
	trimmed := trimToTokens(a.tc, memoryContext, memBudget-a.tc.Count(preferences))
	if trimmed != "" {
		if memory != "" {
			memory += "\n\n"
		}
		memory += trimmed
		used += a.tc.Count(trimmed)
	}

	// History: newest-first fill within its share, but never fewer
	// than the minimum window, and always cut at a tool-safe
	// boundary so no pair is split.
	histBudget := int(float64(budget) * a.cfg.HistoryBudgetPercent)
	if remaining := budget - used; remaining < histBudget {
		histBudget = remaining
	}
	kept, droppedCount := fitHistory(a.tc, history, histBudget, a.cfg.MinHistoryMessages)
	used += EstimateHistory(a.tc, kept)

	percent := 0.0
	if a.cfg.MaxContextTokens > 0 {
		percent = float64(used) / float64(a.cfg.MaxContextTokens)
	}

	return &Assembly{
		System:  systemPrompt,
		Memory:  memory,
		History: kept,
		Current: current,
		Usage: Usage{
			TokensUsed:     used,
			MaxTokens:      a.cfg.MaxContextTokens,
			ResponseBuffer: a.cfg.ResponseBuffer,
			Remaining:      a.cfg.MaxContextTokens - used,
			PercentUsed:    percent,
			Warning:        percent >= a.cfg.WarningThreshold,
			NeedsCompact:   percent >= a.cfg.CompactionThreshold,
			TruncatedMsgs:  droppedCount,
		},
	}
}

// fitHistory keeps the largest suffix fitting the budget, at least
// minMessages long, cut at a safe boundary.
func fitHistory(tc TokenCounter, history []sessions.Message, budget, minMessages int) ([]sessions.Message, int) {
	if len(history) == 0 {
		return nil, 0
	}

	cut := len(history)
	tokens := 0
	for cut > 0 {
		t := EstimateMessage(tc, history[cut-1])
		if tokens+t > budget && len(history)-cut >= minMessages {
			break
		}
		tokens += t
		cut--
	}

	// Move the cut earlier until the suffix carries no orphaned
	// tool_result. Truncating across a tool pair is forbidden.
	for cut > 0 && !sessions.SafeBoundary(history, cut) {
		cut--
	}
	return history[cut:], cut
}

// trimToTokens drops whole lines from the end until the text fits.
func trimToTokens(tc TokenCounter, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if tc.Count(text) <= budget {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 0 {
		lines = lines[:len(lines)-1]
		candidate := strings.Join(lines, "\n")
		if tc.Count(candidate) <= budget {
			return strings.TrimRight(candidate, "\n")
		}
	}
	return ""
}
