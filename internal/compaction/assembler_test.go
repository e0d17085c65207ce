package compaction

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
)

func TestFitHistoryRespectsMinimumWindow(t *testing.T) {
	var history []sessions.Message
	for i := 0; i < 10; i++ {
		history = append(history, sessions.Message{
			Role: sessions.RoleUser, Content: strings.Repeat("m", 100),
		})
	}

	// Budget fits barely one message; the minimum window wins.
	kept, dropped := fitHistory(HeuristicCounter{}, history, 30, 4)
	if len(kept) != 4 {
		t.Errorf("kept = %d messages, want minimum window of 4", len(kept))
	}
	if dropped != 6 {
		t.Errorf("dropped = %d, want 6", dropped)
	}

	// Generous budget keeps everything.
	kept, dropped = fitHistory(HeuristicCounter{}, history, 10000, 4)
	if len(kept) != 10 || dropped != 0 {
		t.Errorf("kept/dropped = %d/%d, want 10/0", len(kept), dropped)
	}
}

func TestFitHistoryNeverSplitsToolPair(t *testing.T) {
	history := []sessions.Message{
		{Role: sessions.RoleUser, Content: strings.Repeat("a", 200)},
		{Role: sessions.RoleToolUse, Content: "{}", ToolCallID: "t1", ToolName: "shell"},
		{Role: sessions.RoleToolResult, Content: strings.Repeat("b", 200), ToolCallID: "t1", ToolName: "shell"},
		{Role: sessions.RoleAssistant, Content: "done"},
	}

	// Budget covers the tool_result and the final message but not the
	// tool_use; keeping the result without its use is forbidden, so
	// the cut retreats to include the whole pair.
	kept, _ := fitHistory(HeuristicCounter{}, history, 62, 1)
	if !sessions.PairingValid(kept) {
		t.Fatalf("kept window orphans a tool_result: %+v", kept)
	}
	if len(kept) != 3 || kept[0].Role != sessions.RoleToolUse {
		t.Errorf("window = %d messages starting with %s, want 3 starting with tool_use", len(kept), kept[0].Role)
	}
}

func TestTrimToTokensDropsWholeLines(t *testing.T) {
	text := "line one\nline two\nline three"
	got := trimToTokens(HeuristicCounter{}, text, 5)
	if got != "line one" {
		t.Errorf("trimmed = %q, want %q", got, "line one")
	}
	if got := trimToTokens(HeuristicCounter{}, text, 0); got != "" {
		t.Errorf("zero budget returned %q", got)
	}
	if got := trimToTokens(HeuristicCounter{}, text, 1000); got != text {
		t.Errorf("fitting text was altered: %q", got)
	}
}

func TestAssembleBudgetsAndFlags(t *testing.T) {
	a := NewAssembler(config.ContextConfig{
		MaxContextTokens:        1000,
		ResponseBuffer:          200,
		MinHistoryMessages:      2,
		WarningThreshold:        0.7,
		CompactionThreshold:     0.8,
		PreserveUserPreferences: true,
	}, HeuristicCounter{})

	var history []sessions.Message
	for i := 0; i < 20; i++ {
		history = append(history, sessions.Message{
			Role: sessions.RoleAssistant, Content: strings.Repeat("h", 100),
		})
	}

	prefs := "User preferences:\n- short answers"
	memory := strings.Repeat("fact line\n", 200)
	current := sessions.Message{Role: sessions.RoleUser, Content: "what now"}

	asm := a.Assemble("system prompt", prefs, memory, history, current)

	if !strings.Contains(asm.Memory, prefs) {
		t.Error("preference block was trimmed out of the memory context")
	}
	memBudget := int(float64(1000-200) * a.cfg.MemoryBudgetPercent)
	if got := (HeuristicCounter{}).Count(asm.Memory); got > memBudget {
		t.Errorf("memory block = %d tokens, exceeds budget %d", got, memBudget)
	}
	if len(asm.History) == 0 || len(asm.History) == len(history) {
		t.Errorf("history window = %d of %d, want a truncated suffix", len(asm.History), len(history))
	}
	if asm.Usage.TruncatedMsgs != len(history)-len(asm.History) {
		t.Errorf("truncated = %d, want %d", asm.Usage.TruncatedMsgs, len(history)-len(asm.History))
	}
	if asm.Usage.MaxTokens != 1000 || asm.Usage.Remaining != 1000-asm.Usage.TokensUsed {
		t.Errorf("usage bookkeeping off: %+v", asm.Usage)
	}
}

func TestAssembleWarningThresholds(t *testing.T) {
	a := NewAssembler(config.ContextConfig{
		MaxContextTokens:    100,
		ResponseBuffer:      10,
		MinHistoryMessages:  1,
		WarningThreshold:    0.5,
		CompactionThreshold: 0.9,
	}, HeuristicCounter{})

	asm := a.Assemble(strings.Repeat("s", 260), "", "", nil,
		sessions.Message{Role: sessions.RoleUser, Content: "hi"})
	if !asm.Usage.Warning {
		t.Errorf("usage %.2f did not trip the warning threshold", asm.Usage.PercentUsed)
	}

	asm = a.Assemble("tiny", "", "", nil, sessions.Message{Role: sessions.RoleUser, Content: "hi"})
	if asm.Usage.Warning || asm.Usage.NeedsCompact {
		t.Errorf("tiny context flagged: %+v", asm.Usage)
	}
}

func TestHeuristicCounterCeiling(t *testing.T) {
	tc := HeuristicCounter{}
	if got := tc.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d", got)
	}
	if got := tc.Count("abc"); got != 1 {
		t.Errorf("Count(3 chars) = %d, want 1", got)
	}
	if got := tc.Count("abcde"); got != 2 {
		t.Errorf("Count(5 chars) = %d, want 2", got)
	}
}
