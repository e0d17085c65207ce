package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/providers"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

type fakeProvider struct {
	calls int
}

func (f *fakeProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	return &providers.ChatResponse{
		Content:      fmt.Sprintf("summary %d", f.calls),
		FinishReason: "stop",
	}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake" }
func (f *fakeProvider) Name() string         { return "fake" }

func testSessions(t *testing.T) *store.SessionStore {
	t.Helper()
	stores, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return stores.Sessions
}

// seventyMessageHistory builds a 70-message session where the naive
// cut (len - preserve_recent = 50) lands inside a long tool chain and
// must retreat to index 40.
func seventyMessageHistory() []sessions.Message {
	var msgs []sessions.Message
	add := func(m sessions.Message) { msgs = append(msgs, m) }

	for i := 0; i < 20; i++ {
		add(sessions.Message{Role: sessions.RoleUser, Content: fmt.Sprintf("question %d with some padding text", i)})
		add(sessions.Message{Role: sessions.RoleAssistant, Content: fmt.Sprintf("answer %d with some padding text", i)})
	}
	// Index 40: a tool_use whose result only arrives at index 50.
	add(sessions.Message{Role: sessions.RoleToolUse, Content: `{"q":"deep"}`, ToolCallID: "long", ToolName: "search"})
	for i := 0; i < 9; i++ {
		add(sessions.Message{Role: sessions.RoleAssistant, Content: fmt.Sprintf("interim note %d while the search runs", i)})
	}
	add(sessions.Message{Role: sessions.RoleToolResult, Content: "search finished", ToolCallID: "long", ToolName: "search"})
	// Indices 51..69: recent traffic including self-contained pairs.
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("recent-%d", i)
		add(sessions.Message{Role: sessions.RoleToolUse, Content: `{}`, ToolCallID: id, ToolName: "shell"})
		add(sessions.Message{Role: sessions.RoleToolResult, Content: "ok", ToolCallID: id, ToolName: "shell"})
	}
	for i := 0; i < 7; i++ {
		add(sessions.Message{Role: sessions.RoleAssistant, Content: fmt.Sprintf("recent message %d", i)})
	}
	return msgs
}

func TestSummaryCompactionPreservesToolChains(t *testing.T) {
	st := testSessions(t)
	key := sessions.Key("lead", "cli", "s2")

	history := seventyMessageHistory()
	if len(history) != 70 {
		t.Fatalf("fixture length = %d, want 70", len(history))
	}
	if err := st.AppendMessages(key, history...); err != nil {
		t.Fatalf("append: %v", err)
	}

	fake := &fakeProvider{}
	c := NewCompactor(st, fake, config.CompactionConfig{
		Enabled:          true,
		Mode:             ModeSummary,
		PreserveRecent:   20,
		SummaryChunkSize: 10,
	}, config.EmergencyCompaction{}, HeuristicCounter{}, slog.Default())

	replaced, err := c.Compact(context.Background(), key)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if replaced != 40 {
		t.Errorf("replaced = %d, want 40 (cut must retreat to the tool-safe boundary)", replaced)
	}
	if fake.calls != 4 {
		t.Errorf("summary chunks = %d, want 4", fake.calls)
	}

	after, _ := st.History(key)
	if len(after) != 4+30 {
		t.Fatalf("history length = %d, want 34", len(after))
	}
	for i := 0; i < 4; i++ {
		if after[i].Role != sessions.RoleAssistant || !strings.HasPrefix(after[i].Content, "[Conversation summary]") {
			t.Errorf("message %d is not a summary block: %+v", i, after[i])
		}
	}
	for i := 0; i < 30; i++ {
		if after[4+i] != history[40+i] {
			t.Errorf("suffix message %d changed during compaction", i)
		}
	}
	if !sessions.PairingValid(after) {
		t.Error("pairing invariant violated after compaction")
	}
}

func TestTokenLimitCompaction(t *testing.T) {
	st := testSessions(t)
	key := sessions.Key("lead", "cli", "tl")

	var msgs []sessions.Message
	for i := 0; i < 30; i++ {
		msgs = append(msgs,
			sessions.Message{Role: sessions.RoleUser, Content: strings.Repeat("q", 400)},
			sessions.Message{Role: sessions.RoleAssistant, Content: strings.Repeat("a", 400)},
		)
	}
	if err := st.AppendMessages(key, msgs...); err != nil {
		t.Fatalf("append: %v", err)
	}

	c := NewCompactor(st, &fakeProvider{}, config.CompactionConfig{
		Enabled:      true,
		Mode:         ModeTokenLimit,
		TargetTokens: 2000,
	}, config.EmergencyCompaction{}, HeuristicCounter{}, slog.Default())

	dropped, err := c.Compact(context.Background(), key)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if dropped == 0 {
		t.Fatal("expected messages to be dropped")
	}

	after, _ := st.History(key)
	if !strings.HasPrefix(after[0].Content, "[Earlier context dropped:") {
		t.Errorf("first message = %q, want drop marker", after[0].Content)
	}
	if got := EstimateHistory(HeuristicCounter{}, after[1:]); got > 2000 {
		t.Errorf("suffix estimate = %d tokens, want ≤ 2000", got)
	}
}

func TestEmergencyCompact(t *testing.T) {
	st := testSessions(t)
	key := sessions.Key("lead", "cli", "emergency")

	long := strings.Repeat("x", 2000)
	var msgs []sessions.Message
	msgs = append(msgs,
		sessions.Message{Role: sessions.RoleUser, Content: "please fetch the big report now"},
		sessions.Message{Role: sessions.RoleToolUse, Content: `{"url":"a"}`, ToolCallID: "t1", ToolName: "fetch"},
		sessions.Message{Role: sessions.RoleToolResult, Content: long, ToolCallID: "t1", ToolName: "fetch"},
		// Identical consecutive call: collapsed along with its result.
		sessions.Message{Role: sessions.RoleToolUse, Content: `{"url":"a"}`, ToolCallID: "t2", ToolName: "fetch"},
		sessions.Message{Role: sessions.RoleToolResult, Content: long, ToolCallID: "t2", ToolName: "fetch"},
		sessions.Message{Role: sessions.RoleAssistant, Content: "ok"}, // short chatter, dropped
	)
	for i := 0; i < 5; i++ {
		msgs = append(msgs, sessions.Message{Role: sessions.RoleAssistant, Content: fmt.Sprintf("protected recent message %d", i)})
	}
	if err := st.AppendMessages(key, msgs...); err != nil {
		t.Fatalf("append: %v", err)
	}

	c := NewCompactor(st, &fakeProvider{}, config.CompactionConfig{Enabled: true},
		config.EmergencyCompaction{
			Enabled:                true,
			MaxToolOutputEmergency: 500,
			MinMessageLength:       10,
			PreserveCount:          5,
		}, HeuristicCounter{}, slog.Default())

	removed, err := c.EmergencyCompact(context.Background(), key)
	if err != nil {
		t.Fatalf("emergency compact: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3 (duplicate pair + chatter)", removed)
	}

	after, _ := st.History(key)
	if !sessions.PairingValid(after) {
		t.Fatal("pairing invariant violated")
	}
	for i := 0; i < 5; i++ {
		want := fmt.Sprintf("protected recent message %d", i)
		if after[len(after)-5+i].Content != want {
			t.Errorf("protected suffix changed: %q", after[len(after)-5+i].Content)
		}
	}
	for _, m := range after {
		if m.Role == sessions.RoleToolResult && len(m.Content) > 500+len("… [truncated]") {
			t.Errorf("tool result not capped: %d chars", len(m.Content))
		}
	}
}

func TestNeedsCompactionThresholds(t *testing.T) {
	c := NewCompactor(testSessions(t), &fakeProvider{},
		config.CompactionConfig{Enabled: true, ThresholdPercent: 0.8},
		config.EmergencyCompaction{Enabled: true, CriticalThreshold: 0.95},
		HeuristicCounter{}, slog.Default())

	if c.NeedsCompaction(79, 100) {
		t.Error("79% should not need compaction")
	}
	if !c.NeedsCompaction(80, 100) {
		t.Error("80% should need compaction")
	}
	if c.NeedsEmergency(94, 100) {
		t.Error("94% should not need emergency")
	}
	if !c.NeedsEmergency(95, 100) {
		t.Error("95% should need emergency")
	}
}

func TestTrimToRuneKeepsValidBoundaries(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		max     int
		wantLen int
	}{
		{"ascii untouched", "plain output", 100, len("plain output")},
		{"ascii cut", "abcdef", 4, 4},
		{"two-byte runes", strings.Repeat("é", 300), 501, 500},
		{"three-byte runes", strings.Repeat("日", 10), 8, 6},
	}
	for _, tc := range cases {
		got := trimToRune(tc.in, tc.max)
		if len(got) != tc.wantLen {
			t.Errorf("%s: len = %d, want %d", tc.name, len(got), tc.wantLen)
		}
		if !utf8.ValidString(got) {
			t.Errorf("%s: trim split a rune", tc.name)
		}
	}
}
