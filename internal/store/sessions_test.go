package store

import (
	"testing"

	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
)

func testStores(t *testing.T) *Stores {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionAppendAndHistory(t *testing.T) {
	s := testStores(t).Sessions

	key := sessions.Key("lead", "cli", "u1")
	if err := s.AppendMessages(key,
		sessions.Message{Role: sessions.RoleUser, Content: "hi"},
		sessions.Message{Role: sessions.RoleAssistant, Content: "hello"},
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err := s.History(key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "hi" || history[1].Role != sessions.RoleAssistant {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestAppendRejectsOrphanedToolResult(t *testing.T) {
	s := testStores(t).Sessions

	key := sessions.Key("lead", "cli", "u1")
	err := s.AppendMessages(key, sessions.Message{
		Role: sessions.RoleToolResult, Content: "out", ToolCallID: "never-used",
	})
	if err == nil {
		t.Fatal("orphaned tool_result was accepted")
	}
	if fault.KindOf(err) != fault.KindStoreWrite {
		t.Errorf("kind = %v, want store_write", fault.KindOf(err))
	}
}

func TestCompactSessionBlocks(t *testing.T) {
	s := testStores(t).Sessions
	key := sessions.Key("lead", "cli", "u1")

	var msgs []sessions.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs,
			sessions.Message{Role: sessions.RoleUser, Content: "question"},
			sessions.Message{Role: sessions.RoleAssistant, Content: "answer"},
		)
	}
	if err := s.AppendMessages(key, msgs...); err != nil {
		t.Fatalf("append: %v", err)
	}

	summaries := []sessions.Message{
		{Role: sessions.RoleAssistant, Content: "[Conversation summary] part one"},
		{Role: sessions.RoleAssistant, Content: "[Conversation summary] part two"},
	}
	replaced, err := s.CompactSessionBlocks(key, 8, summaries)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if replaced != 8 {
		t.Errorf("replaced = %d, want 8", replaced)
	}

	history, _ := s.History(key)
	if len(history) != 2+4 {
		t.Fatalf("history length = %d, want 6", len(history))
	}
	if history[0].Content != "[Conversation summary] part one" {
		t.Errorf("first message = %q", history[0].Content)
	}
	if s.CompactionCount(key) != 1 {
		t.Errorf("compaction count = %d, want 1", s.CompactionCount(key))
	}
}

func TestCompactRefusesOrphaningCut(t *testing.T) {
	s := testStores(t).Sessions
	key := sessions.Key("lead", "cli", "u1")

	if err := s.AppendMessages(key,
		sessions.Message{Role: sessions.RoleUser, Content: "run the tool"},
		sessions.Message{Role: sessions.RoleToolUse, Content: "{}", ToolCallID: "c1", ToolName: "shell"},
		sessions.Message{Role: sessions.RoleToolResult, Content: "ok", ToolCallID: "c1", ToolName: "shell"},
		sessions.Message{Role: sessions.RoleAssistant, Content: "done"},
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Cutting at 2 would keep the tool_result without its tool_use.
	_, err := s.CompactSession(key, 2, sessions.Message{Role: sessions.RoleAssistant, Content: "[Conversation summary] x"})
	if err == nil {
		t.Fatal("compaction across a tool pair was accepted")
	}
}

func TestSessionPersistsAcrossCache(t *testing.T) {
	s := testStores(t).Sessions
	key := sessions.Key("lead", "cli", "persist")

	if err := s.AppendMessages(key, sessions.Message{Role: sessions.RoleUser, Content: "remember me"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AccumulateTokens(key, 100, 50); err != nil {
		t.Fatalf("accumulate: %v", err)
	}

	data, err := s.GetOrCreate(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.InputTokens != 100 || data.OutputTokens != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", data.InputTokens, data.OutputTokens)
	}

	if err := s.Reset(key); err != nil {
		t.Fatalf("reset: %v", err)
	}
	history, _ := s.History(key)
	if len(history) != 0 {
		t.Errorf("history after reset = %d messages", len(history))
	}
}
