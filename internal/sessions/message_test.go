package sessions

import "testing"

func msg(role, callID string) Message {
	return Message{Role: role, Content: "x", ToolCallID: callID}
}

func TestPairingValid(t *testing.T) {
	cases := []struct {
		name string
		msgs []Message
		want bool
	}{
		{"empty", nil, true},
		{"plain conversation", []Message{msg(RoleUser, ""), msg(RoleAssistant, "")}, true},
		{"paired", []Message{msg(RoleToolUse, "a"), msg(RoleToolResult, "a")}, true},
		{"orphan result", []Message{msg(RoleToolResult, "a")}, false},
		{"result before use", []Message{msg(RoleToolResult, "a"), msg(RoleToolUse, "a")}, false},
		{"interleaved", []Message{
			msg(RoleToolUse, "a"), msg(RoleToolUse, "b"),
			msg(RoleToolResult, "b"), msg(RoleToolResult, "a"),
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PairingValid(tc.msgs); got != tc.want {
				t.Errorf("PairingValid = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSafeBoundary(t *testing.T) {
	history := []Message{
		msg(RoleUser, ""),
		msg(RoleToolUse, "a"),
		msg(RoleToolResult, "a"),
		msg(RoleAssistant, ""),
	}
	if SafeBoundary(history, 2) {
		t.Error("cut between tool_use and tool_result must not be safe")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if !SafeBoundary(history, i) {
			t.Errorf("cut at %d should be safe", i)
		}
	}
}

func TestLastSafeBoundary(t *testing.T) {
	history := []Message{
		msg(RoleUser, ""),
		msg(RoleAssistant, ""),
		msg(RoleToolUse, "a"),
		msg(RoleToolResult, "a"),
		msg(RoleAssistant, ""),
	}
	// Limit 3 falls inside the tool pair; the cut must retreat to the
	// assistant message at index 2.
	if got := LastSafeBoundary(history, 3); got != 2 {
		t.Errorf("LastSafeBoundary = %d, want 2", got)
	}
	if got := LastSafeBoundary(history, 5); got != 5 {
		t.Errorf("LastSafeBoundary = %d, want 5", got)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("lead", "cli", "u1")
	bot, channel, chatID, ok := Split(key)
	if !ok || bot != "lead" || channel != "cli" || chatID != "u1" {
		t.Fatalf("Split(%q) = %q %q %q %v", key, bot, channel, chatID, ok)
	}
}
