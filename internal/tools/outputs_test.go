package tools

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func testOutputs(t *testing.T, cfg config.ToolOutputConfig) *Outputs {
	t.Helper()
	stores, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return NewOutputs(stores.ToolOutputs, cfg)
}

func TestManageKeepsSmallOutputInline(t *testing.T) {
	o := testOutputs(t, config.ToolOutputConfig{Enabled: true, MaxToolOutputChars: 2000})

	inContext, refID, err := o.Manage("web_search", "lead:cli:u1", "short result")
	if err != nil {
		t.Fatalf("manage: %v", err)
	}
	if inContext != "short result" || refID != "" {
		t.Errorf("inline output was externalized: %q / %q", inContext, refID)
	}
}

func TestManageExternalizesOversizedOutput(t *testing.T) {
	o := testOutputs(t, config.ToolOutputConfig{Enabled: true, MaxToolOutputChars: 2000})

	full := strings.Repeat("scraped page content. ", 2046)[:45000]
	inContext, refID, err := o.Manage("web_scrape", "lead:cli:u1", full)
	if err != nil {
		t.Fatalf("manage: %v", err)
	}
	if refID == "" {
		t.Fatal("oversized output was not externalized")
	}
	if len(inContext) < 90 || len(inContext) > 200 {
		t.Errorf("reference message length = %d, want 90..200", len(inContext))
	}
	if !strings.Contains(inContext, "ref://"+refID) || !strings.Contains(inContext, "get_tool_output") {
		t.Errorf("reference message = %q", inContext)
	}

	// The reference resolves back to the verbatim original.
	stored, err := o.Resolve(inContext)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stored.FullOutput != full {
		t.Errorf("round trip altered the output (%d vs %d chars)", len(stored.FullOutput), len(full))
	}
	if stored.ToolName != "web_scrape" || stored.CharCount != 45000 {
		t.Errorf("stored metadata = %+v", stored)
	}
}

func TestManageDisabledPassesThrough(t *testing.T) {
	o := testOutputs(t, config.ToolOutputConfig{Enabled: false, MaxToolOutputChars: 10})

	big := strings.Repeat("x", 100)
	inContext, refID, err := o.Manage("shell", "k", big)
	if err != nil || inContext != big || refID != "" {
		t.Errorf("disabled externalization intervened: %q / %q / %v", inContext, refID, err)
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		text   string
		wantID string
		wantOK bool
	}{
		{"ref://abc123", "abc123", true},
		{"fetch ref://0199a-b2c first.", "0199a-b2c", true},
		{"no reference here", "", false},
		{"dangling ref:// only", "", false},
	}
	for _, tc := range cases {
		id, ok := ParseReference(tc.text)
		if id != tc.wantID || ok != tc.wantOK {
			t.Errorf("ParseReference(%q) = %q/%v, want %q/%v", tc.text, id, ok, tc.wantID, tc.wantOK)
		}
	}
}

func TestResolveUnknownReference(t *testing.T) {
	o := testOutputs(t, config.ToolOutputConfig{Enabled: true})

	_, err := o.Resolve("ref://nonexistent")
	if err == nil {
		t.Fatal("unknown reference resolved")
	}
	if fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("kind = %v, want not_found", fault.KindOf(err))
	}

	if _, err := o.Resolve(""); err == nil {
		t.Error("empty reference resolved")
	}
}
