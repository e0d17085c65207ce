package tools

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

const refPrefix = "ref://"

// Outputs externalizes oversized tool results. The in-context
// replacement is a short stable reference that round-trips back to
// the original bytes.
type Outputs struct {
	store *store.ToolOutputStore
	cfg   config.ToolOutputConfig
}

func NewOutputs(st *store.ToolOutputStore, cfg config.ToolOutputConfig) *Outputs {
	if cfg.MaxToolOutputChars <= 0 {
		cfg.MaxToolOutputChars = 2000
	}
	return &Outputs{store: st, cfg: cfg}
}

// Manage decides whether an output stays inline. Oversized outputs
// are persisted and replaced by a reference message; the returned
// reference id is empty for inline outputs.
func (o *Outputs) Manage(toolName, sessionKey, output string) (inContext string, refID string, err error) {
	if !o.cfg.Enabled || len(output) <= o.cfg.MaxToolOutputChars {
		return output, "", nil
	}

	summary := output
	if len(summary) > 200 {
		summary = summary[:200]
	}
	id, err := o.store.Put(toolName, output, summary, sessionKey)
	if err != nil {
		return output, "", err
	}
	return ReferenceMessage(toolName, len(output), id), id, nil
}

// ReferenceMessage builds the stable in-context form for an
// externalized output.
func ReferenceMessage(toolName string, chars int, id string) string {
	return fmt.Sprintf("%s output (%d chars, %s%s) stored externally; fetch the full content with get_tool_output.",
		toolName, chars, refPrefix, id)
}

// ParseReference extracts the id from a reference message. Returns
// false when the text carries no reference.
func ParseReference(text string) (string, bool) {
	idx := strings.Index(text, refPrefix)
	if idx == -1 {
		return "", false
	}
	rest := text[idx+len(refPrefix):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '-' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if end == -1 {
		end = len(rest)
	}
	if end == 0 {
		return "", false
	}
	return rest[:end], true
}

// Resolve returns the original output for a reference id or message.
func (o *Outputs) Resolve(ref string) (*store.ToolOutput, error) {
	id := ref
	if parsed, ok := ParseReference(ref); ok {
		id = parsed
	}
	if id == "" {
		return nil, fault.New(fault.KindInputValidation, "empty tool output reference")
	}
	return o.store.Get(id)
}
