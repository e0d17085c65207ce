package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/providers"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Compaction modes.
const (
	ModeSummary    = "summary"
	ModeTokenLimit = "token_limit"
	ModeOff        = "off"
)

// Compactor folds session prefixes into summaries while preserving
// the tool pairing invariant. PreHook runs before any compaction so
// the memory layer can flush pending state first.
type Compactor struct {
	sessions  *store.SessionStore
	provider  providers.Provider
	cfg       config.CompactionConfig
	emergency config.EmergencyCompaction
	tc        TokenCounter
	log       *slog.Logger

	PreHook func(ctx context.Context) error
}

func NewCompactor(st *store.SessionStore, provider providers.Provider, cfg config.CompactionConfig, emergency config.EmergencyCompaction, tc TokenCounter, log *slog.Logger) *Compactor {
	if cfg.Mode == "" {
		cfg.Mode = ModeSummary
	}
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = 0.8
	}
	if cfg.PreserveRecent <= 0 {
		cfg.PreserveRecent = 20
	}
	if cfg.SummaryChunkSize <= 0 {
		cfg.SummaryChunkSize = 10
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = 4
	}
	if emergency.CriticalThreshold <= 0 {
		emergency.CriticalThreshold = 0.95
	}
	if emergency.MaxToolOutputEmergency <= 0 {
		emergency.MaxToolOutputEmergency = 500
	}
	if emergency.MinMessageLength <= 0 {
		emergency.MinMessageLength = 10
	}
	if emergency.PreserveCount <= 0 {
		emergency.PreserveCount = 5
	}
	if tc == nil {
		tc = HeuristicCounter{}
	}
	return &Compactor{
		sessions:  st,
		provider:  provider,
		cfg:       cfg,
		emergency: emergency,
		tc:        tc,
		log:       log.With("component", "compactor"),
	}
}

// NeedsCompaction reports whether usage crossed the threshold.
func (c *Compactor) NeedsCompaction(tokensUsed, maxTokens int) bool {
	if !c.cfg.Enabled || c.cfg.Mode == ModeOff || maxTokens <= 0 {
		return false
	}
	return float64(tokensUsed) >= c.cfg.ThresholdPercent*float64(maxTokens)
}

// NeedsEmergency reports whether usage crossed the critical threshold.
func (c *Compactor) NeedsEmergency(tokensUsed, maxTokens int) bool {
	if !c.emergency.Enabled || maxTokens <= 0 {
		return false
	}
	return float64(tokensUsed) >= c.emergency.CriticalThreshold*float64(maxTokens)
}

// Compact runs the configured mode against one session. Returns the
// number of messages replaced or dropped.
func (c *Compactor) Compact(ctx context.Context, key string) (int, error) {
	if c.cfg.Mode == ModeOff {
		return 0, nil
	}
	if c.PreHook != nil && c.cfg.EnableMemoryFlush {
		if err := c.PreHook(ctx); err != nil {
			c.log.Warn("pre-compaction hook failed", "session", key, "error", err)
		}
	}

	history, err := c.sessions.History(key)
	if err != nil {
		return 0, err
	}

	switch c.cfg.Mode {
	case ModeTokenLimit:
		return c.compactTokenLimit(key, history)
	default:
		return c.compactSummary(ctx, key, history)
	}
}

// compactSummary replaces the prefix before the preserved window with
// one assistant summary message per chunk.
func (c *Compactor) compactSummary(ctx context.Context, key string, history []sessions.Message) (int, error) {
	cut := len(history) - c.cfg.PreserveRecent
	if cut < c.cfg.MinMessages {
		return 0, nil
	}
	for cut > 0 && !sessions.SafeBoundary(history, cut) {
		cut--
	}
	if cut < c.cfg.MinMessages {
		return 0, nil
	}

	prefix := history[:cut]
	var summaries []sessions.Message
	for start := 0; start < len(prefix); start += c.cfg.SummaryChunkSize {
		end := start + c.cfg.SummaryChunkSize
		if end > len(prefix) {
			end = len(prefix)
		}
		text, err := c.summarize(ctx, prefix[start:end])
		if err != nil {
			return 0, fmt.Errorf("summarize chunk %d: %w", start/c.cfg.SummaryChunkSize, err)
		}
		summaries = append(summaries, sessions.Message{
			Role:      sessions.RoleAssistant,
			Content:   "[Conversation summary] " + text,
			Timestamp: time.Now(),
		})
	}

	replaced, err := c.sessions.CompactSessionBlocks(key, cut, summaries)
	if err != nil {
		return 0, err
	}
	c.log.Info("compacted session",
		"session", key, "mode", ModeSummary,
		"replaced", replaced, "summaries", len(summaries))
	return replaced, nil
}

// compactTokenLimit drops everything before the last safe boundary
// that leaves the suffix within the token target.
func (c *Compactor) compactTokenLimit(key string, history []sessions.Message) (int, error) {
	target := c.cfg.TargetTokens
	if target <= 0 {
		target = 4000
	}

	cut := len(history)
	tokens := 0
	for cut > 0 {
		t := EstimateMessage(c.tc, history[cut-1])
		if tokens+t > target && len(history)-cut >= c.cfg.MinMessages {
			break
		}
		tokens += t
		cut--
	}
	cut = sessions.LastSafeBoundary(history, cut)
	if cut == 0 {
		return 0, nil
	}

	dropped, err := c.sessions.CompactSessionBlocks(key, cut, []sessions.Message{{
		Role:      sessions.RoleAssistant,
		Content:   fmt.Sprintf("[Earlier context dropped: %d messages]", cut),
		Timestamp: time.Now(),
	}})
	if err != nil {
		return 0, err
	}
	c.log.Info("compacted session",
		"session", key, "mode", ModeTokenLimit, "dropped", dropped)
	return dropped, nil
}

// EmergencyCompact aggressively shrinks a session at critical usage:
// tool outputs capped hard, short chatter dropped, consecutive
// duplicate tool calls collapsed. The last preserve_count messages
// stay verbatim and no tool_result is ever orphaned.
func (c *Compactor) EmergencyCompact(ctx context.Context, key string) (int, error) {
	if !c.emergency.Enabled {
		return 0, nil
	}
	if c.PreHook != nil {
		if err := c.PreHook(ctx); err != nil {
			c.log.Warn("pre-compaction hook failed", "session", key, "error", err)
		}
	}

	history, err := c.sessions.History(key)
	if err != nil {
		return 0, err
	}
	if len(history) <= c.emergency.PreserveCount {
		return 0, nil
	}

	protect := len(history) - c.emergency.PreserveCount
	prefix := history[:protect]
	suffix := history[protect:]

	// tool_use ids whose results live in the protected suffix must
	// survive the prefix transform.
	pinned := make(map[string]bool)
	for _, m := range suffix {
		if m.Role == sessions.RoleToolResult {
			pinned[m.ToolCallID] = true
		}
	}

	var out []sessions.Message
	dropIDs := make(map[string]bool)
	var prevTool *sessions.Message
	for i := range prefix {
		m := prefix[i]
		switch m.Role {
		case sessions.RoleToolUse:
			if prevTool != nil && prevTool.ToolName == m.ToolName && prevTool.Content == m.Content && !pinned[m.ToolCallID] {
				dropIDs[m.ToolCallID] = true
				continue
			}
			prevTool = &prefix[i]
			out = append(out, m)
		case sessions.RoleToolResult:
			if dropIDs[m.ToolCallID] {
				continue
			}
			if len(m.Content) > c.emergency.MaxToolOutputEmergency {
				m.Content = trimToRune(m.Content, c.emergency.MaxToolOutputEmergency) + "… [truncated]"
			}
			out = append(out, m)
		default:
			prevTool = nil
			if len(strings.TrimSpace(m.Content)) < c.emergency.MinMessageLength {
				continue
			}
			out = append(out, m)
		}
	}

	next := append(out, suffix...)
	if len(next) == len(history) {
		return 0, nil
	}
	if err := c.sessions.ReplaceMessages(key, next); err != nil {
		return 0, err
	}
	removed := len(history) - len(next)
	c.log.Warn("emergency compaction",
		"session", key, "removed", removed, "kept", len(next))
	return removed, nil
}

// summarize formats a chunk for the model and returns its summary.
func (c *Compactor) summarize(ctx context.Context, msgs []sessions.Message) (string, error) {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString("[")
		sb.WriteString(m.Role)
		if m.ToolName != "" {
			sb.WriteString(" ")
			sb.WriteString(m.ToolName)
		}
		sb.WriteString("]: ")
		if len(m.Content) > 800 {
			sb.WriteString(trimToRune(m.Content, 800))
			sb.WriteString("…")
		} else {
			sb.WriteString(m.Content)
		}
		sb.WriteString("\n")
	}

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize this conversation excerpt in a few sentences. Preserve decisions, facts, and open threads. No preamble."},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// trimToRune cuts s to at most max bytes without splitting a rune.
func trimToRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
