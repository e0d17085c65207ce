// Package agent runs the per-message engine: intake sanitization,
// memory recall, context assembly, model routing, the bounded tool
// loop, and compaction.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/compaction"
	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/memory"
	"github.com/nextlevelbuilder/goflock/internal/providers"
	"github.com/nextlevelbuilder/goflock/internal/rolecard"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
	"github.com/nextlevelbuilder/goflock/internal/store"
	"github.com/nextlevelbuilder/goflock/internal/tools"
	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

const defaultMaxIterations = 20

// Loop is the engine for one bot. Safe for concurrent use across
// sessions; one session is processed by one goroutine at a time (the
// bus serializes per partition).
type Loop struct {
	bot      string
	isLeader bool

	cfg       *config.Config
	provider  providers.Provider
	sessions  *store.SessionStore
	memory    *memory.Service
	assembler *compaction.Assembler
	compactor *compaction.Compactor
	worklog   *worklog.Service
	enforcer  *rolecard.Enforcer
	tools     *tools.Registry
	outputs   *tools.Outputs
	router    *Router
	sanitizer *Sanitizer
	prompts   *PromptBuilder
	log       *slog.Logger
}

// LoopConfig wires a Loop.
type LoopConfig struct {
	Bot       string
	IsLeader  bool
	Config    *config.Config
	Provider  providers.Provider
	Sessions  *store.SessionStore
	Memory    *memory.Service
	Assembler *compaction.Assembler
	Compactor *compaction.Compactor
	WorkLog   *worklog.Service
	Enforcer  *rolecard.Enforcer
	Tools     *tools.Registry
	Outputs   *tools.Outputs
	Router    *Router
	Sanitizer *Sanitizer
	Prompts   *PromptBuilder
	Log       *slog.Logger
}

func NewLoop(c LoopConfig) *Loop {
	return &Loop{
		bot:       c.Bot,
		isLeader:  c.IsLeader,
		cfg:       c.Config,
		provider:  c.Provider,
		sessions:  c.Sessions,
		memory:    c.Memory,
		assembler: c.Assembler,
		compactor: c.Compactor,
		worklog:   c.WorkLog,
		enforcer:  c.Enforcer,
		tools:     c.Tools,
		outputs:   c.Outputs,
		router:    c.Router,
		sanitizer: c.Sanitizer,
		prompts:   c.Prompts,
		log:       c.Log.With("bot", c.Bot),
	}
}

// Reply is the outcome of processing one message.
type Reply struct {
	Text        string
	Tier        string
	Usage       compaction.Usage
	Compactions int
}

// ProcessMessage runs the full per-message procedure and returns the
// outbound text. room may be nil for DMs.
func (l *Loop) ProcessMessage(ctx context.Context, env bus.Envelope, room *store.Room) (*Reply, error) {
	text := l.sanitizer.MaskSecrets(env.Content.Text)
	key := sessions.Key(l.bot, env.Channel, env.ChatID)
	return l.process(ctx, key, text, env.Channel, env.ChatID, room)
}

// ProcessTask handles a specialist invocation spawned by the leader.
func (l *Loop) ProcessTask(ctx context.Context, task, taskContext, invocationID string) (string, error) {
	text := task
	if taskContext != "" {
		text = task + "\n\nContext:\n" + taskContext
	}
	key := sessions.InvocationKey(l.bot, invocationID)
	reply, err := l.process(ctx, key, l.sanitizer.MaskSecrets(text), "invocation", invocationID, nil)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (l *Loop) process(ctx context.Context, key, text, channel, chatID string, room *store.Room) (*Reply, error) {
	data, err := l.sessions.GetOrCreate(key)
	if err != nil {
		return nil, err
	}

	recall, err := l.memory.Recall(ctx, text, channel, l.bot, 5)
	if err != nil {
		l.log.Warn("memory recall failed", "error", err)
		recall = nil
	}
	prefs, memoryContext := splitRecall(recall)

	systemPrompt := l.prompts.Build(l.bot, room)
	current := sessions.Message{
		Role:      sessions.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	assembly := l.assembler.Assemble(systemPrompt, prefs, memoryContext, data.Messages, current)

	tier := l.router.Select(ctx, text)

	roomID := ""
	coordinator := l.bot
	var participants []string
	if room != nil {
		roomID = room.ID
		coordinator = room.Owner
		participants = room.Participants
	}
	wl := l.worklog.Start(key, truncate(text, 200), roomID, coordinator, participants)
	wl.Log(worklog.LevelDecision, "routing", fmt.Sprintf("selected %s tier", tier), store.LogExtras{
		Details: map[string]any{"context_percent": assembly.Usage.PercentUsed},
	})

	ctx = WithOrigin(ctx, channel, chatID)

	// Persist the user message before any tool pair so replay order
	// matches what the provider saw.
	if err := l.sessions.AppendMessages(key, current); err != nil {
		wl.End("")
		return nil, fault.Wrap(fault.KindStoreWrite, err, "append user message")
	}

	final, err := l.runToolLoop(ctx, key, assembly, tier, wl)
	if err != nil {
		wl.Log(worklog.LevelError, "provider", err.Error(), store.LogExtras{})
		wl.End("")
		return nil, err
	}
	final = l.sanitizer.CleanResponse(final)

	assistant := sessions.Message{
		Role:      sessions.RoleAssistant,
		Content:   final,
		BotName:   l.bot,
		Timestamp: time.Now(),
	}
	if err := l.sessions.AppendMessages(key, assistant); err != nil {
		wl.End(final)
		return nil, fault.Wrap(fault.KindStoreWrite, err, "append assistant message")
	}

	compactions := l.maybeCompact(ctx, key)

	if err := l.memory.Ingest(ctx, text, "user", channel, 1.0); err != nil {
		l.log.Warn("memory ingest failed", "error", err)
	}
	if err := l.memory.Ingest(ctx, final, l.bot, channel, 0.8); err != nil {
		l.log.Warn("memory ingest failed", "error", err)
	}

	wl.End(truncate(final, 500))

	return &Reply{
		Text:        final,
		Tier:        tier,
		Usage:       assembly.Usage,
		Compactions: compactions,
	}, nil
}

// runToolLoop drives provider rounds until the model stops calling
// tools or the iteration cap is hit.
func (l *Loop) runToolLoop(ctx context.Context, key string, assembly *compaction.Assembly, tier string, wl *worklog.Session) (string, error) {
	msgs := buildProviderMessages(assembly)
	defs := l.tools.Definitions()

	maxIter := l.cfg.Provider.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	for iter := 0; iter < maxIter; iter++ {
		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages:    msgs,
			Tools:       defs,
			Model:       l.cfg.Provider.Model,
			MaxTokens:   l.cfg.Provider.MaxTokens,
			Temperature: l.cfg.Provider.Temperature,
		})
		if err != nil {
			return "", err
		}
		if resp.Usage != nil {
			if err := l.sessions.AccumulateTokens(key, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens)); err != nil {
				l.log.Warn("token accounting failed", "error", err)
			}
		}

		if len(resp.ToolCalls) == 0 {
			if resp.FinishReason == "length" {
				wl.Log(worklog.LevelWarning, "provider", "response hit the token cap", store.LogExtras{})
			}
			return resp.Content, nil
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			argsJSON := marshalArgs(call.Arguments)
			resultText, isError := l.execCall(ctx, key, call, argsJSON, wl)

			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: call.ID,
				IsError:    isError,
			})

			// Pairs are appended atomically so the history never
			// holds an orphaned tool_result.
			pair := []sessions.Message{
				{Role: sessions.RoleToolUse, Content: argsJSON, ToolCallID: call.ID, ToolName: call.Name, BotName: l.bot, Timestamp: time.Now()},
				{Role: sessions.RoleToolResult, Content: resultText, ToolCallID: call.ID, ToolName: call.Name, Timestamp: time.Now()},
			}
			if err := l.sessions.AppendMessages(key, pair...); err != nil {
				return "", fault.Wrap(fault.KindStoreWrite, err, "append tool pair")
			}
		}
	}

	wl.Log(worklog.LevelWarning, "tools", fmt.Sprintf("stopped after %d tool iterations", maxIter), store.LogExtras{})
	return "I hit the tool iteration limit before finishing. Here is where I stopped.", nil
}

// execCall checks the role card, runs the tool, and externalizes
// oversized output.
func (l *Loop) execCall(ctx context.Context, key string, call providers.ToolCall, argsJSON string, wl *worklog.Session) (string, bool) {
	action := call.Name + " " + argsJSON
	if allowed, rule := l.enforcer.CheckAction(l.bot, action); !allowed {
		msg := fmt.Sprintf("Blocked by role card: %s", rule)
		wl.Log(worklog.LevelCorrection, "role_card", msg, store.LogExtras{
			ToolName:   call.Name,
			ToolInput:  truncate(argsJSON, 500),
			ToolStatus: "blocked",
		})
		return msg, true
	}

	result := l.tools.Execute(ctx, call.Name, call.Arguments)

	inContext := result.ForLLM
	if !result.IsError {
		managed, refID, err := l.outputs.Manage(call.Name, key, result.ForLLM)
		if err != nil {
			l.log.Warn("tool output externalization failed", "tool", call.Name, "error", err)
		} else {
			inContext = managed
			if refID != "" {
				result.Reference = refID
			}
		}
	}

	wl.Tool(call.Name, truncate(argsJSON, 500), truncate(inContext, 500), result.Status, result.DurationMS)
	return inContext, result.IsError
}

// maybeCompact runs ordinary or emergency compaction based on the
// session's accumulated token counts.
func (l *Loop) maybeCompact(ctx context.Context, key string) int {
	data, err := l.sessions.GetOrCreate(key)
	if err != nil {
		return 0
	}
	tc := compaction.HeuristicCounter{}
	used := compaction.EstimateHistory(tc, data.Messages)
	max := l.cfg.Memory.EnhancedContext.MaxContextTokens
	if max <= 0 {
		max = 100000
	}

	if l.compactor.NeedsEmergency(used, max) {
		if removed, err := l.compactor.EmergencyCompact(ctx, key); err != nil {
			l.log.Error("emergency compaction failed", "error", err)
		} else if removed > 0 {
			l.log.Warn("emergency compaction", "removed", removed)
			return 1
		}
	}
	if l.compactor.NeedsCompaction(used, max) {
		if _, err := l.compactor.Compact(ctx, key); err != nil {
			l.log.Error("compaction failed", "error", err)
		} else {
			return 1
		}
	}
	return 0
}

// buildProviderMessages flattens an assembly into provider wire form.
func buildProviderMessages(a *compaction.Assembly) []providers.Message {
	system := a.System
	if a.Memory != "" {
		system += "\n\n# Memory\n\n" + a.Memory
	}
	msgs := []providers.Message{{Role: "system", Content: system}}

	for _, m := range a.History {
		switch m.Role {
		case sessions.RoleUser:
			msgs = append(msgs, providers.Message{Role: "user", Content: m.Content})
		case sessions.RoleAssistant:
			msgs = append(msgs, providers.Message{Role: "assistant", Content: m.Content})
		case sessions.RoleToolUse:
			args := map[string]any{}
			_ = json.Unmarshal([]byte(m.Content), &args)
			msgs = append(msgs, providers.Message{
				Role:      "assistant",
				ToolCalls: []providers.ToolCall{{ID: m.ToolCallID, Name: m.ToolName, Arguments: args}},
			})
		case sessions.RoleToolResult:
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}

	msgs = append(msgs, providers.Message{Role: "user", Content: a.Current.Content})
	return msgs
}

// splitRecall separates the always-kept preference block from the
// trimmable memory context.
func splitRecall(r *memory.RecallResult) (prefs, rest string) {
	if r == nil {
		return "", ""
	}
	if r.Preferences != "" {
		prefs = "User preferences:\n" + r.Preferences
	}
	clone := *r
	clone.Preferences = ""
	return prefs, clone.Format()
}

func marshalArgs(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "…"
}
