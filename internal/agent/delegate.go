package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/dispatch"
	"github.com/nextlevelbuilder/goflock/internal/tools"
)

// DelegateTool lets the leader hand a task to a specialist. The call
// is fire-and-forget: the tool returns an acknowledgement and the
// specialist's result arrives later as a system envelope.
type DelegateTool struct {
	invoker *dispatch.Invoker
	bots    map[string]bool
}

func NewDelegateTool(invoker *dispatch.Invoker, specialists []string) *DelegateTool {
	known := make(map[string]bool, len(specialists))
	for _, b := range specialists {
		known[strings.ToLower(b)] = true
	}
	return &DelegateTool{invoker: invoker, bots: known}
}

type originKey struct{}

// WithOrigin binds the active conversation to the context. One Loop
// serves many conversations concurrently, so the origin travels with
// the call rather than living on the tool.
func WithOrigin(ctx context.Context, channel, chatID string) context.Context {
	return context.WithValue(ctx, originKey{}, [2]string{channel, chatID})
}

func originFrom(ctx context.Context) (channel, chatID string) {
	if v, ok := ctx.Value(originKey{}).([2]string); ok {
		return v[0], v[1]
	}
	return "", ""
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return "Hand a task to a specialist bot. Returns immediately; the specialist reports back when done."
}

func (t *DelegateTool) Schema() map[string]any {
	sorted := make([]string, 0, len(t.bots))
	for b := range t.bots {
		sorted = append(sorted, b)
	}
	sort.Strings(sorted)
	names := make([]any, len(sorted))
	for i, b := range sorted {
		names[i] = b
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"bot": map[string]any{
				"type":        "string",
				"enum":        names,
				"description": "Specialist to hand the task to.",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "What the specialist should do, self-contained.",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Background the specialist needs.",
			},
		},
		"required": []any{"bot", "task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	bot, _ := args["bot"].(string)
	task, _ := args["task"].(string)
	taskContext, _ := args["context"].(string)

	bot = strings.ToLower(strings.TrimSpace(bot))
	if !t.bots[bot] {
		return tools.ErrorResult(fmt.Sprintf("unknown specialist %q", bot))
	}
	if strings.TrimSpace(task) == "" {
		return tools.ErrorResult("task must not be empty")
	}

	originChannel, originChatID := originFrom(ctx)
	ack, invocationID := t.invoker.Invoke(bot, task, taskContext, originChannel, originChatID)
	return tools.NewResult(fmt.Sprintf("%s (invocation %s)", ack, invocationID))
}
