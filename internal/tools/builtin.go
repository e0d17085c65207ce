package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

// GetToolOutputTool resolves an externalized output reference back to
// its full content.
type GetToolOutputTool struct {
	outputs *Outputs
}

func NewGetToolOutputTool(outputs *Outputs) *GetToolOutputTool {
	return &GetToolOutputTool{outputs: outputs}
}

func (t *GetToolOutputTool) Name() string { return "get_tool_output" }

func (t *GetToolOutputTool) Description() string {
	return "Retrieve the full content of a tool output that was stored externally (ref://<id>)."
}

func (t *GetToolOutputTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "The reference id, with or without the ref:// prefix.",
			},
		},
		"required": []any{"ref"},
	}
}

func (t *GetToolOutputTool) Execute(_ context.Context, args map[string]any) *Result {
	ref, _ := args["ref"].(string)
	out, err := t.outputs.Resolve(ref)
	if err != nil {
		return ErrorResult(fmt.Sprintf("resolve %s: %v", ref, err)).WithError(err)
	}
	return NewResult(out.FullOutput)
}

// WorkLogTool is the meta-tool giving the agent read access to its
// own decision log.
type WorkLogTool struct {
	worklog *worklog.Service
}

func NewWorkLogTool(wl *worklog.Service) *WorkLogTool {
	return &WorkLogTool{worklog: wl}
}

func (t *WorkLogTool) Name() string { return "work_log" }

func (t *WorkLogTool) Description() string {
	return "Search the team work log: past decisions, tool calls, handoffs, and escalations."
}

func (t *WorkLogTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Text to search for in log messages.",
			},
			"room": map[string]any{
				"type":        "string",
				"description": "Restrict to one room id.",
			},
			"bot": map[string]any{
				"type":        "string",
				"description": "Restrict to one bot.",
			},
			"limit": map[string]any{
				"type": "integer",
			},
		},
		"required": []any{"query"},
	}
}

func (t *WorkLogTool) Execute(_ context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	room, _ := args["room"].(string)
	bot, _ := args["bot"].(string)
	limit := 20
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	entries, err := t.worklog.Search(query, room, bot, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("work log search: %v", err)).WithError(err)
	}
	if len(entries) == 0 {
		return NewResult("No matching work log entries.")
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s (%s) step %d: %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.BotName, e.Level, e.StepNo, e.Message)
	}
	return NewResult(sb.String())
}
