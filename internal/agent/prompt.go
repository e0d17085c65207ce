package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/rolecard"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Personality files loaded from <workspace>/bots/<bot>/, in prompt
// order. Missing files are skipped.
var personalityFiles = []string{"SOUL.md", "IDENTITY.md", "AGENTS.md", "TOOLS.md", "USER.md"}

// PromptBuilder assembles the per-bot system prompt: role card
// contract first, then personality files, then room context.
type PromptBuilder struct {
	workspace string
	registry  *rolecard.Registry
}

func NewPromptBuilder(workspace string, registry *rolecard.Registry) *PromptBuilder {
	return &PromptBuilder{workspace: workspace, registry: registry}
}

// Build renders the system prompt for one bot in one room. room may be
// nil for DMs and invocations.
func (p *PromptBuilder) Build(bot string, room *store.Room) string {
	var sb strings.Builder

	card := p.registry.Get(bot)
	sb.WriteString(renderCard(bot, card))

	for _, name := range personalityFiles {
		path := filepath.Join(p.workspace, "bots", bot, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		sb.WriteString("\n\n# " + strings.TrimSuffix(name, ".md") + "\n\n")
		sb.WriteString(content)
	}

	if room != nil {
		sb.WriteString("\n\n# Room\n\n")
		fmt.Fprintf(&sb, "You are in room %q (%s). Participants: %s.",
			room.ID, room.Kind, strings.Join(room.Participants, ", "))
		if room.CoordinatorMode {
			sb.WriteString(" Coordinator mode is on: route work through the room owner.")
		}
	}

	sb.WriteString("\n\nWhen a tool result is a ref:// reference, the full output is stored externally; use get_tool_output to read it.")
	return sb.String()
}

func renderCard(bot string, card rolecard.RoleCard) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.", bot)
	if card.Domain != "" {
		fmt.Fprintf(&sb, " Your domain: %s.", card.Domain)
	}
	if len(card.Inputs) > 0 {
		sb.WriteString("\n\nYou accept: " + strings.Join(card.Inputs, "; ") + ".")
	}
	if len(card.Outputs) > 0 {
		sb.WriteString("\nYou produce: " + strings.Join(card.Outputs, "; ") + ".")
	}
	if len(card.DefinitionOfDone) > 0 {
		sb.WriteString("\n\nWork is done only when:\n")
		for _, d := range card.DefinitionOfDone {
			sb.WriteString("- " + d + "\n")
		}
	}
	if len(card.HardBans) > 0 {
		sb.WriteString("\nHard bans (never do these):\n")
		for _, b := range card.HardBans {
			sb.WriteString("- " + b.Rule + "\n")
		}
	}
	if len(card.EscalationTriggers) > 0 {
		sb.WriteString("\nEscalate to the leader when:\n")
		for _, t := range card.EscalationTriggers {
			sb.WriteString("- " + t.Pattern + "\n")
		}
	}
	return sb.String()
}
