// Package rolecard loads per-bot behavioral contracts and enforces
// them before side-effecting actions.
package rolecard

// RoleCard is the six-layer contract for one bot.
type RoleCard struct {
	Bot                string              `yaml:"bot,omitempty"`
	Domain             string              `yaml:"domain,omitempty"`
	Inputs             []string            `yaml:"inputs,omitempty"`
	Outputs            []string            `yaml:"outputs,omitempty"`
	DefinitionOfDone   []string            `yaml:"definition_of_done,omitempty"`
	HardBans           []HardBan           `yaml:"hard_bans,omitempty"`
	EscalationTriggers []EscalationTrigger `yaml:"escalation_triggers,omitempty"`
	Metrics            []string            `yaml:"metrics,omitempty"`
}

// HardBan is one forbidden action pattern.
type HardBan struct {
	Rule        string `yaml:"rule"`
	Severity    string `yaml:"severity,omitempty"`
	Consequence string `yaml:"consequence,omitempty"`
}

// EscalationTrigger is a situation pattern that forces escalation.
type EscalationTrigger struct {
	Pattern   string  `yaml:"pattern"`
	Threshold float64 `yaml:"threshold,omitempty"`
	Reason    string  `yaml:"reason,omitempty"`
}

// merge fills empty fields of c from fallback; list fields fall back
// wholesale, not element-wise.
func (c RoleCard) merge(fallback RoleCard) RoleCard {
	if c.Domain == "" {
		c.Domain = fallback.Domain
	}
	if len(c.Inputs) == 0 {
		c.Inputs = fallback.Inputs
	}
	if len(c.Outputs) == 0 {
		c.Outputs = fallback.Outputs
	}
	if len(c.DefinitionOfDone) == 0 {
		c.DefinitionOfDone = fallback.DefinitionOfDone
	}
	if len(c.HardBans) == 0 {
		c.HardBans = fallback.HardBans
	}
	if len(c.EscalationTriggers) == 0 {
		c.EscalationTriggers = fallback.EscalationTriggers
	}
	if len(c.Metrics) == 0 {
		c.Metrics = fallback.Metrics
	}
	return c
}

// DefaultCard is the compiled-in fallback when no override exists.
func DefaultCard(bot string) RoleCard {
	return RoleCard{
		Bot:    bot,
		Domain: "general assistance",
		DefinitionOfDone: []string{
			"the user's request is answered or explicitly handed off",
		},
		HardBans: []HardBan{
			{Rule: "No destructive operations without explicit user confirmation", Severity: "high", Consequence: "action blocked"},
			{Rule: "No sharing of credentials or secrets", Severity: "critical", Consequence: "action blocked"},
		},
		EscalationTriggers: []EscalationTrigger{
			{Pattern: "conflicting instructions", Reason: "needs user decision"},
			{Pattern: "irreversible action", Reason: "needs user confirmation"},
		},
	}
}
