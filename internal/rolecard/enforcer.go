package rolecard

import (
	"strings"
)

// defaultMinConfidence triggers escalation for low-confidence actions
// even without a matching trigger pattern.
const defaultMinConfidence = 0.5

// Enforcer validates actions against role cards. All checks are
// deterministic and side-effect-free.
type Enforcer struct {
	registry      *Registry
	MinConfidence float64
}

func NewEnforcer(registry *Registry) *Enforcer {
	return &Enforcer{registry: registry, MinConfidence: defaultMinConfidence}
}

// CheckAction matches an action description against the bot's hard
// bans. Returns allowed=false and the violated rule on a match.
func (e *Enforcer) CheckAction(bot, actionDescription string) (bool, string) {
	card := e.registry.Get(bot)
	action := strings.ToLower(actionDescription)

	for _, ban := range card.HardBans {
		if banMatches(ban.Rule, action) {
			return false, ban.Rule
		}
	}
	return true, ""
}

// ShouldEscalate reports whether a situation requires escalation:
// a trigger pattern matches, or confidence is below the minimum.
func (e *Enforcer) ShouldEscalate(bot, situation string, confidence float64) (bool, string) {
	if confidence < e.MinConfidence {
		return true, "confidence below minimum"
	}
	card := e.registry.Get(bot)
	lower := strings.ToLower(situation)
	for _, trigger := range card.EscalationTriggers {
		if trigger.Threshold > 0 && confidence >= trigger.Threshold {
			continue
		}
		if keywordsMatch(trigger.Pattern, lower) {
			reason := trigger.Reason
			if reason == "" {
				reason = trigger.Pattern
			}
			return true, reason
		}
	}
	return false, ""
}

// banMatches reports whether an action description falls under a ban
// rule: the full rule text appears as a substring, or any stemmed
// keyword of the rule does. Parenthesized rule text is commentary
// ("(drafts only)") and is not matched against.
func banMatches(rule, action string) bool {
	lowerRule := strings.ToLower(rule)
	if strings.Contains(action, lowerRule) {
		return true
	}
	for _, kw := range significantWords(stripParens(lowerRule)) {
		if strings.Contains(action, stem(kw)) {
			return true
		}
	}
	return false
}

func stripParens(s string) string {
	var sb strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

// stem strips the common English suffixes so "posting" matches
// "social_post".
func stem(w string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 4 {
			return w[:len(w)-len(suffix)]
		}
	}
	return w
}

// keywordsMatch is the looser variant used for escalation triggers:
// any significant keyword of the pattern appearing in the situation
// counts as a match.
func keywordsMatch(pattern, situation string) bool {
	for _, kw := range significantWords(strings.ToLower(pattern)) {
		if strings.Contains(situation, stem(kw)) {
			return true
		}
	}
	return false
}

var stopwords = map[string]bool{
	"the": true, "and": true, "with": true, "without": true, "for": true,
	"not": true, "only": true, "any": true, "all": true, "are": true,
	"direct": true, "explicit": true, "user": true,
}

func significantWords(text string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) > 3 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}
