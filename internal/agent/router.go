package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/providers"
)

// Routing tiers, cheapest first.
const (
	TierSimple    = "simple"
	TierMedium    = "medium"
	TierCoding    = "coding"
	TierComplex   = "complex"
	TierReasoning = "reasoning"
)

// tierPattern scores a message toward a tier. Weight is added per
// match; negated matches ("don't write code") count against.
type tierPattern struct {
	re     *regexp.Regexp
	tier   string
	weight float64
}

var tierPatterns = []tierPattern{
	{regexp.MustCompile(`(?i)\b(hi|hello|hey|thanks|thank you|ok|yes|no)\b`), TierSimple, 1},
	{regexp.MustCompile(`(?i)\b(what is|who is|when did|define)\b`), TierSimple, 1.5},
	{regexp.MustCompile(`(?i)\b(summarize|list|find|search|look up|check)\b`), TierMedium, 1.5},
	{regexp.MustCompile(`(?i)\b(explain|describe|compare|how does)\b`), TierMedium, 1.5},
	{regexp.MustCompile(`(?i)\b(write|implement|refactor|fix|debug|code|function|script|bug)\b`), TierCoding, 2},
	{regexp.MustCompile(`(?i)\b(test|compile|deploy|merge|patch)\b`), TierCoding, 1.5},
	{regexp.MustCompile(`(?i)\b(design|architect|plan|strategy|trade-?offs?)\b`), TierComplex, 2},
	{regexp.MustCompile(`(?i)\b(analyze|evaluate|investigate|research)\b`), TierComplex, 1.5},
	{regexp.MustCompile(`(?i)\b(prove|derive|step by step|reason|why exactly)\b`), TierReasoning, 2},
}

var negationRe = regexp.MustCompile(`(?i)\b(don'?t|do not|no need to|without|never|avoid)\s+(\w+)`)

// Classification is the router's first-layer output.
type Classification struct {
	Tier       string
	Confidence float64
	scores     map[string]float64
}

// Classify scores the message against the pattern table. Negated
// verbs subtract their tier's weight and reduce confidence.
func Classify(text string) Classification {
	scores := map[string]float64{}
	for _, p := range tierPatterns {
		if p.re.MatchString(text) {
			scores[p.tier] += p.weight
		}
	}

	negated := 0
	for _, m := range negationRe.FindAllStringSubmatch(text, -1) {
		verb := strings.ToLower(m[2])
		for _, p := range tierPatterns {
			if p.re.MatchString(verb) {
				scores[p.tier] -= p.weight
				negated++
			}
		}
	}

	best := TierMedium
	bestScore := 0.0
	for _, tier := range []string{TierSimple, TierMedium, TierCoding, TierComplex, TierReasoning} {
		if scores[tier] > bestScore {
			best = tier
			bestScore = scores[tier]
		}
	}

	confidence := 0.5
	if bestScore > 0 {
		confidence = 0.6 + 0.1*bestScore
		if confidence > 0.95 {
			confidence = 0.95
		}
	}
	confidence -= 0.1 * float64(negated)
	if confidence < 0.2 {
		confidence = 0.2
	}

	return Classification{Tier: best, Confidence: confidence, scores: scores}
}

// Router picks the model tier for a message: deterministic classifier
// first, optional LLM confirmation second. The confirmation obeys
// fixed rules: "explain" requests never upgrade to the coding tier,
// "write" requests never downgrade from it.
type Router struct {
	provider providers.Provider
	confirm  bool
}

func NewRouter(provider providers.Provider, confirm bool) *Router {
	return &Router{provider: provider, confirm: confirm}
}

var explainRe = regexp.MustCompile(`(?i)\b(explain|describe|what does)\b`)
var writeRe = regexp.MustCompile(`(?i)\b(write|implement|create|build)\b`)

// Select returns the tier for a message.
func (r *Router) Select(ctx context.Context, text string) string {
	c := Classify(text)
	if !r.confirm || r.provider == nil || c.Confidence >= 0.8 {
		return c.Tier
	}

	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "Classify the request into exactly one tier: simple, medium, coding, complex, reasoning. Answer with the single tier word."},
			{Role: "user", Content: "Request: " + text + "\nFirst-pass tier: " + c.Tier},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return c.Tier
	}

	suggested := strings.ToLower(strings.TrimSpace(resp.Content))
	switch suggested {
	case TierSimple, TierMedium, TierCoding, TierComplex, TierReasoning:
	default:
		return c.Tier
	}

	// Fixed adjustment rules.
	if suggested == TierCoding && c.Tier != TierCoding && explainRe.MatchString(text) {
		return c.Tier
	}
	if suggested != TierCoding && c.Tier == TierCoding && writeRe.MatchString(text) {
		return c.Tier
	}
	return suggested
}
