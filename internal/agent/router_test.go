package agent

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/goflock/internal/providers"
)

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"hi there", TierSimple},
		{"what is the capital of France", TierSimple},
		{"summarize the thread from yesterday", TierMedium},
		{"fix the bug in the parser function", TierCoding},
		{"design a migration strategy for the billing service", TierComplex},
		{"prove this step by step", TierReasoning},
		{"please handle this request", TierMedium},
	}
	for _, tc := range cases {
		if got := Classify(tc.text); got.Tier != tc.want {
			t.Errorf("Classify(%q) = %s (%.2f), want %s", tc.text, got.Tier, got.Confidence, tc.want)
		}
	}
}

func TestClassifyNegationDowngrades(t *testing.T) {
	plain := Classify("write a function for this")
	if plain.Tier != TierCoding {
		t.Fatalf("baseline tier = %s", plain.Tier)
	}

	negated := Classify("explain the approach, don't write any code yet")
	if negated.Tier == TierCoding {
		t.Errorf("negated coding request still routed to coding (%.2f)", negated.Confidence)
	}
	if negated.Confidence >= plain.Confidence {
		t.Errorf("negation did not reduce confidence: %.2f vs %.2f", negated.Confidence, plain.Confidence)
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	for _, text := range []string{
		"hi", "write code to fix the bug in the test script",
		"don't test, don't deploy, don't merge, never patch",
	} {
		c := Classify(text)
		if c.Confidence < 0.2 || c.Confidence > 0.95 {
			t.Errorf("Classify(%q) confidence = %.2f, want within [0.2, 0.95]", text, c.Confidence)
		}
	}
}

// routerProvider returns a fixed tier suggestion and records calls.
type routerProvider struct {
	suggest string
	calls   int
}

func (p *routerProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	p.calls++
	return &providers.ChatResponse{Content: p.suggest, FinishReason: "stop"}, nil
}

func (p *routerProvider) DefaultModel() string { return "fake" }
func (p *routerProvider) Name() string         { return "fake" }

func TestSelectSkipsConfirmationWhenConfident(t *testing.T) {
	p := &routerProvider{suggest: TierReasoning}
	r := NewRouter(p, true)

	// Two coding keywords push confidence past the confirmation bar.
	tier := r.Select(context.Background(), "write code to fix the bug in the parser")
	if tier != TierCoding {
		t.Errorf("tier = %s, want coding", tier)
	}
	if p.calls != 0 {
		t.Errorf("confident classification still asked the provider %d times", p.calls)
	}
}

func TestSelectExplainNeverUpgradesToCoding(t *testing.T) {
	p := &routerProvider{suggest: TierCoding}
	r := NewRouter(p, true)

	tier := r.Select(context.Background(), "explain how the scheduler works")
	if tier == TierCoding {
		t.Error("explain request was upgraded to the coding tier")
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
}

func TestSelectWriteNeverDowngradesFromCoding(t *testing.T) {
	p := &routerProvider{suggest: TierSimple}
	r := NewRouter(p, true)

	// One weak coding keyword: low confidence, so the provider is
	// consulted, but its downgrade is rejected.
	const text = "create a patch for the release"
	if c := Classify(text); c.Tier != TierCoding || c.Confidence >= 0.8 {
		t.Fatalf("fixture classified as %s (%.2f)", c.Tier, c.Confidence)
	}
	tier := r.Select(context.Background(), text)
	if tier != TierCoding {
		t.Errorf("tier = %s, want coding kept", tier)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
}

func TestSelectAcceptsValidSuggestion(t *testing.T) {
	p := &routerProvider{suggest: TierComplex}
	r := NewRouter(p, true)

	tier := r.Select(context.Background(), "please handle this request")
	if tier != TierComplex {
		t.Errorf("tier = %s, want the provider suggestion", tier)
	}

	// Garbage suggestions fall back to the classifier.
	p2 := &routerProvider{suggest: "turbo"}
	r2 := NewRouter(p2, true)
	if tier := r2.Select(context.Background(), "please handle this request"); tier != TierMedium {
		t.Errorf("tier = %s, want classifier fallback", tier)
	}
}

func TestSelectWithoutConfirmation(t *testing.T) {
	p := &routerProvider{suggest: TierComplex}
	r := NewRouter(p, false)

	if tier := r.Select(context.Background(), "hello"); tier != TierSimple {
		t.Errorf("tier = %s, want simple", tier)
	}
	if p.calls != 0 {
		t.Errorf("confirmation disabled but provider called %d times", p.calls)
	}
}
