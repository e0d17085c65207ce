package memory

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/providers"
)

// Extraction is the parsed result of one extraction call.
type Extraction struct {
	Entities []ExtractedEntity   `json:"entities"`
	Edges    []ExtractedRelation `json:"relationships"`
	Facts    []ExtractedFact     `json:"facts"`
}

// ExtractedEntity is one entity mention found in an event.
type ExtractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractedRelation links two extracted entities by name.
type ExtractedRelation struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// ExtractedFact is a standalone triple not tied to graph entities.
type ExtractedFact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Extractor turns raw event text into graph entities and facts.
type Extractor interface {
	Extract(ctx context.Context, content string) (*Extraction, error)
}

const extractPrompt = `You are a knowledge extraction system. Given a message from a team conversation, extract entities, relationships between them, and standalone facts.

Entity types: person, project, tool, topic, organization, location.

Rules:
- Only extract what is clearly stated or strongly implied.
- Entity names should be canonical (e.g. "PostgreSQL", not "postgres db").
- Relationships and facts carry a confidence in [0,1].
- Return an empty object {"entities":[],"relationships":[],"facts":[]} when nothing is extractable.

Return ONLY a JSON object of this shape, no extra text:
{"entities":[{"name":"...","type":"..."}],
 "relationships":[{"subject":"...","predicate":"...","object":"...","confidence":0.9}],
 "facts":[{"subject":"...","predicate":"...","object":"...","confidence":0.9}]}`

// LLMExtractor implements Extractor over a model provider.
type LLMExtractor struct {
	provider providers.Provider
}

func NewLLMExtractor(p providers.Provider) *LLMExtractor {
	return &LLMExtractor{provider: p}
}

func (e *LLMExtractor) Extract(ctx context.Context, content string) (*Extraction, error) {
	resp, err := e.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: extractPrompt},
			{Role: "user", Content: content},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}
	return ParseExtraction(resp.Content), nil
}

// ShouldExtract reports whether the message is worth running
// extraction on. Short acknowledgements are skipped.
func ShouldExtract(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}
	lower := strings.ToLower(trimmed)
	skip := []string{
		"ok", "okay", "thanks", "thank you", "thx", "ty",
		"yes", "no", "yep", "nope", "sure",
		"nice", "good", "great", "cool",
		"lol", "haha", "hmm", "oh", "ah", "got it", "sounds good",
	}
	for _, s := range skip {
		if lower == s {
			return false
		}
	}
	return true
}

// ParseExtraction parses the model's extraction response, tolerating
// code fences and surrounding prose. Returns an empty extraction on
// malformed output.
func ParseExtraction(response string) *Extraction {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end < start {
		return &Extraction{}
	}

	var out Extraction
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err != nil {
		return &Extraction{}
	}
	return &out
}
