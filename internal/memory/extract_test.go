package memory

import "testing"

func TestShouldExtract(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"ok", false},
		{"thanks", false},
		{"   sounds good   ", false},
		{"short", false},
		{"Maya prefers short threads on the social account", true},
		{"sounds good, let's use PostgreSQL for the index", true},
	}
	for _, tc := range cases {
		if got := ShouldExtract(tc.text); got != tc.want {
			t.Errorf("ShouldExtract(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestParseExtraction(t *testing.T) {
	body := `{"entities":[{"name":"PostgreSQL","type":"tool"}],
	"relationships":[{"subject":"devon","predicate":"uses","object":"PostgreSQL","confidence":0.9}],
	"facts":[{"subject":"index","predicate":"stored_in","object":"PostgreSQL","confidence":0.8}]}`

	cases := []struct {
		name     string
		response string
	}{
		{"bare json", body},
		{"fenced", "```json\n" + body + "\n```"},
		{"fenced no lang", "```\n" + body + "\n```"},
		{"surrounding prose", "Here is what I found:\n" + body + "\nLet me know."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseExtraction(tc.response)
			if len(got.Entities) != 1 || got.Entities[0].Name != "PostgreSQL" {
				t.Errorf("entities = %+v", got.Entities)
			}
			if len(got.Edges) != 1 || got.Edges[0].Predicate != "uses" {
				t.Errorf("relationships = %+v", got.Edges)
			}
			if len(got.Facts) != 1 || got.Facts[0].Confidence != 0.8 {
				t.Errorf("facts = %+v", got.Facts)
			}
		})
	}
}

func TestParseExtractionMalformed(t *testing.T) {
	for _, response := range []string{
		"", "no json at all", "{broken", "```\ngarbage\n```",
	} {
		got := ParseExtraction(response)
		if got == nil {
			t.Fatalf("ParseExtraction(%q) returned nil", response)
		}
		if len(got.Entities) != 0 || len(got.Edges) != 0 || len(got.Facts) != 0 {
			t.Errorf("ParseExtraction(%q) = %+v, want empty", response, got)
		}
	}
}
