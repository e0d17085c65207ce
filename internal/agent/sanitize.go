package agent

import (
	"regexp"
	"strings"
)

// Built-in secret shapes masked on intake. Extra patterns come from
// security.mask_patterns in config.
var builtinMaskRes = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),                           // API keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                                // AWS access keys
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),                             // GitHub tokens
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),                    // Slack tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{20,}=*`),           // bearer tokens
	regexp.MustCompile(`(?i)(password|passwd|secret)\s*[:=]\s*\S+`),       // inline credentials
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// Sanitizer masks secrets in inbound text and cleans model output
// before it reaches the session store or a channel.
type Sanitizer struct {
	masks  []*regexp.Regexp
	maxLen int
}

func NewSanitizer(extraPatterns []string, maxMessageChars int) *Sanitizer {
	masks := make([]*regexp.Regexp, len(builtinMaskRes))
	copy(masks, builtinMaskRes)
	for _, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		masks = append(masks, re)
	}
	return &Sanitizer{masks: masks, maxLen: maxMessageChars}
}

// MaskSecrets replaces secret-shaped substrings before the text is
// persisted or sent to the provider.
func (s *Sanitizer) MaskSecrets(text string) string {
	for _, re := range s.masks {
		text = re.ReplaceAllString(text, "[REDACTED]")
	}
	if s.maxLen > 0 && len(text) > s.maxLen {
		text = text[:s.maxLen] + "\n[message truncated]"
	}
	return text
}

var thinkingTagRe = regexp.MustCompile(`(?s)<(thinking|think|reasoning)>.*?</(thinking|think|reasoning)>`)
var garbledToolRe = regexp.MustCompile(`(?s)<(tool_call|function_call|invoke)[^>]*>.*?</(tool_call|function_call|invoke)>`)
var finalTagRe = regexp.MustCompile(`</?(final|answer|response)>`)

// CleanResponse strips artifacts models sometimes leak into plain
// text: thinking tags, garbled tool-call XML, wrapper tags, repeated
// paragraphs, leading blank lines.
func (s *Sanitizer) CleanResponse(text string) string {
	text = thinkingTagRe.ReplaceAllString(text, "")
	text = garbledToolRe.ReplaceAllString(text, "")
	text = finalTagRe.ReplaceAllString(text, "")
	text = collapseDuplicateBlocks(text)
	return strings.TrimLeft(strings.TrimRight(text, " \n\t"), "\n")
}

// collapseDuplicateBlocks drops consecutive identical paragraphs.
func collapseDuplicateBlocks(text string) string {
	blocks := strings.Split(text, "\n\n")
	out := blocks[:0]
	prev := ""
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" && trimmed == prev {
			continue
		}
		out = append(out, b)
		prev = trimmed
	}
	return strings.Join(out, "\n\n")
}
