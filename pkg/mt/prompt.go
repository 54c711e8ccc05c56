package mt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-translator/pkg/jsonutil"
)

const systemPrompt = `You translate user interface strings of web applications.
Reply with a JSON array of alternative translations, best first, and nothing else.
Preserve placeholders such as %s, {0} or ${name} and any HTML markup exactly.`

// thinkTagPattern matches a leading <think>...</think> block some models emit.
var thinkTagPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

func buildPrompt(text, from, to string) string {
	return fmt.Sprintf(
		"Translate the following text from language %q to language %q.\n"+
			"Give at most %d alternatives.\n\nText:\n%s",
		from, to, MaxCandidates, text)
}

// parseCandidates extracts the JSON array of alternatives from a model reply.
func parseCandidates(reply string) ([]string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(reply, "")

	raw, ok := extractArray(cleaned)
	if !ok {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	candidates, err := jsonutil.FlexibleStrings([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
		if len(out) == MaxCandidates {
			break
		}
	}
	return out, nil
}

// extractArray returns the first balanced [...] in s, skipping brackets
// inside JSON strings.
func extractArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
