package planner

import (
	"strings"
	"unicode"
)

// extractJSON trims markdown fences and any prose around the outermost JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

// repairJSON fixes object keys that lost their opening quote, a common flaw in
// model output: `{capability": "retrieve"}` becomes `{"capability": "retrieve"}`.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	i := 0
	for i < len(in) {
		ch := in[i]
		out = append(out, ch)
		i++
		if ch != '{' && ch != ',' {
			continue
		}

		for i < len(in) && unicode.IsSpace(in[i]) {
			out = append(out, in[i])
			i++
		}
		if i >= len(in) || !isKeyRune(in[i]) {
			continue
		}

		keyStart := i
		for i < len(in) && isKeyRune(in[i]) {
			i++
		}
		if i+1 < len(in) && in[i] == '"' && in[i+1] == ':' {
			out = append(out, '"')
		}
		out = append(out, in[keyStart:i]...)
	}
	return string(out)
}

func isKeyRune(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}
