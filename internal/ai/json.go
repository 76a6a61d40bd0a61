package ai

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the first JSON object or array out of model output.
// Models wrap JSON in markdown fences or explanatory prose often enough that
// naive unmarshalling of the whole response is a reliability bug.
func ExtractJSON(s string) (string, bool) {
	s = stripFences(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	// Scan for the matching close bracket, respecting strings and escapes.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// stripFences removes a leading/trailing markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
