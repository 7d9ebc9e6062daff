package intent

import (
	"encoding/json"
	"strings"
)

// ParseTableList extracts a list of table names from a model reply.
//
// Models wrap the payload in markdown fences or explanatory prose more often
// than not, so parsing is layered: strip fences, then look for the first
// well-formed JSON array anywhere in the text, then fall back to treating a
// short fence-stripped reply as newline/comma separated names. Returns nil
// when nothing usable is found.
func ParseTableList(raw string) []string {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return nil
	}

	if names := parseJSONArray(text); names != nil {
		return names
	}

	// Last resort: a bare list like "MN_MCD_CLAIM, MN_MCD_CLAIM_LINE".
	// Only attempted on short replies; long prose would produce garbage.
	if len(text) <= 512 && !strings.ContainsAny(text, "{}") {
		return parseBareList(text)
	}
	return nil
}

// parseJSONArray finds the first substring that unmarshals to []string.
func parseJSONArray(text string) []string {
	for start := strings.IndexByte(text, '['); start >= 0; {
		end := strings.IndexByte(text[start:], ']')
		if end < 0 {
			return nil
		}
		end += start + 1

		var names []string
		if err := json.Unmarshal([]byte(text[start:end]), &names); err == nil {
			return dedupe(names)
		}

		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			return nil
		}
		start += next + 1
	}
	return nil
}

func parseBareList(text string) []string {
	var names []string
	for _, line := range strings.Split(text, "\n") {
		for _, field := range strings.Split(line, ",") {
			name := strings.Trim(strings.TrimSpace(field), `"'`+"`")
			name = strings.TrimPrefix(name, "- ")
			if isIdentifier(name) {
				names = append(names, name)
			}
		}
	}
	return dedupe(names)
}

// isIdentifier reports whether s looks like a SQL table identifier.
func isIdentifier(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '.', r == '$':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
