package provider

import (
	"regexp"
	"strings"
)

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// ExtractJSON returns the JSON object embedded in a model response.
// Models occasionally wrap JSON in markdown fences or prose even when
// asked for bare JSON; this recovers the object in those cases.
func ExtractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, true
	}
	if m := jsonObjectRe.FindString(s); m != "" {
		return m, true
	}
	return "", false
}
