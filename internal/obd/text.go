package obd

import (
	"regexp"
	"strings"
)

var (
	citationRe = regexp.MustCompile(`\[\d+\]`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// CauseKey converts a cause title into the key its repair guide is
// stored under. Stable across languages of the same title string, so
// DE and EN guide maps for the same cause share the key.
func CauseKey(title string) string {
	key := slugRe.ReplaceAllString(strings.ToLower(title), "_")
	return strings.Trim(key, "_")
}

// VehicleKey builds the vehicle_specific map key for a make and model.
func VehicleKey(make, model string) string {
	return CauseKey(make + " " + model)
}

// StripCitations removes inline citation markers such as "[1]" that
// web-search models leave in generated text.
func StripCitations(s string) string {
	return strings.TrimSpace(citationRe.ReplaceAllString(s, ""))
}

// StripCitationsAll strips citation markers from every element.
func StripCitationsAll(items []string) []string {
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if cleaned := StripCitations(s); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
