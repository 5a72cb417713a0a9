// Package obd holds the pure domain helpers shared across the pipeline:
// trouble-code parsing, cause-key normalization and citation stripping.
//
// Every call site must go through these functions. The cause-key in
// particular is a cache key: two components computing it differently
// would silently fork the repair-guide maps.
package obd

import (
	"fmt"
	"regexp"
	"strings"
)

// codeRe matches an OBD2 diagnostic trouble code: system letter plus
// four digits, e.g. P0420, U0101.
var codeRe = regexp.MustCompile(`^[PCBU][0-9]{4}$`)

// ParseCode validates and normalizes a trouble code. Input is
// case-insensitive and may carry surrounding whitespace.
func ParseCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if !codeRe.MatchString(code) {
		return "", fmt.Errorf("invalid trouble code %q", s)
	}
	return code, nil
}

// System returns the vehicle system addressed by a code, derived from
// its first letter.
func System(code string) string {
	if code == "" {
		return "unknown"
	}
	switch code[0] {
	case 'P':
		return "powertrain"
	case 'C':
		return "chassis"
	case 'B':
		return "body"
	case 'U':
		return "network"
	default:
		return "unknown"
	}
}

// IsGeneric reports whether a code is an SAE-generic code rather than a
// manufacturer-specific one (second digit 1 marks manufacturer codes).
func IsGeneric(code string) bool {
	return len(code) == 5 && code[1] != '1'
}

// Topic returns the natural topic key a code is stored under in the
// knowledge base.
func Topic(code string) string {
	return code + " OBD2 diagnostic trouble code"
}

// codeFromTopicRe extracts the leading code from a stored topic.
var codeFromTopicRe = regexp.MustCompile(`^([PCBU][0-9]{4})`)

// CodeFromTopic returns the trouble code embedded in a topic string,
// or the topic itself when none is present.
func CodeFromTopic(topic string) string {
	if m := codeFromTopicRe.FindString(topic); m != "" {
		return m
	}
	return topic
}
